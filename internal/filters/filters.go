// Package filters implements the template filter functions exposed to task
// files: submap selection, availability-zone subnet layout, and mapping-based
// string formatting.
package filters

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	convergeerrors "github.com/convergetool/converge/pkg/errors"
)

// ErrMissingKey is wrapped by MapFormat when a named placeholder has no
// resolution in either the input map or the keyword overrides.
var ErrMissingKey = errors.New("missing key")

// DictFilter returns the sub-mapping of input restricted to keys. Keys absent
// from input are omitted, and unknown keys are not an error.
func DictFilter(input map[string]any, keys []string) map[string]any {
	wanted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}

	out := make(map[string]any)
	for k, v := range input {
		if _, ok := wanted[k]; ok {
			out[k] = v
		}
	}
	return out
}

// SubnetSpec describes one availability zone's subnet produced by AZSubnets.
type SubnetSpec struct {
	AZ           string            `yaml:"az" json:"az"`
	CIDR         string            `yaml:"cidr" json:"cidr"`
	ResourceTags map[string]string `yaml:"resource_tags" json:"resource_tags"`
}

// AZRouteTableSubnets maps each zone name to a subnet string by substituting
// the zone's ordinal (trailing letter, 'a' = 0) into the format's single
// placeholder. The output order follows the zones sequence; map input is
// iterated in sorted key order.
func AZRouteTableSubnets(zones any, format string) ([]string, error) {
	names, err := zoneNames(zones)
	if err != nil {
		return nil, err
	}

	subnets := make([]string, 0, len(names))
	for _, zone := range names {
		subnet, err := zoneSubnet(zone, format)
		if err != nil {
			return nil, err
		}
		subnets = append(subnets, subnet)
	}
	return subnets, nil
}

// AZSubnets maps each zone name to a SubnetSpec using the same ordinal
// substitution rule as AZRouteTableSubnets, tagging every subnet with the
// supplied name.
func AZSubnets(zones any, format, tagName string) ([]SubnetSpec, error) {
	names, err := zoneNames(zones)
	if err != nil {
		return nil, err
	}

	specs := make([]SubnetSpec, 0, len(names))
	for _, zone := range names {
		subnet, err := zoneSubnet(zone, format)
		if err != nil {
			return nil, err
		}
		specs = append(specs, SubnetSpec{
			AZ:           zone,
			CIDR:         subnet,
			ResourceTags: map[string]string{"Name": tagName},
		})
	}
	return specs, nil
}

func zoneNames(zones any) ([]string, error) {
	switch v := zones.(type) {
	case []string:
		return v, nil
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				return nil, convergeerrors.NewValidationError("zones", fmt.Sprintf("zone name must be a string, got %T", item), nil)
			}
			names = append(names, name)
		}
		return names, nil
	case map[string]any:
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	default:
		return nil, convergeerrors.NewValidationError("zones", fmt.Sprintf("zones must be a sequence or mapping of zone names, got %T", zones), nil)
	}
}

func zoneSubnet(zone, format string) (string, error) {
	if zone == "" {
		return "", convergeerrors.NewValidationError("zones", "zone name is empty", nil)
	}

	letter := zone[len(zone)-1]
	if letter < 'a' || letter > 'z' {
		return "", convergeerrors.NewValidationError("zones", fmt.Sprintf("zone name %q does not end with a zone letter", zone), nil)
	}

	ordinal := int(letter - 'a')

	idx := strings.IndexAny(format, "%")
	for idx >= 0 {
		if idx+1 < len(format) && (format[idx+1] == 's' || format[idx+1] == 'd') {
			rest := format[idx+2:]
			if strings.Contains(rest, "%s") || strings.Contains(rest, "%d") {
				return "", convergeerrors.NewValidationError("format", fmt.Sprintf("subnet format %q has more than one placeholder", format), nil)
			}
			return format[:idx] + strconv.Itoa(ordinal) + rest, nil
		}
		next := strings.IndexAny(format[idx+1:], "%")
		if next < 0 {
			break
		}
		idx += 1 + next
	}

	return "", convergeerrors.NewValidationError("format", fmt.Sprintf("subnet format %q has no %%s or %%d placeholder", format), nil)
}

// MapFormat renders format with {key} placeholders resolved against item and
// {0}, {1}, ... placeholders resolved against the positional args. Any
// trailing map arguments act as keyword overrides and take precedence over
// same-named keys in item. Literal braces are escaped as {{ and }}.
func MapFormat(item map[string]any, format string, args ...any) (string, error) {
	overrides := make(map[string]any)
	positional := make([]any, 0, len(args))
	for _, arg := range args {
		if m, ok := arg.(map[string]any); ok {
			for k, v := range m {
				overrides[k] = v
			}
			continue
		}
		positional = append(positional, arg)
	}

	var out strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		switch c {
		case '{':
			if i+1 < len(format) && format[i+1] == '{' {
				out.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(format[i:], '}')
			if end < 0 {
				return "", convergeerrors.NewValidationError("format", fmt.Sprintf("unterminated placeholder in %q", format), nil)
			}
			key := format[i+1 : i+end]
			value, err := resolvePlaceholder(key, item, overrides, positional)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&out, "%v", value)
			i += end
		case '}':
			if i+1 < len(format) && format[i+1] == '}' {
				out.WriteByte('}')
				i++
				continue
			}
			return "", convergeerrors.NewValidationError("format", fmt.Sprintf("single '}' in %q", format), nil)
		default:
			out.WriteByte(c)
		}
	}

	return out.String(), nil
}

func resolvePlaceholder(key string, item, overrides map[string]any, positional []any) (any, error) {
	if key == "" {
		return nil, convergeerrors.NewValidationError("format", "empty placeholder", nil)
	}

	if index, err := strconv.Atoi(key); err == nil {
		if index < 0 || index >= len(positional) {
			return nil, convergeerrors.NewValidationError("format",
				fmt.Sprintf("positional placeholder {%d} out of range", index), fmt.Errorf("{%d}: %w", index, ErrMissingKey))
		}
		return positional[index], nil
	}

	if value, ok := overrides[key]; ok {
		return value, nil
	}
	if value, ok := item[key]; ok {
		return value, nil
	}

	return nil, convergeerrors.NewValidationError("format",
		fmt.Sprintf("no value for placeholder {%s}", key), fmt.Errorf("{%s}: %w", key, ErrMissingKey))
}
