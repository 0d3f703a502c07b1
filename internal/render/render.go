// Package render executes task files as text templates before YAML parsing.
// The func map is sprig's, extended with the collection's own filters.
package render

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/convergetool/converge/internal/filters"
)

// Context is the data exposed to task templates.
type Context struct {
	AWS  AWSContext
	Vars map[string]any
}

// AWSContext carries provider facts resolved before rendering.
type AWSContext struct {
	AccountID string
	Region    string
	Zones     []string
}

// FuncMap returns the template functions available to task files: the sprig
// base set plus dictfilter, azRouteTableSubnets, azSubnets and mapFormat.
func FuncMap() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	funcs["dictfilter"] = filters.DictFilter
	funcs["azRouteTableSubnets"] = filters.AZRouteTableSubnets
	funcs["azSubnets"] = filters.AZSubnets
	funcs["mapFormat"] = filters.MapFormat
	return funcs
}

// Render executes content as a template with the supplied context.
// missingkey=zero keeps optional variables usable with sprig's `default`;
// mandatory variables should use sprig's `required`.
func Render(content string, data *Context) (string, error) {
	tmpl, err := template.New("task").Funcs(FuncMap()).Option("missingkey=zero").Parse(content)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
