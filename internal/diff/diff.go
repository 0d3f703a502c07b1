// Package diff renders observed-vs-desired attribute changes for dry-run
// previews.
package diff

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Attributes flattens an attribute map into sorted "key: value" lines so two
// states diff cleanly regardless of map iteration order.
func Attributes(attrs map[string]any) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, attrs[k])
	}
	return b.String()
}

// Render produces a +/- line diff between the observed and desired content.
func Render(observed, desired string) string {
	dmp := diffmatchpatch.New()

	a, b, lines := dmp.DiffLinesToChars(observed, desired)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var buff bytes.Buffer
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.Split(d.Text, "\n") {
			if line == "" {
				continue
			}
			buff.WriteString(prefix + line + "\n")
		}
	}
	return buff.String()
}

// RenderAttributes diffs two attribute maps.
func RenderAttributes(observed, desired map[string]any) string {
	return Render(Attributes(observed), Attributes(desired))
}
