package render

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
)

// HTML renders a named template as text/html. Without a template it
// falls back to a tabular rendering of the flattened value.
type HTML struct {
	templates *template.Template
}

// NewHTML creates the HTML serializer over a parsed template set.
// templates may be nil; then only the tabular fallback is available.
func NewHTML(templates *template.Template) *HTML {
	return &HTML{templates: templates}
}

func (*HTML) Name() string     { return "html" }
func (*HTML) MimeType() string { return "text/html" }

func (h *HTML) Encode(v any, opts *Options) ([]byte, error) {
	if opts != nil && opts.Template != "" {
		if h.templates == nil {
			return nil, fmt.Errorf("html encode: no templates loaded")
		}
		var buf bytes.Buffer
		if err := h.templates.ExecuteTemplate(&buf, opts.Template, v); err != nil {
			return nil, fmt.Errorf("html encode: %w", err)
		}
		return buf.Bytes(), nil
	}
	return h.tabular(v, opts)
}

var tableTemplate = template.Must(template.New("table").Parse(`<!DOCTYPE html>
<html><body><table>
<thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</tbody>
</table></body></html>
`))

func (h *HTML) tabular(v any, opts *Options) ([]byte, error) {
	rows, err := toRowMaps(v)
	if err != nil {
		return nil, fmt.Errorf("html encode: %w", err)
	}
	sep := "_"
	if opts != nil && opts.Separator != "" {
		sep = opts.Separator
	}

	columnSet := make(map[string]bool)
	flattened := make([]map[string]string, len(rows))
	for i, row := range rows {
		flat := make(map[string]string)
		flattenInto(flat, "", row, sep)
		flattened[i] = flat
		for col := range flat {
			columnSet[col] = true
		}
	}
	columns := make([]string, 0, len(columnSet))
	for col := range columnSet {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	table := struct {
		Columns []string
		Rows    [][]string
	}{Columns: columns}
	for _, flat := range flattened {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = flat[col]
		}
		table.Rows = append(table.Rows, record)
	}

	var buf bytes.Buffer
	if err := tableTemplate.Execute(&buf, table); err != nil {
		return nil, fmt.Errorf("html encode: %w", err)
	}
	return buf.Bytes(), nil
}
