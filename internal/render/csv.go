package render

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
)

// CSV serializes a list of objects as text/csv. Nested objects are
// flattened into column names joined by the configured separator. The
// serializer emits X-Total-Rows, X-Total-Columns and an attachment
// Content-Disposition.
type CSV struct{}

// NewCSV creates the CSV serializer.
func NewCSV() *CSV { return &CSV{} }

func (*CSV) Name() string     { return "csv" }
func (*CSV) MimeType() string { return "text/csv" }

func (c *CSV) Encode(v any, opts *Options) ([]byte, error) {
	rows, err := toRowMaps(v)
	if err != nil {
		return nil, err
	}

	sep := "_"
	filename := "export"
	if opts != nil {
		if opts.Separator != "" {
			sep = opts.Separator
		}
		if opts.Filename != "" {
			filename = opts.Filename
		}
	}

	flattened := make([]map[string]string, len(rows))
	columnSet := make(map[string]bool)
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

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("csv encode: %w", err)
	}
	record := make([]string, len(columns))
	for _, flat := range flattened {
		for i, col := range columns {
			record[i] = flat[col]
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("csv encode: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv encode: %w", err)
	}

	if opts != nil && opts.Header != nil {
		opts.Header.Set("X-Total-Rows", strconv.Itoa(len(flattened)))
		opts.Header.Set("X-Total-Columns", strconv.Itoa(len(columns)))
		opts.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", filename))
	}
	return buf.Bytes(), nil
}

func toRowMaps(v any) ([]map[string]any, error) {
	switch rows := v.(type) {
	case []map[string]any:
		return rows, nil
	case []any:
		out := make([]map[string]any, len(rows))
		for i, item := range rows {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("csv encode: row %d is %T, want object", i, item)
			}
			out[i] = m
		}
		return out, nil
	case map[string]any:
		return []map[string]any{rows}, nil
	default:
		return nil, fmt.Errorf("csv encode: unsupported value %T, want list of objects", v)
	}
}

func flattenInto(dst map[string]string, prefix string, v map[string]any, sep string) {
	for k, item := range v {
		key := k
		if prefix != "" {
			key = prefix + sep + k
		}
		switch nested := item.(type) {
		case map[string]any:
			flattenInto(dst, key, nested, sep)
		case nil:
			dst[key] = ""
		case string:
			dst[key] = nested
		case []byte:
			dst[key] = string(nested)
		default:
			dst[key] = fmt.Sprintf("%v", nested)
		}
	}
}

// Decode parses CSV back into a list of flat string objects.
func (c *CSV) Decode(data []byte, _ *Options) (any, error) {
	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv decode: %w", err)
	}
	if len(records) == 0 {
		return []any{}, nil
	}
	header := records[0]
	out := make([]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		out = append(out, row)
	}
	return out, nil
}
