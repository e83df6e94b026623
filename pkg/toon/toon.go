// Package toon implements the TOON wire format: a tab-delimited tabular
// alternative to JSON used to reduce output token count on LLM responses.
//
// Grammar (per the external interfaces section of the specification):
//
//	extractions[N]{f1,f2,...}:
//	  v1\tv2\t...
//	  v1\tv2\t...
//
// The header line declares the row count N and the field order. Each of
// the N body lines is indented two spaces and carries tab-separated values
// in that declared order. A missing value is the literal `null`. Any value
// containing a tab, a newline, or a leading double-quote must be wrapped in
// double quotes with internal `"` escaped as `\"`.
package toon

import (
	"fmt"
	"strconv"
	"strings"
)

const header = "extractions"

// Encode renders rows (each a map from field name to string value, nil
// meaning an absent value) as a TOON document using fields in the given
// order.
func Encode(fields []string, rows []map[string]*string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s[%d]{%s}:\n", header, len(rows), strings.Join(fields, ","))

	for _, row := range rows {
		b.WriteString("  ")
		values := make([]string, len(fields))
		for i, f := range fields {
			v := row[f]
			if v == nil {
				values[i] = "null"
			} else {
				values[i] = escape(*v)
			}
		}
		b.WriteString(strings.Join(values, "\t"))
		b.WriteByte('\n')
	}

	return b.String()
}

func escape(v string) string {
	if !strings.ContainsAny(v, "\t\n") && !strings.HasPrefix(v, "\"") {
		return v
	}
	escaped := strings.ReplaceAll(v, "\"", "\\\"")
	return "\"" + escaped + "\""
}

// Row is one decoded TOON body line: field name -> raw string value (nil
// for the literal `null`).
type Row map[string]*string

// Decode parses a TOON document, tolerating surrounding markdown code
// fences (```...```) around the document, matching the tolerance the
// response parser in §4.5 step 4 requires for both wire formats.
func Decode(doc string) ([]Row, error) {
	doc = stripFences(doc)
	lines := splitLines(doc)
	if len(lines) == 0 {
		return nil, fmt.Errorf("toon: empty document")
	}

	n, fields, err := parseHeader(lines[0])
	if err != nil {
		return nil, err
	}

	body := lines[1:]
	rows := make([]Row, 0, n)
	for _, line := range body {
		trimmed := strings.TrimPrefix(line, "  ")
		if trimmed == "" {
			continue
		}
		values, err := splitValues(trimmed)
		if err != nil {
			return nil, err
		}
		if len(values) != len(fields) {
			return nil, fmt.Errorf("toon: row has %d values, expected %d fields", len(values), len(fields))
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			if values[i] == "null" {
				row[f] = nil
			} else {
				v := values[i]
				row[f] = &v
			}
		}
		rows = append(rows, row)
	}

	if len(rows) != n {
		return nil, fmt.Errorf("toon: header declared %d rows, found %d", n, len(rows))
	}

	return rows, nil
}

func parseHeader(line string) (n int, fields []string, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, header+"[") {
		return 0, nil, fmt.Errorf("toon: missing %q header", header)
	}
	line = strings.TrimPrefix(line, header+"[")

	closeBracket := strings.Index(line, "]")
	if closeBracket < 0 {
		return 0, nil, fmt.Errorf("toon: malformed header, missing ]")
	}
	n, err = strconv.Atoi(line[:closeBracket])
	if err != nil {
		return 0, nil, fmt.Errorf("toon: malformed row count: %w", err)
	}

	rest := line[closeBracket+1:]
	if !strings.HasPrefix(rest, "{") {
		return 0, nil, fmt.Errorf("toon: malformed header, missing {")
	}
	closeBrace := strings.Index(rest, "}")
	if closeBrace < 0 {
		return 0, nil, fmt.Errorf("toon: malformed header, missing }")
	}

	fieldList := rest[1:closeBrace]
	fields = strings.Split(fieldList, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	return n, fields, nil
}

// splitValues splits a tab-separated body line, honoring the quoting rule:
// a value starting with `"` runs until the matching unescaped `"`.
func splitValues(line string) ([]string, error) {
	var values []string
	i := 0
	for i < len(line) {
		if line[i] == '"' {
			end, raw, err := readQuoted(line[i:])
			if err != nil {
				return nil, err
			}
			values = append(values, raw)
			i += end
			if i < len(line) {
				if line[i] != '\t' {
					return nil, fmt.Errorf("toon: expected tab after quoted value")
				}
				i++
			}
			continue
		}
		tab := strings.IndexByte(line[i:], '\t')
		if tab < 0 {
			values = append(values, line[i:])
			break
		}
		values = append(values, line[i:i+tab])
		i += tab + 1
	}
	return values, nil
}

func readQuoted(s string) (consumed int, value string, err error) {
	var b strings.Builder
	i := 1 // skip opening quote
	for i < len(s) {
		switch s[i] {
		case '\\':
			if i+1 < len(s) && s[i+1] == '"' {
				b.WriteByte('"')
				i += 2
				continue
			}
			b.WriteByte(s[i])
			i++
		case '"':
			return i + 1, b.String(), nil
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return 0, "", fmt.Errorf("toon: unterminated quoted value")
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	raw := strings.Split(s, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(s[:nl])
		if firstLine == "toon" || firstLine == "" {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
