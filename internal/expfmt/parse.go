package expfmt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Point is one parsed exposition line: a metric name, its label set and the
// sample value. Histogram _bucket/_sum/_count lines parse as independent
// points.
type Point struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Parse reads text in the format produced by Encode back into points.
// It exists for scrape clients and for round-trip verification in tests.
func Parse(r io.Reader) ([]Point, error) {
	var points []Point
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		points = append(points, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading exposition text: %w", err)
	}
	return points, nil
}

func parseLine(line string) (Point, error) {
	var p Point

	nameEnd := strings.IndexAny(line, "{ ")
	if nameEnd <= 0 {
		return p, fmt.Errorf("malformed line %q", line)
	}
	p.Name = line[:nameEnd]
	rest := line[nameEnd:]

	if rest[0] == '{' {
		end := closingBrace(rest)
		if end < 0 {
			return p, fmt.Errorf("unterminated label set in %q", line)
		}
		labels, err := parseLabels(rest[1:end])
		if err != nil {
			return p, err
		}
		p.Labels = labels
		rest = rest[end+1:]
	}

	valueStr := strings.TrimSpace(rest)
	v, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return p, fmt.Errorf("parsing value %q: %w", valueStr, err)
	}
	p.Value = v
	return p, nil
}

// closingBrace finds the index of the label-set closing brace, skipping
// braces inside quoted label values.
func closingBrace(s string) int {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '"':
			inQuote = !inQuote
		case '}':
			if !inQuote {
				return i
			}
		}
	}
	return -1
}

func parseLabels(s string) (map[string]string, error) {
	labels := make(map[string]string)
	i := 0
	for i < len(s) {
		eq := strings.Index(s[i:], "=")
		if eq < 0 {
			return nil, fmt.Errorf("malformed label pair in %q", s)
		}
		key := s[i : i+eq]
		i += eq + 1
		if i >= len(s) || s[i] != '"' {
			return nil, fmt.Errorf("label %q value is not quoted", key)
		}
		i++
		var sb strings.Builder
		for i < len(s) {
			c := s[i]
			if c == '\\' && i+1 < len(s) {
				switch s[i+1] {
				case '\\':
					sb.WriteByte('\\')
				case '"':
					sb.WriteByte('"')
				case 'n':
					sb.WriteByte('\n')
				default:
					sb.WriteByte(c)
					sb.WriteByte(s[i+1])
				}
				i += 2
				continue
			}
			if c == '"' {
				break
			}
			sb.WriteByte(c)
			i++
		}
		if i >= len(s) || s[i] != '"' {
			return nil, fmt.Errorf("unterminated value for label %q", key)
		}
		i++
		labels[key] = sb.String()
		if i < len(s) && s[i] == ',' {
			i++
		}
	}
	return labels, nil
}
