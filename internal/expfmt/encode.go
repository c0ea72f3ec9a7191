// Package expfmt renders registry snapshots into the line-oriented text
// exposition format, and parses that format back into samples. Encoding is a
// pure function over the snapshot; it never touches the registry.
package expfmt

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/vigil-systems/vigil/internal/registry"
)

// ContentType is the MIME type served for the exposition format.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

// Encode writes one line per (metric, label set) pair in snapshot order:
//
//	metric_name{label="value",...} numeric_value
//
// Histograms emit one cumulative _bucket line per bound plus the implicit
// +Inf bucket, then _sum and _count lines.
func Encode(w io.Writer, samples []registry.Sample) error {
	for _, s := range samples {
		var err error
		switch s.Kind {
		case registry.KindHistogram:
			err = encodeHistogram(w, s)
		default:
			err = writeLine(w, s.Name, s.Labels, "", "", s.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func encodeHistogram(w io.Writer, s registry.Sample) error {
	for _, b := range s.Buckets {
		if err := writeLine(w, s.Name+"_bucket", s.Labels, "le", formatFloat(b.UpperBound), float64(b.Count)); err != nil {
			return err
		}
	}
	if err := writeLine(w, s.Name+"_bucket", s.Labels, "le", "+Inf", float64(s.Count)); err != nil {
		return err
	}
	if err := writeLine(w, s.Name+"_sum", s.Labels, "", "", s.Sum); err != nil {
		return err
	}
	return writeLine(w, s.Name+"_count", s.Labels, "", "", float64(s.Count))
}

// writeLine renders a single sample line. extraKey/extraValue append a
// synthetic label (the histogram "le" bound) after the sample's own labels.
func writeLine(w io.Writer, name string, labels map[string]string, extraKey, extraValue string, value float64) error {
	var sb strings.Builder
	sb.WriteString(name)

	if len(labels) > 0 || extraKey != "" {
		sb.WriteByte('{')
		keys := make([]string, 0, len(labels))
		for k := range labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		first := true
		for _, k := range keys {
			if !first {
				sb.WriteByte(',')
			}
			first = false
			sb.WriteString(k)
			sb.WriteString(`="`)
			sb.WriteString(escapeLabelValue(labels[k]))
			sb.WriteByte('"')
		}
		if extraKey != "" {
			if !first {
				sb.WriteByte(',')
			}
			sb.WriteString(extraKey)
			sb.WriteString(`="`)
			sb.WriteString(escapeLabelValue(extraValue))
			sb.WriteByte('"')
		}
		sb.WriteByte('}')
	}

	sb.WriteByte(' ')
	sb.WriteString(formatFloat(value))
	sb.WriteByte('\n')

	_, err := io.WriteString(w, sb.String())
	if err != nil {
		return fmt.Errorf("writing exposition line for %s: %w", name, err)
	}
	return nil
}

// formatFloat renders v with the shortest representation that round-trips
// exactly through ParseFloat.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabelValue(v string) string {
	return labelEscaper.Replace(v)
}
