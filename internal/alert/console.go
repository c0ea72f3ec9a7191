package alert

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/vigil-systems/vigil/pkg/types"
)

// ConsoleSink writes notifications to the terminal with color-coded severity.
type ConsoleSink struct {
	out io.Writer
}

// NewConsoleSink creates a console sink writing to stdout.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{out: os.Stdout}
}

// Name returns the sink identifier.
func (s *ConsoleSink) Name() string { return "console" }

// Send writes one line per notification.
func (s *ConsoleSink) Send(_ context.Context, n types.Notification) error {
	var prefix string
	switch n.Severity {
	case types.SeverityCritical:
		prefix = color.RedString("[CRITICAL]")
	case types.SeverityWarning:
		prefix = color.YellowString("[WARN]")
	default:
		prefix = color.CyanString("[INFO]")
	}

	verb := "FIRING"
	if n.State == types.NotifyResolved {
		verb = color.GreenString("RESOLVED")
	}

	summary := n.Annotations["summary"]
	if summary != "" {
		summary = ": " + summary
	}
	_, err := fmt.Fprintf(s.out, "%s %s %s value=%g%s\n", prefix, verb, n.RuleName, n.Value, summary)
	return err
}
