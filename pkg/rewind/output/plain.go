package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jamesainslie/rewind/pkg/rewind/stats"
)

// PlainFormatter writes an unstyled, tab-aligned table suitable for piping.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tCREATED\tMODIFIED\tDELETED\tSOURCE\tPATH"); err != nil {
		return err
	}
	for _, s := range r.Recordings {
		_, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			dash(s.ID),
			startedAt(s.StartTime),
			stats.FormatDuration(s.Stats.Duration),
			s.Stats.Created, s.Stats.Modified, s.Stats.Deleted,
			dash(s.Source),
			dash(s.Path),
		)
		if err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, s := range r.Recordings {
		for _, p := range s.Problems {
			fmt.Fprintf(w, "problem: %s: %s\n", dash(s.Path), p)
		}
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func startedAt(t time.Time) string {
	if t.IsZero() || t.Unix() == 0 {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func init() {
	Register("plain", func() Formatter { return &PlainFormatter{} })
}

var _ Formatter = (*PlainFormatter)(nil)
