package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/rewind/pkg/rewind/stats"
)

// sparks are the activity levels, lowest first.
var sparks = []rune("▁▂▃▄▅▆▇█")

// PrettyFormatter renders styled output for a terminal. A single detailed
// summary gets a full report; anything else is a table.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	switch {
	case len(r.Recordings) == 0:
		w.WriteString(MutedStyle.Render("No recordings found"))
		w.WriteString("\n")
	case len(r.Recordings) == 1 && r.Recordings[0].Detailed:
		w.WriteString(f.formatReport(r.Recordings[0]))
	default:
		w.WriteString(f.formatTable(r.Recordings))
	}

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
		w.WriteString("\n")
		for _, warning := range r.Warnings {
			w.WriteString(WarningStyle.Render("  " + warning))
			w.WriteString("\n")
		}
	}
	return nil
}

func (f *PrettyFormatter) formatReport(s Summary) string {
	st := s.Stats
	var lines []string
	field := func(label, value string) {
		lines = append(lines, fmt.Sprintf("%s %s", LabelStyle.Render(label), value))
	}

	field("Recording:", ValueStyle.Render(dash(s.Path)))
	if s.Source != "" {
		field("Source:", ValueStyle.Render(s.Source))
	}
	if len(s.Roots) > 0 {
		field("Roots:", ValueStyle.Render(strings.Join(s.Roots, ", ")))
	}
	if started := startedAt(s.StartTime); started != "-" {
		field("Started:", ValueStyle.Render(started)+" "+MutedStyle.Render("("+humanize.Time(s.StartTime)+")"))
	}
	field("Duration:", ValueStyle.Render(stats.FormatDuration(st.Duration)))
	field("Events:", fmt.Sprintf("%s %s %s %s",
		ValueStyle.Render(humanize.Comma(int64(st.Events()))),
		CreatedStyle.Render(fmt.Sprintf("+%d", st.Created)),
		ModifiedStyle.Render(fmt.Sprintf("~%d", st.Modified)),
		DeletedStyle.Render(fmt.Sprintf("-%d", st.Deleted)),
	))
	field("Files:", ValueStyle.Render(fmt.Sprintf("%s (peak %s)",
		humanize.Comma(int64(st.Files)), humanize.Comma(int64(st.PeakFiles)))))
	field("Dirs:", ValueStyle.Render(fmt.Sprintf("%s (peak %s)",
		humanize.Comma(int64(st.Dirs)), humanize.Comma(int64(st.PeakDirs)))))
	field("Size:", ValueStyle.Render(humanize.IBytes(uint64(max(st.Bytes, 0)))))
	if len(st.TopExtensions) > 0 {
		var parts []string
		for _, e := range st.TopExtensions {
			name := e.Ext
			if name == "" {
				name = "(none)"
			}
			parts = append(parts, fmt.Sprintf("%s %d", name, e.Count))
		}
		field("Types:", ValueStyle.Render(strings.Join(parts, ", ")))
	}
	if spark := Sparkline(st.Activity); spark != "" {
		field("Activity:", TitleStyle.Render(spark))
	}
	if s.Content {
		field("Content:", MutedStyle.Render("embedded"))
	}

	out := HeaderBox.Render(strings.Join(lines, "\n")) + "\n"
	if len(s.Problems) > 0 {
		var b strings.Builder
		b.WriteString(DeletedStyle.Bold(true).Render(fmt.Sprintf("%d problem(s):", len(s.Problems))))
		for _, p := range s.Problems {
			b.WriteString("\n  " + p)
		}
		out += ProblemBox.Render(b.String()) + "\n"
	}
	return out
}

func (f *PrettyFormatter) formatTable(rows []Summary) string {
	headers := []string{"ID", "STARTED", "DURATION", "EVENTS", "SOURCE", "PATH"}
	cells := make([][]string, 0, len(rows))
	for _, s := range rows {
		started := "-"
		if !s.StartTime.IsZero() && s.StartTime.Unix() != 0 {
			started = humanize.Time(s.StartTime)
		}
		cells = append(cells, []string{
			dash(s.ID),
			started,
			stats.FormatDuration(s.Stats.Duration),
			humanize.Comma(int64(s.Stats.Events())),
			dash(s.Source),
			dash(s.Path),
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range cells {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}

	var sb strings.Builder
	for i, h := range headers {
		sb.WriteString(TableHeaderStyle.Render(padRight(h, widths[i])))
		sb.WriteString("  ")
	}
	sb.WriteString("\n")
	for _, row := range cells {
		for i, c := range row {
			style := ValueStyle
			if i == 0 || i == 1 {
				style = MutedStyle
			}
			sb.WriteString(style.Render(padRight(c, widths[i])))
			sb.WriteString("  ")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Sparkline renders activity buckets as block characters, empty when there
// was no activity at all.
func Sparkline(buckets []stats.Bucket) string {
	peak := 0
	for _, b := range buckets {
		peak = max(peak, b.Total())
	}
	if peak == 0 {
		return ""
	}
	var sb strings.Builder
	for _, b := range buckets {
		level := b.Total() * (len(sparks) - 1) / peak
		if b.Total() > 0 && level == 0 {
			level = 1
		}
		sb.WriteRune(sparks[level])
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

func init() {
	Register("pretty", func() Formatter { return &PrettyFormatter{} })
}

var _ Formatter = (*PrettyFormatter)(nil)
