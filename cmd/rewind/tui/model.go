package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/rewind/pkg/rewind/output"
	"github.com/jamesainslie/rewind/pkg/rewind/replay"
	"github.com/jamesainslie/rewind/pkg/rewind/stats"
	"github.com/jamesainslie/rewind/pkg/rewind/tree"
	"github.com/jamesainslie/rewind/pkg/rewind/types"
)

// DefaultRefresh is the redraw interval when Options.Refresh is zero.
const DefaultRefresh = 250 * time.Millisecond

// eventsPane is the number of recent events shown under the tree.
const eventsPane = 6

// Options configures the view.
type Options struct {
	Refresh   time.Duration
	MaxDepth  int
	MaxFiles  int
	ShowStats bool
}

type keyMap struct {
	Quit     key.Binding
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Toggle   key.Binding
	Back     key.Binding
	Forward  key.Binding
	Faster   key.Binding
	Slower   key.Binding
	Rewind   key.Binding
	Stats    key.Binding

	replay bool
}

func newKeyMap(replay bool) keyMap {
	return keyMap{
		Quit:     key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "scroll up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "scroll down")),
		PageUp:   key.NewBinding(key.WithKeys("pgup", "b"), key.WithHelp("pgup", "page up")),
		PageDown: key.NewBinding(key.WithKeys("pgdown", "f"), key.WithHelp("pgdn", "page down")),
		Toggle:   key.NewBinding(key.WithKeys(" ", "p"), key.WithHelp("space", "play/pause")),
		Back:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "step back")),
		Forward:  key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "step")),
		Faster:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "faster")),
		Slower:   key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "slower")),
		Rewind:   key.NewBinding(key.WithKeys("0", "home"), key.WithHelp("0", "rewind")),
		Stats:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stats")),
		replay:   replay,
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	if k.replay {
		return []key.Binding{k.Toggle, k.Back, k.Forward, k.Faster, k.Slower, k.Rewind, k.Stats, k.Quit}
	}
	return []key.Binding{k.Up, k.Down, k.Stats, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Up, k.Down, k.PageUp, k.PageDown}}
}

// Model is the Bubble Tea model shared by the live and replay views.
type Model struct {
	src  Source
	ctrl Controller
	opts Options

	keys     keyMap
	help     help.Model
	viewport viewport.Model

	frame     Frame
	showStats bool
	width     int
	height    int
}

// NewModel creates a model over src.
func NewModel(src Source, opts Options) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}
	ctrl, _ := src.(Controller)
	m := Model{
		src:       src,
		ctrl:      ctrl,
		opts:      opts,
		keys:      newKeyMap(ctrl != nil),
		help:      help.New(),
		viewport:  viewport.New(80, 10),
		showStats: opts.ShowStats,
		width:     80,
		height:    24,
	}
	m.refresh()
	return m
}

type tickMsg time.Time

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.tick()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.layout()
		return m, nil

	case tickMsg:
		m.refresh()
		if m.frame.Done {
			return m, tea.Quit
		}
		return m, m.tick()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.ctrl != nil {
			if c, ok := m.ctrl.(interface{ Close() }); ok {
				c.Close()
			}
		}
		return m, tea.Quit
	case key.Matches(msg, m.keys.Stats):
		m.showStats = !m.showStats
		m.layout()
		return m, nil
	}

	if m.ctrl != nil {
		handled := true
		switch {
		case key.Matches(msg, m.keys.Toggle):
			m.ctrl.Toggle()
		case key.Matches(msg, m.keys.Back):
			m.ctrl.Step(replay.Backward)
		case key.Matches(msg, m.keys.Forward):
			m.ctrl.Step(replay.Forward)
		case key.Matches(msg, m.keys.Faster):
			m.ctrl.Faster()
		case key.Matches(msg, m.keys.Slower):
			m.ctrl.Slower()
		case key.Matches(msg, m.keys.Rewind):
			m.ctrl.Rewind()
		default:
			handled = false
		}
		if handled {
			m.refresh()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// refresh polls the source and re-renders the tree into the viewport.
func (m *Model) refresh() {
	m.frame = m.src.Poll()
	m.viewport.SetContent(strings.Join(m.treeLines(), "\n"))
	m.layout()
}

// layout sizes the viewport to what the other panes leave.
func (m *Model) layout() {
	used := 2 + 1 + eventsPane + 1 + 1
	if m.showStats {
		used += 2
	}
	used += len(m.frame.Warnings)
	h := m.height - used
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
}

func (m Model) treeOptions() tree.Options {
	return tree.Options{MaxDepth: m.opts.MaxDepth, MaxFiles: m.opts.MaxFiles, Root: m.frame.Root, Labels: m.frame.Labels}
}

func (m Model) treeLines() []string {
	if m.frame.Snapshot == nil {
		return []string{mutedTextStyle.Render("Scanning...")}
	}
	opts := m.treeOptions()
	root := tree.Build(m.frame.Snapshot, opts)
	root.ApplyEvents(m.frame.Marks, m.frame.Deltas)

	rows := root.Flatten(opts)
	lines := make([]string, 0, len(rows)+1)
	if root.Name != "" {
		lines = append(lines, dirStyle.Render(root.Name+"/"))
	}
	for _, r := range rows {
		lines = append(lines, renderRow(r))
	}
	if len(rows) == 0 {
		lines = append(lines, mutedTextStyle.Render("(empty)"))
	}
	return lines
}

func renderRow(r tree.Row) string {
	prefix := connectorStyle.Render(r.Prefix)
	label := r.Label()
	if r.Node == nil {
		return prefix + mutedTextStyle.Render(label)
	}
	switch r.Node.Mark {
	case tree.Created:
		return prefix + createdStyle.Render(label)
	case tree.Modified:
		return prefix + modifiedStyle.Render(label)
	case tree.Deleted:
		return prefix + deletedStyle.Render(label)
	}
	if r.Node.IsDir {
		return prefix + dirStyle.Render(label)
	}
	return prefix + label
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if m.showStats {
		b.WriteString(m.renderStats())
		b.WriteString("\n")
	}
	b.WriteString(m.divider())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.divider())
	b.WriteString("\n")
	b.WriteString(m.renderEvents())
	for _, w := range m.frame.Warnings {
		b.WriteString("\n")
		b.WriteString(warningTextStyle.Render("⚠ " + w))
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) divider() string {
	w := m.width
	if w <= 0 {
		w = 80
	}
	return dividerStyle.Render(strings.Repeat("─", w))
}

// renderHeader shows the title, status, counts and time.
func (m Model) renderHeader() string {
	f := m.frame
	status := statusStyle.Render(f.Status)
	if f.Live {
		status = liveStyle.Render("● " + f.Status)
	}
	title := fmt.Sprintf(" ⏪ %s  %s", titleStyle.Render("REWIND"), status)

	st := f.Stats
	counts := fmt.Sprintf("%s files  %s dirs  •  %s  •  %s %s %s",
		humanize.Comma(int64(st.Files)), humanize.Comma(int64(st.Dirs)),
		humanize.IBytes(uint64(max(st.Bytes, 0))),
		createdStyle.Render(fmt.Sprintf("+%d", st.Created)),
		modifiedStyle.Render(fmt.Sprintf("~%d", st.Modified)),
		deletedStyle.UnsetStrikethrough().Render(fmt.Sprintf("-%d", st.Deleted)))

	clock := stats.FormatDuration(f.Position)
	if !f.Live {
		clock += " / " + stats.FormatDuration(f.Duration)
	}
	line := title + mutedTextStyle.Render("  •  ") + counts + mutedTextStyle.Render("  •  "+clock)
	return line + "\n" + m.renderProgress()
}

// renderProgress is a position bar for replay and a rate line for live.
func (m Model) renderProgress() string {
	f := m.frame
	if f.Live {
		return mutedTextStyle.Render(fmt.Sprintf(" %d events/min", f.Stats.EventsPerMinute))
	}
	width := m.width - 4
	if width < 10 {
		width = 10
	}
	return " " + progressBar(f.Position, f.Duration, width)
}

func progressBar(pos, total float64, width int) string {
	filled := width
	if total > 0 {
		filled = int(float64(width) * pos / total)
	}
	filled = min(max(filled, 0), width)
	return statusStyle.Render(strings.Repeat("━", filled)) + dividerStyle.Render(strings.Repeat("─", width-filled))
}

// renderStats shows activity and the most common extensions.
func (m Model) renderStats() string {
	st := m.frame.Stats
	activity := output.Sparkline(st.Activity)
	if activity == "" {
		activity = "-"
	}
	var exts []string
	for _, e := range st.TopExtensions {
		exts = append(exts, fmt.Sprintf("%s %d", e.Ext, e.Count))
	}
	line1 := sectionStyle.Render(" activity ") + activity +
		mutedTextStyle.Render(fmt.Sprintf("   peak %s files, %s dirs", humanize.Comma(int64(st.PeakFiles)), humanize.Comma(int64(st.PeakDirs))))
	line2 := sectionStyle.Render(" types    ") + mutedTextStyle.Render(strings.Join(exts, "  "))
	return line1 + "\n" + line2
}

// renderEvents lists the latest events, newest last.
func (m Model) renderEvents() string {
	recent := m.frame.Recent
	if len(recent) > eventsPane {
		recent = recent[len(recent)-eventsPane:]
	}
	lines := make([]string, 0, eventsPane)
	for _, ev := range recent {
		lines = append(lines, eventLine(ev))
	}
	for len(lines) < eventsPane {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func eventLine(ev types.Event) string {
	path := ev.Path
	if ev.Root != "" {
		path = ev.Root + ":" + path
	}
	if ev.IsDir {
		path += "/"
	}
	ts := mutedTextStyle.Render(fmt.Sprintf("%8s", stats.FormatDuration(ev.Timestamp)))
	switch ev.Kind {
	case types.Created:
		return ts + " " + createdStyle.Render("+ "+path)
	case types.Modified:
		return ts + " " + modifiedStyle.Render("~ "+path)
	default:
		return ts + " " + deletedStyle.UnsetStrikethrough().Render("- "+path)
	}
}

// Run shows src until the user quits, the source is done or ctx ends.
func Run(ctx context.Context, src Source, opts Options) error {
	p := tea.NewProgram(NewModel(src, opts),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if c, ok := src.(interface{ Close() }); ok {
		c.Close()
	}
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
