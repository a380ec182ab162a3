package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/callguard/engine"
	"github.com/wippyai/callguard/registry"
)

var (
	refresh        time.Duration
	watchBatch     int
	watchLeakEvery int
)

var (
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	pausedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	tableBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show live handles per class while the workload runs",
	Long: `watch runs the workload in the background and shows a live table of the
registry: handles per class, records created and retired, and rejected calls.

Keys: p pause, v toggle violations, q quit.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&refresh, "refresh", 250*time.Millisecond, "table refresh interval")
	watchCmd.Flags().IntVar(&watchBatch, "batch", 5, "iterations per batch")
	watchCmd.Flags().IntVar(&watchLeakEvery, "leak-every", 7, "leak the context of every n-th iteration (0 never)")
}

type tickMsg time.Time

type watchModel struct {
	s        *session
	table    table.Model
	paused   *atomic.Bool
	misuse   *atomic.Bool
	batches  *atomic.Int64
	lastErr  error
	quitting bool
}

func newWatchModel(s *session, paused, misuse *atomic.Bool, batches *atomic.Int64) *watchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Class", Width: 16},
			{Title: "Live", Width: 8},
			{Title: "Open", Width: 8},
			{Title: "Dependents", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(14),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	st.Selected = st.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4"))
	t.SetStyles(st)

	m := &watchModel{s: s, table: t, paused: paused, misuse: misuse, batches: batches}
	m.refreshRows()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *watchModel) Init() tea.Cmd {
	return tick()
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "p":
			m.paused.Store(!m.paused.Load())
			return m, nil
		case "v":
			m.misuse.Store(!m.misuse.Load())
			return m, nil
		}

	case tickMsg:
		m.refreshRows()
		return m, tick()

	case error:
		m.lastErr = msg
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

type classRow struct {
	class      string
	live       int
	open       int
	dependents int
}

func (m *watchModel) refreshRows() {
	byClass := make(map[string]*classRow)
	m.s.eng.Registry().Each(func(info registry.Info) bool {
		r, ok := byClass[info.Class]
		if !ok {
			r = &classRow{class: info.Class}
			byClass[info.Class] = r
		}
		r.live++
		if info.Open {
			r.open++
		}
		r.dependents += info.Dependents
		return true
	})

	classes := make([]string, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	rows := make([]table.Row, 0, len(classes))
	for _, c := range classes {
		r := byClass[c]
		rows = append(rows, table.Row{
			r.class,
			fmt.Sprintf("%d", r.live),
			fmt.Sprintf("%d", r.open),
			fmt.Sprintf("%d", r.dependents),
		})
	}
	m.table.SetRows(rows)
}

func (m *watchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headingStyle.Render("hlcheck " + m.s.eng.ID().String()[:8]))
	b.WriteString("\n\n")
	b.WriteString(tableBorder.Render(m.table.View()))
	b.WriteString("\n\n")

	st := m.s.eng.Registry().Stats()
	ws := m.s.work.stats()
	fmt.Fprintf(&b, "batches %d  calls %d  created %d  retired %d  tombstones %d\n",
		m.batches.Load(), ws.Calls, st.Created, st.Retired, st.Tombstones)
	var rejected []string
	for _, r := range ws.Rejected {
		if r.Kind != "" {
			rejected = append(rejected, fmt.Sprintf("%s=%d", r.Kind, r.Count))
		}
	}
	if len(rejected) > 0 {
		b.WriteString(leakStyle.Render("rejected " + strings.Join(rejected, " ")))
		b.WriteString("\n")
	}
	if m.paused.Load() {
		b.WriteString(pausedStyle.Render("paused"))
		b.WriteString("\n")
	}
	if m.lastErr != nil {
		b.WriteString(leakStyle.Render(fmt.Sprintf("Error: %v", m.lastErr)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("p pause • v violations (%v) • q quit", m.misuse.Load())))
	return b.String()
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// The alt screen owns the terminal; diagnostics show up as counters.
	logger = zap.NewNop()
	engine.SetLogger(logger)

	s, err := newSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	s.work.leakEvery = watchLeakEvery

	var (
		paused, misuse atomic.Bool
		batches        atomic.Int64
		wg             sync.WaitGroup
	)
	p := tea.NewProgram(newWatchModel(s, &paused, &misuse, &batches), tea.WithAltScreen())

	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			if paused.Load() {
				time.Sleep(refresh)
				continue
			}
			s.work.violations = misuse.Load()
			if err := s.work.run(ctx, watchBatch, 1); err != nil {
				if ctx.Err() == nil {
					p.Send(err)
				}
				return
			}
			batches.Add(1)
			time.Sleep(refresh / 5)
		}
	}()

	_, runErr := p.Run()
	cancel()
	wg.Wait()

	rep, err := s.shutdown(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("tui: %w", runErr)
	}
	newPrinter(cmd.OutOrStdout()).report(rep, s.work.stats())
	return nil
}
