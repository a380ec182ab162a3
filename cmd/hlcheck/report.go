package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/wippyai/callguard/engine"
	"github.com/wippyai/callguard/handlers"
)

var (
	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	leakStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))
)

var stdoutIsTerminal int32 = -1 // -1 = unchecked, 0 = no, 1 = yes

// colorEnabled reports whether w is a terminal worth styling.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if f != os.Stdout {
		return term.IsTerminal(int(f.Fd()))
	}
	if v := atomic.LoadInt32(&stdoutIsTerminal); v >= 0 {
		return v == 1
	}
	result := term.IsTerminal(int(f.Fd()))
	if result {
		atomic.StoreInt32(&stdoutIsTerminal, 1)
	} else {
		atomic.StoreInt32(&stdoutIsTerminal, 0)
	}
	return result
}

type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, color: colorEnabled(w)}
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) heading(text string) {
	fmt.Fprintf(p.w, "\n%s\n", p.style(headingStyle, text))
}

// jsonReport is the machine readable form of a session.
type jsonReport struct {
	Session  string             `json:"session"`
	Workload workloadStats      `json:"workload"`
	Leaks    []jsonLeak         `json:"leaks"`
	Balances []handlers.Balance `json:"balances,omitempty"`
	Live     int                `json:"live"`
	Created  uint64             `json:"created"`
	Retired  uint64             `json:"retired"`
}

type jsonLeak struct {
	Handle string `json:"handle"`
	Class  string `json:"class"`
	Parent string `json:"parent,omitempty"`
}

func writeJSON(w io.Writer, rep *engine.LeakReport, st workloadStats) error {
	out := jsonReport{
		Session:  rep.SessionID.String(),
		Workload: st,
		Leaks:    []jsonLeak{},
		Balances: rep.Balances,
		Live:     rep.Stats.Live,
		Created:  rep.Stats.Created,
		Retired:  rep.Stats.Retired,
	}
	for _, l := range rep.Leaks {
		jl := jsonLeak{Handle: l.Handle.String(), Class: l.Class}
		if l.Parent != 0 {
			jl.Parent = l.Parent.String()
		}
		out.Leaks = append(out.Leaks, jl)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (p *printer) report(rep *engine.LeakReport, st workloadStats) {
	p.heading("Workload")
	fmt.Fprintf(p.w, "session %s: %d iterations, %d calls\n", rep.SessionID, st.Iterations, st.Calls)
	if len(st.Rejected) > 0 {
		table := tablewriter.NewWriter(p.w)
		table.Header("Violation", "Calls")
		for _, r := range st.Rejected {
			kind := string(r.Kind)
			if kind == "" {
				kind = "(accepted)"
			}
			table.Append(kind, fmt.Sprintf("%d", r.Count))
		}
		table.Render()
	}

	p.heading("Handles")
	fmt.Fprintf(p.w, "created %d, retired %d, live %d, tombstones %d\n",
		rep.Stats.Created, rep.Stats.Retired, rep.Stats.Live, rep.Stats.Tombstones)

	if len(rep.Leaks) == 0 {
		fmt.Fprintln(p.w, p.style(okStyle, "no live handles at shutdown"))
	} else {
		table := tablewriter.NewWriter(p.w)
		table.Header("Handle", "Class", "Parent", "Seq")
		for _, l := range rep.Leaks {
			parent := "-"
			if l.Parent != 0 {
				parent = l.Parent.String()
			}
			table.Append(l.Handle.String(), l.Class, parent, fmt.Sprintf("%d", l.Seq))
		}
		table.Render()
	}

	if rep.Balances == nil {
		return
	}
	p.heading("Basic leak checker")
	table := tablewriter.NewWriter(p.w)
	table.Header("Class", "Create", "Destroy", "Diff")
	for _, b := range rep.Balances {
		diff := fmt.Sprintf("%d", b.Leaked)
		if b.Leaked > 0 {
			diff = p.style(leakStyle, diff+" LEAK")
		}
		table.Append(b.Class, counts(b.Creates), counts(b.Destroys), diff)
	}
	table.Render()
}

func counts(cs []handlers.Count) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, fmt.Sprintf("%s=%d", c.Name, c.Calls))
	}
	return strings.Join(parts, "\n")
}
