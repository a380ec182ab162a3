package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/wippyai/callguard/api"
	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/diag"
)

// Row groups the entry points that create and destroy one handle class.
type Row struct {
	Class    string
	Creates  []string
	Destroys []string
}

// Rows derives the create/destroy rows for every class a table both creates
// and destroys, sorted by class.
func Rows(tab *api.Table) []Row {
	byClass := make(map[string]*Row)
	get := func(class string) *Row {
		r, ok := byClass[class]
		if !ok {
			r = &Row{Class: class}
			byClass[class] = r
		}
		return r
	}

	for _, ep := range tab.EntryPoints() {
		switch ep.Kind {
		case api.KindCreate:
			seen := make(map[string]bool)
			for _, out := range ep.Outputs {
				// Side outputs such as build logs are not the call's
				// product; aliases are never destroyed on their own.
				if out.Optional || out.Alias || seen[out.Class] {
					continue
				}
				seen[out.Class] = true
				r := get(out.Class)
				r.Creates = append(r.Creates, ep.Name)
			}
		case api.KindDestroy:
			r := get(ep.Inputs[ep.DestroyIndex()].Class)
			r.Destroys = append(r.Destroys, ep.Name)
		}
	}

	rows := make([]Row, 0, len(byClass))
	for _, r := range byClass {
		if len(r.Creates) > 0 && len(r.Destroys) > 0 {
			rows = append(rows, *r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Class < rows[j].Class })
	return rows
}

// Count is the tally of one entry point.
type Count struct {
	Name  string
	Calls int64
}

// Balance is the create/destroy tally of one row.
type Balance struct {
	Class    string
	Creates  []Count
	Destroys []Count
	Leaked   int64
}

// BasicLeak counts successful create and destroy calls per entry point and
// reports rows whose creates outnumber their destroys. It needs no registry
// and so works even with lifetime tracking disabled.
type BasicLeak struct {
	counts map[string]*atomic.Int64
	rows   []Row
}

// NewBasicLeak creates a counter for the given rows. The set of counted
// entry points is fixed at construction.
func NewBasicLeak(rows []Row) *BasicLeak {
	b := &BasicLeak{
		counts: make(map[string]*atomic.Int64),
		rows:   rows,
	}
	for _, r := range rows {
		for _, name := range r.Creates {
			b.counts[name] = new(atomic.Int64)
		}
		for _, name := range r.Destroys {
			b.counts[name] = new(atomic.Int64)
		}
	}
	return b
}

func (b *BasicLeak) Name() string { return NameBasicLeak }

func (b *BasicLeak) Prologue(context.Context, *chain.Call) error {
	return nil
}

func (b *BasicLeak) Epilogue(_ context.Context, call *chain.Call, result error) error {
	if result != nil {
		return nil
	}
	if c, ok := b.counts[call.Name()]; ok {
		c.Add(1)
	}
	return nil
}

// Calls returns the successful call count of one entry point.
func (b *BasicLeak) Calls(name string) int64 {
	if c, ok := b.counts[name]; ok {
		return c.Load()
	}
	return 0
}

// Balances returns the tally of every row.
func (b *BasicLeak) Balances() []Balance {
	out := make([]Balance, 0, len(b.rows))
	for _, r := range b.rows {
		bal := Balance{Class: r.Class}
		for _, name := range r.Creates {
			n := b.Calls(name)
			bal.Creates = append(bal.Creates, Count{Name: name, Calls: n})
			bal.Leaked += n
		}
		for _, name := range r.Destroys {
			n := b.Calls(name)
			bal.Destroys = append(bal.Destroys, Count{Name: name, Calls: n})
			bal.Leaked -= n
		}
		out = append(out, bal)
	}
	return out
}

// Leaks returns the rows with a positive balance.
func (b *BasicLeak) Leaks() []Balance {
	var out []Balance
	for _, bal := range b.Balances() {
		if bal.Leaked > 0 {
			out = append(out, bal)
		}
	}
	return out
}

// Summarize reports one line per unbalanced row. Rows with more destroys
// than creates are reported as well; they point at untracked creation paths.
func (b *BasicLeak) Summarize(sink diag.Sink) {
	for _, bal := range b.Balances() {
		if bal.Leaked == 0 {
			continue
		}
		sev := diag.SeverityWarning
		if bal.Leaked < 0 {
			sev = diag.SeverityInfo
		}
		if diag.Enabled(sink, sev) {
			sink.Report(sev, bal.String())
		}
	}
}

func (bal Balance) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: ", bal.Class)
	writeCounts(&sb, bal.Creates)
	sb.WriteString(" -> ")
	writeCounts(&sb, bal.Destroys)
	if bal.Leaked != 0 {
		fmt.Fprintf(&sb, " leak=%d", bal.Leaked)
	}
	return sb.String()
}

func writeCounts(sb *strings.Builder, counts []Count) {
	for i, c := range counts {
		if i > 0 {
			sb.WriteString(" + ")
		}
		fmt.Fprintf(sb, "%s=%d", c.Name, c.Calls)
	}
}
