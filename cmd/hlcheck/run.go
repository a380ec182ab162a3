package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wippyai/callguard/engine"
)

var (
	iterations int
	workers    int
	devices    int
	violations bool
	leakEvery  int
	recycle    bool
	failOnLeak bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a synthetic workload and report violations and leaks",
	Long: `run drives create/use/destroy cycles through the engine on top of the null
driver, then shuts the engine down and prints what was still live.

Example:
  hlcheck run --iterations 1000 --workers 4
  hlcheck run --violations --leak-every 10 --leak-checker
  ZE_ENABLE_HANDLE_LIFETIME=0 hlcheck run --violations --output json`,
	RunE: runWorkload,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVar(&iterations, "iterations", 100, "workload iterations")
	runCmd.Flags().IntVar(&workers, "workers", 1, "concurrent workers")
	runCmd.Flags().IntVar(&devices, "devices", 1, "devices reported by the null driver")
	runCmd.Flags().BoolVar(&violations, "violations", false, "mix deliberate API misuse into the workload")
	runCmd.Flags().IntVar(&leakEvery, "leak-every", 0, "leak the context of every n-th iteration (0 never)")
	runCmd.Flags().BoolVar(&recycle, "recycle", false, "let the null driver reuse destroyed handle values")
	runCmd.Flags().BoolVar(&failOnLeak, "fail-on-leak", false, "exit non-zero when handles leaked")
}

func runWorkload(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(ctx, sessionOptions{devices: devices, recycle: recycle})
	if err != nil {
		return err
	}
	s.work.violations = violations
	s.work.leakEvery = leakEvery

	runErr := s.work.run(ctx, iterations, workers)

	rep, err := s.shutdown(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}

	if isJSONOutput() {
		if err := writeJSON(cmd.OutOrStdout(), rep, s.work.stats()); err != nil {
			return err
		}
	} else {
		newPrinter(cmd.OutOrStdout()).report(rep, s.work.stats())
	}

	if failOnLeak && leaked(rep, s) {
		return errLeaked
	}
	return nil
}

var errLeaked = fmt.Errorf("handles leaked")

// leaked reports whether rep holds anything besides the enumerated handles,
// which live for the whole session.
func leaked(rep *engine.LeakReport, s *session) bool {
	enumerated := make(map[string]bool)
	for _, ep := range s.eng.Table().EntryPoints() {
		for _, out := range ep.Outputs {
			if out.Enumerated {
				enumerated[out.Class] = true
			}
		}
	}
	for _, l := range rep.Leaks {
		if !enumerated[l.Class] {
			return true
		}
	}
	for _, b := range rep.Balances {
		if b.Leaked > 0 {
			return true
		}
	}
	return false
}
