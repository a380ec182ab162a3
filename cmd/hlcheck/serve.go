package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/callguard/registry"
)

var (
	listenAddr string
	interval   time.Duration
	batch      int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workload continuously and serve metrics and handle state over HTTP",
	Long: `serve keeps a workload running and exposes:

  /metrics              Prometheus metrics
  /handles              live handles as JSON
  /handles/{class}      live handles of one class
  /leaks                live handles a shutdown would report
  /stats                registry counters`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&listenAddr, "listen", ":9464", "HTTP listen address")
	serveCmd.Flags().DurationVar(&interval, "interval", time.Second, "pause between workload batches")
	serveCmd.Flags().IntVar(&batch, "batch", 10, "iterations per batch")
	serveCmd.Flags().IntVar(&workers, "workers", 1, "concurrent workers")
	serveCmd.Flags().BoolVar(&violations, "violations", false, "mix deliberate API misuse into the workload")
	serveCmd.Flags().IntVar(&leakEvery, "leak-every", 0, "leak the context of every n-th iteration (0 never)")
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(ctx, sessionOptions{withProm: true})
	if err != nil {
		return err
	}
	s.work.violations = violations
	s.work.leakEvery = leakEvery

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           newRouter(s),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving", zap.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
loop:
	for {
		if err := s.work.run(ctx, batch, workers); err != nil && ctx.Err() == nil {
			logger.Error("workload failed", zap.Error(err))
			break
		}
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}

	rep, err := s.shutdown(shutdownCtx)
	if err != nil {
		return err
	}
	newPrinter(cmd.OutOrStdout()).report(rep, s.work.stats())
	return nil
}

type handleView struct {
	Handle     string `json:"handle"`
	Class      string `json:"class"`
	Parent     string `json:"parent,omitempty"`
	Seq        uint64 `json:"seq"`
	Dependents int    `json:"dependents"`
	Alias      bool   `json:"alias,omitempty"`
	Open       bool   `json:"open"`
}

func newRouter(s *session) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/handles", handlesHandler(s.eng.Registry(), "")).Methods(http.MethodGet)
	r.HandleFunc("/handles/{class}", func(w http.ResponseWriter, req *http.Request) {
		handlesHandler(s.eng.Registry(), mux.Vars(req)["class"])(w, req)
	}).Methods(http.MethodGet)
	r.HandleFunc("/leaks", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, s.eng.Registry().SnapshotLeaks())
	}).Methods(http.MethodGet)
	r.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, map[string]any{
			"session":  s.eng.ID().String(),
			"registry": s.eng.Registry().Stats(),
			"workload": s.work.stats(),
		})
	}).Methods(http.MethodGet)
	return r
}

func handlesHandler(reg *registry.Registry, class string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		views := []handleView{}
		reg.Each(func(info registry.Info) bool {
			if class != "" && info.Class != class {
				return true
			}
			v := handleView{
				Handle:     info.Handle.String(),
				Class:      info.Class,
				Seq:        info.Seq,
				Dependents: info.Dependents,
				Alias:      info.Alias,
				Open:       info.Open,
			}
			if info.Parent != 0 {
				v.Parent = info.Parent.String()
			}
			views = append(views, v)
			return true
		})
		writeJSONResponse(w, views)
	}
}

func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response failed", zap.Error(err))
	}
}
