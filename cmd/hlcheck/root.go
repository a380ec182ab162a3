package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wippyai/callguard/config"
	"github.com/wippyai/callguard/diag"
	"github.com/wippyai/callguard/engine"
)

var (
	cfgFile      string
	tableFile    string
	outputFormat string
	otlpEndpoint string
	logJSON      bool

	// v layers the config file and the flags below over config.NewViper.
	v = config.NewViper()

	logger = zap.NewNop()
	flags  config.Flags
)

var rootCmd = &cobra.Command{
	Use:   "hlcheck",
	Short: "Handle lifetime checker for Level Zero style APIs",
	Long: `hlcheck runs a synthetic workload through the validation engine on top of
an in-memory null driver and reports violations and leaked handles.

Validation is configured through a config file, the loader environment
variables (ZE_ENABLE_HANDLE_LIFETIME, ZE_ENABLE_THREADING_VALIDATION,
ZEL_ENABLE_BASIC_LEAK_CHECKER, ...) or the flags below.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hlcheck/config.yaml)")
	pf.StringVar(&tableFile, "table", "", "entry point table in YAML (default is the built-in core table)")
	pf.StringVar(&outputFormat, "output", "table", "output format: table or json")
	pf.StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP HTTP endpoint for call spans, e.g. localhost:4318")
	pf.BoolVar(&logJSON, "log-json", false, "log as JSON instead of console text")

	pf.Bool("lifetime", true, "validate handle lifetimes")
	pf.Bool("params", true, "validate null handles and output pointers")
	pf.Bool("threading", false, "detect calls racing on the same handle")
	pf.Bool("leak-checker", false, "count create/destroy calls per entry point")
	pf.Bool("events-checker", false, "warn when an event is signalled again before a reset")
	pf.Bool("strict", false, "refuse to destroy handles with live dependents")
	pf.String("severity", "info", "lowest reported severity: trace, info, warning, error")
	pf.Float64("report-rate", 0, "diagnostics per second, 0 for unlimited")

	for key, name := range map[string]string{
		"handle_lifetime":      "lifetime",
		"parameter_validation": "params",
		"threading_validation": "threading",
		"basic_leak_checker":   "leak-checker",
		"events_checker":       "events-checker",
		"strict_dependents":    "strict",
		"severity":             "severity",
		"report_rate":          "report-rate",
	} {
		_ = v.BindPFlag(key, pf.Lookup(name))
	}
}

// initConfig reads in the config file if one is set or found.
func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		v.AddConfigPath(filepath.Join(home, ".hlcheck"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return fmt.Errorf("read config: %w", err)
		}
	}

	var err error
	flags, err = config.FromViper(v)
	if err != nil {
		return err
	}
	if otlpEndpoint != "" {
		flags.Tracing = true
	}

	logger, err = newLogger(flags.MinSeverity(), logJSON)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	engine.SetLogger(logger.Named("engine"))

	logger.Debug("configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("config", v.ConfigFileUsed()),
		zap.Bool("handle_lifetime", flags.HandleLifetime),
		zap.Bool("parameter_validation", flags.ParameterValidation),
		zap.Bool("threading_validation", flags.ThreadingValidation),
		zap.Bool("basic_leak_checker", flags.BasicLeakChecker),
		zap.Bool("events_checker", flags.EventsChecker),
		zap.Bool("tracing", flags.Tracing))
	return nil
}

func newLogger(sev diag.Severity, asJSON bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if asJSON {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(diag.ZapLevel(sev))
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func isJSONOutput() bool {
	return outputFormat == "json"
}
