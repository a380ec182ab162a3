// Package config loads the validation flags the host reads once at start-up.
//
// Sources, lowest priority first: built-in defaults, an optional YAML file,
// environment variables. The environment keeps the variable names of the
// Level Zero loader:
//
//	ZE_ENABLE_HANDLE_LIFETIME=1
//	ZE_ENABLE_PARAMETER_VALIDATION=1
//	ZE_ENABLE_THREADING_VALIDATION=1
//	ZEL_ENABLE_BASIC_LEAK_CHECKER=1
//	ZEL_ENABLE_EVENTS_CHECKER=1
//
// Every key can also be set as CALLGUARD_<KEY>, e.g. CALLGUARD_MAX_TOMBSTONES.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/wippyai/callguard/diag"
	"github.com/wippyai/callguard/errors"
)

// Flags are immutable after Load.
type Flags struct {
	// Reject calls on unknown or destroyed handles and track the ownership
	// graph.
	HandleLifetime bool `mapstructure:"handle_lifetime" yaml:"handle_lifetime"`
	// Reject null handle arguments and missing output pointers.
	ParameterValidation bool `mapstructure:"parameter_validation" yaml:"parameter_validation"`
	// Detect calls racing on the same handle.
	ThreadingValidation bool `mapstructure:"threading_validation" yaml:"threading_validation"`
	// Count create/destroy calls per entry point.
	BasicLeakChecker bool `mapstructure:"basic_leak_checker" yaml:"basic_leak_checker"`
	// Warn when an event is signalled again before a reset.
	EventsChecker bool `mapstructure:"events_checker" yaml:"events_checker"`
	// Record an OpenTelemetry span per call.
	Tracing bool `mapstructure:"tracing" yaml:"tracing"`
	// Refuse to destroy handles that still have live dependents.
	StrictDependents bool `mapstructure:"strict_dependents" yaml:"strict_dependents"`

	// Destroyed records kept for double-destroy and use-after-destroy
	// detection, oldest dropped first; 0 keeps all. Once a handle's record
	// is dropped, a repeated destroy or use of it reports UnknownHandle
	// instead.
	MaxTombstones int `mapstructure:"max_tombstones" yaml:"max_tombstones"`
	// Diagnostics per second forwarded to the sink; 0 disables limiting.
	ReportRate float64 `mapstructure:"report_rate" yaml:"report_rate"`
	ReportBurst int     `mapstructure:"report_burst" yaml:"report_burst"`
	// Lowest diagnostic severity reported: trace, info, warning or error.
	Severity string `mapstructure:"severity" yaml:"severity"`
	// Handle classes that must never be used by two calls at once.
	SingleThreaded []string `mapstructure:"single_threaded" yaml:"single_threaded"`
}

// Default returns the flags used when nothing is configured: lifetime and
// parameter validation on, everything else off.
func Default() Flags {
	return Flags{
		HandleLifetime:      true,
		ParameterValidation: true,
		MaxTombstones:       4096,
		ReportBurst:         10,
		Severity:            "info",
	}
}

// env names kept from the loader, per key.
var loaderEnv = map[string]string{
	"handle_lifetime":      "ZE_ENABLE_HANDLE_LIFETIME",
	"parameter_validation": "ZE_ENABLE_PARAMETER_VALIDATION",
	"threading_validation": "ZE_ENABLE_THREADING_VALIDATION",
	"basic_leak_checker":   "ZEL_ENABLE_BASIC_LEAK_CHECKER",
	"events_checker":       "ZEL_ENABLE_EVENTS_CHECKER",
}

// EnvPrefix prefixes the environment variable of every key.
const EnvPrefix = "CALLGUARD"

// NewViper returns a viper instance with defaults and environment bindings
// set, ready for a config file or command line flags to be layered on top.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range loaderEnv {
		// Loader name first so it wins over the prefixed one.
		v.BindEnv(key, env, EnvPrefix+"_"+strings.ToUpper(key))
	}
	return v
}

// SetDefaults registers Default() on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("handle_lifetime", d.HandleLifetime)
	v.SetDefault("parameter_validation", d.ParameterValidation)
	v.SetDefault("threading_validation", d.ThreadingValidation)
	v.SetDefault("basic_leak_checker", d.BasicLeakChecker)
	v.SetDefault("events_checker", d.EventsChecker)
	v.SetDefault("tracing", d.Tracing)
	v.SetDefault("strict_dependents", d.StrictDependents)
	v.SetDefault("max_tombstones", d.MaxTombstones)
	v.SetDefault("report_rate", d.ReportRate)
	v.SetDefault("report_burst", d.ReportBurst)
	v.SetDefault("severity", d.Severity)
	v.SetDefault("single_threaded", d.SingleThreaded)
}

// Load reads flags from defaults, the file at path (skipped when empty) and
// the environment.
func Load(path string) (Flags, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Flags{}, errors.InvalidConfig(fmt.Sprintf("read %s", path), err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates flags from a prepared viper instance.
func FromViper(v *viper.Viper) (Flags, error) {
	var f Flags
	if err := v.Unmarshal(&f); err != nil {
		return Flags{}, errors.InvalidConfig("decode flags", err)
	}
	if err := f.Validate(); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Validate reports the first out-of-range value.
func (f Flags) Validate() error {
	if f.MaxTombstones < 0 {
		return errors.InvalidConfig(fmt.Sprintf("max_tombstones must be >= 0, got %d", f.MaxTombstones), nil)
	}
	if f.ReportRate < 0 {
		return errors.InvalidConfig(fmt.Sprintf("report_rate must be >= 0, got %g", f.ReportRate), nil)
	}
	if f.ReportBurst < 0 {
		return errors.InvalidConfig(fmt.Sprintf("report_burst must be >= 0, got %d", f.ReportBurst), nil)
	}
	if f.Severity != "" {
		if _, err := diag.ParseSeverity(f.Severity); err != nil {
			return errors.InvalidConfig("severity", err)
		}
	}
	return nil
}

// MinSeverity returns the parsed Severity, defaulting to info.
func (f Flags) MinSeverity() diag.Severity {
	sev, err := diag.ParseSeverity(f.Severity)
	if err != nil {
		return diag.SeverityInfo
	}
	return sev
}

// Tracking reports whether the handle registry must be kept up to date.
// Threading validation pins registry records, so it needs tracking too.
func (f Flags) Tracking() bool {
	return f.HandleLifetime || f.ThreadingValidation
}
