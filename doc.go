// Package callguard is a validation layer for Level Zero style driver APIs.
//
// It sits between an application and a driver, intercepts every API entry
// point and checks each call against what it knows about the handles the
// application holds: which are live, which were destroyed, who created them
// and whether another goroutine is using them right now.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	callguard/
//	├── api/          Entry point table: handle classes, inputs, outputs, result codes
//	├── registry/     Handle registry: lifetime states, parent graph, tombstones, pins
//	├── chain/        Validation chain: ordered prologue and epilogue handlers
//	├── handlers/     Built-in handlers: parameters, lifetime, threading, leak counts, tracing
//	├── engine/       Interception engine: prologue, real call, epilogue, registry update
//	├── diag/         Diagnostic sinks and rate limiting
//	├── config/       Validation flags from defaults, environment and config files
//	├── metrics/      Prometheus collectors for calls, violations and handles
//	├── errors/       Structured validation errors
//	├── nulldriver/   In-memory driver that mints handles
//	└── cmd/hlcheck/  Workload runner, metrics server and live TUI
//
// # Quick Start
//
// Wrap a driver dispatch table and route calls through the engine:
//
//	tab := api.Default()
//	drv := nulldriver.New(tab)
//
//	eng, err := engine.New(tab, drv.Dispatch(),
//	    engine.WithFlags(config.Default()),
//	    engine.WithSink(diag.NewZapSink(logger)))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c, err := eng.Call(ctx, "zeContextCreate", driver)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	hCtx := c.OutputAt(0)
//
//	_, err = eng.Call(ctx, "zeContextDestroy", hCtx)
//	_, err = eng.Call(ctx, "zeContextGetStatus", hCtx)
//	// errors.KindOf(err) == errors.KindUseAfterDestroy
//
//	rep, err := eng.Shutdown(ctx)
//	for _, l := range rep.Leaks {
//	    fmt.Println(l.Class, l.Handle)
//	}
//
// # Configuration
//
// Validation layers are enabled with the loader environment variables
// ZE_ENABLE_PARAMETER_VALIDATION, ZE_ENABLE_HANDLE_LIFETIME,
// ZE_ENABLE_THREADING_VALIDATION and ZEL_ENABLE_BASIC_LEAK_CHECKER, or with
// the equivalent keys in a config file. See package config.
//
// # Debugging
//
// Enable debug logging for the engine:
//
//	logger, _ := zap.NewDevelopment()
//	engine.SetLogger(logger)
package callguard
