package engine

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLogger_Nil(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	SetLogger(nil)
	if Logger() == nil {
		t.Fatal("Logger must never return nil")
	}
	Logger().Info("dropped")
}

func TestSetLogger_Concurrent(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	core, logs := observer.New(zapcore.InfoLevel)
	observed := zap.New(core)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				SetLogger(observed)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Logger().Debug("hidden")
			}
		}()
	}
	wg.Wait()

	SetLogger(observed)
	Logger().Info("visible")
	if logs.FilterMessage("visible").Len() != 1 {
		t.Errorf("expected the installed logger to receive the entry, got %d", logs.Len())
	}
}
