// Command hlcheck exercises the handle validation engine against the null
// driver: a synthetic workload with optional deliberate misuse, a leak
// report, a metrics server and a live TUI.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
