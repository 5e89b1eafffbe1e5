// kdts lints and queries Kconfig trees and devicetree sources.
//
// The pipeline behind every command:
//  1. config locates the Kconfig root, override files, boards and overlays
//  2. the Kconfig engine parses the tree and evaluates symbols
//  3. the devicetree engine preprocesses and parses each context
//  4. bindings type the nodes and check their properties
//  5. facts flattens both engines into the symbol index
//  6. rego rules run over the index
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if errors.Is(err, errDiagnostics) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}
