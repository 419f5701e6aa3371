// Command dimfocus trains and serves focused-dimension document similarity
// and PII detection models on top of text embeddings.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is fine; variables may come from the real environment.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(version).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "dimfocus: %v\n", err)
		}
		return 1
	}
	return 0
}
