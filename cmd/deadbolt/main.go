// File: cmd/deadbolt/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rdSoftInc/deadbolt/cmd"
	"github.com/rdSoftInc/deadbolt/internal/observability"
	"github.com/rdSoftInc/deadbolt/internal/scheduler"
	"github.com/rdSoftInc/deadbolt/internal/scope"
)

// Allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	// A first Ctrl+C cancels the context for graceful shutdown; a second
	// one kills the process through the restored default handler.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	osExit(exitCode(err))
}

// exitCode maps run outcomes to process exit codes. Scope violations get
// a distinct code so wrappers can tell a policy rejection from a tool or
// orchestration failure. A run that completed with gaps is still success.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var scopeErr *scope.ScopeError
	if errors.As(err, &scopeErr) {
		return 2
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	var internal *scheduler.InternalError
	if errors.As(err, &internal) {
		return 3
	}
	return 1
}
