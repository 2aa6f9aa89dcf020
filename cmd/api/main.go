package main

// @title           Billsync API
// @version         1.0
// @description     Subscription billing backed by a card payment gateway.

// @host      localhost:8888
// @BasePath  /

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/internal/app"
)

func main() {
	os.Exit(run())
}

// run blocks until SIGINT/SIGTERM or a fatal server error and returns the
// process exit code.
func run() int {
	// The app logger may not exist yet when startup fails.
	fallback := zap.NewExample().Sugar()

	a := fx.New(app.Module)

	startCtx, cancelStart := context.WithTimeout(context.Background(), app.DefaultStartTimeout)
	defer cancelStart()
	if err := a.Start(startCtx); err != nil {
		fallback.Errorf("failed to start billsync: %v", err)
		return 1
	}

	sig := <-a.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancelStop()
	if err := a.Stop(stopCtx); err != nil {
		fallback.Errorf("failed to stop billsync: %v", err)
		return 1
	}
	return sig.ExitCode
}
