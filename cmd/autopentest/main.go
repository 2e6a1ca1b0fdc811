// Package main is the entry point for the autopentest CLI.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func init() {
	// Load .env so sudo.password_env and friends can live there
	_ = godotenv.Load()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("autopentest"),
		kong.Description("Gate, run and track penetration testing commands."),
		kong.UsageOnError(),
		kong.Vars(kongVars()),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	err := kctx.Run()
	stop()
	var exit exitError
	if errors.As(err, &exit) {
		// Output has already been printed
		os.Exit(exit.status())
	}
	kctx.FatalIfErrorf(err)
}
