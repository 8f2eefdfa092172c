// imgpub builds, smoke-tests and publishes the container image variants a
// commit touched, then reports one outcome per variant.
//
// It runs as a single CI step ('imgpub run') or as a long-lived webhook
// receiver ('imgpub serve'). Every flag falls back to an environment
// variable; a .env file is loaded first for local runs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// buildVersion is stamped at link time (-X main.buildVersion=...).
var buildVersion = "dev"

func main() {
	// Local overrides for dev runs; harmless in CI.
	envFile := os.Getenv("IMGPUB_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("imgpub"),
		kong.Description("Conditional multi-platform container image publisher."),
		kong.Vars{"version": buildVersion},
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
