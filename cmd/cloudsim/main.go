package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/cloudsim/cmd/cloudsim/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	bootstrapLogger(os.Getenv("CLOUDSIM_LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	stop()
	if err != nil {
		// Partial runs have already been reported.
		if !errors.Is(err, commands.ErrIncomplete) {
			log.Error().Err(err).Msg("cloudsim failed")
		}
		os.Exit(1)
	}
}

// bootstrapLogger sets up the console logger used until a command has read
// its settings file.
func bootstrapLogger(level string) {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
