package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/artifactd/artifactd/internal/config"
	"github.com/artifactd/artifactd/internal/server"
)

var version = "dev"

func main() {
	// A missing .env is fine; explicit config wins over it anyway.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "artifactd",
		Short: "Content-addressed artifact repository server",
		Run: func(cmd *cobra.Command, args []string) {
			color.Green("artifactd %s", version)
			fmt.Println()
			fmt.Println("Use \"artifactd --help\" for more information about a command.")
		},
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var configFile string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the artifact repository server",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(debug)

			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			srv, err := server.New(cfg, version, log.Logger)
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigs
				log.Info().Str("signal", sig.String()).Msg("shutting down")
				if err := srv.Shutdown(context.Background()); err != nil {
					log.Error().Err(err).Msg("shutdown failed")
				}
			}()

			return srv.Start()
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func setupLogging(debug bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
