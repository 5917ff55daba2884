package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"leadcall/internal/api"
	"leadcall/internal/app"
	"leadcall/internal/config"
)

func apiCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start API server",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			setupLogging(cfg.Log)
			log.Info().Msgf("API server using store: %s, stream: %s", cfg.Store.Backend, cfg.Redis.StreamKey)

			ctx := context.Background()
			a, err := app.Build(ctx, cfg)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to build application")
			}
			defer func() {
				if err := a.Close(ctx); err != nil {
					log.Error().Err(err).Msg("failed to close backends")
				}
			}()

			server := api.NewServer(a.Orchestrator)
			server.Run(port)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	return command
}
