package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"leadcall/internal/config"
	"leadcall/internal/worker"
)

func workerCmd() *cobra.Command {
	var (
		consumerName string
		baseBackoff  time.Duration
		maxBackoff   time.Duration
		pollInterval time.Duration
	)

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start worker server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogging(cfg.Log)
			return worker.Run(worker.Config{
				ConsumerName: consumerName,
				BaseBackoff:  baseBackoff,
				MaxBackoff:   maxBackoff,
				PollInterval: pollInterval,
			}, cfg)
		},
	}

	command.Flags().StringVar(&consumerName, "consumer", "worker-1", "Worker consumer name")
	command.Flags().DurationVar(&baseBackoff, "base-backoff", 500*time.Millisecond, "Base backoff duration")
	command.Flags().DurationVar(&maxBackoff, "max-backoff", 30*time.Second, "Max backoff duration")
	command.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "Delay set poll interval")

	return command
}
