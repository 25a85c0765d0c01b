package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/amaumene/lapis/internal/models"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror <url>",
	Short: "Mirror one URL and print the reply that would be posted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := buildRegistry(cfg, logger)
		if err != nil {
			return err
		}
		p := buildPipeline(cfg, registry, logger, nil, nil)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		job := p.Run(ctx, models.Submission{
			ID:        "cli",
			Body:      args[0],
			CreatedAt: time.Now(),
		})

		switch job.State {
		case models.JobStateCompleted:
			fmt.Fprintln(cmd.OutOrStdout(), job.Reply)
			return nil
		case models.JobStateSkipped:
			return fmt.Errorf("no importer handles %s", args[0])
		default:
			return fmt.Errorf("mirror failed: %s", job.Error)
		}
	},
}
