package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/harrison-roh/image-tag-suggestion/tagapp/constants"
	"github.com/harrison-roh/image-tag-suggestion/tagapp/logger"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type options struct {
	csvTrain           string
	csvVal             string
	csvLabels          string
	trainingConfigPath string
	statusAddr         string
	logLevel           string
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           constants.AppName,
		Short:         "Train the image tag suggestion model from csv annotations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(constants.AppName, opts.logLevel); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return trainFromCSV(ctx, opts)
		},
	}

	addFlags(cmd.Flags(), &opts)

	return cmd
}

func addFlags(flags *pflag.FlagSet, opts *options) {
	flags.SortFlags = false
	flags.StringVar(&opts.csvTrain, "csv_train", constants.CSVTrain, "csv_train")
	flags.StringVar(&opts.csvVal, "csv_val", constants.CSVValidation, "csv_val")
	flags.StringVar(&opts.csvLabels, "csv_labels", constants.CSVLabels, "csv_labels")
	flags.StringVar(&opts.trainingConfigPath, "training_config_path", constants.TrainingConfigPath, "training_config_path")
	flags.StringVar(&opts.statusAddr, "status_addr", "", "Address for the training status api (disabled if empty)")
	flags.StringVar(&opts.logLevel, "log_level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("Training failed")
		os.Exit(1)
	}
}
