package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/harrison-roh/image-tag-suggestion/tagapp/api"
	"github.com/harrison-roh/image-tag-suggestion/tagapp/batch"
	"github.com/harrison-roh/image-tag-suggestion/tagapp/config"
	"github.com/harrison-roh/image-tag-suggestion/tagapp/data"
	"github.com/harrison-roh/image-tag-suggestion/tagapp/imageproc"
	"github.com/harrison-roh/image-tag-suggestion/tagapp/model"
	"github.com/harrison-roh/image-tag-suggestion/tagapp/training"
	"github.com/rs/zerolog/log"
)

func trainFromCSV(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.trainingConfigPath)
	if err != nil {
		return err
	}

	dm := data.New(data.Config{
		DataPath:       cfg.DataPath,
		EmbeddingsPath: cfg.EmbeddingsPath,
		EmbeddingsSeed: cfg.EmbeddingsSeed,
	})

	if err := dm.LoadVocabulary(opts.csvLabels); err != nil {
		return err
	}

	trainSamples, err := dm.LoadSamples(opts.csvTrain, cfg.TrainFold, cfg.TrainPrefix)
	if err != nil {
		return err
	}

	valSamples, err := dm.LoadSamples(opts.csvVal, cfg.ValidationFold, "")
	if err != nil {
		return err
	}

	m, err := model.Load(model.Config{
		GraphPath: cfg.GraphPath,
		Tags:      cfg.GraphTags,
		VocabSize: dm.Vocab.Size(),
		Trainable: cfg.TrainEmbeddings,
	})
	if err != nil {
		return err
	}
	defer m.Destroy()

	if dm.Embeddings != nil {
		if err := m.SetEmbeddings(dm.Embeddings); err != nil {
			return err
		}
	}

	log.Info().Int("train_samples", len(trainSamples)).Int("val_samples", len(valSamples)).Msg("Samples ready")

	proc := imageproc.New(imageproc.Config{
		Height: cfg.ResizeShape[0],
		Width:  cfg.ResizeShape[1],
	})
	defer proc.Destroy()

	batchConfig := batch.Config{
		BasePath:  cfg.DataPath,
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		VocabSize: dm.Vocab.Size(),
		Height:    cfg.ResizeShape[0],
		Width:     cfg.ResizeShape[1],
	}

	trainConfig := batchConfig
	trainConfig.Augment = cfg.UseAugmentation
	trainGen, err := batch.New(trainSamples, proc, trainConfig)
	if err != nil {
		return err
	}
	defer trainGen.Close()

	valGen, err := batch.New(valSamples, proc, batchConfig)
	if err != nil {
		return err
	}
	defer valGen.Close()

	runID := training.NewRunID()
	callbacks := []training.Callback{
		training.NewCheckpoint(cfg.ModelPath),
		training.NewReduceLROnPlateau(cfg.ReduceLRPatience, cfg.MinLR),
		training.NewEarlyStopping(cfg.EarlyStoppingPatience),
	}

	if err := data.WriteDisplayMapping(cfg.LabelDisplayToInt, dm.Vocab); err != nil {
		return err
	}

	training.Resume(m, cfg.ModelPath)

	if opts.statusAddr != "" {
		status := api.NewStatus(runID, cfg.Epochs, cfg.LearningRate)
		callbacks = append(callbacks, status)
		defer status.Stop()

		serveCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		router := api.Router(&api.APIs{
			S:      status,
			Labels: dm.Vocab.DisplayToInt,
		})
		go func() {
			if err := api.Serve(serveCtx, opts.statusAddr, router); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", opts.statusAddr).Msg("Status api stopped")
			}
		}()
	}

	log.Info().Str("runID", runID).Int("epochs", cfg.Epochs).Msg("Training started")

	history, err := training.Fit(ctx, m, trainGen, valGen, training.Options{
		RunID:           runID,
		Epochs:          cfg.Epochs,
		StepsPerEpoch:   cfg.StepsPerEpoch,
		ValidationSteps: cfg.ValidationSteps,
		LearningRate:    cfg.LearningRate,
	}, callbacks...)

	if cfg.HistoryPath != "" && history != nil {
		if werr := history.Write(cfg.HistoryPath); werr != nil {
			log.Error().Err(werr).Msg("Fail to write history")
		}
	}

	if err != nil {
		return err
	}

	log.Info().Str("runID", runID).Int("epochs", history.Epochs).Msg("Training finished")

	return nil
}
