package training

import (
	"context"
	"time"

	"github.com/harrison-roh/image-tag-suggestion/tagapp/batch"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Model 학습 가능한 모델. 모델 구조와 최적화는 프레임워크가 담당
type Model interface {
	// 한 배치 학습 후 loss 반환
	TrainStep(b *batch.Batch, learningRate float64) (float64, error)
	// 가중치 변경 없이 loss 반환
	Evaluate(b *batch.Batch) (float64, error)
	SaveWeights(path string) error
	LoadWeights(path string) error
}

// Source 배치 공급원
type Source interface {
	Next(ctx context.Context) (*batch.Batch, error)
}

// Options 학습 반복 설정정보
type Options struct {
	RunID           string
	Epochs          int
	StepsPerEpoch   int
	ValidationSteps int
	LearningRate    float64
}

// EpochLogs epoch 종료시 지표
type EpochLogs struct {
	Epoch        int
	Loss         float64
	ValLoss      float64
	LearningRate float64
}

// State callback이 변경할 수 있는 학습 상태
type State struct {
	Model        Model
	Epochs       int
	LearningRate float64
	Stop         bool
}

// Callback epoch 종료시 호출
type Callback interface {
	OnEpochEnd(s *State, logs EpochLogs) error
}

func meanLoss(ctx context.Context, src Source, steps int, step func(*batch.Batch) (float64, error)) (float64, error) {
	var sum float64
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		b, err := src.Next(ctx)
		if err != nil {
			return 0, err
		}

		loss, err := step(b)
		if err != nil {
			return 0, err
		}
		sum += loss
	}

	return sum / float64(steps), nil
}

// Resume path의 가중치를 불러옴. 실패하면 새 가중치로 학습하도록 로그만 남김
func Resume(m Model, path string) {
	if err := m.LoadWeights(path); err != nil {
		log.Info().Err(err).Str("path", path).Msg("No model to load")
		return
	}

	log.Info().Str("path", path).Msg("Model weights loaded")
}

// Fit epoch 마다 학습과 검증을 수행하고 callback을 순서대로 호출.
// callback이 Stop을 설정하거나 ctx가 취소되면 종료
func Fit(ctx context.Context, m Model, train, val Source, opts Options, callbacks ...Callback) (*History, error) {
	if opts.Epochs <= 0 || opts.StepsPerEpoch <= 0 || opts.ValidationSteps <= 0 {
		return nil, errors.Errorf("Invalid training options: %+v", opts)
	}

	s := &State{
		Model:        m,
		Epochs:       opts.Epochs,
		LearningRate: opts.LearningRate,
	}
	h := NewHistory(opts.RunID)

	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		t0 := time.Now()
		lr := s.LearningRate

		loss, err := meanLoss(ctx, train, opts.StepsPerEpoch, func(b *batch.Batch) (float64, error) {
			return m.TrainStep(b, lr)
		})
		if err != nil {
			return h, errors.Wrapf(err, "epoch %d training", epoch)
		}

		valLoss, err := meanLoss(ctx, val, opts.ValidationSteps, m.Evaluate)
		if err != nil {
			return h, errors.Wrapf(err, "epoch %d validation", epoch)
		}

		logs := EpochLogs{
			Epoch:        epoch,
			Loss:         loss,
			ValLoss:      valLoss,
			LearningRate: lr,
		}
		h.add(logs)

		log.Info().
			Int("epoch", epoch).
			Int("epochs", opts.Epochs).
			Float64("loss", loss).
			Float64("valLoss", valLoss).
			Float64("lr", lr).
			Dur("elapsed", time.Since(t0)).
			Msg("Epoch finished")

		for _, cb := range callbacks {
			if err := cb.OnEpochEnd(s, logs); err != nil {
				return h, errors.Wrapf(err, "epoch %d callback", epoch)
			}
		}

		if s.Stop {
			h.StoppedEpoch = epoch
			log.Info().Int("epoch", epoch).Msg("Training stopped")
			break
		}
	}

	return h, nil
}
