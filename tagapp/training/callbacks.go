package training

import (
	"math"

	"github.com/harrison-roh/image-tag-suggestion/tagapp/constants"
	"github.com/rs/zerolog/log"
)

// 모든 callback은 val_loss가 작을수록 좋은 것으로 판단

// Checkpoint val_loss가 개선되면 가중치 저장
type Checkpoint struct {
	Path         string
	SaveBestOnly bool
	Verbose      bool

	best float64
}

// NewCheckpoint 최고 성능 가중치만 저장하는 Checkpoint
func NewCheckpoint(path string) *Checkpoint {
	return &Checkpoint{
		Path:         path,
		SaveBestOnly: true,
		Verbose:      true,
		best:         math.Inf(1),
	}
}

// OnEpochEnd implements Callback
func (c *Checkpoint) OnEpochEnd(s *State, logs EpochLogs) error {
	current := logs.ValLoss

	if !c.SaveBestOnly {
		if c.Verbose {
			log.Info().Int("epoch", logs.Epoch).Str("path", c.Path).Msg("Saving model")
		}
		return s.Model.SaveWeights(c.Path)
	}

	if current < c.best {
		if c.Verbose {
			log.Info().
				Int("epoch", logs.Epoch).
				Msgf("val_loss improved from %.5f to %.5f, saving model to %s", c.best, current, c.Path)
		}
		if err := s.Model.SaveWeights(c.Path); err != nil {
			return err
		}
		c.best = current
	} else if c.Verbose {
		log.Info().
			Int("epoch", logs.Epoch).
			Msgf("val_loss did not improve from %.5f", c.best)
	}

	return nil
}

// Best 지금까지 최소 val_loss
func (c *Checkpoint) Best() float64 {
	return c.best
}

// ReduceLROnPlateau val_loss 개선이 Patience epoch 동안 없으면 학습률 감소
type ReduceLROnPlateau struct {
	Patience int
	Factor   float64
	MinDelta float64
	Cooldown int
	MinLR    float64

	best            float64
	wait            int
	cooldownCounter int
}

// NewReduceLROnPlateau factor 0.1, min delta 1e-4, cooldown 0
func NewReduceLROnPlateau(patience int, minLR float64) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		Patience: patience,
		Factor:   constants.ReduceLRFactor,
		MinDelta: constants.ReduceLRMinDelta,
		MinLR:    minLR,
		best:     math.Inf(1),
	}
}

// OnEpochEnd implements Callback
func (r *ReduceLROnPlateau) OnEpochEnd(s *State, logs EpochLogs) error {
	current := logs.ValLoss

	if r.cooldownCounter > 0 {
		r.cooldownCounter--
		r.wait = 0
	}

	if current < r.best-r.MinDelta {
		r.best = current
		r.wait = 0
		return nil
	}

	if r.cooldownCounter > 0 {
		return nil
	}

	r.wait++
	if r.wait < r.Patience {
		return nil
	}

	if old := s.LearningRate; old > r.MinLR {
		s.LearningRate = math.Max(old*r.Factor, r.MinLR)
		log.Info().
			Int("epoch", logs.Epoch).
			Float64("from", old).
			Float64("to", s.LearningRate).
			Msg("Reducing learning rate")
		r.cooldownCounter = r.Cooldown
		r.wait = 0
	}

	return nil
}

// EarlyStopping val_loss 개선이 Patience epoch 동안 없으면 학습 중단
type EarlyStopping struct {
	Patience int
	MinDelta float64

	best float64
	wait int
}

// NewEarlyStopping min delta 0
func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{
		Patience: patience,
		best:     math.Inf(1),
	}
}

// OnEpochEnd implements Callback
func (e *EarlyStopping) OnEpochEnd(s *State, logs EpochLogs) error {
	current := logs.ValLoss

	if current < e.best-e.MinDelta {
		e.best = current
		e.wait = 0
		return nil
	}

	e.wait++
	if e.wait >= e.Patience {
		log.Info().
			Int("epoch", logs.Epoch).
			Int("patience", e.Patience).
			Msg("Early stopping")
		s.Stop = true
	}

	return nil
}
