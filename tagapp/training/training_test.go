package training

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/harrison-roh/image-tag-suggestion/tagapp/batch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// validation loss를 epoch 순서대로 반환하는 모델
type fakeModel struct {
	valLosses []float64
	valCalls  int
	valSteps  int

	trainLRs []float64
	saved    []int
	loaded   []string
	loadErr  error
}

func (m *fakeModel) TrainStep(b *batch.Batch, lr float64) (float64, error) {
	m.trainLRs = append(m.trainLRs, lr)
	return float64(b.Size), nil
}

func (m *fakeModel) Evaluate(b *batch.Batch) (float64, error) {
	epoch := m.valCalls / m.valSteps
	m.valCalls++
	if epoch >= len(m.valLosses) {
		return m.valLosses[len(m.valLosses)-1], nil
	}

	return m.valLosses[epoch], nil
}

func (m *fakeModel) SaveWeights(path string) error {
	m.saved = append(m.saved, m.valCalls/m.valSteps)
	return nil
}

func (m *fakeModel) LoadWeights(path string) error {
	m.loaded = append(m.loaded, path)
	return m.loadErr
}

type fakeSource struct {
	size  int
	calls int
	err   error
}

func (s *fakeSource) Next(ctx context.Context) (*batch.Batch, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}

	return &batch.Batch{Size: s.size}, nil
}

func TestFit(t *testing.T) {
	m := &fakeModel{valLosses: []float64{3, 2, 2.5, 1, 1.5}, valSteps: 2}
	train := &fakeSource{size: 4}
	val := &fakeSource{size: 1}

	cp := NewCheckpoint("model.ckpt")
	h, err := Fit(context.Background(), m, train, val, Options{
		Epochs:          5,
		StepsPerEpoch:   3,
		ValidationSteps: 2,
		LearningRate:    0.01,
	}, cp)
	require.NoError(t, err)

	assert.Equal(t, 15, train.calls)
	assert.Equal(t, 10, val.calls)
	assert.Equal(t, 5, h.Epochs)
	assert.Zero(t, h.StoppedEpoch)
	assert.Equal(t, []float64{4, 4, 4, 4, 4}, h.TrainLoss)
	assert.Equal(t, []float64{3, 2, 2.5, 1, 1.5}, h.ValidationLoss)
	assert.Equal(t, []float64{0.01, 0.01, 0.01, 0.01, 0.01}, h.LearningRate)
	assert.Len(t, h.RunID, 8)

	// epoch 1, 2, 4에서 개선
	assert.Equal(t, []int{1, 2, 4}, m.saved)
	assert.Equal(t, 1.0, cp.Best())
}

func TestFitEarlyStoppingAndReduceLR(t *testing.T) {
	m := &fakeModel{valLosses: []float64{1, 1, 1, 1, 1, 1}, valSteps: 1}

	h, err := Fit(context.Background(), m, &fakeSource{size: 1}, &fakeSource{size: 1}, Options{
		Epochs:          10,
		StepsPerEpoch:   1,
		ValidationSteps: 1,
		LearningRate:    0.1,
	}, NewReduceLROnPlateau(2, 0.005), NewEarlyStopping(4))
	require.NoError(t, err)

	assert.Equal(t, 5, h.Epochs)
	assert.Equal(t, 5, h.StoppedEpoch)
	require.Len(t, m.trainLRs, 5)
	assert.InDelta(t, 0.1, m.trainLRs[0], 1e-12)
	assert.InDelta(t, 0.1, m.trainLRs[2], 1e-12)
	assert.InDelta(t, 0.01, m.trainLRs[3], 1e-12)
	assert.InDelta(t, 0.01, m.trainLRs[4], 1e-12)
}

func TestFitErrors(t *testing.T) {
	m := &fakeModel{valLosses: []float64{1}, valSteps: 1}
	opts := Options{Epochs: 1, StepsPerEpoch: 1, ValidationSteps: 1}

	_, err := Fit(context.Background(), m, &fakeSource{err: errors.New("broken")}, &fakeSource{}, opts)
	assert.Error(t, err)

	_, err = Fit(context.Background(), m, &fakeSource{}, &fakeSource{}, Options{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Fit(ctx, m, &fakeSource{}, &fakeSource{}, opts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckpoint(t *testing.T) {
	m := &fakeModel{valSteps: 1}
	s := &State{Model: m}
	cp := NewCheckpoint("w.ckpt")

	for i, loss := range []float64{0.5, 0.5, 0.7, 0.4} {
		m.valCalls = i + 1
		require.NoError(t, cp.OnEpochEnd(s, EpochLogs{Epoch: i + 1, ValLoss: loss}))
	}

	assert.Equal(t, []int{1, 4}, m.saved)
	assert.Equal(t, 0.4, cp.Best())

	every := NewCheckpoint("w.ckpt")
	every.SaveBestOnly = false
	m.saved = nil
	require.NoError(t, every.OnEpochEnd(s, EpochLogs{Epoch: 1, ValLoss: 1}))
	require.NoError(t, every.OnEpochEnd(s, EpochLogs{Epoch: 2, ValLoss: 2}))
	assert.Len(t, m.saved, 2)
}

func TestReduceLROnPlateau(t *testing.T) {
	r := NewReduceLROnPlateau(2, 1e-3)
	s := &State{LearningRate: 0.1}

	losses := []float64{1, 0.99995, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9}
	var lrs []float64
	for i, loss := range losses {
		require.NoError(t, r.OnEpochEnd(s, EpochLogs{Epoch: i + 1, ValLoss: loss}))
		lrs = append(lrs, s.LearningRate)
	}

	// 0.99995는 min delta(1e-4) 미만의 개선
	expected := []float64{0.1, 0.1, 0.1, 0.1, 0.01, 0.01, 0.001, 0.001, 0.001, 0.001}
	for i := range expected {
		assert.InDelta(t, expected[i], lrs[i], 1e-12, "epoch %d", i+1)
	}
}

func TestReduceLROnPlateauCooldown(t *testing.T) {
	r := NewReduceLROnPlateau(1, 1e-6)
	r.Cooldown = 2
	s := &State{LearningRate: 1}

	var lrs []float64
	for i, loss := range []float64{1, 1, 1, 1, 1, 1} {
		require.NoError(t, r.OnEpochEnd(s, EpochLogs{Epoch: i + 1, ValLoss: loss}))
		lrs = append(lrs, s.LearningRate)
	}

	expected := []float64{1, 0.1, 0.1, 0.01, 0.01, 0.001}
	for i := range expected {
		assert.InDelta(t, expected[i], lrs[i], 1e-12, "epoch %d", i+1)
	}
}

func TestEarlyStopping(t *testing.T) {
	e := NewEarlyStopping(3)
	s := &State{}

	stoppedAt := 0
	for i, loss := range []float64{1, 0.8, 0.9, 0.85, 0.7, 0.7, 0.75, 0.71, 0.9} {
		require.NoError(t, e.OnEpochEnd(s, EpochLogs{Epoch: i + 1, ValLoss: loss}))
		if s.Stop {
			stoppedAt = i + 1
			break
		}
	}

	assert.Equal(t, 8, stoppedAt)
}

func TestEarlyStoppingMinDelta(t *testing.T) {
	tests := []struct {
		losses    []float64
		stoppedAt int
	}{
		{[]float64{1, 1.05, 1.05, 1.05}, 3},
		{[]float64{1, 0.95, 0.85, 0.8, 0.78}, 5},
	}

	for _, tt := range tests {
		e := NewEarlyStopping(2)
		e.MinDelta = 0.1
		s := &State{}

		stoppedAt := 0
		for i, loss := range tt.losses {
			require.NoError(t, e.OnEpochEnd(s, EpochLogs{Epoch: i + 1, ValLoss: loss}))
			if s.Stop {
				stoppedAt = i + 1
				break
			}
		}

		assert.Equal(t, tt.stoppedAt, stoppedAt, "losses %v", tt.losses)
	}
}

func TestResume(t *testing.T) {
	m := &fakeModel{valLosses: []float64{1}, valSteps: 1}
	Resume(m, "weights.ckpt")
	assert.Equal(t, []string{"weights.ckpt"}, m.loaded)

	missing := &fakeModel{valLosses: []float64{1}, valSteps: 1, loadErr: errors.New("no checkpoint")}
	Resume(missing, "missing.ckpt")
	assert.Equal(t, []string{"missing.ckpt"}, missing.loaded)

	h, err := Fit(context.Background(), missing, &fakeSource{size: 2}, &fakeSource{size: 1}, Options{
		Epochs:          2,
		StepsPerEpoch:   1,
		ValidationSteps: 1,
		LearningRate:    0.01,
	}, NewCheckpoint("missing.ckpt"))
	require.NoError(t, err)
	assert.Equal(t, 2, h.Epochs)
	assert.Equal(t, []int{1}, missing.saved)
}

func TestHistoryWrite(t *testing.T) {
	h := NewHistory("")
	h.add(EpochLogs{Epoch: 1, Loss: 0.5, ValLoss: 0.6, LearningRate: 0.001})
	h.add(EpochLogs{Epoch: 2, Loss: 0.4, ValLoss: 0.5, LearningRate: 0.001})

	p := filepath.Join(t.TempDir(), "out", "history.yaml")
	require.NoError(t, h.Write(p))

	b, err := os.ReadFile(p)
	require.NoError(t, err)

	var read History
	require.NoError(t, yaml.Unmarshal(b, &read))
	assert.Equal(t, *h, read)
}
