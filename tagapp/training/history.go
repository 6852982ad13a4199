package training

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// History epoch별 학습 결과
type History struct {
	RunID          string    `yaml:"runID"`
	Epochs         int       `yaml:"epochs"`
	StoppedEpoch   int       `yaml:"stoppedEpoch,omitempty"`
	TrainLoss      []float64 `yaml:"trainLoss"`
	ValidationLoss []float64 `yaml:"validationLoss"`
	LearningRate   []float64 `yaml:"learningRate"`
}

// NewRunID 학습 실행 식별자 생성
func NewRunID() string {
	return uuid.New().String()[:8]
}

// NewHistory runID가 비어있으면 새로 생성
func NewHistory(runID string) *History {
	if runID == "" {
		runID = NewRunID()
	}

	return &History{
		RunID: runID,
	}
}

func (h *History) add(logs EpochLogs) {
	h.Epochs = logs.Epoch
	h.TrainLoss = append(h.TrainLoss, logs.Loss)
	h.ValidationLoss = append(h.ValidationLoss, logs.ValLoss)
	h.LearningRate = append(h.LearningRate, logs.LearningRate)
}

// Write YAML 파일로 저장
func (h *History) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.Wrapf(err, "Fail to make directory for history: %s", path)
	}

	b, err := yaml.Marshal(h)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, b, 0644); err != nil {
		return errors.Wrapf(err, "Fail to write history: %s", path)
	}

	return nil
}
