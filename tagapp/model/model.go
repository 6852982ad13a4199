package model

import (
	"bytes"
	"encoding/binary"
	"os"
	"path"
	"path/filepath"

	"github.com/harrison-roh/image-tag-suggestion/tagapp/batch"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	tf "github.com/tensorflow/tensorflow/tensorflow/go"
	"gopkg.in/yaml.v2"
)

// DescriptorFile SavedModel 디렉토리의 operation 이름 정보 파일
const DescriptorFile = "model.yaml"

// Config 학습 모델 생성 설정정보
type Config struct {
	GraphPath string
	Tags      []string
	VocabSize int
	// 라벨 임베딩도 학습할지 여부
	Trainable bool
}

type modelConfig struct {
	Name                            string `yaml:"name"`
	VocabSize                       int    `yaml:"vocabSize"`
	InputOperationName              string `yaml:"inputOperationName"`
	TargetOperationName             string `yaml:"targetOperationName"`
	LossOperationName               string `yaml:"lossOperationName"`
	LearningRateOperationName       string `yaml:"learningRateOperationName"`
	TrainOperationName              string `yaml:"trainOperationName"`
	FrozenTrainOperationName        string `yaml:"frozenTrainOperationName"`
	EmbeddingsInputOperationName    string `yaml:"embeddingsInputOperationName"`
	EmbeddingsAssignOperationName   string `yaml:"embeddingsAssignOperationName"`
	CheckpointFilenameOperationName string `yaml:"checkpointFilenameOperationName"`
	SaveOperationName               string `yaml:"saveOperationName"`
	RestoreOperationName            string `yaml:"restoreOperationName"`
	Description                     string `yaml:"description"`
}

func defaultModelConfig() modelConfig {
	return modelConfig{
		Name:                            "tagger",
		InputOperationName:              "images",
		TargetOperationName:             "labels",
		LossOperationName:               "loss",
		LearningRateOperationName:       "learning_rate",
		TrainOperationName:              "train",
		FrozenTrainOperationName:        "train_frozen_embeddings",
		EmbeddingsInputOperationName:    "label_embeddings/initial_value",
		EmbeddingsAssignOperationName:   "label_embeddings/assign",
		CheckpointFilenameOperationName: "save/Const",
		SaveOperationName:               "save/control_dependency",
		RestoreOperationName:            "save/restore_all",
	}
}

// model.yaml이 없으면 기본 operation 이름 사용
func loadModelConfig(graphPath string) (modelConfig, error) {
	cfg := defaultModelConfig()

	cfgBytes, err := os.ReadFile(path.Join(graphPath, DescriptorFile))
	if os.IsNotExist(err) {
		return cfg, nil
	} else if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(cfgBytes, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "Fail to parse %s", DescriptorFile)
	}

	return cfg, nil
}

// Model TensorFlow SavedModel 학습 그래프
type Model struct {
	cfg       modelConfig
	tfModel   *tf.SavedModel
	vocabSize int

	images       tf.Output
	targets      tf.Output
	loss         tf.Output
	learningRate tf.Output
	train        *tf.Operation
}

func (m *Model) operation(name string) (*tf.Operation, error) {
	if op := m.tfModel.Graph.Operation(name); op != nil {
		return op, nil
	}

	return nil, errors.Errorf("No such operation in graph: %s", name)
}

func (m *Model) output(name string) (tf.Output, error) {
	op, err := m.operation(name)
	if err != nil {
		return tf.Output{}, err
	}

	return op.Output(0), nil
}

func (m *Model) resolve(trainable bool) error {
	var err error

	if m.images, err = m.output(m.cfg.InputOperationName); err != nil {
		return err
	}
	if m.targets, err = m.output(m.cfg.TargetOperationName); err != nil {
		return err
	}
	if m.loss, err = m.output(m.cfg.LossOperationName); err != nil {
		return err
	}
	if m.learningRate, err = m.output(m.cfg.LearningRateOperationName); err != nil {
		return err
	}

	trainOp := m.cfg.TrainOperationName
	if !trainable {
		trainOp = m.cfg.FrozenTrainOperationName
	}
	if m.train, err = m.operation(trainOp); err != nil {
		return err
	}

	return nil
}

func (m *Model) checkVocabSize() error {
	if m.cfg.VocabSize > 0 && m.cfg.VocabSize != m.vocabSize {
		return errors.Errorf("Model %s is built for %d labels, vocabulary has %d", m.cfg.Name, m.cfg.VocabSize, m.vocabSize)
	}

	shape, err := m.targets.Shape().ToSlice()
	if err != nil || len(shape) == 0 {
		// 알 수 없는 rank
		return nil
	}

	if last := shape[len(shape)-1]; last >= 0 && last != int64(m.vocabSize) {
		return errors.Errorf("Model %s target has %d labels, vocabulary has %d", m.cfg.Name, last, m.vocabSize)
	}

	return nil
}

func floatTensor(values []float32, shape ...int64) (*tf.Tensor, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, values); err != nil {
		return nil, err
	}

	return tf.ReadTensor(tf.Float, shape, &buf)
}

func (m *Model) feeds(b *batch.Batch) (map[tf.Output]*tf.Tensor, error) {
	if b.VocabSize != m.vocabSize {
		return nil, errors.Errorf("Batch has %d labels, model has %d", b.VocabSize, m.vocabSize)
	}

	images, err := floatTensor(b.Images, int64(b.Size), int64(b.Height), int64(b.Width), batch.Channels)
	if err != nil {
		return nil, err
	}

	targets, err := floatTensor(b.Targets, int64(b.Size), int64(b.VocabSize))
	if err != nil {
		return nil, err
	}

	return map[tf.Output]*tf.Tensor{
		m.images:  images,
		m.targets: targets,
	}, nil
}

func scalarLoss(t *tf.Tensor) (float64, error) {
	loss, ok := t.Value().(float32)
	if !ok {
		return 0, errors.Errorf("Loss is not a float scalar: %v", t.Shape())
	}

	return float64(loss), nil
}

// TrainStep 한 배치 학습 후 loss 반환
func (m *Model) TrainStep(b *batch.Batch, learningRate float64) (float64, error) {
	feeds, err := m.feeds(b)
	if err != nil {
		return 0, err
	}

	lr, err := tf.NewTensor(float32(learningRate))
	if err != nil {
		return 0, err
	}
	feeds[m.learningRate] = lr

	results, err := m.tfModel.Session.Run(feeds, []tf.Output{m.loss}, []*tf.Operation{m.train})
	if err != nil {
		return 0, err
	}

	return scalarLoss(results[0])
}

// Evaluate 가중치 변경 없이 loss 반환
func (m *Model) Evaluate(b *batch.Batch) (float64, error) {
	feeds, err := m.feeds(b)
	if err != nil {
		return 0, err
	}

	results, err := m.tfModel.Session.Run(feeds, []tf.Output{m.loss}, nil)
	if err != nil {
		return 0, err
	}

	return scalarLoss(results[0])
}

func (m *Model) runCheckpoint(opName, ckptPath string) error {
	filename, err := m.output(m.cfg.CheckpointFilenameOperationName)
	if err != nil {
		return err
	}

	target, err := m.operation(opName)
	if err != nil {
		return err
	}

	t, err := tf.NewTensor(ckptPath)
	if err != nil {
		return err
	}

	_, err = m.tfModel.Session.Run(
		map[tf.Output]*tf.Tensor{
			filename: t,
		},
		nil,
		[]*tf.Operation{target},
	)

	return err
}

// SaveWeights 가중치를 TensorFlow checkpoint로 저장
func (m *Model) SaveWeights(ckptPath string) error {
	if err := os.MkdirAll(filepath.Dir(ckptPath), os.ModePerm); err != nil {
		return err
	}

	if err := m.runCheckpoint(m.cfg.SaveOperationName, ckptPath); err != nil {
		return errors.Wrapf(err, "Fail to save weights: %s", ckptPath)
	}

	return nil
}

// LoadWeights checkpoint에서 가중치 복원
func (m *Model) LoadWeights(ckptPath string) error {
	if err := m.runCheckpoint(m.cfg.RestoreOperationName, ckptPath); err != nil {
		return errors.Wrapf(err, "Fail to load weights: %s", ckptPath)
	}

	return nil
}

// SetEmbeddings 사전학습 라벨 임베딩으로 임베딩 변수 초기화
func (m *Model) SetEmbeddings(w [][]float32) error {
	if len(w) != m.vocabSize {
		return errors.Errorf("Embeddings have %d rows, vocabulary has %d", len(w), m.vocabSize)
	}

	input, err := m.output(m.cfg.EmbeddingsInputOperationName)
	if err != nil {
		return err
	}

	assign, err := m.operation(m.cfg.EmbeddingsAssignOperationName)
	if err != nil {
		return err
	}

	t, err := tf.NewTensor(w)
	if err != nil {
		return err
	}

	if _, err := m.tfModel.Session.Run(
		map[tf.Output]*tf.Tensor{
			input: t,
		},
		nil,
		[]*tf.Operation{assign},
	); err != nil {
		return errors.Wrap(err, "Fail to assign label embeddings")
	}

	return nil
}

// Destroy session 해제
func (m *Model) Destroy() {
	if err := m.tfModel.Session.Close(); err != nil {
		log.Error().Err(err).Str("model", m.cfg.Name).Msg("Fail to close model session")
	}
}

// Load SavedModel과 model.yaml을 읽어 학습 모델 생성
func Load(c Config) (*Model, error) {
	cfg, err := loadModelConfig(c.GraphPath)
	if err != nil {
		return nil, err
	}

	tfModel, err := tf.LoadSavedModel(c.GraphPath, c.Tags, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "Fail to load graph: %s", c.GraphPath)
	}

	m := &Model{
		cfg:       cfg,
		tfModel:   tfModel,
		vocabSize: c.VocabSize,
	}

	if err := m.resolve(c.Trainable); err != nil {
		m.Destroy()
		return nil, err
	}

	if err := m.checkVocabSize(); err != nil {
		m.Destroy()
		return nil, err
	}

	log.Info().
		Str("model", cfg.Name).
		Str("graph", c.GraphPath).
		Int("vocabSize", c.VocabSize).
		Bool("trainEmbeddings", c.Trainable).
		Msg("Model successfully loaded")

	return m, nil
}
