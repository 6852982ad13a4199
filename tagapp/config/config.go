package config

import (
	"path/filepath"
	"strings"

	"github.com/harrison-roh/image-tag-suggestion/tagapp/constants"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix 설정값을 덮어쓰는 환경변수 접두사
const EnvPrefix = "TAGAPP"

// Config 학습 설정정보
type Config struct {
	DataPath          string `mapstructure:"data_path"`
	TrainEmbeddings   bool   `mapstructure:"train_embeddings"`
	ResizeShape       []int  `mapstructure:"resize_shape"`
	UseAugmentation   bool   `mapstructure:"use_augmentation"`
	ModelPath         string `mapstructure:"model_path"`
	LabelDisplayToInt string `mapstructure:"label_display_to_int"`
	Epochs            int    `mapstructure:"epochs"`

	GraphPath      string   `mapstructure:"graph_path"`
	GraphTags      []string `mapstructure:"graph_tags"`
	EmbeddingsPath string   `mapstructure:"embeddings_path"`
	EmbeddingsSeed int64    `mapstructure:"embeddings_seed"`
	HistoryPath    string   `mapstructure:"history_path"`

	BatchSize       int     `mapstructure:"batch_size"`
	StepsPerEpoch   int     `mapstructure:"steps_per_epoch"`
	ValidationSteps int     `mapstructure:"validation_steps"`
	Workers         int     `mapstructure:"workers"`
	QueueSize       int     `mapstructure:"queue_size"`
	LearningRate    float64 `mapstructure:"learning_rate"`

	TrainPrefix    string `mapstructure:"train_prefix"`
	TrainFold      string `mapstructure:"train_fold"`
	ValidationFold string `mapstructure:"validation_fold"`

	ReduceLRPatience      int     `mapstructure:"reduce_lr_patience"`
	MinLR                 float64 `mapstructure:"min_lr"`
	EarlyStoppingPatience int     `mapstructure:"early_stopping_patience"`
}

var keys = []string{
	"data_path",
	"train_embeddings",
	"resize_shape",
	"use_augmentation",
	"model_path",
	"label_display_to_int",
	"epochs",
	"graph_path",
	"graph_tags",
	"embeddings_path",
	"embeddings_seed",
	"history_path",
	"batch_size",
	"steps_per_epoch",
	"validation_steps",
	"workers",
	"queue_size",
	"learning_rate",
	"train_prefix",
	"train_fold",
	"validation_fold",
	"reduce_lr_patience",
	"min_lr",
	"early_stopping_patience",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("graph_tags", []string{"serve"})
	v.SetDefault("embeddings_seed", constants.EmbeddingsSeed)
	v.SetDefault("batch_size", constants.BatchSize)
	v.SetDefault("steps_per_epoch", constants.StepsPerEpoch)
	v.SetDefault("validation_steps", constants.ValidationSteps)
	v.SetDefault("workers", constants.Workers)
	v.SetDefault("learning_rate", constants.LearningRate)
	v.SetDefault("train_prefix", constants.TrainPrefix)
	v.SetDefault("train_fold", constants.TrainFold)
	v.SetDefault("validation_fold", constants.ValidationFold)
	v.SetDefault("reduce_lr_patience", constants.ReduceLRPatience)
	v.SetDefault("min_lr", constants.MinLearningRate)
	v.SetDefault("early_stopping_patience", constants.EarlyStoppingPatience)
}

// Load YAML 설정파일을 읽고 TAGAPP_<KEY> 환경변수로 덮어쓴 설정 반환
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	setDefaults(v)

	for _, key := range keys {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key)); err != nil {
			return nil, errors.Wrapf(err, "bind env %s", key)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "Fail to read training config: %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "Fail to parse training config: %s", path)
	}

	if cfg.GraphPath == "" {
		cfg.GraphPath = filepath.Join(cfg.DataPath, "graph")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 2 * cfg.Workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 필수 설정값 확인
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return errors.New("data_path is required")
	}
	if c.ModelPath == "" {
		return errors.New("model_path is required")
	}
	if c.LabelDisplayToInt == "" {
		return errors.New("label_display_to_int is required")
	}
	if len(c.ResizeShape) != 2 || c.ResizeShape[0] <= 0 || c.ResizeShape[1] <= 0 {
		return errors.Errorf("resize_shape must be [height, width]: %v", c.ResizeShape)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be positive: %d", c.Epochs)
	}
	if c.BatchSize <= 0 || c.StepsPerEpoch <= 0 || c.ValidationSteps <= 0 || c.Workers <= 0 {
		return errors.New("batch_size, steps_per_epoch, validation_steps and workers must be positive")
	}

	return nil
}
