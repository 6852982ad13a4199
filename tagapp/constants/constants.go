package constants

const (
	AppName string = "tagapp"

	CSVTrain           string = "c3-train-annotations-human-imagelabels.csv"
	CSVValidation      string = "validation-annotations-human-imagelabels.csv"
	CSVLabels          string = "oidv6-class-descriptions.csv"
	TrainingConfigPath string = "../example/training_config.yaml"

	TrainPrefix    string = "c"
	TrainFold      string = "train_c_small"
	ValidationFold string = "validation_small"
	ImageExt       string = ".jpg"

	BatchSize       int = 32
	StepsPerEpoch   int = 300
	ValidationSteps int = 100
	Workers         int = 8

	LearningRate          float64 = 1e-3
	ReduceLRPatience      int     = 50
	ReduceLRFactor        float64 = 0.1
	ReduceLRMinDelta      float64 = 1e-4
	MinLearningRate       float64 = 1e-7
	EarlyStoppingPatience int     = 300

	EmbeddingsSeed int64 = 1
)
