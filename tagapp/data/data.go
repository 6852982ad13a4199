package data

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Config 학습 데이터 관리 설정정보
type Config struct {
	DataPath       string
	EmbeddingsPath string
	EmbeddingsSeed int64
}

// Manager 학습 데이터(라벨 어휘, 이미지 샘플)를 관리
type Manager struct {
	dataPath       string
	embeddingsPath string
	embeddingsSeed int64

	Vocab *Vocabulary
	// 사전학습 라벨 임베딩, 설정되지 않으면 nil
	Embeddings [][]float32
}

// New 새로운 Data manager 생성
func New(c Config) *Manager {
	return &Manager{
		dataPath:       c.DataPath,
		embeddingsPath: c.EmbeddingsPath,
		embeddingsSeed: c.EmbeddingsSeed,
	}
}

// LoadVocabulary 라벨 테이블을 읽어 어휘와 임베딩 행렬 구성
func (dm *Manager) LoadVocabulary(csvLabels string) error {
	labels, err := ReadLabels(filepath.Join(dm.dataPath, csvLabels))
	if err != nil {
		return err
	}

	dm.Vocab = NewVocabulary(labels)
	log.Info().Int("vocabSize", dm.Vocab.Size()).Msg("Label vocabulary loaded")

	if dm.embeddingsPath != "" {
		w, err := LoadEmbeddings(dm.embeddingsPath, dm.Vocab, dm.embeddingsSeed)
		if err != nil {
			return err
		}
		dm.Embeddings = w
	}

	return nil
}

// LoadSamples annotation CSV를 읽어 이미지 파일이 존재하는 Sample 목록 반환.
// prefix가 비어있지 않으면 ImageID가 prefix로 시작하는 행만 사용
func (dm *Manager) LoadSamples(csvFile, fold, prefix string) ([]Sample, error) {
	if dm.Vocab == nil {
		return nil, errors.New("Label vocabulary is not loaded")
	}

	rows, err := ReadAnnotations(filepath.Join(dm.dataPath, csvFile))
	if err != nil {
		return nil, err
	}

	total := len(rows)
	rows = FilterPrefix(rows, prefix)

	samples := Samples(rows, dm.Vocab, fold)
	existing := ExistingSamples(samples, dm.dataPath)

	log.Info().
		Str("csv", csvFile).
		Str("fold", fold).
		Int("rows", total).
		Int("filteredRows", len(rows)).
		Int("samples", len(samples)).
		Int("existing", len(existing)).
		Msg("Samples loaded")

	return existing, nil
}
