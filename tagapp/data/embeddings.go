package data

import (
	"bufio"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const randomEmbeddingScale = 0.1

// 소문자 변환 후 공백 기준 토큰
func tokenize(display string) []string {
	return strings.Fields(strings.ToLower(display))
}

// LoadEmbeddings 사전학습 단어벡터(GloVe 형식)로 라벨 임베딩 행렬 생성.
// 각 행은 DisplayName 토큰 벡터의 평균이며,
// 알려진 토큰이 없는 라벨은 seed 기반 정규분포 난수로 채움
func LoadEmbeddings(path string, v *Vocabulary, seed int64) ([][]float32, error) {
	needed := make(map[string]struct{})
	for _, label := range v.Labels {
		for _, token := range tokenize(label.Display) {
			needed[token] = struct{}{}
		}
	}

	vectors, dim, err := readVectors(path, needed)
	if err != nil {
		return nil, err
	}

	rnd := rand.New(rand.NewSource(seed))
	w := make([][]float32, v.Size())
	missing := 0

	for i, label := range v.Labels {
		row := make([]float32, dim)

		found := 0
		for _, token := range tokenize(label.Display) {
			vec, ok := vectors[token]
			if !ok {
				continue
			}
			for j := range row {
				row[j] += vec[j]
			}
			found++
		}

		if found > 0 {
			for j := range row {
				row[j] /= float32(found)
			}
		} else {
			missing++
			for j := range row {
				row[j] = float32(rnd.NormFloat64() * randomEmbeddingScale)
			}
		}

		w[i] = row
	}

	log.Info().
		Int("labels", len(w)).
		Int("dim", dim).
		Int("random", missing).
		Msg("Label embeddings loaded")

	return w, nil
}

func readVectors(path string, needed map[string]struct{}) (map[string][]float32, int, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "Fail to open embeddings: %s", path)
	}
	defer fp.Close()

	var (
		vectors = make(map[string][]float32)
		dim     = -1
		lineNo  = 0
	)

	scanner := bufio.NewScanner(fp)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++

		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		if dim < 0 {
			dim = len(fields) - 1
		} else if len(fields)-1 != dim {
			return nil, 0, errors.Errorf("%s:%d: expected %d dimensions, got %d", path, lineNo, dim, len(fields)-1)
		}

		token := strings.ToLower(fields[0])
		if _, ok := needed[token]; !ok {
			continue
		}
		if _, ok := vectors[token]; ok {
			continue
		}

		vec := make([]float32, dim)
		for i, f := range fields[1:] {
			x, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "%s:%d", path, lineNo)
			}
			vec[i] = float32(x)
		}
		vectors[token] = vec
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, errors.Wrapf(err, "Fail to read embeddings: %s", path)
	}

	if dim < 0 {
		return nil, 0, errors.Errorf("No vectors in embeddings: %s", path)
	}

	return vectors, dim, nil
}
