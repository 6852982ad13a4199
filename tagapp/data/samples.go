package data

import (
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/harrison-roh/image-tag-suggestion/tagapp/constants"
)

// Sample 학습 항목: data_path 기준 이미지 경로와 라벨 인덱스
type Sample struct {
	Path   string
	Labels []int
}

// Samples ImageID별로 라벨을 묶어 Sample 목록 생성.
// 어휘에 없는 라벨은 무시하고, 라벨이 하나도 남지 않은 이미지는 제외
func Samples(rows []Annotation, v *Vocabulary, fold string) []Sample {
	var (
		order  []string
		labels = make(map[string]map[int]struct{})
	)

	for _, row := range rows {
		idx, ok := v.LabelToInt[row.LabelName]
		if !ok {
			continue
		}

		set, ok := labels[row.ImageID]
		if !ok {
			set = make(map[int]struct{})
			labels[row.ImageID] = set
			order = append(order, row.ImageID)
		}
		set[idx] = struct{}{}
	}

	samples := make([]Sample, 0, len(order))
	for _, imageID := range order {
		set := labels[imageID]

		indices := make([]int, 0, len(set))
		for idx := range set {
			indices = append(indices, idx)
		}
		sort.Ints(indices)

		samples = append(samples, Sample{
			Path:   path.Join(fold, imageID+constants.ImageExt),
			Labels: indices,
		})
	}

	return samples
}

// ExistingSamples 이미지 파일이 존재하는 Sample만 남김
func ExistingSamples(samples []Sample, dataPath string) []Sample {
	existing := samples[:0:0]
	for _, s := range samples {
		if info, err := os.Stat(filepath.Join(dataPath, s.Path)); err == nil && info.Mode().IsRegular() {
			existing = append(existing, s)
		}
	}

	return existing
}
