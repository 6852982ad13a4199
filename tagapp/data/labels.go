package data

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Vocabulary 라벨과 정수 인덱스의 대응
type Vocabulary struct {
	// LabelName -> index
	LabelToInt map[string]int
	// DisplayName -> index
	DisplayToInt map[string]int
	// index 순서의 라벨
	Labels []Label
}

// NewVocabulary 라벨 테이블의 행 순서대로 0부터 인덱스 부여.
// 중복된 LabelName은 최초 인덱스 유지, 중복된 DisplayName은 나중 행이 사용됨
func NewVocabulary(labels []Label) *Vocabulary {
	v := &Vocabulary{
		LabelToInt:   make(map[string]int),
		DisplayToInt: make(map[string]int),
	}

	for _, label := range labels {
		idx, ok := v.LabelToInt[label.Name]
		if !ok {
			idx = len(v.Labels)
			v.LabelToInt[label.Name] = idx
			v.Labels = append(v.Labels, label)
		}
		v.DisplayToInt[label.Display] = idx
	}

	return v
}

// Size 어휘 크기 (최대 인덱스 + 1)
func (v *Vocabulary) Size() int {
	return len(v.Labels)
}

// WriteDisplayMapping DisplayName -> index 매핑을 JSON으로 저장
func WriteDisplayMapping(path string, v *Vocabulary) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return errors.Wrapf(err, "Fail to make directory: %s", dir)
		}
	}

	j, err := json.MarshalIndent(v.DisplayToInt, "", "    ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, j, 0644); err != nil {
		return errors.Wrapf(err, "Fail to write label mapping: %s", path)
	}

	return nil
}
