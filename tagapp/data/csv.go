package data

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const (
	columnImageID     = "ImageID"
	columnLabelName   = "LabelName"
	columnDisplayName = "DisplayName"
)

// Annotation 이미지 라벨 CSV의 한 행
type Annotation struct {
	ImageID   string
	LabelName string
}

// Label 라벨 테이블의 한 행
type Label struct {
	Name    string
	Display string
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), name) {
			return i
		}
	}

	return -1
}

func openCSV(path string) (*os.File, *csv.Reader, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "Fail to open csv: %s", path)
	}

	r := csv.NewReader(fp)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	return fp, r, nil
}

// ReadAnnotations ImageID, LabelName 열만 사용하여 CSV를 읽음
func ReadAnnotations(path string) ([]Annotation, error) {
	fp, r, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "Fail to read csv header: %s", path)
	}

	imageIdx := columnIndex(header, columnImageID)
	labelIdx := columnIndex(header, columnLabelName)
	if imageIdx < 0 || labelIdx < 0 {
		return nil, errors.Errorf("%s: columns %s and %s are required", path, columnImageID, columnLabelName)
	}

	var rows []Annotation
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "Fail to read csv: %s", path)
		}

		if imageIdx >= len(record) || labelIdx >= len(record) {
			line, _ := r.FieldPos(0)
			return nil, errors.Errorf("%s:%d: too few columns", path, line)
		}

		rows = append(rows, Annotation{
			ImageID:   record[imageIdx],
			LabelName: record[labelIdx],
		})
	}

	return rows, nil
}

// FilterPrefix ImageID가 prefix로 시작하는 행만 남김
func FilterPrefix(rows []Annotation, prefix string) []Annotation {
	if prefix == "" {
		return rows
	}

	filtered := rows[:0:0]
	for _, row := range rows {
		if strings.HasPrefix(row.ImageID, prefix) {
			filtered = append(filtered, row)
		}
	}

	return filtered
}

// ReadLabels 라벨 테이블 CSV 읽기.
// 헤더가 없는 파일은 첫 두 열을 LabelName, DisplayName으로 사용
func ReadLabels(path string) ([]Label, error) {
	fp, r, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	nameIdx, displayIdx := 0, 1
	first := true

	var labels []Label
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "Fail to read csv: %s", path)
		}

		if first {
			first = false
			if n := columnIndex(record, columnLabelName); n >= 0 {
				nameIdx = n
				displayIdx = columnIndex(record, columnDisplayName)
				if displayIdx < 0 {
					return nil, errors.Errorf("%s: column %s is required", path, columnDisplayName)
				}
				continue
			}
		}

		if nameIdx >= len(record) || displayIdx >= len(record) {
			line, _ := r.FieldPos(0)
			return nil, errors.Errorf("%s:%d: too few columns", path, line)
		}

		labels = append(labels, Label{
			Name:    record[nameIdx],
			Display: record[displayIdx],
		})
	}

	return labels, nil
}
