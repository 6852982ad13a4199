package augment

import (
	"math/rand"
	"sync"
)

const (
	// 잘라낼 영역의 한 변 최소 비율
	MinCropRatio = 0.8
	// 밝기 변화량 최대값 ([-1, 1] 범위 기준)
	MaxBrightnessDelta = 0.1
)

// Params 이미지 한 장에 적용할 변형값
type Params struct {
	// 정규화 좌표 [y1, x1, y2, x2], x1 > x2이면 좌우반전
	Box        [4]float32
	Brightness float32
}

// Identity 변형 없음
func Identity() Params {
	return Params{Box: [4]float32{0, 0, 1, 1}}
}

// Sampler goroutine-safe 변형값 생성기
type Sampler struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSampler seed 기반 생성기
func NewSampler(seed int64) *Sampler {
	return &Sampler{rnd: rand.New(rand.NewSource(seed))}
}

// Sample 임의 영역 잘라내기(각 변 80~100%), 50% 확률 좌우반전, 밝기 변화
func (s *Sampler) Sample() Params {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := MinCropRatio + (1-MinCropRatio)*s.rnd.Float64()
	w := MinCropRatio + (1-MinCropRatio)*s.rnd.Float64()
	y1 := (1 - h) * s.rnd.Float64()
	x1 := (1 - w) * s.rnd.Float64()

	p := Params{
		Box:        [4]float32{float32(y1), float32(x1), float32(y1 + h), float32(x1 + w)},
		Brightness: float32((2*s.rnd.Float64() - 1) * MaxBrightnessDelta),
	}

	if s.rnd.Intn(2) == 1 {
		p.Box[1], p.Box[3] = p.Box[3], p.Box[1]
	}

	return p
}
