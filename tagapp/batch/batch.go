package batch

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/harrison-roh/image-tag-suggestion/tagapp/data"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Channels 이미지 채널 수 (RGB)
const Channels = 3

// ErrClosed 종료된 Generator에서 Next 호출
var ErrClosed = errors.New("batch generator closed")

// Loader 이미지 한 장을 height x width x 3 크기의 float32 값으로 변환
type Loader interface {
	Load(path string, augment bool) ([]float32, error)
}

// Config 배치 생성 설정정보
type Config struct {
	BasePath  string
	BatchSize int
	Workers   int
	QueueSize int
	VocabSize int
	Height    int
	Width     int
	Augment   bool
	// 0이면 현재 시간 사용
	Seed int64
}

// Batch 학습 배치
type Batch struct {
	// [Size, Height, Width, Channels]
	Images []float32
	// [Size, VocabSize] multi-hot
	Targets []float32

	Size      int
	Height    int
	Width     int
	VocabSize int
}

type result struct {
	batch *Batch
	err   error
}

type job struct {
	samples []data.Sample
	// 깨진 이미지 대체 샘플 선택용
	seed int64
	out  chan result
}

// Generator 학습 배치 생성기
type Generator struct {
	samples []data.Sample
	loader  Loader
	cfg     Config

	pending chan chan result
	jobs    chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New 배치 생성기 생성 및 worker 시작
func New(samples []data.Sample, loader Loader, c Config) (*Generator, error) {
	if len(samples) == 0 {
		return nil, errors.New("No samples for batch generation")
	}
	if c.BatchSize <= 0 || c.Height <= 0 || c.Width <= 0 || c.VocabSize <= 0 {
		return nil, errors.Errorf("Invalid batch config: %+v", c)
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 2 * c.Workers
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}

	for _, s := range samples {
		for _, l := range s.Labels {
			if l < 0 || l >= c.VocabSize {
				return nil, errors.Errorf("Label index %d of %s out of vocabulary (%d)", l, s.Path, c.VocabSize)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Generator{
		samples: samples,
		loader:  loader,
		cfg:     c,
		pending: make(chan chan result, c.QueueSize),
		jobs:    make(chan job),
		ctx:     ctx,
		cancel:  cancel,
	}

	g.wg.Add(1)
	go g.produce()

	for i := 0; i < c.Workers; i++ {
		g.wg.Add(1)
		go g.work()
	}

	return g, nil
}

// 셔플된 순서로 배치 단위 작업 생성
func (g *Generator) produce() {
	defer g.wg.Done()
	defer close(g.jobs)

	rnd := rand.New(rand.NewSource(g.cfg.Seed))
	perm := rnd.Perm(len(g.samples))
	pos := 0

	for {
		batch := make([]data.Sample, g.cfg.BatchSize)
		for i := range batch {
			if pos == len(perm) {
				perm = rnd.Perm(len(g.samples))
				pos = 0
			}
			batch[i] = g.samples[perm[pos]]
			pos++
		}

		j := job{
			samples: batch,
			seed:    rnd.Int63(),
			out:     make(chan result, 1),
		}

		select {
		case g.pending <- j.out:
		case <-g.ctx.Done():
			return
		}

		select {
		case g.jobs <- j:
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Generator) work() {
	defer g.wg.Done()

	for j := range g.jobs {
		b, err := g.build(j.samples, rand.New(rand.NewSource(j.seed)))
		j.out <- result{batch: b, err: err}
	}
}

func (g *Generator) build(samples []data.Sample, rnd *rand.Rand) (*Batch, error) {
	c := g.cfg
	imageSize := c.Height * c.Width * Channels

	b := &Batch{
		Images:    make([]float32, len(samples)*imageSize),
		Targets:   make([]float32, len(samples)*c.VocabSize),
		Size:      len(samples),
		Height:    c.Height,
		Width:     c.Width,
		VocabSize: c.VocabSize,
	}

	for i, s := range samples {
		if g.ctx.Err() != nil {
			return nil, ErrClosed
		}

		s, pixels, err := g.load(s, rnd)
		if err != nil {
			return nil, err
		}
		if len(pixels) != imageSize {
			return nil, errors.Errorf("%s: expected %d values, got %d", s.Path, imageSize, len(pixels))
		}

		copy(b.Images[i*imageSize:], pixels)
		for _, l := range s.Labels {
			b.Targets[i*c.VocabSize+l] = 1
		}
	}

	return b, nil
}

// 이미지 로드 실패시 임의의 다른 샘플로 대체, 샘플 수 만큼 실패하면 에러
func (g *Generator) load(s data.Sample, rnd *rand.Rand) (data.Sample, []float32, error) {
	var lastErr error
	for attempt := 0; attempt <= len(g.samples); attempt++ {
		if attempt > 0 {
			s = g.samples[rnd.Intn(len(g.samples))]
		}

		pixels, err := g.loader.Load(filepath.Join(g.cfg.BasePath, s.Path), g.cfg.Augment)
		if err == nil {
			return s, pixels, nil
		}

		log.Warn().Err(err).Str("image", s.Path).Msg("Fail to load image, replaced")
		lastErr = err
	}

	return s, nil, errors.Wrap(lastErr, "No loadable image")
}

// Next 다음 배치 반환. 배치가 준비될 때까지 대기
func (g *Generator) Next(ctx context.Context) (*Batch, error) {
	var out chan result

	if g.ctx.Err() != nil {
		return nil, ErrClosed
	}

	select {
	case out = <-g.pending:
	case <-g.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-out:
		return r.batch, r.err
	case <-g.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close worker 종료
func (g *Generator) Close() {
	g.once.Do(func() {
		g.cancel()
		g.wg.Wait()
	})
}
