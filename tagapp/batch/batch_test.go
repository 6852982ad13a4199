package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/harrison-roh/image-tag-suggestion/tagapp/data"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

const (
	height = 2
	width  = 3
	vocab  = 4
)

// 경로 "img<N>.jpg"의 N을 모든 픽셀 값으로 채움
type fakeLoader struct {
	mu      sync.Mutex
	fail    map[string]bool
	augment []bool
}

func (l *fakeLoader) Load(path string, augment bool) ([]float32, error) {
	l.mu.Lock()
	l.augment = append(l.augment, augment)
	fail := l.fail[filepath.Base(path)]
	l.mu.Unlock()

	if fail {
		return nil, errors.New("corrupt image")
	}

	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "img"), ".jpg")
	n, err := strconv.Atoi(name)
	if err != nil {
		return nil, err
	}

	pixels := make([]float32, height*width*Channels)
	for i := range pixels {
		pixels[i] = float32(n)
	}

	return pixels, nil
}

func makeSamples(n int) []data.Sample {
	samples := make([]data.Sample, n)
	for i := range samples {
		samples[i] = data.Sample{
			Path:   "fold/img" + strconv.Itoa(i) + ".jpg",
			Labels: []int{i % vocab},
		}
	}

	return samples
}

func testConfig(batchSize, workers int) Config {
	return Config{
		BasePath:  "/data",
		BatchSize: batchSize,
		Workers:   workers,
		VocabSize: vocab,
		Height:    height,
		Width:     width,
		Seed:      42,
	}
}

// 배치의 각 항목이 어떤 샘플인지 반환
func sampleIDs(t *testing.T, b *Batch) []int {
	t.Helper()

	imageSize := b.Height * b.Width * Channels
	ids := make([]int, b.Size)
	for i := range ids {
		ids[i] = int(b.Images[i*imageSize])

		target := b.Targets[i*b.VocabSize : (i+1)*b.VocabSize]
		expected := make([]float32, b.VocabSize)
		expected[ids[i]%vocab] = 1
		assert.Equal(t, expected, target)
	}

	return ids
}

func collect(t *testing.T, g *Generator, batches int) [][]int {
	t.Helper()

	var out [][]int
	for i := 0; i < batches; i++ {
		b, err := g.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, b.Size)
		out = append(out, sampleIDs(t, b))
	}

	return out
}

func TestGeneratorPass(t *testing.T) {
	loader := &fakeLoader{}
	g, err := New(makeSamples(5), loader, testConfig(2, 1))
	require.NoError(t, err)
	defer g.Close()

	batches := collect(t, g, 5)

	var drawn []int
	for _, ids := range batches {
		drawn = append(drawn, ids...)
	}

	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, drawn[:5])
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, drawn[5:10])

	loader.mu.Lock()
	defer loader.mu.Unlock()
	for _, augment := range loader.augment {
		assert.False(t, augment)
	}
}

func TestGeneratorOrder(t *testing.T) {
	single, err := New(makeSamples(7), &fakeLoader{}, testConfig(2, 1))
	require.NoError(t, err)
	defer single.Close()

	pool, err := New(makeSamples(7), &fakeLoader{}, testConfig(2, 4))
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, collect(t, single, 10), collect(t, pool, 10))
}

func TestGeneratorOrderWithBrokenImages(t *testing.T) {
	broken := map[string]bool{"img2.jpg": true, "img7.jpg": true, "img11.jpg": true}

	single, err := New(makeSamples(20), &fakeLoader{fail: broken}, testConfig(2, 1))
	require.NoError(t, err)
	defer single.Close()

	pool, err := New(makeSamples(20), &fakeLoader{fail: broken}, testConfig(2, 4))
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, collect(t, single, 40), collect(t, pool, 40))
}

func TestGeneratorAugment(t *testing.T) {
	loader := &fakeLoader{}
	c := testConfig(2, 2)
	c.Augment = true

	g, err := New(makeSamples(3), loader, c)
	require.NoError(t, err)

	collect(t, g, 2)
	g.Close()

	loader.mu.Lock()
	defer loader.mu.Unlock()
	require.NotEmpty(t, loader.augment)
	for _, augment := range loader.augment {
		assert.True(t, augment)
	}
}

func TestGeneratorReplacesBrokenImages(t *testing.T) {
	loader := &fakeLoader{fail: map[string]bool{"img1.jpg": true, "img3.jpg": true}}
	g, err := New(makeSamples(20), loader, testConfig(2, 2))
	require.NoError(t, err)
	defer g.Close()

	for _, ids := range collect(t, g, 30) {
		for _, id := range ids {
			assert.NotEqual(t, 1, id)
			assert.NotEqual(t, 3, id)
		}
	}
}

func TestGeneratorNoLoadableImage(t *testing.T) {
	loader := &fakeLoader{fail: map[string]bool{"img0.jpg": true, "img1.jpg": true}}
	g, err := New(makeSamples(2), loader, testConfig(2, 1))
	require.NoError(t, err)
	defer g.Close()

	_, err = g.Next(context.Background())
	assert.Error(t, err)
}

func TestGeneratorClose(t *testing.T) {
	g, err := New(makeSamples(3), &fakeLoader{}, testConfig(2, 2))
	require.NoError(t, err)

	g.Close()
	g.Close()

	_, err = g.Next(context.Background())
	assert.Equal(t, ErrClosed, err)
}

type blockingLoader struct {
	release chan struct{}
}

func (l *blockingLoader) Load(path string, augment bool) ([]float32, error) {
	<-l.release
	return make([]float32, height*width*Channels), nil
}

func TestGeneratorContextCancel(t *testing.T) {
	loader := &blockingLoader{release: make(chan struct{})}
	g, err := New(makeSamples(3), loader, testConfig(2, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = g.Next(ctx)
	assert.Equal(t, context.Canceled, err)

	close(loader.release)
	g.Close()
}

func TestNewInvalid(t *testing.T) {
	_, err := New(nil, &fakeLoader{}, testConfig(2, 1))
	assert.Error(t, err)

	_, err = New(makeSamples(2), &fakeLoader{}, testConfig(0, 1))
	assert.Error(t, err)

	samples := []data.Sample{{Path: "img0.jpg", Labels: []int{vocab}}}
	_, err = New(samples, &fakeLoader{}, testConfig(2, 1))
	assert.Error(t, err)
}
