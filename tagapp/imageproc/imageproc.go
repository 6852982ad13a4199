package imageproc

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison-roh/image-tag-suggestion/tagapp/imageproc/augment"
	"github.com/pkg/errors"
	tf "github.com/tensorflow/tensorflow/tensorflow/go"
	"github.com/tensorflow/tensorflow/tensorflow/go/op"
)

// Config 이미지 전처리 설정정보
type Config struct {
	Height int
	Width  int
	// 0이면 현재 시간 사용
	Seed int64
}

// Processor 이미지 파일을 학습 입력값으로 변환
type Processor struct {
	height, width int32
	sampler       *augment.Sampler

	idLock      sync.RWMutex
	imageDecode map[string]imageDecoder
}

// 이미지 타입의 디코더
type imageDecoder struct {
	graph   *tf.Graph
	session *tf.Session

	input      tf.Output
	boxes      tf.Output
	brightness tf.Output
	output     tf.Output
}

func imageFormat(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ""
	}

	return ext[1:]
}

func (p *Processor) getImageDecoder(format string) (imageDecoder, error) {
	var decode tf.Output

	p.idLock.RLock()
	if decoder, ok := p.imageDecode[format]; ok {
		p.idLock.RUnlock()
		return decoder, nil
	}
	p.idLock.RUnlock()

	p.idLock.Lock()
	defer p.idLock.Unlock()

	if decoder, ok := p.imageDecode[format]; ok {
		return decoder, nil
	}

	scope := op.NewScope()
	input := op.Placeholder(scope, tf.String)
	boxes := op.Placeholder(scope.SubScope("boxes"), tf.Float, op.PlaceholderShape(tf.MakeShape(1, 4)))
	brightness := op.Placeholder(scope.SubScope("brightness"), tf.Float, op.PlaceholderShape(tf.ScalarShape()))

	if format == "jpg" || format == "jpeg" {
		decode = op.DecodeJpeg(scope, input, op.DecodeJpegChannels(3))
	} else if format == "png" {
		decode = op.DecodePng(scope, input, op.DecodePngChannels(3))
	} else {
		return imageDecoder{}, errors.Errorf("Unsupported image format: %s", format)
	}

	// [0, 255]의 이미지값을 [-1, 1]로 조정: (image / 127.5) - 1
	normalizer := op.Sub(scope,
		op.Div(scope, op.Cast(scope, decode, tf.Float), op.Const(scope.SubScope("scale"), float32(127.5))),
		op.Const(scope.SubScope("offset"), float32(1)))

	// boxes 영역을 잘라 입력 크기로 조정, x1 > x2이면 좌우반전
	cropped := op.CropAndResize(scope,
		op.ExpandDims(scope, normalizer, op.Const(scope.SubScope("batch"), int32(0))),
		boxes,
		op.Const(scope.SubScope("box_ind"), []int32{0}),
		op.Const(scope.SubScope("resize"), []int32{p.height, p.width}))

	// 밝기 조정 후 [-1, 1] 범위로 제한
	output := op.Maximum(scope,
		op.Minimum(scope,
			op.Add(scope, cropped, brightness),
			op.Const(scope.SubScope("upper"), float32(1))),
		op.Const(scope.SubScope("lower"), float32(-1)))

	graph, err := scope.Finalize()
	if err != nil {
		return imageDecoder{}, err
	}

	session, err := tf.NewSession(graph, nil)
	if err != nil {
		return imageDecoder{}, err
	}

	decoder := imageDecoder{
		graph:      graph,
		session:    session,
		input:      input,
		boxes:      boxes,
		brightness: brightness,
		output:     output,
	}
	p.imageDecode[format] = decoder

	return decoder, nil
}

// Load 이미지 파일을 [height, width, 3] 크기의 [-1, 1] 값으로 변환.
// augment가 설정되면 임의 영역 잘라내기, 좌우반전, 밝기 변화 적용
func (p *Processor) Load(path string, augmented bool) ([]float32, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	params := augment.Identity()
	if augmented {
		params = p.sampler.Sample()
	}

	return p.Normalize(image, imageFormat(path), params)
}

// Normalize 인코딩된 이미지를 params 변형을 적용하여 변환
func (p *Processor) Normalize(image []byte, format string, params augment.Params) ([]float32, error) {
	decoder, err := p.getImageDecoder(format)
	if err != nil {
		return nil, err
	}

	imageTensor, err := tf.NewTensor(string(image))
	if err != nil {
		return nil, err
	}

	boxesTensor, err := tf.NewTensor([][]float32{params.Box[:]})
	if err != nil {
		return nil, err
	}

	brightnessTensor, err := tf.NewTensor(params.Brightness)
	if err != nil {
		return nil, err
	}

	norms, err := decoder.session.Run(
		map[tf.Output]*tf.Tensor{
			decoder.input:      imageTensor,
			decoder.boxes:      boxesTensor,
			decoder.brightness: brightnessTensor,
		},
		[]tf.Output{
			decoder.output,
		},
		nil,
	)
	if err != nil {
		return nil, err
	}

	batch, ok := norms[0].Value().([][][][]float32)
	if !ok || len(batch) != 1 {
		return nil, errors.Errorf("Unexpected decoder output shape: %v", norms[0].Shape())
	}

	pixels := make([]float32, 0, int(p.height)*int(p.width)*3)
	for _, row := range batch[0] {
		for _, pixel := range row {
			pixels = append(pixels, pixel...)
		}
	}

	return pixels, nil
}

// Destroy 디코더 session 해제
func (p *Processor) Destroy() {
	p.idLock.Lock()
	defer p.idLock.Unlock()

	for format, decoder := range p.imageDecode {
		decoder.session.Close()
		delete(p.imageDecode, format)
	}
}

// New 이미지 전처리기 생성
func New(c Config) *Processor {
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}

	return &Processor{
		height:      int32(c.Height),
		width:       int32(c.Width),
		sampler:     augment.NewSampler(c.Seed),
		imageDecode: make(map[string]imageDecoder),
	}
}
