package api

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harrison-roh/image-tag-suggestion/tagapp/training"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Status 진행중인 학습 상태. training.Callback으로 epoch 마다 갱신
type Status struct {
	mu sync.RWMutex

	runID        string
	epochs       int
	epoch        int
	loss         float64
	valLoss      float64
	bestValLoss  float64
	learningRate float64
	stopped      bool
	startAt      time.Time
}

// NewStatus 학습 시작 상태 생성
func NewStatus(runID string, epochs int, learningRate float64) *Status {
	return &Status{
		runID:        runID,
		epochs:       epochs,
		bestValLoss:  math.Inf(1),
		learningRate: learningRate,
		startAt:      time.Now(),
	}
}

// OnEpochEnd implements training.Callback
func (s *Status) OnEpochEnd(st *training.State, logs training.EpochLogs) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch = logs.Epoch
	s.loss = logs.Loss
	s.valLoss = logs.ValLoss
	if logs.ValLoss < s.bestValLoss {
		s.bestValLoss = logs.ValLoss
	}
	s.learningRate = st.LearningRate
	s.stopped = st.Stop

	return nil
}

// Stop 학습 종료 표시
func (s *Status) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
}

func finite(v float64) interface{} {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}

	return v
}

// Info 상태 정보 반환
func (s *Status) Info() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"runID":        s.runID,
		"epoch":        s.epoch,
		"epochs":       s.epochs,
		"loss":         finite(s.loss),
		"valLoss":      finite(s.valLoss),
		"bestValLoss":  finite(s.bestValLoss),
		"learningRate": s.learningRate,
		"stopped":      s.stopped,
		"elapsed(s)":   int64(time.Since(s.startAt).Seconds()),
	}
}

// APIs api 핸들러
type APIs struct {
	S      *Status
	Labels map[string]int
}

// ShowStatus 학습 상태 반환
func (a *APIs) ShowStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.S.Info())
}

// ListLabels 라벨 매핑 반환
func (a *APIs) ListLabels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"numberOfLabels": len(a.Labels),
		"labels":         a.Labels,
	})
}

// ShowLabel 라벨의 인덱스 반환
func (a *APIs) ShowLabel(c *gin.Context) {
	label := c.Param("label")

	if idx, ok := a.Labels[label]; ok {
		c.JSON(http.StatusOK, gin.H{
			"label": label,
			"index": idx,
		})
	} else {
		Error(c, http.StatusNotFound, errors.Errorf("Cannot find label: %s", label))
	}
}

// Router api 경로 등록
func Router(a *APIs) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/status", a.ShowStatus)

	labelsGroup := r.Group("/labels")
	{
		labelsGroup.GET("", a.ListLabels)
		labelsGroup.GET(":label", a.ShowLabel)
	}

	return r
}

// Serve ctx가 취소될 때까지 상태 api 제공
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Status api listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return nil
}

// HTTPError api 에러 메시지
type HTTPError struct {
	Error string `json:"error"`
}

// Error api 에러를 담은 json 응답 생성
func Error(c *gin.Context, status int, err error) {
	c.JSON(status, HTTPError{
		Error: err.Error(),
	})
}
