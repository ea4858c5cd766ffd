package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/ports"
	"streamcart/pkg/circuitbreaker"
)

// FrameRecorder receives per-cycle instrumentation. A nil recorder is
// ignored.
type FrameRecorder interface {
	RecordFrameProcessed(latency time.Duration, detections int)
	RecordFrameFailed()
}

// CaptureService periodically grabs a frame from the local preview and
// submits it for product detection. At most one submission is in flight;
// ticks that land while one is running are skipped. Failures never
// propagate, a failed cycle just yields an empty result.
type CaptureService struct {
	grabber    ports.FrameGrabber
	prediction ports.PredictionClient
	breaker    *circuitbreaker.Breaker
	interval   time.Duration
	sellerID   string
	logger     *zap.SugaredLogger

	inFlight atomic.Bool
	onResult func(domain.FrameResult)
	recorder FrameRecorder

	mu     sync.Mutex
	latest domain.FrameResult
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCaptureService(
	grabber ports.FrameGrabber,
	prediction ports.PredictionClient,
	breakerCfg circuitbreaker.Config,
	interval time.Duration,
	sellerID string,
	logger *zap.SugaredLogger,
) *CaptureService {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &CaptureService{
		grabber:    grabber,
		prediction: prediction,
		breaker:    circuitbreaker.New(breakerCfg),
		interval:   interval,
		sellerID:   sellerID,
		logger:     logger,
	}
}

// OnResult installs a callback invoked after every completed cycle. Must be
// set before Start.
func (s *CaptureService) OnResult(fn func(domain.FrameResult)) {
	s.onResult = fn
}

// SetRecorder installs the metrics sink. Must be set before Start.
func (s *CaptureService) SetRecorder(r FrameRecorder) {
	s.recorder = r
}

// Start launches the capture loop. Stop ends it.
func (s *CaptureService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Infow("frame capture started", "interval", s.interval, "seller_id", s.sellerID)
}

// Stop halts the loop and waits for an in-flight submission to finish.
func (s *CaptureService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Infow("frame capture stopped")
}

// Latest returns the most recent cycle result.
func (s *CaptureService) Latest() domain.FrameResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

func (s *CaptureService) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.inFlight.CompareAndSwap(false, true) {
				s.logger.Debugw("previous frame submission still running, skipping tick")
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.inFlight.Store(false)
				s.cycle(ctx)
			}()
		}
	}
}

func (s *CaptureService) cycle(ctx context.Context) {
	result := s.process(ctx)

	s.mu.Lock()
	s.latest = result
	s.mu.Unlock()

	if s.onResult != nil {
		s.onResult(result)
	}
}

func (s *CaptureService) process(ctx context.Context) domain.FrameResult {
	if !s.breaker.Allow() {
		s.logger.Debugw("inference breaker open, skipping frame")
		return domain.FrameResult{}
	}

	frame, err := s.grabber.Frame(ctx)
	if err != nil {
		s.logger.Debugw("no frame available", "error", err)
		return domain.FrameResult{}
	}

	started := time.Now()
	result, err := s.prediction.ProcessFrame(ctx, s.sellerID, frame)
	s.breaker.Record(err)
	if err != nil {
		s.logger.Warnw("frame processing failed", "error", err)
		if s.recorder != nil {
			s.recorder.RecordFrameFailed()
		}
		return domain.FrameResult{}
	}
	if s.recorder != nil {
		s.recorder.RecordFrameProcessed(time.Since(started), len(result.Detections))
	}
	return *result
}
