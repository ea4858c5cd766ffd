package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamcart/internal/core/domain"
	"streamcart/pkg/validation"
)

// MJPEGGrabber consumes a multipart MJPEG preview stream and keeps the most
// recent frame around for the capture loop.
type MJPEGGrabber struct {
	url    string
	client *http.Client
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	frame  []byte
	cancel context.CancelFunc
}

// NewMJPEGGrabber validates the preview endpoint and returns an idle
// grabber. Start must be called before Frame yields anything.
func NewMJPEGGrabber(url string, logger *zap.SugaredLogger) (*MJPEGGrabber, error) {
	if err := validation.ValidateHTTPURL(url); err != nil {
		return nil, err
	}
	return &MJPEGGrabber{
		url:    url,
		client: &http.Client{},
		logger: logger,
	}, nil
}

// Start opens the stream and keeps reading frames until Stop or a terminal
// stream error. Transient failures reopen the stream after a short pause.
func (g *MJPEGGrabber) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()

	go func() {
		for {
			if err := g.consume(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				g.logger.Warnw("preview stream interrupted", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
}

// Stop halts the reader. The last frame stays available.
func (g *MJPEGGrabber) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Frame returns a copy of the most recent JPEG frame.
func (g *MJPEGGrabber) Frame(ctx context.Context) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.frame == nil {
		return nil, domain.ErrNoMediaDevice
	}
	frame := make([]byte, len(g.frame))
	copy(frame, g.frame)
	return frame, nil
}

func (g *MJPEGGrabber) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return fmt.Errorf("build preview request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("open preview stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("preview stream returned %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" {
		return fmt.Errorf("unexpected preview content type %q", resp.Header.Get("Content-Type"))
	}

	reader := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err != nil {
			return fmt.Errorf("read preview part: %w", err)
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return fmt.Errorf("read preview frame: %w", err)
		}

		g.mu.Lock()
		g.frame = data
		g.mu.Unlock()
	}
}
