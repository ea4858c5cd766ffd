package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap/zaptest"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/ports"
	"streamcart/internal/core/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSignal struct {
	mu        sync.Mutex
	connected bool
}

func (s *stubSignal) Connect(context.Context, domain.ClientID, domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *stubSignal) Send(*domain.SignalMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return domain.ErrNotConnected
	}
	return nil
}

func (s *stubSignal) On(string, ports.MessageHandler) ports.HandlerID { return 0 }

func (s *stubSignal) Off(string, ports.HandlerID) {}

func (s *stubSignal) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

func (s *stubSignal) State() domain.ConnectionState { return domain.StateConnected }

func (s *stubSignal) Identity() (domain.ClientID, domain.RoomID) { return "seller-1", "room-1" }

type stubSessions struct{}

func (stubSessions) AttachMedia(ports.MediaSource) {}
func (stubSessions) CreateSession(context.Context, bool, domain.ClientID) error {
	return nil
}
func (stubSessions) AcceptOffer(context.Context, domain.ClientID, domain.SDPPayload) error {
	return nil
}
func (stubSessions) ApplyAnswer(domain.ClientID, domain.SDPPayload) error { return nil }

func (stubSessions) ApplyCandidate(domain.ClientID, domain.CandidatePayload) error { return nil }

func (stubSessions) CloseSession(domain.ClientID) {}

func (stubSessions) Destroy() {}

func (stubSessions) Notify(ports.SessionEventHandler) func() { return func() {} }

func (stubSessions) Sessions() []domain.SessionInfo { return nil }

type stubCatalog struct {
	mu   sync.Mutex
	pins map[domain.ProductID]bool
}

func (s *stubCatalog) ListProducts(context.Context) ([]domain.Product, error) { return nil, nil }
func (s *stubCatalog) GetProduct(context.Context, domain.ProductID) (*domain.Product, error) {
	return &domain.Product{}, nil
}
func (s *stubCatalog) CreateProduct(_ context.Context, p *domain.Product) (*domain.Product, error) {
	return p, nil
}
func (s *stubCatalog) UpdateProduct(context.Context, *domain.Product) error { return nil }

func (s *stubCatalog) DeleteProduct(context.Context, domain.ProductID) error { return nil }
func (s *stubCatalog) PinProduct(_ context.Context, _ string, id domain.ProductID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[id] = true
	return nil
}
func (s *stubCatalog) UnpinProduct(_ context.Context, _ string, id domain.ProductID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pins, id)
	return nil
}
func (s *stubCatalog) UnpinAll(context.Context, string) error { return nil }
func (s *stubCatalog) PinnedProducts(context.Context, string) ([]domain.PinnedProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PinnedProduct
	for id := range s.pins {
		out = append(out, domain.PinnedProduct{Product: domain.Product{ID: id}})
	}
	return out, nil
}
func (s *stubCatalog) ListBroadcasts(context.Context) ([]domain.Broadcast, error) { return nil, nil }
func (s *stubCatalog) StartBroadcast(_ context.Context, sellerID, title string) (*domain.Broadcast, error) {
	return &domain.Broadcast{ID: "b1", SellerID: sellerID, Title: title, Active: true}, nil
}
func (s *stubCatalog) EndBroadcast(context.Context, domain.BroadcastID) error { return nil }

type stubMedia struct{}

func (stubMedia) Tracks() []webrtc.TrackLocal { return nil }
func (stubMedia) Stop()                       {}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	broadcast := services.NewBroadcastService(
		&stubSignal{}, stubSessions{}, &stubCatalog{pins: make(map[domain.ProductID]bool)},
		stubMedia{}, nil,
		"seller-1", "room-1",
		zaptest.NewLogger(t).Sugar(),
	)
	h := NewControlHandler(broadcast, nil, nil, zaptest.NewLogger(t).Sugar())
	return h.Router(0, 0, false)
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	if w := do(router, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
}

func TestBroadcastLifecycle(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodGet, "/api/v1/status", "")
	var status map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &status)
	if status["live"] != false {
		t.Fatalf("initial status = %v", status)
	}

	if w := do(router, http.MethodPost, "/api/v1/broadcast/start", `{"title":"Friday drops"}`); w.Code != http.StatusCreated {
		t.Fatalf("start = %d: %s", w.Code, w.Body.String())
	}

	// starting twice conflicts
	if w := do(router, http.MethodPost, "/api/v1/broadcast/start", `{"title":"again"}`); w.Code != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", w.Code)
	}

	if w := do(router, http.MethodPost, "/api/v1/broadcast/stop", ""); w.Code != http.StatusOK {
		t.Fatalf("stop = %d", w.Code)
	}
}

func TestStartRequiresTitle(t *testing.T) {
	router := newTestRouter(t)
	if w := do(router, http.MethodPost, "/api/v1/broadcast/start", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("start without title = %d, want 400", w.Code)
	}
}

func TestPinEndpoints(t *testing.T) {
	router := newTestRouter(t)
	do(router, http.MethodPost, "/api/v1/broadcast/start", `{"title":"t"}`)

	if w := do(router, http.MethodPost, "/api/v1/pins/p1", ""); w.Code != http.StatusOK {
		t.Fatalf("pin = %d: %s", w.Code, w.Body.String())
	}

	w := do(router, http.MethodGet, "/api/v1/pins", "")
	var pins struct {
		Pinned []domain.PinnedProduct `json:"pinned"`
	}
	json.Unmarshal(w.Body.Bytes(), &pins)
	if len(pins.Pinned) != 1 || pins.Pinned[0].Product.ID != "p1" {
		t.Fatalf("pins = %+v", pins)
	}

	if w := do(router, http.MethodDelete, "/api/v1/pins/p1", ""); w.Code != http.StatusOK {
		t.Fatalf("unpin = %d", w.Code)
	}
}

func TestChatEndpoints(t *testing.T) {
	router := newTestRouter(t)
	do(router, http.MethodPost, "/api/v1/broadcast/start", `{"title":"t"}`)

	if w := do(router, http.MethodPost, "/api/v1/chat", `{"message":"hi"}`); w.Code != http.StatusAccepted {
		t.Fatalf("chat = %d: %s", w.Code, w.Body.String())
	}
	if w := do(router, http.MethodPost, "/api/v1/chat", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty chat = %d, want 400", w.Code)
	}

	if w := do(router, http.MethodGet, "/api/v1/chat", ""); w.Code != http.StatusOK {
		t.Fatalf("chat history = %d", w.Code)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	w := do(router, http.MethodGet, "/api/v1/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("sessions = %d", w.Code)
	}
	var body struct {
		Sessions []domain.SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestDetectionsWithoutCapture(t *testing.T) {
	router := newTestRouter(t)
	w := do(router, http.MethodGet, "/api/v1/detections", "")
	if w.Code != http.StatusOK {
		t.Fatalf("detections = %d", w.Code)
	}
}
