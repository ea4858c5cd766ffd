package services

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/ports"
)

// fakeSignal is an in-memory signaling channel that records sends and lets
// tests inject inbound messages.
type fakeSignal struct {
	mu        sync.Mutex
	connected bool
	clientID  domain.ClientID
	roomID    domain.RoomID
	sent      []*domain.SignalMessage
	handlers  map[string]map[ports.HandlerID]ports.MessageHandler
	nextID    ports.HandlerID
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{handlers: make(map[string]map[ports.HandlerID]ports.MessageHandler)}
}

func (f *fakeSignal) Connect(_ context.Context, clientID domain.ClientID, roomID domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.clientID = clientID
	f.roomID = roomID
	return nil
}

func (f *fakeSignal) Send(msg *domain.SignalMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return domain.ErrNotConnected
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignal) On(msgType string, h ports.MessageHandler) ports.HandlerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.handlers[msgType] == nil {
		f.handlers[msgType] = make(map[ports.HandlerID]ports.MessageHandler)
	}
	f.handlers[msgType][f.nextID] = h
	return f.nextID
}

func (f *fakeSignal) Off(msgType string, id ports.HandlerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers[msgType], id)
}

func (f *fakeSignal) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeSignal) State() domain.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return domain.StateConnected
	}
	return domain.StateDisconnected
}

func (f *fakeSignal) Identity() (domain.ClientID, domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clientID, f.roomID
}

// deliver feeds one inbound message to the registered handlers.
func (f *fakeSignal) deliver(msg *domain.SignalMessage) {
	f.mu.Lock()
	var hs []ports.MessageHandler
	for _, h := range f.handlers[msg.Type] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(msg)
	}
}

func (f *fakeSignal) sentOfType(msgType string) []*domain.SignalMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SignalMessage
	for _, msg := range f.sent {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

// fakeSessions records session operations.
type fakeSessions struct {
	mu           sync.Mutex
	media        ports.MediaSource
	created      []domain.ClientID
	offers       []domain.ClientID
	answers      []domain.ClientID
	candidates   []domain.ClientID
	closed       []domain.ClientID
	destroyCalls int
}

func (f *fakeSessions) AttachMedia(src ports.MediaSource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = src
}

func (f *fakeSessions) CreateSession(_ context.Context, initiator bool, remote domain.ClientID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, remote)
	return nil
}

func (f *fakeSessions) AcceptOffer(_ context.Context, from domain.ClientID, _ domain.SDPPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, from)
	return nil
}

func (f *fakeSessions) ApplyAnswer(from domain.ClientID, _ domain.SDPPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, from)
	return nil
}

func (f *fakeSessions) ApplyCandidate(from domain.ClientID, _ domain.CandidatePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, from)
	return nil
}

func (f *fakeSessions) CloseSession(key domain.ClientID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, key)
}

func (f *fakeSessions) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyCalls++
}

func (f *fakeSessions) Notify(ports.SessionEventHandler) func() { return func() {} }

func (f *fakeSessions) Sessions() []domain.SessionInfo { return nil }

// fakeRelay records relay operations.
type fakeRelay struct {
	mu          sync.Mutex
	room        domain.RoomID
	role        domain.RelayRole
	connects    int
	disconnects int
}

func (f *fakeRelay) AttachMedia(ports.MediaSource) {}

func (f *fakeRelay) Connect(_ context.Context, room domain.RoomID, role domain.RelayRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.room = room
	f.role = role
	return nil
}

func (f *fakeRelay) Notify(ports.SessionEventHandler) func() { return func() {} }

func (f *fakeRelay) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

// fakeCatalog is an in-memory catalog backend.
type fakeCatalog struct {
	mu         sync.Mutex
	products   map[domain.ProductID]domain.Product
	pins       map[domain.ProductID]bool
	broadcasts []domain.Broadcast
	unpinAlls  int
	ended      []domain.BroadcastID
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: make(map[domain.ProductID]domain.Product),
		pins:     make(map[domain.ProductID]bool),
	}
}

func (f *fakeCatalog) ListProducts(context.Context) ([]domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Product
	for _, p := range f.products {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeCatalog) GetProduct(_ context.Context, id domain.ProductID) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &p, nil
}

func (f *fakeCatalog) CreateProduct(_ context.Context, p *domain.Product) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[p.ID] = *p
	return p, nil
}

func (f *fakeCatalog) UpdateProduct(_ context.Context, p *domain.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[p.ID] = *p
	return nil
}

func (f *fakeCatalog) DeleteProduct(_ context.Context, id domain.ProductID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.products, id)
	return nil
}

func (f *fakeCatalog) PinProduct(_ context.Context, _ string, id domain.ProductID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins[id] = true
	return nil
}

func (f *fakeCatalog) UnpinProduct(_ context.Context, _ string, id domain.ProductID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pins, id)
	return nil
}

func (f *fakeCatalog) UnpinAll(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins = make(map[domain.ProductID]bool)
	f.unpinAlls++
	return nil
}

func (f *fakeCatalog) PinnedProducts(context.Context, string) ([]domain.PinnedProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PinnedProduct
	for id := range f.pins {
		out = append(out, domain.PinnedProduct{Product: f.products[id]})
	}
	return out, nil
}

func (f *fakeCatalog) ListBroadcasts(context.Context) ([]domain.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Broadcast(nil), f.broadcasts...), nil
}

func (f *fakeCatalog) StartBroadcast(_ context.Context, sellerID, title string) (*domain.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := domain.Broadcast{ID: "b1", SellerID: sellerID, Title: title, Active: true}
	f.broadcasts = append(f.broadcasts, b)
	return &b, nil
}

func (f *fakeCatalog) EndBroadcast(_ context.Context, id domain.BroadcastID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, id)
	return nil
}

// fakeGrabber serves a static frame.
type fakeGrabber struct {
	frame []byte
	err   error
}

func (f *fakeGrabber) Frame(context.Context) ([]byte, error) { return f.frame, f.err }

// fakePrediction counts calls and can block or fail.
type fakePrediction struct {
	mu      sync.Mutex
	calls   int
	result  domain.FrameResult
	err     error
	blockCh chan struct{}
}

func (f *fakePrediction) ProcessFrame(context.Context, string, []byte) (*domain.FrameResult, error) {
	f.mu.Lock()
	f.calls++
	block := f.blockCh
	err := f.err
	result := f.result
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (f *fakePrediction) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeMediaSource satisfies ports.MediaSource without real tracks.
type fakeMediaSource struct{ stopped bool }

func (f *fakeMediaSource) Tracks() []webrtc.TrackLocal { return nil }
func (f *fakeMediaSource) Stop()                       { f.stopped = true }
