package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/ports"
)

// ViewerService runs the watching side of a live stream. It joins the room,
// opens a receive-only session toward the seller (directly or through the
// relay) and mirrors the pinned product set announced by the broadcast.
type ViewerService struct {
	signal   ports.SignalingChannel
	sessions ports.PeerSessionService
	relay    ports.RelayService
	catalog  ports.CatalogClient
	Chat     *ChatService
	logger   *zap.SugaredLogger

	viewerID domain.ClientID
	roomID   domain.RoomID

	mu            sync.Mutex
	watching      domain.ClientID
	viaRelay      bool
	joined        bool
	pinned        map[domain.ProductID]domain.PinnedProduct
	registrations []registration
}

func NewViewerService(
	signal ports.SignalingChannel,
	sessions ports.PeerSessionService,
	relay ports.RelayService,
	catalog ports.CatalogClient,
	viewerID domain.ClientID,
	roomID domain.RoomID,
	logger *zap.SugaredLogger,
) *ViewerService {
	return &ViewerService{
		signal:   signal,
		sessions: sessions,
		relay:    relay,
		catalog:  catalog,
		Chat:     NewChatService(signal, string(viewerID), logger),
		logger:   logger,
		viewerID: viewerID,
		roomID:   roomID,
		pinned:   make(map[domain.ProductID]domain.PinnedProduct),
	}
}

// Join connects to the room and starts tracking broadcast state. Media does
// not flow until Watch or WatchViaRelay.
func (v *ViewerService) Join(ctx context.Context) error {
	v.mu.Lock()
	if v.joined {
		v.mu.Unlock()
		return domain.ErrConnectInProgress
	}
	v.joined = true
	v.mu.Unlock()

	if err := v.signal.Connect(ctx, v.viewerID, v.roomID); err != nil {
		v.mu.Lock()
		v.joined = false
		v.mu.Unlock()
		return fmt.Errorf("connect signaling: %w", err)
	}

	regs := []registration{
		{domain.MsgAnswer, v.signal.On(domain.MsgAnswer, v.handleAnswer)},
		{domain.MsgICECandidate, v.signal.On(domain.MsgICECandidate, v.handleCandidate)},
		{domain.MsgSellerLive, v.signal.On(domain.MsgSellerLive, v.handleSellerLive)},
		{domain.MsgSellerOffline, v.signal.On(domain.MsgSellerOffline, v.handleSellerOffline)},
		{domain.MsgProductPinned, v.signal.On(domain.MsgProductPinned, v.handleProductPinned)},
		{domain.MsgProductUnpinned, v.signal.On(domain.MsgProductUnpinned, v.handleProductUnpinned)},
	}
	v.mu.Lock()
	v.registrations = regs
	v.mu.Unlock()
	v.Chat.Attach()

	v.logger.Infow("joined room", "viewer_id", v.viewerID, "room", v.roomID)
	return nil
}

// Watch opens a direct receive-only session toward the seller.
func (v *ViewerService) Watch(ctx context.Context, seller domain.ClientID) error {
	if err := v.sessions.CreateSession(ctx, true, seller); err != nil {
		return fmt.Errorf("open session to %s: %w", seller, err)
	}

	v.mu.Lock()
	v.watching = seller
	v.viaRelay = false
	v.mu.Unlock()

	v.logger.Infow("watching seller", "seller", seller)
	return nil
}

// WatchViaRelay subscribes to the room's relayed stream instead of opening
// a direct session.
func (v *ViewerService) WatchViaRelay(ctx context.Context) error {
	if err := v.relay.Connect(ctx, v.roomID, domain.RelaySubscriber); err != nil {
		return fmt.Errorf("connect relay: %w", err)
	}

	v.mu.Lock()
	v.viaRelay = true
	v.mu.Unlock()

	v.logger.Infow("watching via relay", "room", v.roomID)
	return nil
}

// Leave tears down media and signaling.
func (v *ViewerService) Leave() {
	v.mu.Lock()
	regs := v.registrations
	v.registrations = nil
	viaRelay := v.viaRelay
	v.watching = ""
	v.viaRelay = false
	v.joined = false
	v.pinned = make(map[domain.ProductID]domain.PinnedProduct)
	v.mu.Unlock()

	for _, reg := range regs {
		v.signal.Off(reg.msgType, reg.id)
	}
	v.Chat.Detach()
	v.sessions.Destroy()
	if viaRelay {
		v.relay.Disconnect()
	}
	v.signal.Disconnect()
	v.logger.Infow("left room", "viewer_id", v.viewerID)
}

// PinnedProducts returns the pinned set as announced by the broadcast.
func (v *ViewerService) PinnedProducts() []domain.PinnedProduct {
	v.mu.Lock()
	defer v.mu.Unlock()
	pins := make([]domain.PinnedProduct, 0, len(v.pinned))
	for _, pin := range v.pinned {
		pins = append(pins, pin)
	}
	return pins
}

// Watching returns the seller currently being watched, if any.
func (v *ViewerService) Watching() domain.ClientID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.watching
}

func (v *ViewerService) handleAnswer(msg *domain.SignalMessage) {
	var answer domain.SDPPayload
	if err := json.Unmarshal(msg.Data, &answer); err != nil {
		v.logger.Warnw("malformed answer", "from", msg.From, "error", err)
		return
	}
	if err := v.sessions.ApplyAnswer(msg.From, answer); err != nil {
		v.logger.Errorw("failed to apply answer", "from", msg.From, "error", err)
	}
}

func (v *ViewerService) handleCandidate(msg *domain.SignalMessage) {
	var cand domain.CandidatePayload
	if err := json.Unmarshal(msg.Data, &cand); err != nil {
		v.logger.Warnw("malformed candidate", "from", msg.From, "error", err)
		return
	}
	if err := v.sessions.ApplyCandidate(msg.From, cand); err != nil {
		v.logger.Debugw("candidate not applied", "from", msg.From, "error", err)
	}
}

// handleSellerLive reopens the media session when the watched seller comes
// back online.
func (v *ViewerService) handleSellerLive(msg *domain.SignalMessage) {
	var status domain.SellerStatusPayload
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		return
	}
	seller := domain.ClientID(status.SellerID)

	v.mu.Lock()
	watching := v.watching
	viaRelay := v.viaRelay
	v.mu.Unlock()

	v.logger.Infow("seller went live", "seller", seller)
	if viaRelay || watching != seller {
		return
	}
	if err := v.Watch(context.Background(), seller); err != nil {
		v.logger.Errorw("failed to rejoin stream", "seller", seller, "error", err)
	}
}

func (v *ViewerService) handleSellerOffline(msg *domain.SignalMessage) {
	var status domain.SellerStatusPayload
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		return
	}
	seller := domain.ClientID(status.SellerID)

	v.logger.Infow("seller went offline", "seller", seller)
	v.sessions.CloseSession(seller)

	v.mu.Lock()
	v.pinned = make(map[domain.ProductID]domain.PinnedProduct)
	v.mu.Unlock()
}

func (v *ViewerService) handleProductPinned(msg *domain.SignalMessage) {
	var pin domain.PinPayload
	if err := json.Unmarshal(msg.Data, &pin); err != nil || pin.ProductID == "" {
		return
	}

	// the announcement carries only the id, the details come from the catalog
	product, err := v.catalog.GetProduct(context.Background(), pin.ProductID)
	if err != nil {
		v.logger.Warnw("failed to resolve pinned product", "product_id", pin.ProductID, "error", err)
		product = &domain.Product{ID: pin.ProductID, SellerID: pin.SellerID}
	}

	v.mu.Lock()
	v.pinned[pin.ProductID] = domain.PinnedProduct{Product: *product}
	v.mu.Unlock()
	v.logger.Infow("product pinned", "product_id", pin.ProductID, "product", product.Name)
}

func (v *ViewerService) handleProductUnpinned(msg *domain.SignalMessage) {
	var pin domain.PinPayload
	if err := json.Unmarshal(msg.Data, &pin); err != nil || pin.ProductID == "" {
		return
	}
	v.mu.Lock()
	delete(v.pinned, pin.ProductID)
	v.mu.Unlock()
	v.logger.Infow("product unpinned", "product_id", pin.ProductID)
}
