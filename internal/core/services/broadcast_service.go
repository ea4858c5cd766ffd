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

// autoPinThreshold is the minimum catalog similarity before a detected
// product gets pinned without seller action.
const autoPinThreshold = 0.8

// BroadcastService runs the seller side of a live stream: it owns the
// signaling identity, answers viewer offers with the local media tracks,
// maintains the pinned product set and announces lifecycle changes to the
// room.
type BroadcastService struct {
	signal   ports.SignalingChannel
	sessions ports.PeerSessionService
	catalog  ports.CatalogClient
	media    ports.MediaSource
	capture  *CaptureService
	Chat     *ChatService
	logger   *zap.SugaredLogger

	sellerID domain.ClientID
	roomID   domain.RoomID

	relay     ports.RelayService
	maxDirect int

	mu            sync.Mutex
	live          bool
	relayLive     bool
	broadcast     *domain.Broadcast
	viewers       map[domain.ClientID]struct{}
	lastAutoPin   domain.ProductID
	registrations []registration
}

func NewBroadcastService(
	signal ports.SignalingChannel,
	sessions ports.PeerSessionService,
	catalog ports.CatalogClient,
	media ports.MediaSource,
	capture *CaptureService,
	sellerID domain.ClientID,
	roomID domain.RoomID,
	logger *zap.SugaredLogger,
) *BroadcastService {
	s := &BroadcastService{
		signal:   signal,
		sessions: sessions,
		catalog:  catalog,
		media:    media,
		capture:  capture,
		Chat:     NewChatService(signal, string(sellerID), logger),
		logger:   logger,
		sellerID: sellerID,
		roomID:   roomID,
		viewers:  make(map[domain.ClientID]struct{}),
	}
	if capture != nil {
		capture.OnResult(s.handleFrameResult)
	}
	return s
}

// UseRelay enables the relay publisher fallback. With maxDirectViewers 0 the
// broadcast publishes through the relay from the start and direct offers are
// refused; otherwise the relay kicks in once the viewer count exceeds the
// threshold. Must be called before Start.
func (s *BroadcastService) UseRelay(relay ports.RelayService, maxDirectViewers int) {
	s.relay = relay
	s.maxDirect = maxDirectViewers
}

func (s *BroadcastService) relayOnly() bool {
	return s.relay != nil && s.maxDirect == 0
}

func (s *BroadcastService) startRelay(ctx context.Context) {
	s.mu.Lock()
	if s.relayLive || !s.live {
		s.mu.Unlock()
		return
	}
	s.relayLive = true
	s.mu.Unlock()

	s.relay.AttachMedia(s.media)
	if err := s.relay.Connect(ctx, s.roomID, domain.RelayPublisher); err != nil {
		s.logger.Errorw("relay publish failed", "error", err)
		s.mu.Lock()
		s.relayLive = false
		s.mu.Unlock()
		return
	}
	s.logger.Infow("publishing through relay", "room", s.roomID)
}

// Start connects signaling, registers the broadcast with the platform and
// goes live.
func (s *BroadcastService) Start(ctx context.Context, title string) error {
	s.mu.Lock()
	if s.live {
		s.mu.Unlock()
		return domain.ErrConnectInProgress
	}
	s.live = true
	s.mu.Unlock()

	s.sessions.AttachMedia(s.media)

	if err := s.signal.Connect(ctx, s.sellerID, s.roomID); err != nil {
		s.markOffline()
		return fmt.Errorf("connect signaling: %w", err)
	}

	s.registerHandlers()
	s.Chat.Attach()

	broadcast, err := s.catalog.StartBroadcast(ctx, string(s.sellerID), title)
	if err != nil {
		s.teardown(ctx)
		return fmt.Errorf("register broadcast: %w", err)
	}
	s.mu.Lock()
	s.broadcast = broadcast
	s.mu.Unlock()

	if err := s.announce(domain.MsgSellerLive); err != nil {
		s.logger.Warnw("failed to announce live status", "error", err)
	}

	if s.relayOnly() {
		s.startRelay(ctx)
	}

	if s.capture != nil {
		s.capture.Start(ctx)
	}

	s.logger.Infow("broadcast started",
		"seller_id", s.sellerID,
		"room", s.roomID,
		"broadcast_id", broadcast.ID,
		"title", title,
	)
	return nil
}

// Stop ends the broadcast: announces offline, unpins everything, closes all
// viewer sessions and disconnects.
func (s *BroadcastService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return nil
	}
	broadcast := s.broadcast
	s.mu.Unlock()

	if err := s.announce(domain.MsgSellerOffline); err != nil {
		s.logger.Warnw("failed to announce offline status", "error", err)
	}

	if s.capture != nil {
		s.capture.Stop()
	}

	if err := s.catalog.UnpinAll(ctx, string(s.sellerID)); err != nil {
		s.logger.Warnw("failed to unpin products", "error", err)
	}
	if broadcast != nil {
		if err := s.catalog.EndBroadcast(ctx, broadcast.ID); err != nil {
			s.logger.Warnw("failed to end broadcast", "error", err)
		}
	}

	s.teardown(ctx)
	s.logger.Infow("broadcast stopped", "seller_id", s.sellerID)
	return nil
}

// Pin pins a product and tells the room.
func (s *BroadcastService) Pin(ctx context.Context, id domain.ProductID) error {
	if err := s.catalog.PinProduct(ctx, string(s.sellerID), id); err != nil {
		return err
	}
	s.notifyPin(domain.MsgProductPinned, id)
	return nil
}

// Unpin removes a pinned product and tells the room.
func (s *BroadcastService) Unpin(ctx context.Context, id domain.ProductID) error {
	if err := s.catalog.UnpinProduct(ctx, string(s.sellerID), id); err != nil {
		return err
	}
	s.notifyPin(domain.MsgProductUnpinned, id)
	return nil
}

// PinnedProducts returns the current pinned set from the platform.
func (s *BroadcastService) PinnedProducts(ctx context.Context) ([]domain.PinnedProduct, error) {
	return s.catalog.PinnedProducts(ctx, string(s.sellerID))
}

// Viewers returns the number of connected viewers.
func (s *BroadcastService) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// Sessions exposes the active media session snapshots.
func (s *BroadcastService) Sessions() []domain.SessionInfo {
	return s.sessions.Sessions()
}

// Signaling reports the current state of the signaling connection.
func (s *BroadcastService) Signaling() domain.ConnectionState {
	return s.signal.State()
}

// Live reports whether the broadcast is running.
func (s *BroadcastService) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *BroadcastService) registerHandlers() {
	regs := []registration{
		{domain.MsgOffer, s.signal.On(domain.MsgOffer, s.handleOffer)},
		{domain.MsgICECandidate, s.signal.On(domain.MsgICECandidate, s.handleCandidate)},
		{domain.MsgUserJoined, s.signal.On(domain.MsgUserJoined, s.handleUserJoined)},
		{domain.MsgUserLeft, s.signal.On(domain.MsgUserLeft, s.handleUserLeft)},
	}
	s.mu.Lock()
	s.registrations = regs
	s.mu.Unlock()
}

func (s *BroadcastService) teardown(ctx context.Context) {
	s.mu.Lock()
	regs := s.registrations
	s.registrations = nil
	s.broadcast = nil
	s.viewers = make(map[domain.ClientID]struct{})
	s.live = false
	relayLive := s.relayLive
	s.relayLive = false
	s.mu.Unlock()

	for _, reg := range regs {
		s.signal.Off(reg.msgType, reg.id)
	}
	s.Chat.Detach()
	s.sessions.Destroy()
	if relayLive {
		s.relay.Disconnect()
	}
	s.media.Stop()
	s.signal.Disconnect()
}

func (s *BroadcastService) markOffline() {
	s.mu.Lock()
	s.live = false
	s.mu.Unlock()
}

func (s *BroadcastService) handleOffer(msg *domain.SignalMessage) {
	if s.relayOnly() {
		s.logger.Debugw("direct offer refused, relay-only broadcast", "from", msg.From)
		return
	}
	var offer domain.SDPPayload
	if err := json.Unmarshal(msg.Data, &offer); err != nil {
		s.logger.Warnw("malformed offer", "from", msg.From, "error", err)
		return
	}
	if err := s.sessions.AcceptOffer(context.Background(), msg.From, offer); err != nil {
		s.logger.Errorw("failed to answer viewer offer", "from", msg.From, "error", err)
	}
}

func (s *BroadcastService) handleCandidate(msg *domain.SignalMessage) {
	var cand domain.CandidatePayload
	if err := json.Unmarshal(msg.Data, &cand); err != nil {
		s.logger.Warnw("malformed candidate", "from", msg.From, "error", err)
		return
	}
	if err := s.sessions.ApplyCandidate(msg.From, cand); err != nil {
		s.logger.Debugw("candidate not applied", "from", msg.From, "error", err)
	}
}

func (s *BroadcastService) handleUserJoined(msg *domain.SignalMessage) {
	var presence domain.PresencePayload
	if err := json.Unmarshal(msg.Data, &presence); err != nil || presence.ClientID == "" {
		return
	}
	s.mu.Lock()
	s.viewers[presence.ClientID] = struct{}{}
	count := len(s.viewers)
	relayPending := s.relay != nil && !s.relayLive && s.maxDirect > 0 && count > s.maxDirect
	s.mu.Unlock()
	s.logger.Infow("viewer joined", "viewer", presence.ClientID, "viewers", count)

	if relayPending {
		s.logger.Infow("viewer count exceeds direct capacity, switching to relay",
			"viewers", count, "max_direct", s.maxDirect)
		go s.startRelay(context.Background())
	}
}

func (s *BroadcastService) handleUserLeft(msg *domain.SignalMessage) {
	var presence domain.PresencePayload
	if err := json.Unmarshal(msg.Data, &presence); err != nil || presence.ClientID == "" {
		return
	}
	s.mu.Lock()
	delete(s.viewers, presence.ClientID)
	count := len(s.viewers)
	s.mu.Unlock()
	s.sessions.CloseSession(presence.ClientID)
	s.logger.Infow("viewer left", "viewer", presence.ClientID, "viewers", count)
}

// handleFrameResult pins the best catalog match from a capture cycle.
func (s *BroadcastService) handleFrameResult(result domain.FrameResult) {
	var best *domain.Prediction
	for i := range result.Predictions {
		p := &result.Predictions[i]
		if p.ProductID == "" || p.SimilarityScore < autoPinThreshold {
			continue
		}
		if best == nil || p.SimilarityScore > best.SimilarityScore {
			best = p
		}
	}
	if best == nil {
		return
	}

	s.mu.Lock()
	if s.lastAutoPin == best.ProductID {
		s.mu.Unlock()
		return
	}
	s.lastAutoPin = best.ProductID
	s.mu.Unlock()

	if err := s.Pin(context.Background(), best.ProductID); err != nil {
		s.logger.Warnw("auto-pin failed", "product_id", best.ProductID, "error", err)
		return
	}
	s.logger.Infow("product auto-pinned",
		"product_id", best.ProductID,
		"product", best.ProductName,
		"similarity", best.SimilarityScore,
	)
}

func (s *BroadcastService) announce(status string) error {
	payload, _ := json.Marshal(domain.SellerStatusPayload{
		SellerID: string(s.sellerID),
		Status:   statusFor(status),
	})
	return s.signal.Send(&domain.SignalMessage{Type: status, Data: payload})
}

func (s *BroadcastService) notifyPin(msgType string, id domain.ProductID) {
	payload, _ := json.Marshal(domain.PinPayload{
		ProductID: id,
		SellerID:  string(s.sellerID),
	})
	if err := s.signal.Send(&domain.SignalMessage{Type: msgType, Data: payload}); err != nil {
		s.logger.Warnw("failed to notify pin change", "type", msgType, "error", err)
	}
}

func statusFor(msgType string) string {
	if msgType == domain.MsgSellerLive {
		return "live"
	}
	return "offline"
}
