package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/ports"
)

// RelayOptions configures the connection to the media relay.
type RelayOptions struct {
	URL          string
	JoinTimeout  time.Duration
	WriteTimeout time.Duration
}

// RelayClient negotiates one media session through the central relay. The
// relay speaks its own dialect: the client joins, waits for the join
// confirmation and then always sends the first offer.
type RelayClient struct {
	cfg      Config
	opts     RelayOptions
	api      *webrtc.API
	clientID domain.ClientID
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	conn      *websocket.Conn
	pc        *webrtc.PeerConnection
	media     ports.MediaSource
	room      domain.RoomID
	role      domain.RelayRole
	active    bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	joined    chan struct{}

	obsMu     sync.RWMutex
	observers map[int]ports.SessionEventHandler
	nextObs   int

	writeMu sync.Mutex
}

// NewRelayClient returns a disconnected relay client for the given identity.
func NewRelayClient(cfg Config, opts RelayOptions, clientID domain.ClientID, logger *zap.SugaredLogger) *RelayClient {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 8 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max)
	}

	return &RelayClient{
		cfg:       cfg,
		opts:      opts,
		api:       webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		clientID:  clientID,
		logger:    logger,
		observers: make(map[int]ports.SessionEventHandler),
	}
}

// AttachMedia hands over the local media source used when publishing.
func (r *RelayClient) AttachMedia(src ports.MediaSource) {
	r.mu.Lock()
	r.media = src
	r.mu.Unlock()
}

// Notify registers a lifecycle observer and returns its removal func.
func (r *RelayClient) Notify(h ports.SessionEventHandler) func() {
	r.obsMu.Lock()
	r.nextObs++
	id := r.nextObs
	r.observers[id] = h
	r.obsMu.Unlock()
	return func() {
		r.obsMu.Lock()
		delete(r.observers, id)
		r.obsMu.Unlock()
	}
}

// Connect joins the relay room, waits for the join confirmation and then
// starts the client-initiated negotiation.
func (r *RelayClient) Connect(ctx context.Context, room domain.RoomID, role domain.RelayRole) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return domain.ErrConnectInProgress
	}
	if role == domain.RelayPublisher && r.media == nil {
		r.mu.Unlock()
		return domain.ErrNoLocalMedia
	}
	r.active = true
	r.room = room
	r.role = role
	r.remoteSet = false
	r.pending = nil
	joined := make(chan struct{})
	r.joined = joined
	r.mu.Unlock()

	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.opts.URL, nil)
	if err != nil {
		r.reset()
		return fmt.Errorf("dial relay: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	go r.readLoop(conn)

	if err := r.writeRelay(&domain.RelayMessage{
		Type:     domain.RelayMsgJoin,
		Room:     room,
		Role:     role,
		ClientID: r.clientID,
	}); err != nil {
		r.Disconnect()
		return fmt.Errorf("send relay join: %w", err)
	}
	r.logger.Infow("relay join sent", "room", room, "role", role, "client_id", r.clientID)

	select {
	case <-joined:
	case <-time.After(r.opts.JoinTimeout):
		r.Disconnect()
		return domain.ErrRelayJoinTimeout
	case <-ctx.Done():
		r.Disconnect()
		return ctx.Err()
	}

	if err := r.negotiate(); err != nil {
		r.Disconnect()
		return err
	}
	return nil
}

// Disconnect tears down the relay transport and peer connection.
func (r *RelayClient) Disconnect() {
	r.mu.Lock()
	conn := r.conn
	pc := r.pc
	was := r.active
	r.conn = nil
	r.pc = nil
	r.active = false
	r.remoteSet = false
	r.pending = nil
	r.mu.Unlock()

	if conn != nil {
		r.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(r.opts.WriteTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"))
		r.writeMu.Unlock()
		conn.Close()
	}
	if pc != nil {
		pc.Close()
	}
	if was {
		r.emit(domain.SessionEvent{Kind: domain.SessionEnded, Key: r.clientID})
		r.logger.Infow("relay session ended", "client_id", r.clientID)
	}
}

// negotiate builds the peer connection and sends the initial offer. The
// relay never offers first to a fresh participant.
func (r *RelayClient) negotiate() error {
	pc, err := r.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   r.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return fmt.Errorf("create relay peer connection: %w", err)
	}

	r.mu.Lock()
	role := r.role
	media := r.media
	r.pc = pc
	r.mu.Unlock()

	if role == domain.RelayPublisher {
		for _, track := range media.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				return fmt.Errorf("add relay track %s: %w", track.ID(), err)
			}
			go drainRTCP(sender)
		}
	} else {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return fmt.Errorf("add relay %s transceiver: %w", kind, err)
			}
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		payload, _ := json.Marshal(domain.CandidatePayload{
			Candidate:     init.Candidate,
			SDPMLineIndex: init.SDPMLineIndex,
			SDPMid:        init.SDPMid,
		})
		if err := r.writeRelay(&domain.RelayMessage{
			Type:     domain.RelayMsgICECandidate,
			Data:     payload,
			ClientID: r.clientID,
		}); err != nil {
			r.logger.Warnw("failed to send relay candidate", "error", err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		r.logger.Infow("relay remote track started",
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)
		r.emit(domain.SessionEvent{Kind: domain.SessionRemoteTrack, Key: r.clientID})
		go drainTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.logger.Infow("relay connection state changed", "state", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			r.emit(domain.SessionEvent{Kind: domain.SessionConnected, Key: r.clientID})
		case webrtc.PeerConnectionStateFailed:
			r.emit(domain.SessionEvent{
				Kind: domain.SessionFailed,
				Key:  r.clientID,
				Err:  fmt.Errorf("relay peer connection failed"),
			})
			go r.Disconnect()
		}
	})

	return r.sendOffer(pc)
}

func (r *RelayClient) sendOffer(pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create relay offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local relay offer: %w", err)
	}

	payload, _ := json.Marshal(domain.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP})
	if err := r.writeRelay(&domain.RelayMessage{
		Type:     domain.RelayMsgOffer,
		Data:     payload,
		Room:     r.room,
		Role:     r.role,
		ClientID: r.clientID,
	}); err != nil {
		return fmt.Errorf("send relay offer: %w", err)
	}
	r.logger.Infow("relay offer sent", "room", r.room)
	return nil
}

func (r *RelayClient) readLoop(conn *websocket.Conn) {
	for {
		var msg domain.RelayMessage
		if err := conn.ReadJSON(&msg); err != nil {
			r.mu.Lock()
			stale := r.conn != conn
			r.mu.Unlock()
			if !stale {
				r.logger.Warnw("relay connection lost", "error", err)
				r.Disconnect()
			}
			return
		}
		r.handleRelayMessage(&msg)
	}
}

func (r *RelayClient) handleRelayMessage(msg *domain.RelayMessage) {
	switch msg.Type {
	case domain.RelayMsgJoined:
		r.mu.Lock()
		if r.joined != nil {
			close(r.joined)
			r.joined = nil
		}
		r.mu.Unlock()
		r.logger.Infow("relay join confirmed", "room", msg.Room)

	case domain.RelayMsgAnswer:
		r.handleAnswer(msg)

	case domain.RelayMsgOffer:
		// the relay renegotiates an established publisher session when the
		// subscriber set changes
		r.handleRenegotiation(msg)

	case domain.RelayMsgICE, domain.RelayMsgICECandidate:
		r.handleCandidate(msg)

	default:
		r.logger.Debugw("unhandled relay message", "type", msg.Type)
	}
}

func (r *RelayClient) handleAnswer(msg *domain.RelayMessage) {
	r.mu.Lock()
	pc := r.pc
	r.mu.Unlock()
	if pc == nil {
		return
	}
	if pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		r.logger.Warnw("relay answer in unexpected state", "state", pc.SignalingState())
		return
	}

	var payload domain.SDPPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		r.logger.Warnw("malformed relay answer", "error", err)
		return
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: payload.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		r.logger.Errorw("failed to apply relay answer", "error", err)
		return
	}
	r.flushPending(pc)
}

func (r *RelayClient) handleRenegotiation(msg *domain.RelayMessage) {
	r.mu.Lock()
	pc := r.pc
	r.mu.Unlock()
	if pc == nil {
		return
	}

	var payload domain.SDPPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		r.logger.Warnw("malformed relay offer", "error", err)
		return
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: payload.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		r.logger.Errorw("failed to apply relay offer", "error", err)
		return
	}
	r.flushPending(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		r.logger.Errorw("failed to create relay answer", "error", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		r.logger.Errorw("failed to set local relay answer", "error", err)
		return
	}

	answerPayload, _ := json.Marshal(domain.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP})
	if err := r.writeRelay(&domain.RelayMessage{
		Type:     domain.RelayMsgAnswer,
		Data:     answerPayload,
		Room:     r.room,
		ClientID: r.clientID,
	}); err != nil {
		r.logger.Warnw("failed to send relay answer", "error", err)
	}
}

func (r *RelayClient) handleCandidate(msg *domain.RelayMessage) {
	var payload domain.CandidatePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		r.logger.Warnw("malformed relay candidate", "error", err)
		return
	}
	init := webrtc.ICECandidateInit{
		Candidate:     payload.Candidate,
		SDPMLineIndex: payload.SDPMLineIndex,
		SDPMid:        payload.SDPMid,
	}

	r.mu.Lock()
	pc := r.pc
	if pc == nil || !r.remoteSet {
		r.pending = append(r.pending, init)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if err := pc.AddICECandidate(init); err != nil {
		r.logger.Warnw("failed to add relay candidate", "error", err)
	}
}

func (r *RelayClient) flushPending(pc *webrtc.PeerConnection) {
	r.mu.Lock()
	r.remoteSet = true
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, init := range pending {
		if err := pc.AddICECandidate(init); err != nil {
			r.logger.Warnw("failed to apply buffered relay candidate", "error", err)
		}
	}
}

func (r *RelayClient) writeRelay(msg *domain.RelayMessage) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(r.opts.WriteTimeout))
	return conn.WriteJSON(msg)
}

func (r *RelayClient) reset() {
	r.mu.Lock()
	r.active = false
	r.joined = nil
	r.mu.Unlock()
}

func (r *RelayClient) emit(ev domain.SessionEvent) {
	r.obsMu.RLock()
	handlers := make([]ports.SessionEventHandler, 0, len(r.observers))
	for _, h := range r.observers {
		handlers = append(handlers, h)
	}
	r.obsMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
