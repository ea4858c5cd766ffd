package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/ports"
)

// pliInterval is how often a receiving session asks the sender for a
// keyframe while media is flowing.
const pliInterval = 3 * time.Second

// Config carries the peer connection settings shared by the direct and
// relay paths.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	CloseGraceWindow        time.Duration
	CandidateErrorThreshold int
}

// session is one negotiated link to a single remote party.
type session struct {
	key       domain.ClientID
	role      domain.Role
	pc        *webrtc.PeerConnection
	createdAt time.Time

	mu            sync.Mutex
	connected     bool
	closed        bool
	remoteSet     bool
	candidateErrs int
	pending       []webrtc.ICECandidateInit
	graceTimer    *time.Timer
}

// SessionManager owns the registry of direct peer sessions, keyed by the
// remote client id. Creating a session for a key that already has one
// replaces the old session.
type SessionManager struct {
	cfg    Config
	signal ports.SignalingChannel
	api    *webrtc.API
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	media    ports.MediaSource
	sessions map[domain.ClientID]*session

	obsMu     sync.RWMutex
	observers map[int]ports.SessionEventHandler
	nextObs   int
}

// NewSessionManager creates a session manager sending negotiation messages
// over the given signaling channel.
func NewSessionManager(cfg Config, signal ports.SignalingChannel, logger *zap.SugaredLogger) *SessionManager {
	if cfg.CloseGraceWindow <= 0 {
		cfg.CloseGraceWindow = 15 * time.Second
	}
	if cfg.CandidateErrorThreshold <= 0 {
		cfg.CandidateErrorThreshold = 5
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max)
	}

	return &SessionManager{
		cfg:       cfg,
		signal:    signal,
		api:       webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		logger:    logger,
		sessions:  make(map[domain.ClientID]*session),
		observers: make(map[int]ports.SessionEventHandler),
	}
}

// AttachMedia hands over the local media source. Responder sessions created
// afterwards publish its tracks.
func (m *SessionManager) AttachMedia(src ports.MediaSource) {
	m.mu.Lock()
	m.media = src
	m.mu.Unlock()
}

// Notify registers a lifecycle observer and returns its removal func.
func (m *SessionManager) Notify(h ports.SessionEventHandler) func() {
	m.obsMu.Lock()
	m.nextObs++
	id := m.nextObs
	m.observers[id] = h
	m.obsMu.Unlock()
	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

// CreateSession opens a session toward the remote party. An initiator
// session requests media with receive-only transceivers and sends the offer;
// a responder session publishes the attached local tracks and waits for the
// remote offer.
func (m *SessionManager) CreateSession(ctx context.Context, initiator bool, remote domain.ClientID) error {
	role := domain.RoleResponder
	if initiator {
		role = domain.RoleInitiator
	}

	sess, err := m.newSession(role, remote)
	if err != nil {
		return err
	}

	if !initiator {
		return nil
	}

	offer, err := sess.pc.CreateOffer(nil)
	if err != nil {
		m.CloseSession(remote)
		return fmt.Errorf("create offer for %s: %w", remote, err)
	}
	if err := sess.pc.SetLocalDescription(offer); err != nil {
		m.CloseSession(remote)
		return fmt.Errorf("set local offer for %s: %w", remote, err)
	}

	if err := m.sendSDP(domain.MsgOffer, remote, offer); err != nil {
		m.CloseSession(remote)
		return err
	}
	m.logger.Infow("offer sent", "remote", remote)
	return nil
}

// AcceptOffer answers an incoming offer, creating the responder session on
// demand. Local media must be attached first.
func (m *SessionManager) AcceptOffer(ctx context.Context, from domain.ClientID, offer domain.SDPPayload) error {
	// an inbound offer always comes from a brand-new remote peer connection,
	// so any session this key already has is stale and must be replaced, not
	// renegotiated
	sess, err := m.newSession(domain.RoleResponder, from)
	if err != nil {
		return err
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := sess.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote offer from %s: %w", from, err)
	}
	sess.flushPendingCandidates(m.logger)

	answer, err := sess.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer for %s: %w", from, err)
	}
	if err := sess.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer for %s: %w", from, err)
	}

	if err := m.sendSDP(domain.MsgAnswer, from, answer); err != nil {
		return err
	}
	m.logger.Infow("answer sent", "remote", from)
	return nil
}

// ApplyAnswer installs a remote answer. Answers arriving outside the
// have-local-offer state are rejected.
func (m *SessionManager) ApplyAnswer(from domain.ClientID, answer domain.SDPPayload) error {
	m.mu.RLock()
	sess := m.sessions[from]
	m.mu.RUnlock()
	if sess == nil {
		return domain.ErrSessionNotFound
	}

	if sess.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		m.logger.Warnw("answer in unexpected signaling state",
			"remote", from,
			"state", sess.pc.SignalingState(),
		)
		return domain.ErrIllegalState
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}
	if err := sess.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote answer from %s: %w", from, err)
	}
	sess.flushPendingCandidates(m.logger)
	return nil
}

// ApplyCandidate installs a trickled remote candidate. Candidates are
// buffered until the remote description is set, dropped once media is
// connected, and counted as errors otherwise; crossing the error threshold
// fails the session.
func (m *SessionManager) ApplyCandidate(from domain.ClientID, cand domain.CandidatePayload) error {
	m.mu.RLock()
	sess := m.sessions[from]
	m.mu.RUnlock()
	if sess == nil {
		return domain.ErrSessionNotFound
	}

	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMLineIndex: cand.SDPMLineIndex,
		SDPMid:        cand.SDPMid,
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if sess.connected {
		// late candidates after media is up carry no value
		sess.mu.Unlock()
		return nil
	}
	if !sess.remoteSet {
		sess.pending = append(sess.pending, init)
		sess.mu.Unlock()
		return nil
	}
	sess.mu.Unlock()

	if err := sess.pc.AddICECandidate(init); err != nil {
		sess.mu.Lock()
		sess.candidateErrs++
		errs := sess.candidateErrs
		sess.mu.Unlock()
		m.logger.Warnw("failed to add remote candidate",
			"remote", from,
			"errors", errs,
			"error", err,
		)
		if errs >= m.cfg.CandidateErrorThreshold {
			m.emit(domain.SessionEvent{
				Kind: domain.SessionFailed,
				Key:  from,
				Err:  fmt.Errorf("candidate error threshold reached: %w", err),
			})
			m.closeIfCurrent(sess)
		}
		return err
	}
	return nil
}

// CloseSession removes and closes the session for the given key.
func (m *SessionManager) CloseSession(key domain.ClientID) {
	m.mu.Lock()
	sess := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if sess == nil {
		return
	}
	m.closeSession(sess)
	m.emit(domain.SessionEvent{Kind: domain.SessionClosed, Key: key})
}

// closeIfCurrent closes sess only while it is still the registered session
// for its key. Grace timers and peer connection callbacks outlive session
// replacement, and a late fire from the old session must not tear down the
// one that took its place.
func (m *SessionManager) closeIfCurrent(sess *session) {
	m.mu.Lock()
	if m.sessions[sess.key] != sess {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sess.key)
	m.mu.Unlock()

	m.closeSession(sess)
	m.emit(domain.SessionEvent{Kind: domain.SessionClosed, Key: sess.key})
}

// Destroy closes every session. The manager stays usable afterwards.
func (m *SessionManager) Destroy() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[domain.ClientID]*session)
	m.mu.Unlock()

	for key, sess := range sessions {
		m.closeSession(sess)
		m.emit(domain.SessionEvent{Kind: domain.SessionClosed, Key: key})
	}
	m.logger.Infow("all peer sessions destroyed", "count", len(sessions))
}

// Sessions returns a snapshot of all active sessions.
func (m *SessionManager) Sessions() []domain.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]domain.SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sess.mu.Lock()
		infos = append(infos, domain.SessionInfo{
			Key:            sess.key,
			Role:           sess.role,
			SignalingState: sess.pc.SignalingState().String(),
			Connected:      sess.connected,
			CandidateErrs:  sess.candidateErrs,
			CreatedAt:      sess.createdAt,
		})
		sess.mu.Unlock()
	}
	return infos
}

// newSession builds the peer connection, wires its handlers and registers it
// under the remote key, replacing any previous session for that key.
func (m *SessionManager) newSession(role domain.Role, remote domain.ClientID) (*session, error) {
	pc, err := m.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   m.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if role == domain.RoleInitiator {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
	} else {
		m.mu.RLock()
		media := m.media
		m.mu.RUnlock()
		if media == nil {
			pc.Close()
			return nil, domain.ErrNoLocalMedia
		}
		for _, track := range media.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				pc.Close()
				return nil, fmt.Errorf("add local track %s: %w", track.ID(), err)
			}
			go drainRTCP(sender)
		}
	}

	sess := &session{
		key:       remote,
		role:      role,
		pc:        pc,
		createdAt: time.Now(),
	}

	pc.OnICECandidate(m.handleLocalCandidate(sess))
	pc.OnTrack(m.handleRemoteTrack(sess))
	pc.OnICEConnectionStateChange(m.handleICEState(sess))
	pc.OnConnectionStateChange(m.handleConnectionState(sess))

	m.mu.Lock()
	if prev, exists := m.sessions[remote]; exists {
		m.logger.Infow("replacing existing session", "remote", remote)
		go func() {
			m.closeSession(prev)
			m.emit(domain.SessionEvent{Kind: domain.SessionClosed, Key: remote})
		}()
	}
	m.sessions[remote] = sess
	m.mu.Unlock()

	m.logger.Infow("session created", "remote", remote, "role", role)
	return sess, nil
}

func (m *SessionManager) handleLocalCandidate(sess *session) func(*webrtc.ICECandidate) {
	return func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		payload, _ := json.Marshal(domain.CandidatePayload{
			Candidate:     init.Candidate,
			SDPMLineIndex: init.SDPMLineIndex,
			SDPMid:        init.SDPMid,
		})
		from, _ := m.signal.Identity()
		err := m.signal.Send(&domain.SignalMessage{
			Type: domain.MsgICECandidate,
			Data: payload,
			From: from,
			To:   sess.key,
		})
		if err != nil {
			m.logger.Warnw("failed to send candidate", "remote", sess.key, "error", err)
		}
	}
}

func (m *SessionManager) handleRemoteTrack(sess *session) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.logger.Infow("remote track started",
			"remote", sess.key,
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)

		sess.mu.Lock()
		first := !sess.connected
		sess.connected = true
		sess.pending = nil
		sess.mu.Unlock()

		m.emit(domain.SessionEvent{Kind: domain.SessionRemoteTrack, Key: sess.key})
		if first {
			m.emit(domain.SessionEvent{Kind: domain.SessionConnected, Key: sess.key})
		}

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go m.requestKeyframes(sess, uint32(track.SSRC()))
		}
		go drainTrack(track)
	}
}

// requestKeyframes sends a PLI at a fixed interval so a newly joined
// receiver gets a decodable picture quickly.
func (m *SessionManager) requestKeyframes(sess *session, ssrc uint32) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for range ticker.C {
		sess.mu.Lock()
		closed := sess.closed
		sess.mu.Unlock()
		if closed {
			return
		}
		err := sess.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
		if err != nil {
			return
		}
	}
}

func (m *SessionManager) handleICEState(sess *session) func(webrtc.ICEConnectionState) {
	return func(state webrtc.ICEConnectionState) {
		m.logger.Infow("ICE connection state changed", "remote", sess.key, "ice_state", state)

		switch state {
		case webrtc.ICEConnectionStateDisconnected:
			sess.mu.Lock()
			// with live media a transient drop gets a grace window before
			// the session is torn down
			if sess.connected && sess.graceTimer == nil && !sess.closed {
				sess.graceTimer = time.AfterFunc(m.cfg.CloseGraceWindow, func() {
					m.logger.Warnw("grace window expired, closing session", "remote", sess.key)
					m.closeIfCurrent(sess)
				})
			}
			sess.mu.Unlock()
			if !sess.isConnected() {
				go m.closeIfCurrent(sess)
			}
		case webrtc.ICEConnectionStateConnected:
			sess.mu.Lock()
			if sess.graceTimer != nil {
				sess.graceTimer.Stop()
				sess.graceTimer = nil
			}
			sess.mu.Unlock()
		}
	}
}

func (m *SessionManager) handleConnectionState(sess *session) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		m.logger.Infow("peer connection state changed", "remote", sess.key, "state", state)

		if state == webrtc.PeerConnectionStateFailed {
			m.emit(domain.SessionEvent{
				Kind: domain.SessionFailed,
				Key:  sess.key,
				Err:  fmt.Errorf("peer connection failed for %s", sess.key),
			})
			go m.closeIfCurrent(sess)
		}
	}
}

func (m *SessionManager) sendSDP(msgType string, to domain.ClientID, desc webrtc.SessionDescription) error {
	payload, _ := json.Marshal(domain.SDPPayload{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	})
	from, _ := m.signal.Identity()
	err := m.signal.Send(&domain.SignalMessage{
		Type: msgType,
		Data: payload,
		From: from,
		To:   to,
	})
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", msgType, to, err)
	}
	return nil
}

func (m *SessionManager) closeSession(sess *session) {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.closed = true
	if sess.graceTimer != nil {
		sess.graceTimer.Stop()
		sess.graceTimer = nil
	}
	sess.mu.Unlock()

	if err := sess.pc.Close(); err != nil {
		m.logger.Warnw("error closing peer connection", "remote", sess.key, "error", err)
	}
}

func (m *SessionManager) emit(ev domain.SessionEvent) {
	m.obsMu.RLock()
	handlers := make([]ports.SessionEventHandler, 0, len(m.observers))
	for _, h := range m.observers {
		handlers = append(handlers, h)
	}
	m.obsMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (s *session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// flushPendingCandidates applies candidates buffered before the remote
// description existed.
func (s *session) flushPendingCandidates(logger *zap.SugaredLogger) {
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, init := range pending {
		if err := s.pc.AddICECandidate(init); err != nil {
			logger.Warnw("failed to apply buffered candidate", "remote", s.key, "error", err)
		}
	}
}

// drainRTCP keeps interceptor feedback flowing for an outbound track.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// drainTrack consumes inbound RTP so the receiver pipeline does not stall.
func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
