package media

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"streamcart/internal/core/domain"
)

const maxRTPPacketSize = 1500

// RTPSourceConfig configures the local RTP ingest ports.
type RTPSourceConfig struct {
	VideoPort    int
	AudioPort    int
	ProbeTimeout time.Duration
}

// RTPSource turns locally produced RTP streams into WebRTC tracks. An
// encoder (ffmpeg, gstreamer) pushes VP8 video and Opus audio to the two
// UDP ports; the source forwards the packets onto static local tracks
// shared by every outbound session.
type RTPSource struct {
	videoTrack *webrtc.TrackLocalStaticRTP
	audioTrack *webrtc.TrackLocalStaticRTP
	videoConn  *net.UDPConn
	audioConn  *net.UDPConn
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	stopped bool
}

// NewRTPSource binds the ingest ports and waits for the first video packet
// to prove a producer is running.
func NewRTPSource(cfg RTPSourceConfig, logger *zap.SugaredLogger) (*RTPSource, error) {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "local-capture",
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "local-capture",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	videoConn, err := listenRTP(cfg.VideoPort)
	if err != nil {
		return nil, err
	}
	audioConn, err := listenRTP(cfg.AudioPort)
	if err != nil {
		videoConn.Close()
		return nil, err
	}

	s := &RTPSource{
		videoTrack: videoTrack,
		audioTrack: audioTrack,
		videoConn:  videoConn,
		audioConn:  audioConn,
		logger:     logger,
	}

	first, err := s.probe(videoConn, cfg.ProbeTimeout)
	if err != nil {
		s.Stop()
		return nil, err
	}
	logger.Infow("local media producer detected",
		"video_port", cfg.VideoPort,
		"audio_port", cfg.AudioPort,
	)

	go s.forward(videoConn, videoTrack, "video", first)
	go s.forward(audioConn, audioTrack, "audio", nil)
	return s, nil
}

// Tracks returns the shared local tracks.
func (s *RTPSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.videoTrack, s.audioTrack}
}

// Stop closes the ingest ports. Every session publishing these tracks goes
// silent, so this only happens on explicit broadcast end.
func (s *RTPSource) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.videoConn.Close()
	s.audioConn.Close()
	s.logger.Infow("local media source stopped")
}

// probe waits for the first packet on the video port. Silence means no
// producer is attached.
func (s *RTPSource) probe(conn *net.UDPConn, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, maxRTPPacketSize)
	conn.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := conn.ReadFromUDP(buf)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, domain.ErrNoMediaDevice
		}
		return nil, fmt.Errorf("probe media source: %w", err)
	}
	first := make([]byte, n)
	copy(first, buf[:n])
	return first, nil
}

func (s *RTPSource) forward(conn *net.UDPConn, track *webrtc.TrackLocalStaticRTP, kind string, first []byte) {
	buf := make([]byte, maxRTPPacketSize)
	packet := &rtp.Packet{}

	if first != nil {
		if err := packet.Unmarshal(first); err == nil {
			track.WriteRTP(packet)
		}
	}

	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if !stopped {
				s.logger.Warnw("media ingest read failed", "kind", kind, "error", err)
			}
			return
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			s.logger.Debugw("malformed RTP packet", "kind", kind, "error", err)
			continue
		}
		if err := track.WriteRTP(packet); err != nil {
			s.logger.Debugw("failed to write RTP packet", "kind", kind, "error", err)
		}
	}
}

// listenRTP binds one UDP ingest port, mapping the usual failure modes to
// domain errors.
func listenRTP(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		switch {
		case errors.Is(err, syscall.EACCES):
			return nil, domain.ErrMediaPermission
		case errors.Is(err, syscall.EADDRINUSE):
			return nil, domain.ErrMediaBusy
		default:
			return nil, fmt.Errorf("bind ingest port %d: %w", port, err)
		}
	}
	return conn, nil
}
