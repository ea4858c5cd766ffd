package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	pionwebrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap/zaptest"

	"streamcart/internal/core/domain"
)

var relayUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func relayServer(t *testing.T, fn func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := relayUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("relay upgrade failed: %v", err)
			return
		}
		fn(conn)
	}))
}

func newTestRelay(t *testing.T, url string, clientID domain.ClientID) *RelayClient {
	t.Helper()
	return NewRelayClient(Config{}, RelayOptions{
		URL:         strings.Replace(url, "http", "ws", 1),
		JoinTimeout: 500 * time.Millisecond,
	}, clientID, zaptest.NewLogger(t).Sugar())
}

func TestRelayJoinTimeout(t *testing.T) {
	joins := make(chan domain.RelayMessage, 1)
	srv := relayServer(t, func(conn *websocket.Conn) {
		var msg domain.RelayMessage
		if err := conn.ReadJSON(&msg); err == nil {
			joins <- msg
		}
		// never confirm the join
		time.Sleep(time.Second)
		conn.Close()
	})
	defer srv.Close()

	rc := newTestRelay(t, srv.URL, "viewer_a")
	err := rc.Connect(context.Background(), "room-1", domain.RelaySubscriber)
	if !errors.Is(err, domain.ErrRelayJoinTimeout) {
		t.Fatalf("Connect = %v, want ErrRelayJoinTimeout", err)
	}

	select {
	case msg := <-joins:
		if msg.Type != domain.RelayMsgJoin || msg.Role != domain.RelaySubscriber {
			t.Fatalf("join message = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("relay never received join")
	}
}

func TestRelayPublisherRequiresMedia(t *testing.T) {
	rc := newTestRelay(t, "http://localhost:9", "seller-1")
	err := rc.Connect(context.Background(), "room-1", domain.RelayPublisher)
	if !errors.Is(err, domain.ErrNoLocalMedia) {
		t.Fatalf("Connect = %v, want ErrNoLocalMedia", err)
	}
}

func TestRelaySubscriberNegotiation(t *testing.T) {
	offers := make(chan domain.RelayMessage, 1)
	srv := relayServer(t, func(conn *websocket.Conn) {
		var join domain.RelayMessage
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		conn.WriteJSON(&domain.RelayMessage{Type: domain.RelayMsgJoined, Room: join.Room})

		var offer domain.RelayMessage
		if err := conn.ReadJSON(&offer); err != nil {
			return
		}
		offers <- offer

		// answer with a real session description so the client can apply it
		var sdp domain.SDPPayload
		if err := json.Unmarshal(offer.Data, &sdp); err != nil {
			t.Errorf("decode offer: %v", err)
			return
		}
		answer, err := answerFor(sdp.SDP)
		if err != nil {
			t.Errorf("build answer: %v", err)
			return
		}
		payload, _ := json.Marshal(domain.SDPPayload{Type: "answer", SDP: answer})
		conn.WriteJSON(&domain.RelayMessage{Type: domain.RelayMsgAnswer, Data: payload})

		for {
			var msg domain.RelayMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	rc := newTestRelay(t, srv.URL, "viewer_a")
	ended := make(chan struct{}, 1)
	unsubscribe := rc.Notify(func(ev domain.SessionEvent) {
		if ev.Kind == domain.SessionEnded {
			ended <- struct{}{}
		}
	})
	defer unsubscribe()

	if err := rc.Connect(context.Background(), "room-1", domain.RelaySubscriber); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case offer := <-offers:
		if offer.Type != domain.RelayMsgOffer {
			t.Fatalf("offer type = %q", offer.Type)
		}
		if offer.ClientID != "viewer_a" || offer.Room != "room-1" {
			t.Fatalf("offer identity = %q/%q", offer.ClientID, offer.Room)
		}
	case <-time.After(time.Second):
		t.Fatal("relay never received offer")
	}

	// a second connect while active must fail fast
	if err := rc.Connect(context.Background(), "room-1", domain.RelaySubscriber); !errors.Is(err, domain.ErrConnectInProgress) {
		t.Fatalf("second Connect = %v, want ErrConnectInProgress", err)
	}

	rc.Disconnect()
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("ended event not emitted")
	}
}

func TestRelayCandidateBufferedBeforeAnswer(t *testing.T) {
	srv := relayServer(t, func(conn *websocket.Conn) {
		var join domain.RelayMessage
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		conn.WriteJSON(&domain.RelayMessage{Type: domain.RelayMsgJoined})

		var offer domain.RelayMessage
		if err := conn.ReadJSON(&offer); err != nil {
			return
		}

		// candidates trickle in before the answer, over both spellings
		cand, _ := json.Marshal(domain.CandidatePayload{Candidate: "candidate:1 1 udp 1 127.0.0.1 40000 typ host"})
		conn.WriteJSON(&domain.RelayMessage{Type: domain.RelayMsgICE, Data: cand})
		conn.WriteJSON(&domain.RelayMessage{Type: domain.RelayMsgICECandidate, Data: cand})

		for {
			var msg domain.RelayMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	rc := newTestRelay(t, srv.URL, "viewer_a")
	defer rc.Disconnect()

	if err := rc.Connect(context.Background(), "room-1", domain.RelaySubscriber); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// give the read loop a moment to buffer both candidates
	time.Sleep(100 * time.Millisecond)
	rc.mu.Lock()
	buffered := len(rc.pending)
	rc.mu.Unlock()
	if buffered != 2 {
		t.Fatalf("buffered candidates = %d, want 2", buffered)
	}
}

func TestRelayRenegotiationAnswered(t *testing.T) {
	answers := make(chan domain.RelayMessage, 1)
	srv := relayServer(t, func(conn *websocket.Conn) {
		var join domain.RelayMessage
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		conn.WriteJSON(&domain.RelayMessage{Type: domain.RelayMsgJoined, Room: join.Room})

		var offer domain.RelayMessage
		if err := conn.ReadJSON(&offer); err != nil {
			return
		}
		var sdp domain.SDPPayload
		if err := json.Unmarshal(offer.Data, &sdp); err != nil {
			t.Errorf("decode offer: %v", err)
			return
		}
		answer, err := answerFor(sdp.SDP)
		if err != nil {
			t.Errorf("build answer: %v", err)
			return
		}
		payload, _ := json.Marshal(domain.SDPPayload{Type: "answer", SDP: answer})
		conn.WriteJSON(&domain.RelayMessage{Type: domain.RelayMsgAnswer, Data: payload})

		// the subscriber set changed, renegotiate the established session
		reoffer, err := recvOnlyOffer()
		if err != nil {
			t.Errorf("build renegotiation offer: %v", err)
			return
		}
		reofferPayload, _ := json.Marshal(domain.SDPPayload{Type: "offer", SDP: reoffer})
		conn.WriteJSON(&domain.RelayMessage{Type: domain.RelayMsgOffer, Data: reofferPayload})

		for {
			var msg domain.RelayMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == domain.RelayMsgAnswer {
				answers <- msg
			}
		}
	})
	defer srv.Close()

	rc := newTestRelay(t, srv.URL, "seller-1")
	rc.AttachMedia(newFakeMedia(t))
	defer rc.Disconnect()

	if err := rc.Connect(context.Background(), "room-1", domain.RelayPublisher); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case msg := <-answers:
		if msg.ClientID != "seller-1" || msg.Room != "room-1" {
			t.Fatalf("answer identity = %q/%q", msg.ClientID, msg.Room)
		}
		var payload domain.SDPPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("decode renegotiation answer: %v", err)
		}
		if payload.Type != "answer" || payload.SDP == "" {
			t.Fatalf("renegotiation answer payload = %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publisher never answered the relay offer")
	}
}

// recvOnlyOffer builds a renegotiation offer the way the relay would, from a
// throwaway receive-only peer connection.
func recvOnlyOffer() (string, error) {
	pc, err := pionwebrtc.NewPeerConnection(pionwebrtc.Configuration{})
	if err != nil {
		return "", err
	}
	defer pc.Close()

	_, err = pc.AddTransceiverFromKind(pionwebrtc.RTPCodecTypeVideo, pionwebrtc.RTPTransceiverInit{
		Direction: pionwebrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return "", err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

// answerFor negotiates the subscriber offer with a throwaway peer
// connection and returns the answer SDP.
func answerFor(offerSDP string) (string, error) {
	pc, err := pionwebrtc.NewPeerConnection(pionwebrtc.Configuration{})
	if err != nil {
		return "", err
	}
	defer pc.Close()

	err = pc.SetRemoteDescription(pionwebrtc.SessionDescription{
		Type: pionwebrtc.SDPTypeOffer,
		SDP:  offerSDP,
	})
	if err != nil {
		return "", err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}
