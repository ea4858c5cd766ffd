package services

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/ports"
	apperrors "streamcart/pkg/errors"
	"streamcart/pkg/utils"
	"streamcart/pkg/validation"
)

// historyLimit caps the in-memory chat backlog.
const historyLimit = 200

// ChatService sends and collects room chat and reactions over the
// signaling channel. Both the broadcaster and the viewer embed one.
type ChatService struct {
	signal   ports.SignalingChannel
	username string
	logger   *zap.SugaredLogger
	limiter  *rate.Limiter

	mu        sync.Mutex
	history   []domain.ChatPayload
	reactions map[string]int
	handlers  []registration
}

type registration struct {
	msgType string
	id      ports.HandlerID
}

func NewChatService(signal ports.SignalingChannel, username string, logger *zap.SugaredLogger) *ChatService {
	return &ChatService{
		signal:    signal,
		username:  username,
		logger:    logger,
		reactions: make(map[string]int),
	}
}

// SetRateLimit bounds outbound chat and reactions. Non-positive
// messagesPerSecond disables the limit.
func (c *ChatService) SetRateLimit(messagesPerSecond float64, burst int) {
	if messagesPerSecond <= 0 {
		c.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(messagesPerSecond), burst)
}

func (c *ChatService) allowSend() error {
	if c.limiter != nil && !c.limiter.Allow() {
		return apperrors.NewInvalidInput("sending too fast, slow down")
	}
	return nil
}

// Attach subscribes to inbound chat traffic. Call Detach to undo.
func (c *ChatService) Attach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = []registration{
		{domain.MsgChat, c.signal.On(domain.MsgChat, c.handleChat)},
		{domain.MsgReaction, c.signal.On(domain.MsgReaction, c.handleReaction)},
	}
}

func (c *ChatService) Detach() {
	c.mu.Lock()
	handlers := c.handlers
	c.handlers = nil
	c.mu.Unlock()
	for _, reg := range handlers {
		c.signal.Off(reg.msgType, reg.id)
	}
}

// Send validates and broadcasts one chat message.
func (c *ChatService) Send(text string) error {
	if err := validation.ValidateChatMessage(text); err != nil {
		return err
	}
	if err := c.allowSend(); err != nil {
		return err
	}
	payload, _ := json.Marshal(domain.ChatPayload{
		Message:   text,
		Username:  c.username,
		Timestamp: utils.FormatTimestamp(utils.Now()),
	})
	return c.signal.Send(&domain.SignalMessage{Type: domain.MsgChat, Data: payload})
}

// SendReaction broadcasts one emoji reaction.
func (c *ChatService) SendReaction(reaction string) error {
	if reaction == "" {
		return apperrors.NewInvalidInput("reaction is required")
	}
	if err := c.allowSend(); err != nil {
		return err
	}
	payload, _ := json.Marshal(domain.ReactionPayload{
		Reaction: reaction,
		Username: c.username,
	})
	return c.signal.Send(&domain.SignalMessage{Type: domain.MsgReaction, Data: payload})
}

// History returns a copy of the collected chat backlog.
func (c *ChatService) History() []domain.ChatPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := make([]domain.ChatPayload, len(c.history))
	copy(history, c.history)
	return history
}

// ReactionCounts returns the tally of received reactions.
func (c *ChatService) ReactionCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[string]int, len(c.reactions))
	for k, v := range c.reactions {
		counts[k] = v
	}
	return counts
}

func (c *ChatService) handleChat(msg *domain.SignalMessage) {
	var payload domain.ChatPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.logger.Debugw("malformed chat payload", "error", err)
		return
	}
	c.mu.Lock()
	c.history = append(c.history, payload)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
	c.mu.Unlock()
}

func (c *ChatService) handleReaction(msg *domain.SignalMessage) {
	var payload domain.ReactionPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.logger.Debugw("malformed reaction payload", "error", err)
		return
	}
	c.mu.Lock()
	c.reactions[payload.Reaction]++
	c.mu.Unlock()
}
