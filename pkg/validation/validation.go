package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ClientIDRegex validates client identifier format.
	ClientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// RoomIDRegex validates room identifier format.
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateClientID validates a signaling client identifier.
func ValidateClientID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("client id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("client id is too long (max 100 characters)")
	}
	if !ClientIDRegex.MatchString(id) {
		return fmt.Errorf("client id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateRoomID validates a broadcast room identifier.
func ValidateRoomID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("room id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("room id is too long (max 100 characters)")
	}
	if !RoomIDRegex.MatchString(id) {
		return fmt.Errorf("room id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateWebSocketURL checks that a signaling or relay endpoint is a
// usable ws:// or wss:// URL.
func ValidateWebSocketURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("websocket url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("websocket url must use ws or wss scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("websocket url must have a host")
	}
	return nil
}

// ValidateHTTPURL checks that a REST endpoint is a usable http(s) URL.
func ValidateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("http url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid http url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("http url must use http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("http url must have a host")
	}
	return nil
}

// ValidateChatMessage bounds a chat message before it is sent.
func ValidateChatMessage(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return fmt.Errorf("chat message is empty")
	}
	if len(msg) > 500 {
		return fmt.Errorf("chat message is too long (max 500 characters)")
	}
	return nil
}
