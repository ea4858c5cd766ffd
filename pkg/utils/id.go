package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateViewerID generates a unique viewer client id.
func GenerateViewerID() string {
	return GenerateID("viewer")
}

// GenerateSellerID builds the well-known seller client id for a room.
func GenerateSellerID(sellerKey string) string {
	if strings.HasPrefix(sellerKey, "seller-") {
		return sellerKey
	}
	return "seller-" + sellerKey
}

// GenerateParticipantID generates a relay participant id carrying the role,
// e.g. "publisher_3f2a...".
func GenerateParticipantID(role string) string {
	return fmt.Sprintf("%s_%s", role, shortUUID())
}

// GenerateID generates a prefixed unique id.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, shortUUID())
}

func shortUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
