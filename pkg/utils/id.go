package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateMeetingID generates a unique meeting id.
func GenerateMeetingID() string {
	return uuid.NewString()
}

// GenerateConnectionID generates a unique per-connection id. Connection ids
// are compared lexicographically by the client-side negotiation tie-break, so
// they only need to be unique and stable for the life of the connection.
func GenerateConnectionID() string {
	return uuid.NewString()
}

// GenerateRequestID generates a unique request ID.
func GenerateRequestID() string {
	timestamp := time.Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", timestamp, hex.EncodeToString(b))
}
