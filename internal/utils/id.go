package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewID returns a best-effort unique identifier.
func NewID() string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// NewMessageID returns a server-issued message id. KSUIDs sort by creation time.
func NewMessageID() string {
	return "msg_" + ksuid.New().String()
}

// NewUUID returns a random UUID string.
func NewUUID() string {
	return uuid.NewString()
}

var tempCounter atomic.Uint64

// NewTempID returns a client-local message id. It combines a process-wide counter, the
// current time and random bytes, so ids stay unique across rapid sends and restarts.
func NewTempID(now time.Time) string {
	n := tempCounter.Add(1)
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return "client_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + strconv.FormatUint(n, 10) + "_" + hex.EncodeToString(buf)
}
