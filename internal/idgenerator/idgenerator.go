// nolint: gochecknoglobals
package idgenerator

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	CorrelationIDLength = 16
	WorkerIDLength      = 10
)

// alphabet used in ID generation.
var alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// UserID returns a new random (version 4) UUID.
func UserID() string {
	return uuid.NewString()
}

// CorrelationID returns a token pairing a store request with its response.
// It only has to be unique among the calls in flight in one process.
func CorrelationID() string {
	return gonanoid.MustGenerate(alphabet, CorrelationIDLength)
}

// WorkerID returns an identifier of one worker process incarnation.
func WorkerID() string {
	return "wrk_" + gonanoid.MustGenerate(alphabet, WorkerIDLength)
}

// IsValidUUID reports whether id is a canonical, hyphenated UUID of an
// RFC 4122 version (1-8), or the nil or max UUID.
func IsValidUUID(id string) bool {
	if len(id) != 36 {
		return false
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	if u == uuid.Nil || u == uuid.Max {
		return true
	}
	v := u.Version()
	return v >= 1 && v <= 8 && u.Variant() == uuid.RFC4122
}
