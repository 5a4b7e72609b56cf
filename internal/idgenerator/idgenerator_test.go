package idgenerator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserIDIsValid(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := UserID()
		assert.True(t, IsValidUUID(id), id)
	}
}

func TestCorrelationID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := CorrelationID()
		assert.Len(t, id, CorrelationIDLength)
		assert.False(t, seen[id], "duplicate correlation id %s", id)
		seen[id] = true
	}
}

func TestWorkerID(t *testing.T) {
	a, b := WorkerID(), WorkerID()
	assert.True(t, strings.HasPrefix(a, "wrk_"))
	assert.Len(t, a, len("wrk_")+WorkerIDLength)
	assert.NotEqual(t, a, b)
}

func TestIsValidUUID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"123e4567-e89b-12d3-a456-426614174000", true},
		{"f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
		{"00000000-0000-0000-0000-000000000000", true},
		{"ffffffff-ffff-ffff-ffff-ffffffffffff", true},
		{"not-a-uuid", false},
		{"invalid-id", false},
		{"", false},
		{"123e4567e89b12d3a456426614174000", false},
		{"urn:uuid:123e4567-e89b-12d3-a456-426614174000", false},
		{"123e4567-e89b-02d3-a456-426614174000", false}, // version 0
		{"123e4567-e89b-12d3-c456-426614174000", false}, // reserved variant
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidUUID(tt.id))
		})
	}
}
