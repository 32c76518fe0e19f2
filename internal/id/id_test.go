package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	a, b := New(), New()
	assert.NotEqual(t, a, b)
	assert.True(t, Valid(a))
	assert.Len(t, a, 36)
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-an-id"))
	assert.True(t, Valid("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
}

func TestInterestReference(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		client string
		want   string
	}{
		{"client7", "INT-20240101-20240131-CLIENT7"},
		{"A", "INT-20240101-20240131-A"},
	}
	for _, tt := range tests {
		got := InterestReference(start, end, tt.client)
		assert.Equal(t, tt.want, got)
		assert.True(t, strings.HasPrefix(got, InterestPrefix(start, end)))
	}
}

func TestLeaseHolder(t *testing.T) {
	h := LeaseHolder("worker-1")
	assert.True(t, strings.HasPrefix(h, "worker-1/"))
	assert.NotEqual(t, h, LeaseHolder("worker-1"))
}
