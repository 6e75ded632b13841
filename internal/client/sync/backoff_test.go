package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_DoublesAndCaps(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		want       time.Duration
	}{
		{"first retry", 0, 1 * time.Second},
		{"second retry", 1, 2 * time.Second},
		{"third retry", 2, 4 * time.Second},
		{"sixth retry", 5, 30 * time.Second}, // 32s упирается в потолок
		{"far past cap", 20, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Delay(tt.retryCount, time.Second, 30*time.Second))
		})
	}
}

func TestDelay_ZeroParamsUseDefaults(t *testing.T) {
	assert.Equal(t, DefaultBaseDelay, Delay(0, 0, 0))
	assert.Equal(t, DefaultMaxDelay, Delay(100, 0, 0))
}
