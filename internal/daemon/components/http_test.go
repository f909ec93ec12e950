package components

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteTimeoutFor(t *testing.T) {
	tests := []struct {
		name    string
		write   time.Duration
		request time.Duration
		want    time.Duration
	}{
		{name: "defaults leave room", write: 90 * time.Second, request: 75 * time.Second, want: 90 * time.Second},
		{name: "raised above deadline", write: 30 * time.Second, request: 75 * time.Second, want: 90 * time.Second},
		{name: "no deadline", write: 30 * time.Second, request: 0, want: 30 * time.Second},
		{name: "unbounded write", write: 0, request: 75 * time.Second, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, writeTimeoutFor(tt.write, tt.request))
		})
	}
}
