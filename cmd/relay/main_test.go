package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckIntervals(t *testing.T) {
	savedTick, savedTimeout := sweepTick, cfg.DirectiveTimeout
	t.Cleanup(func() { sweepTick, cfg.DirectiveTimeout = savedTick, savedTimeout })

	tests := []struct {
		name    string
		tick    time.Duration
		timeout time.Duration
		wantErr bool
	}{
		{"valid", 15 * time.Second, 2 * time.Minute, false},
		{"zero sweep interval", 0, 2 * time.Minute, true},
		{"negative sweep interval", -time.Second, 2 * time.Minute, true},
		{"zero directive timeout", 15 * time.Second, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sweepTick, cfg.DirectiveTimeout = tt.tick, tt.timeout
			err := checkIntervals()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
