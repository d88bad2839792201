package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignalStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   SignalStatus
		terminal bool
	}{
		{SignalStatusPending, false},
		{SignalStatusProcessing, false},
		{SignalStatusExecuted, true},
		{SignalStatusCancelled, true},
		{SignalStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestPreviewStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   PreviewStatus
		terminal bool
	}{
		{PreviewStatusPending, false},
		// confirmed still moves to executed or cancelled
		{PreviewStatusConfirmed, false},
		{PreviewStatusCancelled, true},
		{PreviewStatusExpired, true},
		{PreviewStatusExecuted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   OrderStatus
		terminal bool
	}{
		{OrderStatusPending, false},
		{OrderStatusPartiallyFilled, false},
		{OrderStatusFilled, true},
		{OrderStatusCanceled, true},
		{OrderStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestOrderSideSign(t *testing.T) {
	assert.Equal(t, 1.0, OrderSideBuy.Sign())
	assert.Equal(t, -1.0, OrderSideSell.Sign())
}

func TestOrderPreviewExpired(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	preview := OrderPreview{ExpiresAt: deadline}

	assert.False(t, preview.Expired(deadline.Add(-time.Second)))
	assert.False(t, preview.Expired(deadline))
	assert.True(t, preview.Expired(deadline.Add(time.Second)))
}