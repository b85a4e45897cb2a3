package congestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestController_AckGrowsWindowUpToMax(t *testing.T) {
	c := New(4, 1, 8)
	for i := 0; i < 10; i++ {
		c.OnAck()
	}
	assert.Equal(t, uint32(8), c.Window())
}

func TestController_LossHalvesWindowFlooredAtMin(t *testing.T) {
	c := New(8, 2, 64)
	c.OnLoss()
	assert.Equal(t, uint32(4), c.Window())
	c.OnLoss()
	assert.Equal(t, uint32(2), c.Window())
	c.OnLoss()
	assert.Equal(t, uint32(2), c.Window(), "window must not drop below min")
}

func TestController_InFlightTracksSendsAndAcks(t *testing.T) {
	c := New(4, 1, 16)
	c.OnSend()
	c.OnSend()
	assert.Equal(t, uint32(2), c.InFlight())
	c.OnAck()
	assert.Equal(t, uint32(1), c.InFlight())
}

func TestController_CanSendGatesOnWindow(t *testing.T) {
	c := New(2, 1, 8)
	assert.True(t, c.CanSend())
	c.OnSend()
	assert.True(t, c.CanSend())
	c.OnSend()
	assert.False(t, c.CanSend(), "in_flight has reached window")
}

func TestController_LossDoesNotAdjustInFlight(t *testing.T) {
	c := New(4, 1, 8)
	c.OnSend()
	c.OnSend()
	c.OnLoss()
	assert.Equal(t, uint32(2), c.InFlight())
}
