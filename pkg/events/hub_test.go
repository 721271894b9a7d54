package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDelivers(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	h.Publish(Capacity, CapacityEvent{From: 50, To: 49, Direct: 47})

	ev := <-ch
	assert.Equal(t, Capacity, ev.Name)
	p, err := DecodeAs[CapacityEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, 49, p.To)
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()

	for i := 0; i < 100; i++ {
		h.Publish(ChargeSource, ChargeSourceEvent{Source: "usb"})
	}
	assert.Len(t, ch, cap(ch))

	h.Unsubscribe(ch)
	h.Unsubscribe(ch)
	assert.Equal(t, 0, h.Subscribers())
}

func TestNilHub(t *testing.T) {
	var h *Hub
	assert.NotPanics(t, func() { h.Publish(Health, HealthEvent{}) })
}

func TestDecodeEmpty(t *testing.T) {
	p, err := DecodeAs[ConsumerEvent](Event{Name: Consumer})
	require.NoError(t, err)
	assert.Equal(t, ConsumerEvent{}, p)
}
