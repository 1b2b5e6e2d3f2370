package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToTypeSubscribers(t *testing.T) {
	b := NewBus()

	var got []Event
	b.Subscribe(TypeProcessStarted, func(e Event) { got = append(got, e) })
	b.Subscribe(TypeProcessError, func(e Event) { t.Fatal("wrong type delivered") })

	b.Publish(Event{
		Type:    TypeProcessStarted,
		Source:  "manager",
		Payload: ProcessPayload{ID: "api", HealthScore: 100},
	})

	require.Len(t, got, 1)
	assert.Equal(t, TypeProcessStarted, got[0].Type)
	p, ok := got[0].Payload.(ProcessPayload)
	require.True(t, ok)
	assert.Equal(t, "api", p.ID)
}

func TestPublishFillsZeroTimestamp(t *testing.T) {
	b := NewBus()
	var ts time.Time
	b.Subscribe(TypeSystemHealthy, func(e Event) { ts = e.Timestamp })

	b.Publish(Event{Type: TypeSystemHealthy})
	assert.False(t, ts.IsZero())

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b.Publish(Event{Type: TypeSystemHealthy, Timestamp: fixed})
	assert.Equal(t, fixed, ts, "explicit timestamp is preserved")
}

func TestHandlersRunInSubscriptionOrder(t *testing.T) {
	b := NewBus()
	var seq []int
	b.Subscribe(TypeWatchdogAlert, func(Event) { seq = append(seq, 1) })
	b.Subscribe(TypeWatchdogAlert, func(Event) { seq = append(seq, 2) })
	b.Subscribe(TypeWatchdogAlert, func(Event) { seq = append(seq, 3) })

	b.Publish(Event{Type: TypeWatchdogAlert})
	assert.Equal(t, []int{1, 2, 3}, seq)
}

func TestSubscribeAllSeesEveryType(t *testing.T) {
	b := NewBus()
	var types []Type
	b.SubscribeAll(func(e Event) { types = append(types, e.Type) })

	b.Publish(Event{Type: TypeSystemHealthy})
	b.Publish(Event{Type: TypeProcessError})
	b.Publish(Event{Type: TypeMetricsUpdated})

	assert.Equal(t, []Type{TypeSystemHealthy, TypeProcessError, TypeMetricsUpdated}, types)
}

func TestWildcardRunsAfterTypedHandlers(t *testing.T) {
	b := NewBus()
	var seq []string
	b.SubscribeAll(func(Event) { seq = append(seq, "all") })
	b.Subscribe(TypeSystemError, func(Event) { seq = append(seq, "typed") })

	b.Publish(Event{Type: TypeSystemError})
	assert.Equal(t, []string{"typed", "all"}, seq)
}

func TestNilHandlerIgnored(t *testing.T) {
	b := NewBus()
	b.Subscribe(TypeSystemHealthy, nil)
	assert.NotPanics(t, func() { b.Publish(Event{Type: TypeSystemHealthy}) })
}
