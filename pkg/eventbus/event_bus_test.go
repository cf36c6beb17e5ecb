package eventbus_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/forgeworks/cutover/pkg/eventbus"
)

func newBus() eventbus.EventBus {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return eventbus.NewEventPublisher(log)
}

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	bus := newBus()

	var got []any
	bus.Subscribe(func(event any) { got = append(got, event) })
	bus.Subscribe(func(event any) { got = append(got, event) })
	assert.Equal(t, 2, bus.SubscribersCount())

	bus.Publish("hello")
	assert.Equal(t, []any{"hello", "hello"}, got)
}

func TestPanickingSubscriberDoesNotStopDelivery(t *testing.T) {
	t.Parallel()
	bus := newBus()

	delivered := false
	bus.Subscribe(func(any) { panic("boom") })
	bus.Subscribe(func(any) { delivered = true })

	bus.Publish(struct{}{})
	assert.True(t, delivered)
}

func TestClear(t *testing.T) {
	t.Parallel()
	bus := newBus()

	called := false
	bus.Subscribe(func(any) { called = true })
	bus.Clear()
	assert.Zero(t, bus.SubscribersCount())

	bus.Publish("ignored")
	assert.False(t, called)
}
