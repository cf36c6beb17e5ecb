package eventbus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EventBus delivers engine events to in-process subscribers. Handlers run
// synchronously on the publishing goroutine; a panicking handler is recovered
// and logged so one subscriber cannot break the load path.
type EventBus interface {
	Publish(event any)
	Subscribe(handler func(event any))
	Clear()
	SubscribersCount() int
}

type publisherImpl struct {
	log *logrus.Logger

	mu          sync.RWMutex
	subscribers []func(event any)
}

func NewEventPublisher(log *logrus.Logger) EventBus {
	return &publisherImpl{log: log}
}

func (p *publisherImpl) Publish(event any) {
	p.mu.RLock()
	handlers := make([]func(any), len(p.subscribers))
	copy(handlers, p.subscribers)
	p.mu.RUnlock()

	for _, h := range handlers {
		p.invoke(h, event)
	}
}

func (p *publisherImpl) invoke(h func(any), event any) {
	defer func() {
		if r := recover(); r != nil && p.log != nil {
			p.log.WithField("panic", r).Error("eventbus: subscriber panicked")
		}
	}()
	h(event)
}

func (p *publisherImpl) Subscribe(handler func(event any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, handler)
}

func (p *publisherImpl) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = nil
}

func (p *publisherImpl) SubscribersCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}
