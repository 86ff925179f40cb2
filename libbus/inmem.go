package libbus

import (
	"context"
	"sync"
)

// InMem delivers messages inside one process. Stream subscribers receive every
// message published on their exact subject; a full subscriber channel makes
// Publish wait until ctx is done.
type InMem struct {
	mu      sync.RWMutex
	closed  bool
	nextID  uint64
	streams map[string]map[uint64]chan<- []byte
}

func NewInMem() *InMem {
	return &InMem{streams: make(map[string]map[uint64]chan<- []byte)}
}

func (p *InMem) Publish(ctx context.Context, subject string, data []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrConnectionClosed
	}
	subs := make([]chan<- []byte, 0, len(p.streams[subject]))
	for _, ch := range p.streams[subject] {
		subs = append(subs, ch)
	}
	p.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *InMem) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	p.nextID++
	id := p.nextID
	if p.streams[subject] == nil {
		p.streams[subject] = make(map[uint64]chan<- []byte)
	}
	p.streams[subject][id] = ch
	p.mu.Unlock()

	sub := &inmemSubscription{unsubscribe: func() {
		p.mu.Lock()
		delete(p.streams[subject], id)
		p.mu.Unlock()
	}}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

func (p *InMem) Close() error {
	p.mu.Lock()
	p.closed = true
	p.streams = make(map[string]map[uint64]chan<- []byte)
	p.mu.Unlock()
	return nil
}

type inmemSubscription struct {
	once        sync.Once
	unsubscribe func()
}

func (s *inmemSubscription) Unsubscribe() error {
	s.once.Do(s.unsubscribe)
	return nil
}

var _ Messenger = (*InMem)(nil)
