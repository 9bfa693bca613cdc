package local

import (
	"context"
	"sync"
)

// Message is a message delivered to a local subscriber.
type Message struct {
	Channel string
	Payload string
}

type subscriber struct {
	ch       chan *Message
	channels map[string]struct{}
}

// LocalPubSub is an in-process fan-out. Slow subscribers drop messages
// rather than block publishers.
type LocalPubSub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	bufSize int
}

// NewPubSub creates a LocalPubSub with the given per-subscriber buffer.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subs:    make(map[*subscriber]struct{}),
		bufSize: bufSize,
	}
}

// Publish delivers the message to every subscriber of the channel.
func (p *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &Message{Channel: channel, Payload: message}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for sub := range p.subs {
		if _, ok := sub.channels[channel]; !ok {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// subscriber buffer full, drop
		}
	}
	return nil
}

// Subscribe registers for the given channels. The returned cancel func
// unregisters and closes the message channel.
func (p *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *Message, func(), error) {
	sub := &subscriber{
		ch:       make(chan *Message, p.bufSize),
		channels: make(map[string]struct{}, len(channels)),
	}
	for _, ch := range channels {
		sub.channels[ch] = struct{}{}
	}

	p.mu.Lock()
	p.subs[sub] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, sub)
			p.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel, nil
}
