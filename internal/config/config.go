// Package config implements the live config snapshot and its hot-reload
// bus (spec.md §2): a single atomic pointer holding the current
// ConfigSnapshot plus a subscriber fan-out so every runtime component
// (listener supervisor, CGI pool manager, caches) can react to a reload
// without a restart. Grounded on the teacher's in-memory-map-plus-mutex
// service idiom, generalized from a mutable CRUD store to an
// immutable-snapshot publish/subscribe bus since Gruxi's configuration is
// swapped wholesale on every reload rather than edited field by field.
package config

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/iSundram/gruxi/pkg/models"
)

// Subscriber is notified with the new snapshot every time one is published.
type Subscriber func(snapshot *models.ConfigSnapshot)

// Bus holds the live ConfigSnapshot and notifies subscribers on change.
type Bus struct {
	current atomic.Pointer[models.ConfigSnapshot]

	mu          sync.Mutex
	subscribers []Subscriber
}

// NewBus creates a Bus seeded with an empty snapshot; callers should
// Publish a real snapshot (loaded from the store) before serving traffic.
func NewBus() *Bus {
	b := &Bus{}
	b.current.Store(&models.ConfigSnapshot{})
	return b
}

// Current returns the currently active snapshot.
func (b *Bus) Current() *models.ConfigSnapshot {
	return b.current.Load()
}

// Publish atomically swaps in a new snapshot and fans it out to every
// subscriber. Subscribers run synchronously and in subscription order;
// none of the current subscribers perform long-running work.
func (b *Bus) Publish(snapshot *models.ConfigSnapshot) {
	b.current.Store(snapshot)

	b.mu.Lock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		sub(snapshot)
	}
}

// Subscribe registers fn to be called on every future Publish.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// PortManager tracks which (ip, port) pairs are currently bound by the
// listener supervisor, so a reload can diagnose a newly-added binding that
// collides with one already open under a different binding ID.
type PortManager struct {
	mu     sync.Mutex
	active map[string]uint32 // "ip:port" -> binding ID currently bound to it
}

// NewPortManager creates an empty port manager.
func NewPortManager() *PortManager {
	return &PortManager{active: make(map[string]uint32)}
}

func portKey(ip string, port int) string {
	return ip + ":" + strconv.Itoa(port)
}

// Bind records ip:port as owned by bindingID. It returns false if the pair
// is already bound to a different binding.
func (p *PortManager) Bind(ip string, port int, bindingID uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := portKey(ip, port)
	if existing, ok := p.active[k]; ok && existing != bindingID {
		return false
	}
	p.active[k] = bindingID
	return true
}

// Release removes ip:port from the active set.
func (p *PortManager) Release(ip string, port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, portKey(ip, port))
}

// IsBound reports whether ip:port is currently tracked as bound.
func (p *PortManager) IsBound(ip string, port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[portKey(ip, port)]
	return ok
}
