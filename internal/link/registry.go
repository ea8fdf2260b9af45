package link

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/motolink/internal/device"
)

// NotificationRegistry is the set of characteristics with confirmed active
// notifications. Entries keep subscription order so bulk teardown is deterministic.
type NotificationRegistry struct {
	mu   sync.Mutex
	subs *orderedmap.OrderedMap[device.CharacteristicRef, struct{}]
}

func NewNotificationRegistry() *NotificationRegistry {
	return &NotificationRegistry{subs: orderedmap.New[device.CharacteristicRef, struct{}]()}
}

// Add records a confirmed subscription. Returns false if ref was already present.
func (r *NotificationRegistry) Add(ref device.CharacteristicRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, present := r.subs.Set(ref, struct{}{})
	return !present
}

// Remove drops a confirmed unsubscription. Returns false if ref was not present.
func (r *NotificationRegistry) Remove(ref device.CharacteristicRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, present := r.subs.Delete(ref)
	return present
}

func (r *NotificationRegistry) Contains(ref device.CharacteristicRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs.Get(ref)
	return ok
}

func (r *NotificationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs.Len()
}

// First returns the oldest subscription.
func (r *NotificationRegistry) First() (device.CharacteristicRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.subs.Oldest(); p != nil {
		return p.Key, true
	}
	return device.CharacteristicRef{}, false
}

// Snapshot returns the subscriptions in subscription order.
func (r *NotificationRegistry) Snapshot() []device.CharacteristicRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.CharacteristicRef, 0, r.subs.Len())
	for p := r.subs.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key)
	}
	return out
}

// Clear drops every entry and returns how many were removed.
func (r *NotificationRegistry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.subs.Len()
	r.subs = orderedmap.New[device.CharacteristicRef, struct{}]()
	return n
}
