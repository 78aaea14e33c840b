package storage

import "sync"

// Notifiers tracks the EvictionFunc registered for each partition so several
// owners can share one backend. Backends embed it to implement
// EvictionNotifier. The zero value is ready to use.
type Notifiers struct {
	mu   sync.RWMutex
	next uint64
	subs map[string]notifierReg
}

type notifierReg struct {
	id uint64
	fn EvictionFunc
}

// NotifyEvictions registers fn for partition, replacing any earlier function
// for the same partition. The returned func removes the registration; it is
// a no-op once the partition was registered again.
func (n *Notifiers) NotifyEvictions(partition string, fn EvictionFunc) (unregister func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[string]notifierReg)
	}
	n.next++
	id := n.next
	n.subs[partition] = notifierReg{id: id, fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if reg, ok := n.subs[partition]; ok && reg.id == id {
				delete(n.subs, partition)
			}
		})
	}
}

// Lookup returns the function registered for partition, or nil. Entries of
// partitions without one are removed by sweeps instead of reported.
func (n *Notifiers) Lookup(partition string) EvictionFunc {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.subs[partition].fn
}

// Len reports how many partitions have a registered function.
func (n *Notifiers) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
