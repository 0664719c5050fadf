package stream

import (
	"crypto/sha1"
	"encoding/binary"
	"sync"
)

const (
	shardCount = 32
)

type watcherBucket struct {
	sync.RWMutex
	topics map[string]map[uint64]chan struct{}
}

// Notifier fans change signals out to everything watching a topic. Signals
// carry no data: watchers reload their snapshot from the store, so a burst of
// writes collapses into one reload.
type Notifier struct {
	shards [shardCount]*watcherBucket

	mu     sync.Mutex
	nextID uint64
}

func NewNotifier() *Notifier {
	n := &Notifier{}
	for i := 0; i < shardCount; i++ {
		n.shards[i] = &watcherBucket{
			topics: make(map[string]map[uint64]chan struct{}),
		}
	}
	return n
}

func getShard(topic string) uint32 {
	if topic == "" {
		return 0
	}

	h := sha1.Sum([]byte(topic))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

// Notify wakes every watcher of the given topics. It never blocks.
func (n *Notifier) Notify(topics ...string) {
	for _, topic := range topics {
		b := n.shards[getShard(topic)]

		b.RLock()
		for _, ch := range b.topics[topic] {
			select {
			case ch <- struct{}{}:
			default:
				// a signal is already pending
			}
		}
		b.RUnlock()
	}
}

// Watchers returns how many watchers a topic currently has.
func (n *Notifier) Watchers(topic string) int {
	b := n.shards[getShard(topic)]
	b.RLock()
	defer b.RUnlock()
	return len(b.topics[topic])
}

// watch registers signal for every topic and returns the release func.
func (n *Notifier) watch(signal chan struct{}, topics ...string) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.mu.Unlock()

	for _, topic := range topics {
		b := n.shards[getShard(topic)]
		b.Lock()
		set, ok := b.topics[topic]
		if !ok {
			set = make(map[uint64]chan struct{})
			b.topics[topic] = set
		}
		set[id] = signal
		b.Unlock()
	}

	return func() {
		for _, topic := range topics {
			b := n.shards[getShard(topic)]
			b.Lock()
			if set, ok := b.topics[topic]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(b.topics, topic)
				}
			}
			b.Unlock()
		}
	}
}
