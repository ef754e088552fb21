// Package pubsub keeps ordered subscriber lists with explicit unsubscribe handles.
package pubsub

import "sync"

// List is an ordered set of subscribers of type F.
type List[F any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []entry[F]
}

type entry[F any] struct {
	id uint64
	fn F
}

// Add appends fn and returns a function that removes it. Calling the returned
// function more than once is harmless.
func (l *List[F]) Add(fn F) (unsubscribe func()) {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, entry[F]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *List[F]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.subs {
		if e.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return
		}
	}
}

// Snapshot returns the current subscribers in registration order. Callers
// invoke them without holding any lock, so a subscriber may unsubscribe itself.
func (l *List[F]) Snapshot() []F {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]F, len(l.subs))
	for i, e := range l.subs {
		out[i] = e.fn
	}
	return out
}

// Len returns the number of subscribers.
func (l *List[F]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Topics is a set of Lists keyed by topic.
type Topics[K comparable, F any] struct {
	mu    sync.Mutex
	lists map[K]*List[F]
}

func (t *Topics[K, F]) list(k K) *List[F] {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lists == nil {
		t.lists = make(map[K]*List[F])
	}
	l, ok := t.lists[k]
	if !ok {
		l = &List[F]{}
		t.lists[k] = l
	}
	return l
}

// Add subscribes fn to topic k.
func (t *Topics[K, F]) Add(k K, fn F) (unsubscribe func()) {
	return t.list(k).Add(fn)
}

// Snapshot returns the subscribers of topic k in registration order.
func (t *Topics[K, F]) Snapshot(k K) []F {
	return t.list(k).Snapshot()
}

// Len returns the number of subscribers of topic k.
func (t *Topics[K, F]) Len(k K) int {
	return t.list(k).Len()
}
