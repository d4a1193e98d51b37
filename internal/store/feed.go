package store

import "sync"

// feed delivers snapshots to one subscriber on its own goroutine. Snapshots
// carry full record state, so a burst of changes is coalesced to the latest.
type feed struct {
	onSnapshot func(Snapshot)

	mu      sync.Mutex
	pending *Snapshot
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newFeed(onSnapshot func(Snapshot)) *feed {
	f := &feed{
		onSnapshot: onSnapshot,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *feed) push(snapshot Snapshot) {
	f.mu.Lock()
	f.pending = &snapshot
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *feed) run() {
	for {
		select {
		case <-f.done:
			return
		case <-f.signal:
		}
		f.mu.Lock()
		next := f.pending
		f.pending = nil
		f.mu.Unlock()
		if next == nil {
			continue
		}
		select {
		case <-f.done:
			return
		default:
		}
		f.onSnapshot(*next)
	}
}

// close stops delivery. It does not wait for an in-progress callback, so it
// is safe to call from inside one.
func (f *feed) close() {
	f.once.Do(func() { close(f.done) })
}
