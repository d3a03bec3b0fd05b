package swarm

import (
	"context"
	"time"

	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
)

// Addresses that failed to connect or handshake. They're skipped by the connect loop and refused
// admission until the next purge.
type deadPeers struct {
	mu    sync.Mutex
	addrs map[string]struct{}
}

func (me *deadPeers) add(addr string) {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.addrs == nil {
		me.addrs = make(map[string]struct{})
	}
	me.addrs[addr] = struct{}{}
}

func (me *deadPeers) remove(addr string) {
	me.mu.Lock()
	defer me.mu.Unlock()
	delete(me.addrs, addr)
}

func (me *deadPeers) contains(addr string) bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	_, ok := me.addrs[addr]
	return ok
}

func (me *deadPeers) len() int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return len(me.addrs)
}

func (me *deadPeers) clear() (n int) {
	me.mu.Lock()
	defer me.mu.Unlock()
	n = len(me.addrs)
	clear(me.addrs)
	return
}

// Clears the dead peer set every interval until ctx is done.
func (m *Manager) runDeadPeerPurger(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.PurgeDeadPeers(); n != 0 {
				m.logger.Levelf(log.Debug, "purged %v dead peers", n)
			}
		}
	}
}
