package swarm

import (
	"cmp"
	"slices"

	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	"github.com/anacrolix/torrent/metainfo"
)

// Manager is the registry of active torrents, and of peers that shouldn't be contacted again for a
// while.
type Manager struct {
	logger log.Logger

	mu       sync.RWMutex
	torrents map[metainfo.Hash]*TorrentContext
	dead     deadPeers
}

func NewManager(logger log.Logger) *Manager {
	return &Manager{
		logger:   logger.WithNames("manager"),
		torrents: make(map[metainfo.Hash]*TorrentContext),
	}
}

func (m *Manager) AddTorrent(t *TorrentContext) error {
	if t.infoHash == (metainfo.Hash{}) {
		return ErrInvalidInfoHash
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.torrents[t.infoHash]; ok {
		return ErrTorrentExists
	}
	m.torrents[t.infoHash] = t
	return nil
}

func (m *Manager) RemoveTorrent(infoHash metainfo.Hash) (t *TorrentContext, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok = m.torrents[infoHash]
	delete(m.torrents, infoHash)
	return
}

func (m *Manager) GetTorrent(infoHash metainfo.Hash) (t *TorrentContext, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok = m.torrents[infoHash]
	return
}

// Torrents returns the registered torrents ordered by info hash.
func (m *Manager) Torrents() (ret []*TorrentContext) {
	m.mu.RLock()
	for _, t := range m.torrents {
		ret = append(ret, t)
	}
	m.mu.RUnlock()
	slices.SortFunc(ret, func(a, b *TorrentContext) int {
		return cmp.Compare(a.infoHash.HexString(), b.infoHash.HexString())
	})
	return
}

// GetPeer finds a connected peer by torrent and "ip:port".
func (m *Manager) GetPeer(infoHash metainfo.Hash, addr string) (*Peer, bool) {
	t, ok := m.GetTorrent(infoHash)
	if !ok {
		return nil, false
	}
	p := t.peer(addr)
	return p, p != nil
}

func (m *Manager) MarkDead(addr string) {
	m.dead.add(addr)
}

// Revive allows a dead peer to be contacted again before the next purge.
func (m *Manager) Revive(addr string) {
	m.dead.remove(addr)
}

func (m *Manager) IsDead(addr string) bool {
	return m.dead.contains(addr)
}

func (m *Manager) DeadPeerCount() int {
	return m.dead.len()
}

// PurgeDeadPeers empties the dead peer set and returns how many were dropped.
func (m *Manager) PurgeDeadPeers() int {
	return m.dead.clear()
}
