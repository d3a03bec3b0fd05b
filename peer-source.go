package swarm

import (
	"context"
	"net"
	"strconv"

	"github.com/anacrolix/torrent/metainfo"
)

// A peer address to try for a torrent.
type PeerCandidate struct {
	IP       string
	Port     int
	InfoHash metainfo.Hash
}

func (me PeerCandidate) String() string {
	return net.JoinHostPort(me.IP, strconv.Itoa(me.Port))
}

// PeerSource discovers peers for a torrent, like a tracker does.
type PeerSource interface {
	// Run passes candidates to add until ctx is done. add may be called from any goroutine.
	Run(ctx context.Context, t *TorrentContext, add func(...PeerCandidate)) error
}

type attachedSource struct {
	source PeerSource
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancels the source and waits for it to finish, so that anything it does on the way out, like a
// final tracker announce, has happened.
func (me *attachedSource) stop() {
	me.cancel()
	<-me.done
}
