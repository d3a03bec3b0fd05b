package swarm

import (
	"github.com/anacrolix/torrent/metainfo"
)

// These are called synchronously, and do not pass ownership. Locks may still be held, so
// implementations must not call back into the Agent. nil functions are not called.
type Callbacks struct {
	// Called after every piece hash check, with the outcome.
	PieceHashed func(infoHash metainfo.Hash, piece int, correct bool)
	// Called when a torrent's status changes.
	StatusChanged func(infoHash metainfo.Hash, status TorrentStatus)
	// Called once a peer has completed admission and its assembly task is about to start.
	PeerAdmitted func(infoHash metainfo.Hash, addr string)
	// Called when a queued peer closure is carried out.
	PeerClosed func(infoHash metainfo.Hash, addr string)
}
