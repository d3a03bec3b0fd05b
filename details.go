package swarm

import (
	"github.com/anacrolix/torrent/metainfo"
)

// TorrentDetails is a point-in-time snapshot of a torrent.
type TorrentDetails struct {
	InfoHash      metainfo.Hash
	Name          string
	Status        TorrentStatus
	NumPieces     int
	MissingPieces int
	Length        int64
	Downloaded    int64
	Uploaded      int64
	SwarmSize     int
	DeadPeers     int
	Peers         []PeerDetails
}

type PeerDetails struct {
	Addr          string
	IP            string
	Port          int
	PeerID        PeerID
	Outgoing      bool
	State         string
	Choked        bool
	RemoteMissing int
	Downloaded    int64
	Uploaded      int64
}

func (p *Peer) details() PeerDetails {
	return PeerDetails{
		Addr:          p.key,
		IP:            p.ip,
		Port:          p.port,
		PeerID:        p.PeerID,
		Outgoing:      p.outgoing,
		State:         p.State().String(),
		Choked:        p.choke.Choked(),
		RemoteMissing: p.RemoteMissing(),
		Downloaded:    p.downloaded.Int64(),
		Uploaded:      p.uploaded.Int64(),
	}
}

// GetTorrentDetails snapshots a registered torrent. Peers are ordered by address.
func (a *Agent) GetTorrentDetails(infoHash metainfo.Hash) (ret TorrentDetails, err error) {
	t, ok := a.manager.GetTorrent(infoHash)
	if !ok {
		err = ErrTorrentNotFound
		return
	}
	ret = TorrentDetails{
		InfoHash:      t.infoHash,
		Name:          t.Name(),
		Status:        t.Status(),
		NumPieces:     t.NumPieces(),
		MissingPieces: t.MissingPieces(),
		Length:        t.Length(),
		Downloaded:    t.bytesDownloaded.Int64(),
		Uploaded:      t.bytesUploaded.Int64(),
		DeadPeers:     a.manager.DeadPeerCount(),
	}
	for _, p := range t.peersSnapshot() {
		ret.Peers = append(ret.Peers, p.details())
	}
	ret.SwarmSize = len(ret.Peers)
	return
}
