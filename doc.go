/*
Package swarm implements the download and upload engine of a BitTorrent
client: it admits peer connections into per-torrent swarms, runs one piece
assembly task per connected peer, and hands verified pieces to storage.

A minimal download looks like:

	a, err := swarm.NewAgent(swarm.NewDefaultConfig())
	if err != nil {
		return err
	}
	if err := a.Startup(); err != nil {
		return err
	}
	defer a.ShutDown()
	mi, _ := metainfo.LoadFromFile("my.torrent")
	t, _ := a.AddTorrent(mi)
	a.AttachPeerSource(t, swarm.NewTrackerSource(a, mi.UpvertedAnnounceList().DistinctValues()...))
	a.WaitForDownload(ctx, t)

Peers are discovered through PeerSource implementations, or fed directly with
Agent.AddPeers.
*/
package swarm
