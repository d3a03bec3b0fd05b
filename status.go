package swarm

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

// WriteStatus writes a human-readable summary of the agent and its torrents.
func (a *Agent) WriteStatus(_w io.Writer) {
	w := tabwriter.NewWriter(_w, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "Peer ID: %v\n", a.peerID)
	fmt.Fprintf(w, "Listening: %v\n", a.ListenAddr())
	fmt.Fprintf(w, "Running: %v\n", a.Running())
	fmt.Fprintf(w, "Dead peers: %v\n", a.manager.DeadPeerCount())
	torrents := a.manager.Torrents()
	fmt.Fprintf(w, "# Torrents: %d\n", len(torrents))
	for _, t := range torrents {
		d, err := a.GetTorrentDetails(t.InfoHash())
		if err != nil {
			// Removed since listing.
			continue
		}
		fmt.Fprintln(w)
		writeTorrentStatus(w, d)
	}
}

func writeTorrentStatus(w io.Writer, d TorrentDetails) {
	fmt.Fprintf(w, "%s: %q\n", d.InfoHash.HexString(), d.Name)
	fmt.Fprintf(w, "  Status: %v\n", d.Status)
	fmt.Fprintf(w, "  Pieces: %d/%d\n", d.NumPieces-d.MissingPieces, d.NumPieces)
	fmt.Fprintf(w, "  Length: %s\n", humanize.Bytes(uint64(d.Length)))
	fmt.Fprintf(w, "  Downloaded: %s\n", humanize.Bytes(uint64(d.Downloaded)))
	fmt.Fprintf(w, "  Uploaded: %s\n", humanize.Bytes(uint64(d.Uploaded)))
	fmt.Fprintf(w, "  Swarm: %d\n", d.SwarmSize)
	for _, p := range d.Peers {
		dir := "in"
		if p.Outgoing {
			dir = "out"
		}
		fmt.Fprintf(
			w, "    %s\t%s\t%s\tchoked=%v\tmissing=%d\tdown=%s\tup=%s\n",
			p.Addr, dir, p.State, p.Choked, p.RemoteMissing,
			humanize.Bytes(uint64(p.Downloaded)), humanize.Bytes(uint64(p.Uploaded)),
		)
	}
}
