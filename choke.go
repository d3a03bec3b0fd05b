package swarm

import (
	"context"

	"github.com/anacrolix/chansync"
)

// Tracks whether the remote peer is choking us. Starts choked, as every connection does.
type chokeLatch struct {
	unchoked chansync.Flag
}

func (me *chokeLatch) Choke() {
	me.unchoked.SetBool(false)
}

func (me *chokeLatch) Unchoke() {
	me.unchoked.SetBool(true)
}

func (me *chokeLatch) Choked() bool {
	return !me.unchoked.Bool()
}

// Closed when the peer next chokes us, or immediately if it already is.
func (me *chokeLatch) OnChoke() <-chan struct{} {
	return me.unchoked.Off()
}

// WaitUnchoked blocks until the peer unchokes us. It returns ctx's error if ctx is done first.
func (me *chokeLatch) WaitUnchoked(ctx context.Context) error {
	select {
	case <-me.unchoked.On():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
