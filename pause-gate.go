package swarm

import (
	"context"

	"github.com/anacrolix/chansync"
)

// Shared by all assembly tasks of an Agent. Tasks block in Wait between pieces while the gate is
// closed.
type pauseGate struct {
	open chansync.Flag
}

func (me *pauseGate) Pause() {
	me.open.SetBool(false)
}

func (me *pauseGate) Resume() {
	me.open.SetBool(true)
}

func (me *pauseGate) Paused() bool {
	return !me.open.Bool()
}

func (me *pauseGate) Wait(ctx context.Context) error {
	select {
	case <-me.open.On():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
