package swarm

import (
	"context"
	"math/rand/v2"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/chansync"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/sync"
)

// What the Selector needs to know about a peer to hand it work.
type PieceAvailability interface {
	HasPiece(piece int) bool
	// Closed the next time the peer's advertised pieces change.
	PiecesChanged() <-chan struct{}
}

// Selector is a torrent's queue of missing pieces. Each piece is held by at most one assembly task
// at a time: it leaves the queue when handed out, and comes back through PutBack if the attempt
// fails.
type Selector struct {
	mu        sync.Mutex
	queue     []int
	queued    roaring.Bitmap
	completed bool
	changed   chansync.BroadcastCond
}

// NewSelector queues every piece in [0, numPieces) that have reports false, in random order.
func NewSelector(numPieces int, have func(piece int) bool) *Selector {
	s := &Selector{}
	s.Initialize(numPieces, have)
	return s
}

func (s *Selector) Initialize(numPieces int, have func(piece int) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = s.queue[:0]
	s.queued.Clear()
	for i := 0; i < numPieces; i++ {
		if have(i) {
			continue
		}
		s.queue = append(s.queue, i)
		s.queued.Add(uint32(i))
	}
	rand.Shuffle(len(s.queue), func(i, j int) {
		s.queue[i], s.queue[j] = s.queue[j], s.queue[i]
	})
	s.changed.Broadcast()
}

// Pops the first queued piece the peer has. The pieces skipped over go to the tail, in order.
func (s *Selector) takeLocked(peer PieceAvailability) g.Option[int] {
	for i, piece := range s.queue {
		if !peer.HasPiece(piece) {
			continue
		}
		rest := make([]int, 0, len(s.queue)-1)
		rest = append(rest, s.queue[i+1:]...)
		s.queue = append(rest, s.queue[:i]...)
		s.queued.Remove(uint32(piece))
		return g.Some(piece)
	}
	return g.None[int]()
}

// NextPiece blocks until there is a queued piece the peer can supply and returns it. It returns None
// once the selector is complete, or when ctx is done. A peer that can supply nothing waits for the
// queue or its own pieces to change.
func (s *Selector) NextPiece(ctx context.Context, peer PieceAvailability) g.Option[int] {
	for {
		peerChanged := peer.PiecesChanged()
		s.mu.Lock()
		if s.completed {
			s.mu.Unlock()
			return g.None[int]()
		}
		if ret := s.takeLocked(peer); ret.Ok {
			s.mu.Unlock()
			return ret
		}
		queueChanged := s.changed.Signaled()
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return g.None[int]()
		case <-queueChanged:
		case <-peerChanged:
		}
	}
}

// PutBack returns a piece to the tail of the queue. It's a no-op after Complete, or if the piece is
// already queued.
func (s *Selector) PutBack(piece int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed || s.queued.Contains(uint32(piece)) {
		return
	}
	s.queue = append(s.queue, piece)
	s.queued.Add(uint32(piece))
	s.changed.Broadcast()
}

// Complete closes the selector and wakes all waiters. Only the first call returns true.
func (s *Selector) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return false
	}
	s.completed = true
	s.queue = nil
	s.queued.Clear()
	s.changed.Broadcast()
	return true
}

func (s *Selector) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Len is the number of pieces waiting to be handed out.
func (s *Selector) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
