package swarm

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/chansync"
	"github.com/anacrolix/sync"

	pp "github.com/anacrolix/torrent/peer_protocol"
)

// PieceBuffer accumulates the blocks of the piece a peer's assembly task is currently attempting.
// It is reused across attempts.
type PieceBuffer struct {
	mu        sync.Mutex
	active    bool
	index     int
	length    int64
	numBlocks int
	present   roaring.Bitmap
	data      []byte
	complete  chansync.Flag
}

// Start readies the buffer for a new attempt on piece index of the given length.
func (me *PieceBuffer) Start(index int, length int64) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.active = true
	me.index = index
	me.length = length
	me.numBlocks = numChunks(length)
	if int64(cap(me.data)) < length {
		me.data = make([]byte, length)
	}
	me.data = me.data[:length]
	me.present.Clear()
	me.complete.SetBool(false)
}

// AddBlock stores an incoming block. It returns false for blocks that don't belong to the current
// attempt, have the wrong size, or were already received.
func (me *PieceBuffer) AddBlock(index int, begin pp.Integer, b []byte) bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	if !me.active || index != me.index || begin%BlockSize != 0 {
		return false
	}
	block := int(begin / BlockSize)
	if block >= me.numBlocks {
		return false
	}
	if int64(len(b)) != int64(chunkIndexSpec(block, me.length).Length) {
		return false
	}
	if me.present.Contains(uint32(block)) {
		return false
	}
	copy(me.data[begin:], b)
	me.present.Add(uint32(block))
	if int(me.present.GetCardinality()) == me.numBlocks {
		me.complete.SetBool(true)
	}
	return true
}

func (me *PieceBuffer) AllBlocksThere() bool {
	return me.complete.Bool()
}

// Done is closed once every block of the current attempt has arrived.
func (me *PieceBuffer) Done() <-chan struct{} {
	return me.complete.On()
}

func (me *PieceBuffer) BlocksReceived() int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return int(me.present.GetCardinality())
}

func (me *PieceBuffer) Index() (int, bool) {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.index, me.active
}

// Bytes returns a copy of the assembled piece.
func (me *PieceBuffer) Bytes() []byte {
	me.mu.Lock()
	defer me.mu.Unlock()
	return append([]byte(nil), me.data...)
}

// Reset ends the current attempt. Blocks arriving afterwards are rejected.
func (me *PieceBuffer) Reset() {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.active = false
	me.present.Clear()
	me.complete.SetBool(false)
}
