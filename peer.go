package swarm

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	pp "github.com/anacrolix/torrent/peer_protocol"
)

// Peer is a connection to a remote peer within one torrent's swarm. It is driven by three goroutines:
// the reader, the message writer, and the assembly task.
type Peer struct {
	t        *TorrentContext
	conn     net.Conn
	ip       string
	port     int
	key      string
	outgoing bool
	logger   log.Logger
	added    time.Time

	PeerID PeerID

	// Whether the remote is choking us.
	choke chokeLatch
	// The first bitfield, or the first message that implies there won't be one.
	bitfieldReceived chansync.SetOnce
	piecesChanged    chansync.BroadcastCond

	mu               sync.RWMutex
	remotePieces     roaring.Bitmap
	sentHaves        roaring.Bitmap
	remoteInterested bool
	weChoking        bool
	weInterested     bool
	state            assemblerState

	buffer PieceBuffer
	writer peerConnMsgWriter

	ctx    context.Context
	cancel context.CancelFunc
	// Set when the peer has been handed to the close queue.
	closeQueued chansync.SetOnce
	closed      chansync.SetOnce
	closeQueue  *asyncQueue[io.Closer]

	downloaded Count
	uploaded   Count
}

func peerKey(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

func newPeer(
	parent context.Context,
	t *TorrentContext,
	conn net.Conn,
	ip string,
	port int,
	outgoing bool,
	closeQueue *asyncQueue[io.Closer],
) *Peer {
	p := &Peer{
		t:          t,
		conn:       conn,
		ip:         ip,
		port:       port,
		key:        peerKey(ip, port),
		outgoing:   outgoing,
		added:      time.Now(),
		weChoking:  true,
		closeQueue: closeQueue,
	}
	p.logger = t.logger.WithNames("peer", p.key)
	p.ctx, p.cancel = context.WithCancel(parent)
	p.initMessageWriter(t.config.KeepAliveTimeout)
	return p
}

func (p *Peer) String() string {
	return p.key
}

// The address the peer is keyed by in its swarm and in the dead peer set.
func (p *Peer) Addr() string {
	return p.key
}

func (p *Peer) Torrent() *TorrentContext {
	return p.t
}

func (p *Peer) HasPiece(piece int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remotePieces.Contains(uint32(piece))
}

func (p *Peer) PiecesChanged() <-chan struct{} {
	return p.piecesChanged.Signaled()
}

// The number of pieces the remote peer has yet to get.
func (p *Peer) RemoteMissing() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.t.NumPieces() - int(p.remotePieces.GetCardinality())
}

func (p *Peer) setRemotePiece(piece int) {
	p.mu.Lock()
	p.remotePieces.Add(uint32(piece))
	p.mu.Unlock()
	p.piecesChanged.Broadcast()
}

func (p *Peer) setRemotePieces(pieces *roaring.Bitmap) {
	p.mu.Lock()
	p.remotePieces.Or(pieces)
	p.mu.Unlock()
	p.piecesChanged.Broadcast()
}

func (p *Peer) sentHave(piece int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sentHaves.Contains(uint32(piece))
}

func (p *Peer) State() assemblerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Peer) setState(s assemblerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.logger.Levelf(log.Debug, "assembler state %v", s)
}

func (p *Peer) write(msg pp.Message) {
	if p.closed.IsSet() {
		return
	}
	p.writer.write(msg)
}

// Haves are only sent once per piece.
func (p *Peer) sendHave(piece int) {
	p.mu.Lock()
	if p.sentHaves.Contains(uint32(piece)) {
		p.mu.Unlock()
		return
	}
	p.sentHaves.Add(uint32(piece))
	p.mu.Unlock()
	p.write(pp.Message{Type: pp.Have, Index: pp.Integer(piece)})
}

func (p *Peer) sendBitfield(local *roaring.Bitmap) {
	bf := make([]bool, p.t.NumPieces())
	it := local.Iterator()
	for it.HasNext() {
		bf[it.Next()] = true
	}
	p.write(pp.Message{Type: pp.Bitfield, Bitfield: bf})
}

func (p *Peer) sendInterested(interested bool) {
	p.mu.Lock()
	p.weInterested = interested
	p.mu.Unlock()
	if interested {
		p.write(pp.Message{Type: pp.Interested})
	} else {
		p.write(pp.Message{Type: pp.NotInterested})
	}
}

func (p *Peer) sendChoke(choke bool) {
	p.mu.Lock()
	p.weChoking = choke
	p.mu.Unlock()
	if choke {
		p.write(pp.Message{Type: pp.Choke})
	} else {
		p.write(pp.Message{Type: pp.Unchoke})
	}
}

func (p *Peer) choking() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.weChoking
}

func (p *Peer) sendRequest(piece int, cs chunkSpec) {
	p.write(pp.Message{
		Type:   pp.Request,
		Index:  pp.Integer(piece),
		Begin:  cs.Begin,
		Length: cs.Length,
	})
}

func (p *Peer) startConnGoroutines() {
	go p.messageWriterRunner()
	go p.readerRunner()
}

// QueueForClosure stops the peer's goroutines and hands it to the close queue. Safe to call from
// any goroutine, any number of times.
func (p *Peer) QueueForClosure(err error) {
	if !p.closeQueued.Set() {
		return
	}
	if err != nil {
		p.logger.Levelf(log.Debug, "closing: %v", err)
	}
	p.cancel()
	p.closeQueue.Enqueue(p)
}

// Close releases the connection and removes the peer from its swarm.
func (p *Peer) Close() error {
	if !p.closed.Set() {
		return nil
	}
	p.cancel()
	err := p.conn.Close()
	if p.t.removePeer(p) {
		if f := p.t.config.Callbacks.PeerClosed; f != nil {
			f(p.t.infoHash, p.key)
		}
	}
	p.setState(assemblerClosed)
	p.logger.Levelf(log.Debug, "closed")
	return err
}
