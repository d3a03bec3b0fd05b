package testutil

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anacrolix/torrent/metainfo"
	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/peerhive/swarm/wire"
)

// FakePeerConfig scripts a FakePeer's behaviour.
type FakePeerConfig struct {
	Torrent Torrent
	// Pieces advertised in the bitfield and served on request.
	Have []int
	// Pieces whose first delivery has a corrupted block.
	CorruptOnce []int
	// Choke the downloader after serving this many blocks. Zero never chokes.
	ChokeAfterBlocks int
	// Keep the downloader choked for the whole connection.
	NeverUnchoke bool
	PeerID       [20]byte
}

// FakePeer is a remote peer that seeds some pieces of a torrent. It accepts connections on a
// loopback listener and records every request it receives.
type FakePeer struct {
	t   testing.TB
	cfg FakePeerConfig
	l   net.Listener

	mu         sync.Mutex
	have       map[int]bool
	corrupt    map[int]bool
	requests   []pp.Message
	blocksSent int
	conns      []net.Conn
	accepted   int
	closed     bool
}

func NewFakePeer(t testing.TB, cfg FakePeerConfig) *FakePeer {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	if cfg.PeerID == ([20]byte{}) {
		copy(cfg.PeerID[:], "-FK0001-fakepeer....")
	}
	me := &FakePeer{
		t:       t,
		cfg:     cfg,
		l:       l,
		have:    make(map[int]bool),
		corrupt: make(map[int]bool),
	}
	for _, i := range cfg.Have {
		me.have[i] = true
	}
	for _, i := range cfg.CorruptOnce {
		me.corrupt[i] = true
	}
	go me.acceptLoop()
	t.Cleanup(me.Close)
	return me
}

// HaveAll lists every piece of the torrent, for FakePeerConfig.Have.
func HaveAll(t Torrent) (ret []int) {
	for i := range t.Info.NumPieces() {
		ret = append(ret, i)
	}
	return
}

func (me *FakePeer) Addr() (ip string, port int) {
	addr := me.l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (me *FakePeer) AddrString() string {
	ip, port := me.Addr()
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

func (me *FakePeer) Close() {
	me.mu.Lock()
	me.closed = true
	conns := me.conns
	me.conns = nil
	me.mu.Unlock()
	me.l.Close()
	for _, c := range conns {
		c.Close()
	}
}

// Requests returns the request messages received so far, across all connections.
func (me *FakePeer) Requests() []pp.Message {
	me.mu.Lock()
	defer me.mu.Unlock()
	return append([]pp.Message(nil), me.requests...)
}

// RequestedPieces is the set of piece indexes that were requested at least once.
func (me *FakePeer) RequestedPieces() map[int]bool {
	ret := make(map[int]bool)
	for _, r := range me.Requests() {
		ret[int(r.Index)] = true
	}
	return ret
}

// Accepted is the number of connections that got as far as the handshake.
func (me *FakePeer) Accepted() int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.accepted
}

func (me *FakePeer) acceptLoop() {
	for {
		conn, err := me.l.Accept()
		if err != nil {
			return
		}
		go me.serve(conn, nil)
	}
}

// Connect dials an engine and seeds to it, as a peer discovered by the engine's listener would.
func (me *FakePeer) Connect(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	ih := me.cfg.Torrent.InfoHash()
	go me.serve(conn, &ih)
	return nil
}

func (me *FakePeer) trackConn(conn net.Conn) bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.closed {
		return false
	}
	me.conns = append(me.conns, conn)
	return true
}

func (me *FakePeer) serve(conn net.Conn, ih *metainfo.Hash) {
	defer conn.Close()
	if !me.trackConn(conn) {
		return
	}
	want := me.cfg.Torrent.InfoHash()
	_, err := wire.Handshake(conn, ih, me.cfg.PeerID, pp.PeerExtensionBits{}, func(h metainfo.Hash) bool {
		return h == want
	})
	if err != nil {
		return
	}
	me.mu.Lock()
	me.accepted++
	me.mu.Unlock()
	var writeMu sync.Mutex
	write := func(msg pp.Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err := conn.Write(msg.MustMarshalBinary())
		return err
	}
	bf := make([]bool, me.cfg.Torrent.Info.NumPieces())
	for i := range bf {
		bf[i] = me.hasPiece(i)
	}
	if write(pp.Message{Type: pp.Bitfield, Bitfield: bf}) != nil {
		return
	}
	if !me.cfg.NeverUnchoke && write(pp.Message{Type: pp.Unchoke}) != nil {
		return
	}
	d := pp.Decoder{
		R:         bufio.NewReader(conn),
		MaxLength: 1 << 20,
	}
	for {
		var msg pp.Message
		err := d.Decode(&msg)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				me.t.Logf("fake peer decoding: %v", err)
			}
			return
		}
		if msg.Keepalive || msg.Type != pp.Request {
			continue
		}
		reply, ok := me.onRequest(msg)
		if !ok {
			continue
		}
		if write(reply) != nil {
			return
		}
	}
}

func (me *FakePeer) hasPiece(piece int) bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.have[piece]
}

// Returns the message to send in response to a request, if any.
func (me *FakePeer) onRequest(req pp.Message) (reply pp.Message, ok bool) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.requests = append(me.requests, req)
	piece := int(req.Index)
	if !me.have[piece] {
		return
	}
	if me.cfg.ChokeAfterBlocks != 0 && me.blocksSent >= me.cfg.ChokeAfterBlocks {
		if me.blocksSent == me.cfg.ChokeAfterBlocks {
			// Count the choke so it's only sent once.
			me.blocksSent++
			return pp.Message{Type: pp.Choke}, true
		}
		return
	}
	data := me.cfg.Torrent.PieceData(piece)
	begin := int(req.Begin)
	end := begin + int(req.Length)
	if end > len(data) {
		return
	}
	block := append([]byte(nil), data[begin:end]...)
	if me.corrupt[piece] && begin == 0 {
		delete(me.corrupt, piece)
		block[0] ^= 0xff
	}
	me.blocksSent++
	return pp.Message{
		Type:  pp.Piece,
		Index: req.Index,
		Begin: req.Begin,
		Piece: block,
	}, true
}
