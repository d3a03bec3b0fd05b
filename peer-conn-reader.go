package swarm

import (
	"bufio"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/log"
	"github.com/pkg/errors"

	pp "github.com/anacrolix/torrent/peer_protocol"
)

// Large enough for a bitfield of any reasonable torrent, and for piece messages carrying the
// longest request we make.
const maxMessageLength = 256 << 10

func (p *Peer) readerRunner() {
	err := p.mainReadLoop()
	p.QueueForClosure(errors.Wrap(err, "reading"))
}

func (p *Peer) mainReadLoop() error {
	decoder := pp.Decoder{
		R:         bufio.NewReaderSize(p.conn, 1<<16),
		MaxLength: maxMessageLength,
	}
	first := true
	for {
		var msg pp.Message
		err := decoder.Decode(&msg)
		if err != nil {
			return err
		}
		if p.closed.IsSet() || p.ctx.Err() != nil {
			return nil
		}
		if msg.Keepalive {
			continue
		}
		err = p.onReadMsg(msg, first)
		if err != nil {
			return err
		}
		first = false
	}
}

// A bitfield is only valid as the first message. It may still arrive after admission stopped waiting
// for it.
func (p *Peer) onReadMsg(msg pp.Message, first bool) error {
	switch msg.Type {
	case pp.Bitfield:
		if !first {
			return errors.New("bitfield received after other messages")
		}
		return p.onBitfield(msg.Bitfield)
	case pp.HaveAll:
		if !first {
			return errors.New("have all received after other messages")
		}
		all := roaring.New()
		all.AddRange(0, uint64(p.t.NumPieces()))
		p.setRemotePieces(all)
		p.bitfieldReceived.Set()
		return nil
	}
	// Anything else first means the peer has nothing to advertise.
	p.bitfieldReceived.Set()
	switch msg.Type {
	case pp.Choke:
		p.choke.Choke()
	case pp.Unchoke:
		p.choke.Unchoke()
	case pp.Interested, pp.NotInterested:
		p.mu.Lock()
		p.remoteInterested = msg.Type == pp.Interested
		p.mu.Unlock()
	case pp.Have:
		if int(msg.Index) >= p.t.NumPieces() {
			return fmt.Errorf("have for invalid piece %v", msg.Index)
		}
		p.setRemotePiece(int(msg.Index))
	case pp.HaveNone:
	case pp.Request:
		return p.onRequest(msg)
	case pp.Piece:
		p.onPiece(msg)
	case pp.Cancel:
		// Requests are served as they arrive, so there is never anything to cancel.
	default:
		p.logger.Levelf(log.Debug, "ignoring %v message", msg.Type)
	}
	return nil
}

// The bitfield must have exactly enough bytes for the torrent's pieces, and the spare bits must be
// clear.
func (p *Peer) onBitfield(bf []bool) error {
	numPieces := p.t.NumPieces()
	if len(bf) < numPieces || len(bf)-numPieces >= 8 {
		return fmt.Errorf("bitfield has %v bits for %v pieces", len(bf), numPieces)
	}
	pieces := roaring.New()
	for i, have := range bf {
		if !have {
			continue
		}
		if i >= numPieces {
			return fmt.Errorf("bitfield has spare bit %v set", i)
		}
		pieces.Add(uint32(i))
	}
	p.setRemotePieces(pieces)
	p.bitfieldReceived.Set()
	return nil
}

func (p *Peer) onPiece(msg pp.Message) {
	if !p.buffer.AddBlock(int(msg.Index), msg.Begin, msg.Piece) {
		p.logger.Levelf(log.Debug, "unexpected block %v/%v+%v", msg.Index, msg.Begin, len(msg.Piece))
		return
	}
	n := int64(len(msg.Piece))
	p.downloaded.Add(n)
	p.t.bytesDownloaded.Add(n)
	blocksReceived.Inc()
}

func (p *Peer) onRequest(msg pp.Message) error {
	if p.choking() {
		return nil
	}
	piece := int(msg.Index)
	if piece >= p.t.NumPieces() {
		return fmt.Errorf("request for invalid piece %v", piece)
	}
	if msg.Length == 0 || int(msg.Length) > p.t.config.MaxRequestLength {
		return fmt.Errorf("bad request length %v", msg.Length)
	}
	if int64(msg.Begin)+int64(msg.Length) > p.t.pieceLength(piece) {
		return fmt.Errorf("request %v+%v overruns piece %v", msg.Begin, msg.Length, piece)
	}
	if !p.t.HavePiece(piece) {
		p.logger.Levelf(log.Debug, "request for piece %v we don't have", piece)
		return nil
	}
	b := make([]byte, msg.Length)
	_, err := p.t.readBlock(piece, int64(msg.Begin), b)
	if err != nil {
		p.logger.Levelf(log.Warning, "reading piece %v for upload: %v", piece, err)
		return nil
	}
	p.write(pp.Message{
		Type:  pp.Piece,
		Index: msg.Index,
		Begin: msg.Begin,
		Piece: b,
	})
	n := int64(len(b))
	p.uploaded.Add(n)
	p.t.bytesUploaded.Add(n)
	bytesUploaded.Add(float64(n))
	return nil
}
