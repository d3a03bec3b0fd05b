package swarm

import (
	"context"
	"fmt"
	"time"

	"github.com/anacrolix/log"
	"github.com/pkg/errors"
)

type assemblerState int

const (
	assemblerAwaitingBitfield assemblerState = iota
	assemblerDownloading
	assemblerServing
	assemblerClosed
)

func (me assemblerState) String() string {
	switch me {
	case assemblerAwaitingBitfield:
		return "awaiting bitfield"
	case assemblerDownloading:
		return "downloading"
	case assemblerServing:
		return "serving"
	case assemblerClosed:
		return "closed"
	default:
		return fmt.Sprintf("assemblerState(%d)", int(me))
	}
}

var errRemoteComplete = errors.New("neither side needs anything from the other")

// Drives one peer: pulls pieces from the torrent's selector and requests their blocks until the
// download is finished, then leaves the peer to be served by its reader.
type assembler struct {
	agent *Agent
	t     *TorrentContext
	p     *Peer
}

func (me *assembler) run() {
	err := me.runErr(me.p.ctx)
	if err != nil && me.p.ctx.Err() == nil {
		me.p.logger.Levelf(log.Debug, "assembler ended: %v", err)
	}
	me.p.QueueForClosure(err)
}

func (me *assembler) runErr(ctx context.Context) error {
	p := me.p
	p.setState(assemblerAwaitingBitfield)
	select {
	case <-p.bitfieldReceived.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	for _, piece := range me.t.localPieceSuggestions(p, me.agent.config.HaveSuggestions) {
		p.sendHave(piece)
	}
	if !me.t.downloadFinished.IsSet() {
		p.setState(assemblerDownloading)
		if err := me.download(ctx); err != nil {
			return err
		}
	}
	p.setState(assemblerServing)
	return me.serve(ctx)
}

// Finishes without error if the download completes through other peers, even while this peer
// is choking us or the agent is paused.
func (me *assembler) download(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-me.t.DownloadFinished():
			cancel()
		case <-ctx.Done():
		}
	}()
	err := me.downloadPieces(ctx)
	if me.t.downloadFinished.IsSet() && me.p.ctx.Err() == nil {
		return nil
	}
	return err
}

func (me *assembler) downloadPieces(ctx context.Context) error {
	p := me.p
	p.sendChoke(false)
	p.sendInterested(true)
	for {
		if err := p.choke.WaitUnchoked(ctx); err != nil {
			return err
		}
		if err := me.agent.gate.Wait(ctx); err != nil {
			return err
		}
		piece := me.t.selector.NextPiece(ctx, p)
		if !piece.Ok {
			// The selector only closes when the download finishes.
			return ctx.Err()
		}
		if err := me.assemblePiece(ctx, piece.Value); err != nil {
			return err
		}
	}
}

// Requests every block of the piece and waits for them. Whatever happens, the piece ends up either
// committed or back in the selector.
func (me *assembler) assemblePiece(ctx context.Context, piece int) error {
	p := me.p
	length := me.t.pieceLength(piece)
	p.buffer.Start(piece, length)
	defer p.buffer.Reset()
	defer me.finishPiece(piece)
	for i := range numChunks(length) {
		if p.choke.Choked() {
			p.logger.Levelf(log.Debug, "choked while requesting piece %v", piece)
			return nil
		}
		p.sendRequest(piece, chunkIndexSpec(i, length))
	}
	timer := time.NewTimer(me.agent.config.PieceTimeout)
	defer timer.Stop()
	select {
	case <-p.buffer.Done():
	case <-p.choke.OnChoke():
		p.logger.Levelf(log.Debug, "choked while waiting for piece %v", piece)
	case <-timer.C:
		p.logger.Levelf(log.Debug, "timed out waiting for piece %v", piece)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (me *assembler) finishPiece(piece int) {
	if me.p.buffer.AllBlocksThere() {
		data := me.p.buffer.Bytes()
		if me.t.checkPieceHash(piece, data) {
			if me.t.commitPiece(piece, data) {
				me.p.logger.Levelf(log.Debug, "committed piece %v", piece)
			}
			return
		}
		me.p.logger.Levelf(log.Info, "piece %v failed hash check", piece)
	}
	me.t.selector.PutBack(piece)
	piecesRequeued.Inc()
}

// Nothing is requested while serving: the reader answers the remote's requests. The peer is dropped
// once it has every piece too.
func (me *assembler) serve(ctx context.Context) error {
	p := me.p
	p.sendInterested(false)
	p.sendChoke(false)
	for {
		changed := p.PiecesChanged()
		if p.RemoteMissing() == 0 {
			return errRemoteComplete
		}
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}
