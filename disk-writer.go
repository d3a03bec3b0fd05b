package swarm

import (
	"context"

	"github.com/anacrolix/log"
	"github.com/pkg/errors"
)

// A committed piece on its way to storage.
type pieceWrite struct {
	t     *TorrentContext
	piece int
	data  []byte
}

func (a *Agent) queuePieceWrite(t *TorrentContext, piece int, data []byte) {
	a.writes.Enqueue(pieceWrite{t, piece, data})
}

func (a *Agent) writeLoop(ctx context.Context) error {
	for {
		w, ok := a.writes.Dequeue(ctx)
		if !ok {
			return nil
		}
		a.writePiece(w)
	}
}

// Writes anything still queued. Used at shutdown, once the write loop has stopped.
func (a *Agent) flushWrites() {
	for {
		w, ok := a.writes.TryDequeue()
		if !ok {
			return
		}
		a.writePiece(w)
	}
}

func (a *Agent) writePiece(w pieceWrite) {
	w.t.storageMu.Lock()
	defer w.t.storageMu.Unlock()
	if w.t.closed.IsSet() {
		return
	}
	err := writePieceToStorage(w)
	if err != nil {
		// The data stays pending so the piece can still be uploaded from memory.
		w.t.logger.Levelf(log.Warning, "writing piece %v: %v", w.piece, err)
		return
	}
	w.t.pieceWritten(w.piece)
}

func writePieceToStorage(w pieceWrite) error {
	ps := w.t.pieceStorage(w.piece)
	n, err := ps.WriteAt(w.data, 0)
	if err != nil {
		return errors.Wrap(err, "writing data")
	}
	if n != len(w.data) {
		return errors.Errorf("short write: %v of %v bytes", n, len(w.data))
	}
	return errors.Wrap(ps.MarkComplete(), "marking complete")
}
