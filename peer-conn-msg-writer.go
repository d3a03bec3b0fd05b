package swarm

import (
	"bytes"
	"io"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	pp "github.com/anacrolix/torrent/peer_protocol"
)

func (p *Peer) initMessageWriter(keepAliveTimeout time.Duration) {
	p.writer = peerConnMsgWriter{
		closed:           &p.closed,
		logger:           p.logger,
		w:                p.conn,
		keepAliveTimeout: keepAliveTimeout,
		writeBuffer:      new(bytes.Buffer),
	}
}

func (p *Peer) messageWriterRunner() {
	err := p.writer.run()
	p.QueueForClosure(err)
}

// Serializes all writes to a peer. Messages are buffered by the sender and flushed by a single
// goroutine, so senders never block on the network.
type peerConnMsgWriter struct {
	closed           *chansync.SetOnce
	logger           log.Logger
	w                io.Writer
	keepAliveTimeout time.Duration

	mu        sync.Mutex
	writeCond chansync.BroadcastCond
	// Pointer so we can swap with the "front buffer".
	writeBuffer *bytes.Buffer
}

func (cn *peerConnMsgWriter) run() error {
	lastWrite := time.Now()
	keepAliveTimer := time.NewTimer(cn.keepAliveTimeout)
	defer keepAliveTimer.Stop()
	frontBuf := new(bytes.Buffer)
	for {
		if cn.closed.IsSet() {
			return nil
		}
		cn.mu.Lock()
		if cn.writeBuffer.Len() == 0 && time.Since(lastWrite) >= cn.keepAliveTimeout {
			cn.writeBuffer.Write(pp.Message{Keepalive: true}.MustMarshalBinary())
		}
		if cn.writeBuffer.Len() == 0 {
			writeCond := cn.writeCond.Signaled()
			cn.mu.Unlock()
			select {
			case <-cn.closed.Done():
			case <-writeCond:
			case <-keepAliveTimer.C:
			}
			continue
		}
		// Flip the buffers.
		frontBuf, cn.writeBuffer = cn.writeBuffer, frontBuf
		cn.mu.Unlock()
		_, err := frontBuf.WriteTo(cn.w)
		if err != nil {
			cn.logger.WithDefaultLevel(log.Debug).Printf("error writing: %v", err)
			return err
		}
		lastWrite = time.Now()
		keepAliveTimer.Reset(cn.keepAliveTimeout)
	}
}

func (cn *peerConnMsgWriter) write(msg pp.Message) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.writeBuffer.Write(msg.MustMarshalBinary())
	cn.writeCond.Broadcast()
}
