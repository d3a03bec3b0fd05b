package swarm

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/anacrolix/log"
	"github.com/pkg/errors"

	"github.com/anacrolix/torrent/metainfo"
	pp "github.com/anacrolix/torrent/peer_protocol"

	"github.com/peerhive/swarm/wire"
)

var errConnectedToSelf = errors.New("connected to self")

func (a *Agent) outgoingConnection(ctx context.Context, t *TorrentContext, c PeerCandidate) {
	key := peerKey(c.IP, c.Port)
	dialCtx, cancel := context.WithTimeout(ctx, a.config.NominalDialTimeout)
	conn, err := a.socket.dial(dialCtx, key)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		unsuccessfulDials.Inc()
		a.manager.MarkDead(key)
		a.logger.Levelf(log.Debug, "dialing %v: %v", key, err)
		return
	}
	err = a.admitPeer(ctx, conn, t, c.IP, c.Port)
	if err != nil {
		a.logger.Levelf(log.Debug, "admitting outgoing peer %v: %v", key, err)
	}
}

func (a *Agent) incomingConnection(ctx context.Context, conn net.Conn) {
	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		a.queueConnClosure(conn)
		return
	}
	port, _ := strconv.Atoi(portStr)
	err = a.admitPeer(ctx, conn, nil, host, port)
	if err != nil {
		a.logger.Levelf(log.Debug, "admitting incoming peer %v: %v", conn.RemoteAddr(), err)
	}
}

func admissionOutcome(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, ErrDeadPeer):
		return "dead"
	case errors.Is(err, ErrSwarmFull):
		return "full"
	case errors.Is(err, ErrDuplicatePeer):
		return "duplicate"
	case errors.Is(err, ErrTorrentEnded):
		return "ended"
	case errors.Is(err, wire.ErrUnknownInfoHash):
		return "unknown torrent"
	default:
		return "failed"
	}
}

// admitPeer takes a fresh connection through the handshake and into the torrent's swarm, then starts
// the peer's goroutines. t is nil for incoming connections, where the handshake names the torrent.
// On failure the connection is queued for closure.
func (a *Agent) admitPeer(ctx context.Context, conn net.Conn, t *TorrentContext, ip string, port int) (err error) {
	key := peerKey(ip, port)
	outgoing := t != nil
	defer func() {
		peerAdmissions.WithLabelValues(admissionOutcome(err)).Inc()
	}()
	if a.manager.IsDead(key) {
		a.queueConnClosure(conn)
		return ErrDeadPeer
	}
	res, err := a.handshake(ctx, conn, t)
	if err != nil {
		a.queueConnClosure(conn)
		if outgoing && ctx.Err() == nil {
			a.manager.MarkDead(key)
		}
		return errors.Wrap(err, "handshaking")
	}
	if res.PeerID == a.peerID {
		a.queueConnClosure(conn)
		return errConnectedToSelf
	}
	if t == nil {
		var ok bool
		t, ok = a.manager.GetTorrent(res.Hash)
		if !ok {
			a.queueConnClosure(conn)
			return wire.ErrUnknownInfoHash
		}
	}
	p := newPeer(ctx, t, conn, ip, port, outgoing, &a.closeQueue)
	p.PeerID = res.PeerID
	err = t.addPeer(p)
	if err != nil {
		p.QueueForClosure(err)
		return err
	}
	p.startConnGoroutines()
	p.sendBitfield(t.localPiecesCopy())
	a.waitForBitfield(p)
	for _, piece := range t.localPieceSuggestions(p, a.config.HaveSuggestions) {
		p.sendHave(piece)
	}
	p.sendInterested(false)
	p.sendChoke(false)
	if err := p.ctx.Err(); err != nil {
		// The peer failed, or the agent is shutting down.
		p.QueueForClosure(err)
		return errors.Wrap(err, "admitting")
	}
	p.logger.Levelf(log.Debug, "admitted (outgoing=%v, %v)", outgoing, p.PeerID)
	if f := a.config.Callbacks.PeerAdmitted; f != nil {
		f(t.infoHash, key)
	}
	go (&assembler{agent: a, t: t, p: p}).run()
	return nil
}

// Peers that have nothing may not send a bitfield at all. After the timeout the peer is taken to
// have no pieces.
func (a *Agent) waitForBitfield(p *Peer) {
	timer := time.NewTimer(a.config.BitfieldTimeout)
	defer timer.Stop()
	select {
	case <-p.bitfieldReceived.Done():
	case <-timer.C:
		p.logger.Levelf(log.Debug, "no bitfield after %v", a.config.BitfieldTimeout)
		p.bitfieldReceived.Set()
	case <-p.ctx.Done():
	}
}

func (a *Agent) handshake(ctx context.Context, conn net.Conn, t *TorrentContext) (res wire.HandshakeResult, err error) {
	err = conn.SetDeadline(time.Now().Add(a.config.HandshakesTimeout))
	if err != nil {
		return
	}
	// Shutting down shouldn't wait out the handshake timeout.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()
	var ih *metainfo.Hash
	if t != nil {
		ih = &t.infoHash
	}
	res, err = wire.Handshake(conn, ih, a.peerID, pp.PeerExtensionBits{}, func(h metainfo.Hash) bool {
		t, ok := a.manager.GetTorrent(h)
		return ok && t.Status() != Ended
	})
	if err != nil {
		return
	}
	err = conn.SetDeadline(time.Time{})
	return
}
