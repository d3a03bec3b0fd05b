package swarm

import (
	"context"
	"io"
	"net"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"github.com/peerhive/swarm/completion"
)

// Agent runs the engine: it owns the listener, dials discovered peers, admits connections into
// torrent swarms, and persists the pieces they assemble.
type Agent struct {
	config  *Config
	logger  log.Logger
	peerID  PeerID
	manager *Manager
	storage storage.ClientImpl
	// Things we created and must close at shutdown.
	closers []func() error
	// Drops persisted piece completion for removed torrents, if the completion store supports it.
	forgetCompletion func(metainfo.Hash) error

	gate       pauseGate
	candidates asyncQueue[PeerCandidate]
	// Peers and connections to be closed by the close loop.
	closeQueue asyncQueue[io.Closer]
	writes     asyncQueue[pieceWrite]
	halfOpen   *semaphore.Weighted

	mu      sync.Mutex
	running bool
	socket  socket
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func NewAgent(cfg *Config) (a *Agent, err error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.Logger.IsZero() {
		cfg.Logger = log.Default
	}
	if cfg.Debug {
		cfg.Logger = cfg.Logger.WithFilterLevel(log.Debug)
	}
	a = &Agent{
		config:   cfg,
		logger:   cfg.Logger.WithNames("agent"),
		halfOpen: semaphore.NewWeighted(int64(cfg.TotalHalfOpenConns)),
	}
	if cfg.PeerID != "" {
		copy(a.peerID[:], cfg.PeerID)
	} else {
		a.peerID = newPeerID(cfg.Bep20)
	}
	a.manager = NewManager(cfg.Logger)
	a.storage = cfg.DefaultStorage
	if a.storage == nil {
		pc := cfg.PieceCompletion
		if pc == nil {
			pc, err = completion.NewBolt(cfg.DataDir)
			if err != nil {
				a.logger.Levelf(log.Warning, "couldn't open piece completion db in %q: %v", cfg.DataDir, err)
				pc = storage.NewMapPieceCompletion()
			}
		}
		if f, ok := pc.(interface{ Forget(metainfo.Hash) error }); ok {
			a.forgetCompletion = f.Forget
		}
		// Part files would reset completion from file names each time a torrent is opened, losing
		// the pieces of partial downloads.
		fileStorage := storage.NewFileOpts(storage.NewFileClientOpts{
			ClientBaseDir:   cfg.DataDir,
			PieceCompletion: pc,
			UsePartFiles:    g.Some(false),
		})
		a.storage = fileStorage
		// This also closes the piece completion.
		a.closers = append(a.closers, fileStorage.Close)
	}
	// The gate starts open: torrents download as soon as the agent is started.
	a.gate.Resume()
	return a, nil
}

func (a *Agent) PeerID() PeerID {
	return a.peerID
}

func (a *Agent) Manager() *Manager {
	return a.manager
}

// Startup binds the listener and starts the engine's loops. The agent is not started if the listener
// can't be bound.
func (a *Agent) Startup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrAgentRunning
	}
	addr := listenAddr(a.config, "tcp")
	s, err := listenTcp("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %q", addr)
	}
	a.socket = s
	a.ctx, a.cancel = context.WithCancel(context.Background())
	var ctx context.Context
	a.group, ctx = errgroup.WithContext(a.ctx)
	group := a.group
	a.group.Go(func() error { return a.connectLoop(ctx, group) })
	a.group.Go(func() error { return a.acceptLoop(ctx, group) })
	a.group.Go(func() error { return a.closeLoop(ctx) })
	a.group.Go(func() error { return a.writeLoop(ctx) })
	a.group.Go(func() error { return a.manager.runDeadPeerPurger(ctx, a.config.DeadPeerPurgeInterval) })
	a.group.Go(func() error {
		<-ctx.Done()
		return s.Close()
	})
	a.running = true
	a.logger.Levelf(log.Info, "listening on %v as %v", s.Addr(), a.peerID)
	return nil
}

// ShutDown stops every loop, closes all peers, and flushes pending piece writes. Torrents stay
// registered.
func (a *Agent) ShutDown() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return ErrAgentNotRunning
	}
	a.running = false
	a.cancel()
	group := a.group
	a.mu.Unlock()
	err := group.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	for _, t := range a.manager.Torrents() {
		a.detachPeerSource(t)
		for _, p := range t.peersSnapshot() {
			p.Close()
		}
	}
	for {
		c, ok := a.closeQueue.TryDequeue()
		if !ok {
			break
		}
		a.closeQueued(c)
	}
	a.flushWrites()
	a.logger.Levelf(log.Info, "shut down")
	return err
}

// Close shuts down the agent if it's running, then closes all torrent storage.
func (a *Agent) Close() error {
	err := a.ShutDown()
	if errors.Is(err, ErrAgentNotRunning) {
		err = nil
	}
	for _, t := range a.manager.Torrents() {
		t.close()
	}
	for _, f := range a.closers {
		if cerr := f(); cerr != nil && err == nil {
			err = cerr
		}
	}
	a.closers = nil
	return err
}

func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *Agent) ListenAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.socket == nil {
		return nil
	}
	return a.socket.Addr()
}

// ListenPort is the bound port, or the configured one if the agent hasn't started.
func (a *Agent) ListenPort() int {
	if addr, ok := a.ListenAddr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return a.config.ListenPort
}

// AddTorrent registers a torrent, opening its storage and loading pieces verified in a previous run.
func (a *Agent) AddTorrent(mi *metainfo.MetaInfo) (*TorrentContext, error) {
	infoHash := mi.HashInfoBytes()
	if infoHash == (metainfo.Hash{}) {
		return nil, ErrInvalidInfoHash
	}
	if _, ok := a.manager.GetTorrent(infoHash); ok {
		return nil, ErrTorrentExists
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, errors.Wrap(err, "unmarshalling info")
	}
	t, err := newTorrentContext(context.Background(), a.config, infoHash, &info, a.storage)
	if err != nil {
		return nil, err
	}
	t.queueWrite = func(piece int, data []byte) {
		a.queuePieceWrite(t, piece, data)
	}
	err = a.manager.AddTorrent(t)
	if err != nil {
		t.close()
		return nil, err
	}
	if a.gate.Paused() {
		t.setStatus(Paused)
	}
	return t, nil
}

// RemoveTorrent closes the torrent and forgets it, including which of its pieces were verified. A
// removed torrent that's added again starts from nothing.
func (a *Agent) RemoveTorrent(infoHash metainfo.Hash) error {
	t, ok := a.manager.GetTorrent(infoHash)
	if !ok {
		return ErrTorrentNotFound
	}
	a.CloseTorrent(t)
	a.manager.RemoveTorrent(infoHash)
	// No piece writes complete after this.
	t.close()
	if a.forgetCompletion != nil {
		if err := a.forgetCompletion(infoHash); err != nil {
			return errors.Wrap(err, "forgetting piece completion")
		}
	}
	return nil
}

// CloseTorrent stops discovery for the torrent, queues all its peers for closure, and ends it. An
// ended torrent admits no new peers.
func (a *Agent) CloseTorrent(t *TorrentContext) {
	a.detachPeerSource(t)
	t.setStatus(Ended)
	for _, p := range t.peersSnapshot() {
		p.QueueForClosure(errors.New("torrent closed"))
	}
}

// Pause holds every assembly task between pieces until Start.
func (a *Agent) Pause() {
	a.gate.Pause()
	for _, t := range a.manager.Torrents() {
		if t.Status() == Downloading {
			t.setStatus(Paused)
		}
	}
}

func (a *Agent) Start() {
	for _, t := range a.manager.Torrents() {
		if t.Status() == Paused {
			t.setStatus(Downloading)
		}
	}
	a.gate.Resume()
}

// WaitForDownload blocks until every piece of the torrent is local, at which point it is seeding.
func (a *Agent) WaitForDownload(ctx context.Context, t *TorrentContext) error {
	select {
	case <-t.DownloadFinished():
		t.setStatus(Seeding)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddPeers queues candidates for the torrent. They're dialed once the agent is running.
func (a *Agent) AddPeers(t *TorrentContext, cands ...PeerCandidate) {
	for _, c := range cands {
		c.InfoHash = t.infoHash
		a.candidates.Enqueue(c)
	}
}

// AttachPeerSource runs the source for the torrent, replacing any source already attached.
func (a *Agent) AttachPeerSource(t *TorrentContext, src PeerSource) {
	ctx, cancel := context.WithCancel(context.Background())
	as := &attachedSource{
		source: src,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if old := t.setPeerSource(as); old != nil {
		old.stop()
	}
	go func() {
		defer close(as.done)
		err := src.Run(ctx, t, func(cands ...PeerCandidate) {
			a.AddPeers(t, cands...)
		})
		if err != nil {
			t.logger.Levelf(log.Warning, "peer source ended: %v", err)
		}
	}()
}

func (a *Agent) DetachPeerSource(t *TorrentContext) {
	a.detachPeerSource(t)
}

func (a *Agent) detachPeerSource(t *TorrentContext) {
	if old := t.setPeerSource(nil); old != nil {
		old.stop()
	}
}

// Admissions run in the group so that shutting down waits for them.
func (a *Agent) connectLoop(ctx context.Context, group *errgroup.Group) error {
	for {
		c, ok := a.candidates.Dequeue(ctx)
		if !ok {
			return nil
		}
		t, ok := a.manager.GetTorrent(c.InfoHash)
		if !ok {
			a.logger.Levelf(log.Debug, "dropping candidate %v for unknown torrent %v", c, c.InfoHash)
			continue
		}
		key := peerKey(c.IP, c.Port)
		if a.manager.IsDead(key) || t.peer(key) != nil || t.Status() == Ended {
			continue
		}
		if err := a.config.DialRateLimiter.Wait(ctx); err != nil {
			return nil
		}
		if err := a.halfOpen.Acquire(ctx, 1); err != nil {
			return nil
		}
		group.Go(func() error {
			defer a.halfOpen.Release(1)
			a.outgoingConnection(ctx, t, c)
			return nil
		})
	}
}

func (a *Agent) acceptLoop(ctx context.Context, group *errgroup.Group) error {
	for {
		conn, err := a.socket.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			a.logger.Levelf(log.Warning, "accepting connection: %v", err)
			continue
		}
		group.Go(func() error {
			a.incomingConnection(ctx, conn)
			return nil
		})
	}
}

func (a *Agent) closeLoop(ctx context.Context) error {
	for {
		c, ok := a.closeQueue.Dequeue(ctx)
		if !ok {
			return nil
		}
		a.closeQueued(c)
	}
}

func (a *Agent) closeQueued(c io.Closer) {
	err := c.Close()
	closesQueued.Inc()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		a.logger.Levelf(log.Debug, "closing %v: %v", c, err)
	}
}

// Hands a connection that never became a peer to the close loop.
func (a *Agent) queueConnClosure(conn net.Conn) {
	a.closeQueue.Enqueue(conn)
}
