package swarm

import (
	"bytes"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/go-quicktest/qt"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"github.com/peerhive/swarm/internal/testutil"
)

func newTestAgent(t testing.TB, cfg *Config) *Agent {
	if cfg == nil {
		cfg = TestingConfig(t)
	}
	a, err := NewAgent(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Startup())
	t.Cleanup(func() { a.Close() })
	return a
}

func addFakePeer(a *Agent, tc *TorrentContext, fp *testutil.FakePeer) {
	ip, port := fp.Addr()
	a.AddPeers(tc, PeerCandidate{IP: ip, Port: port})
}

func waitForDownload(t testing.TB, a *Agent, tc *TorrentContext) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.WaitForDownload(ctx, tc))
}

func pendingWriteCount(tc *TorrentContext) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.pendingWrites)
}

func requireTorrentData(t testing.TB, tc *TorrentContext, tt testutil.Torrent) {
	for i := range tt.Info.NumPieces() {
		want := tt.PieceData(i)
		b := make([]byte, len(want))
		_, err := tc.readBlock(i, 0, b)
		require.NoError(t, err)
		require.Equal(t, want, b, "piece %v", i)
	}
}

// Storage that already holds every piece of the torrent.
func seededStorage(t testing.TB, tt testutil.Torrent) storage.ClientImpl {
	cl := newTestStorage(t)
	ti, err := cl.OpenTorrent(context.Background(), tt.Info, tt.InfoHash())
	require.NoError(t, err)
	for i := range tt.Info.NumPieces() {
		ps := ti.Piece(tt.Info.Piece(i))
		_, err := ps.WriteAt(tt.PieceData(i), 0)
		require.NoError(t, err)
		require.NoError(t, ps.MarkComplete())
	}
	return cl
}

func TestDownloadFromPartialPeer(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, 2*BlockSize, 8*BlockSize)
	fp := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent: tt,
		Have:    []int{0, 1, 3},
	})
	a := newTestAgent(t, nil)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	addFakePeer(a, tc, fp)
	require.Eventually(t, func() bool { return tc.MissingPieces() == 1 }, 10*time.Second, time.Millisecond)
	assert.False(t, tc.HavePiece(2))
	assert.False(t, fp.RequestedPieces()[2])
	assert.Equal(t, 1, tc.selector.Len())
	assert.False(t, tc.selector.Completed())
	assert.Equal(t, Downloading, tc.Status())
	select {
	case <-tc.DownloadFinished():
		t.Fatal("download finished")
	default:
	}

	details, err := a.GetTorrentDetails(tt.InfoHash())
	require.NoError(t, err)
	assert.Equal(t, 1, details.MissingPieces)
	assert.Equal(t, 4, details.NumPieces)
	assert.EqualValues(t, 6*BlockSize, details.Downloaded)
	assert.EqualValues(t, 0, details.Uploaded)
	assert.Equal(t, 1, details.SwarmSize)
	assert.Equal(t, 0, details.DeadPeers)
	require.Len(t, details.Peers, 1)
	pd := details.Peers[0]
	assert.Equal(t, fp.AddrString(), pd.Addr)
	assert.True(t, pd.Outgoing)
	assert.Equal(t, 1, pd.RemoteMissing)
	assert.EqualValues(t, 6*BlockSize, pd.Downloaded)
	assert.Equal(t, assemblerDownloading.String(), pd.State)

	_, err = a.GetTorrentDetails(metainfo.Hash{1})
	assert.ErrorIs(t, err, ErrTorrentNotFound)
}

func TestHashFailureRequeuesPiece(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, 2*BlockSize, 4*BlockSize)
	fp := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent:     tt,
		Have:        testutil.HaveAll(tt),
		CorruptOnce: []int{1},
	})
	cfg := TestingConfig(t)
	var mu sync.Mutex
	hashes := make(map[int][]bool)
	cfg.Callbacks.PieceHashed = func(_ metainfo.Hash, piece int, correct bool) {
		mu.Lock()
		defer mu.Unlock()
		hashes[piece] = append(hashes[piece], correct)
	}
	var statuses []TorrentStatus
	cfg.Callbacks.StatusChanged = func(_ metainfo.Hash, s TorrentStatus) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, s)
	}
	a := newTestAgent(t, cfg)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	addFakePeer(a, tc, fp)
	waitForDownload(t, a, tc)
	assert.Equal(t, 0, tc.MissingPieces())
	assert.Equal(t, Seeding, tc.Status())
	mu.Lock()
	assert.Equal(t, map[int][]bool{0: {true}, 1: {false, true}}, hashes)
	assert.Equal(t, []TorrentStatus{Seeding}, statuses)
	mu.Unlock()
	requireTorrentData(t, tc, tt)
	assert.True(t, tc.selector.Completed())
}

func TestChokeMidPieceRequeuesOnce(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, 4*BlockSize, 4*BlockSize)
	choker := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent:          tt,
		Have:             testutil.HaveAll(tt),
		ChokeAfterBlocks: 2,
	})
	a := newTestAgent(t, nil)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	requeuedBefore := promtestutil.ToFloat64(piecesRequeued)
	addFakePeer(a, tc, choker)
	require.Eventually(t, func() bool {
		return promtestutil.ToFloat64(piecesRequeued)-requeuedBefore == 1
	}, 10*time.Second, time.Millisecond)
	assert.Equal(t, 1, tc.selector.Len())
	assert.Equal(t, 1, tc.MissingPieces())
	assert.False(t, tc.HavePiece(0))

	seeder := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent: tt,
		Have:    testutil.HaveAll(tt),
	})
	addFakePeer(a, tc, seeder)
	waitForDownload(t, a, tc)
	assert.EqualValues(t, 1, promtestutil.ToFloat64(piecesRequeued)-requeuedBefore)
	requireTorrentData(t, tc, tt)
}

func TestSwarmSizeLimit(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 2*BlockSize)
	cfg := TestingConfig(t)
	cfg.MaxSwarmSize = 2
	var admitted atomic.Int32
	cfg.Callbacks.PeerAdmitted = func(metainfo.Hash, string) {
		admitted.Add(1)
	}
	a := newTestAgent(t, cfg)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	closesBefore := promtestutil.ToFloat64(closesQueued)
	var fps []*testutil.FakePeer
	for range 3 {
		// Peers with nothing stay in the swarm indefinitely.
		fp := testutil.NewFakePeer(t, testutil.FakePeerConfig{Torrent: tt})
		fps = append(fps, fp)
		addFakePeer(a, tc, fp)
	}
	require.Eventually(t, func() bool {
		n := 0
		for _, fp := range fps {
			n += fp.Accepted()
		}
		return n == 3
	}, 10*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return admitted.Load() == 2 }, 10*time.Second, time.Millisecond)
	require.Never(t, func() bool { return tc.SwarmSize() != 2 || admitted.Load() != 2 }, 100*time.Millisecond, 10*time.Millisecond)
	// The rejected connection is handed to the close loop.
	require.Eventually(t, func() bool {
		return promtestutil.ToFloat64(closesQueued)-closesBefore == 1
	}, 10*time.Second, time.Millisecond)
	// Full swarms aren't a reason to give up on a peer.
	assert.Equal(t, 0, a.Manager().DeadPeerCount())
	assert.Equal(t, Downloading, tc.Status())
}

func TestDeadPeerNotDialedUntilPurged(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 2*BlockSize)
	fp := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent: tt,
		Have:    testutil.HaveAll(tt),
	})
	a := newTestAgent(t, nil)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	a.Manager().MarkDead(fp.AddrString())
	addFakePeer(a, tc, fp)
	require.Never(t, func() bool { return fp.Accepted() != 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 0, tc.SwarmSize())
	assert.Equal(t, 1, a.Manager().PurgeDeadPeers())
	addFakePeer(a, tc, fp)
	waitForDownload(t, a, tc)
	requireTorrentData(t, tc, tt)
}

func TestFailedDialMarksPeerDead(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	l.Close()
	tt := testutil.RandomDataTorrent(t, BlockSize, BlockSize)
	a := newTestAgent(t, nil)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	a.AddPeers(tc, PeerCandidate{IP: "127.0.0.1", Port: addr.Port})
	require.Eventually(t, func() bool {
		return a.Manager().IsDead(addr.String())
	}, 10*time.Second, time.Millisecond)
	details, err := a.GetTorrentDetails(tt.InfoHash())
	require.NoError(t, err)
	assert.Equal(t, 1, details.DeadPeers)
	// Stalled torrents keep downloading.
	assert.Equal(t, Downloading, details.Status)
}

func TestIncomingPeer(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, 2*BlockSize, 5*BlockSize+123)
	fp := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent: tt,
		Have:    testutil.HaveAll(tt),
	})
	a := newTestAgent(t, nil)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	require.NoError(t, fp.Connect(a.ListenAddr().String()))
	waitForDownload(t, a, tc)
	requireTorrentData(t, tc, tt)
	assert.EqualValues(t, tt.Info.TotalLength(), tc.bytesDownloaded.Int64())
}

func TestIncomingPeerForUnknownTorrent(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, BlockSize)
	fp := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent: tt,
		Have:    testutil.HaveAll(tt),
	})
	a := newTestAgent(t, nil)
	require.NoError(t, fp.Connect(a.ListenAddr().String()))
	require.Never(t, func() bool { return fp.Accepted() != 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestAgentToAgent(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, 2*BlockSize, 7*BlockSize)
	seederCfg := TestingConfig(t)
	seederCfg.DefaultStorage = seededStorage(t, tt)
	seeder := newTestAgent(t, seederCfg)
	seederTorrent, err := seeder.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	require.Equal(t, Seeding, seederTorrent.Status())
	require.Equal(t, 0, seederTorrent.MissingPieces())

	leecher := newTestAgent(t, nil)
	leecherTorrent, err := leecher.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	leecher.AddPeers(leecherTorrent, PeerCandidate{IP: "127.0.0.1", Port: seeder.ListenPort()})
	waitForDownload(t, leecher, leecherTorrent)
	requireTorrentData(t, leecherTorrent, tt)
	assert.EqualValues(t, tt.Info.TotalLength(), seederTorrent.bytesUploaded.Int64())
	// Neither side needs the other any more.
	require.Eventually(t, func() bool {
		return seederTorrent.SwarmSize() == 0 && leecherTorrent.SwarmSize() == 0
	}, 10*time.Second, time.Millisecond)
}

func TestResumeAfterRestart(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 3*BlockSize)
	fp := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent: tt,
		Have:    testutil.HaveAll(tt),
	})
	cfg := TestingConfig(t)
	a, err := NewAgent(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Startup())
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	addFakePeer(a, tc, fp)
	waitForDownload(t, a, tc)
	require.NoError(t, a.Close())
	assert.Equal(t, 0, pendingWriteCount(tc))

	cfg2 := TestingConfig(t)
	cfg2.DataDir = cfg.DataDir
	a = newTestAgent(t, cfg2)
	tc, err = a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	assert.Equal(t, Seeding, tc.Status())
	assert.Equal(t, 0, tc.MissingPieces())
	requireTorrentData(t, tc, tt)
}

func TestResumePartialDownloadAfterRestart(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 4*BlockSize)
	partial := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent: tt,
		Have:    []int{0, 2},
	})
	cfg := TestingConfig(t)
	a, err := NewAgent(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Startup())
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	addFakePeer(a, tc, partial)
	require.Eventually(t, func() bool { return tc.MissingPieces() == 2 }, 10*time.Second, time.Millisecond)
	require.NoError(t, a.Close())
	assert.Equal(t, 0, pendingWriteCount(tc))

	cfg2 := TestingConfig(t)
	cfg2.DataDir = cfg.DataDir
	a = newTestAgent(t, cfg2)
	tc, err = a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	assert.Equal(t, Downloading, tc.Status())
	assert.Equal(t, 2, tc.MissingPieces())
	assert.True(t, tc.HavePiece(0))
	assert.True(t, tc.HavePiece(2))
	assert.Equal(t, 2, tc.selector.Len())

	seeder := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent: tt,
		Have:    testutil.HaveAll(tt),
	})
	addFakePeer(a, tc, seeder)
	waitForDownload(t, a, tc)
	requested := seeder.RequestedPieces()
	assert.False(t, requested[0])
	assert.False(t, requested[2])
	assert.True(t, requested[1])
	assert.True(t, requested[3])
	requireTorrentData(t, tc, tt)
}

func TestChokingPeerLeftWhenDownloadFinishes(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 2*BlockSize)
	choker := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent:      tt,
		Have:         testutil.HaveAll(tt),
		NeverUnchoke: true,
	})
	a := newTestAgent(t, nil)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	addFakePeer(a, tc, choker)
	require.Eventually(t, func() bool {
		p := tc.peer(choker.AddrString())
		return p != nil && p.State() == assemblerDownloading
	}, 10*time.Second, time.Millisecond)

	seeder := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent: tt,
		Have:    testutil.HaveAll(tt),
	})
	addFakePeer(a, tc, seeder)
	waitForDownload(t, a, tc)
	// Both peers are complete, so once the choked task stops waiting, both are dropped.
	require.Eventually(t, func() bool { return tc.SwarmSize() == 0 }, 10*time.Second, time.Millisecond)
	assert.Empty(t, choker.Requests())
}

func TestPauseAndStart(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 3*BlockSize)
	fp := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent: tt,
		Have:    testutil.HaveAll(tt),
	})
	a := newTestAgent(t, nil)
	a.Pause()
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	assert.Equal(t, Paused, tc.Status())
	addFakePeer(a, tc, fp)
	require.Eventually(t, func() bool { return tc.SwarmSize() == 1 }, 10*time.Second, time.Millisecond)
	require.Never(t, func() bool { return len(fp.Requests()) != 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 3, tc.MissingPieces())
	a.Start()
	assert.Equal(t, Downloading, tc.Status())
	waitForDownload(t, a, tc)
	assert.Equal(t, Seeding, tc.Status())
	// Seeding torrents aren't paused.
	a.Pause()
	assert.Equal(t, Seeding, tc.Status())
}

func TestCloseTorrent(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 2*BlockSize)
	fp := testutil.NewFakePeer(t, testutil.FakePeerConfig{Torrent: tt})
	var closed atomic.Int32
	cfg := TestingConfig(t)
	cfg.Callbacks.PeerClosed = func(metainfo.Hash, string) {
		closed.Add(1)
	}
	a := newTestAgent(t, cfg)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	addFakePeer(a, tc, fp)
	require.Eventually(t, func() bool { return tc.SwarmSize() == 1 }, 10*time.Second, time.Millisecond)
	a.CloseTorrent(tc)
	assert.Equal(t, Ended, tc.Status())
	require.Eventually(t, func() bool { return tc.SwarmSize() == 0 }, 10*time.Second, time.Millisecond)
	assert.EqualValues(t, 1, closed.Load())

	// Ended torrents admit nobody, in either direction.
	late := testutil.NewFakePeer(t, testutil.FakePeerConfig{Torrent: tt})
	addFakePeer(a, tc, late)
	require.NoError(t, late.Connect(a.ListenAddr().String()))
	require.Never(t, func() bool { return late.Accepted() != 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 0, tc.SwarmSize())
}

func TestAddRemoveTorrent(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 2*BlockSize)
	fp := testutil.NewFakePeer(t, testutil.FakePeerConfig{Torrent: tt})
	a := newTestAgent(t, nil)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	_, err = a.AddTorrent(tt.MetaInfo)
	assert.ErrorIs(t, err, ErrTorrentExists)
	addFakePeer(a, tc, fp)
	require.Eventually(t, func() bool { return tc.SwarmSize() == 1 }, 10*time.Second, time.Millisecond)
	require.NoError(t, a.RemoveTorrent(tt.InfoHash()))
	assert.ErrorIs(t, a.RemoveTorrent(tt.InfoHash()), ErrTorrentNotFound)
	_, err = a.GetTorrentDetails(tt.InfoHash())
	assert.ErrorIs(t, err, ErrTorrentNotFound)
	require.Eventually(t, func() bool { return tc.SwarmSize() == 0 }, 10*time.Second, time.Millisecond)
	// It can be added again.
	tc, err = a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	assert.Equal(t, Downloading, tc.Status())
}

func TestRemoveTorrentForgetsCompletion(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 2*BlockSize)
	fp := testutil.NewFakePeer(t, testutil.FakePeerConfig{
		Torrent: tt,
		Have:    testutil.HaveAll(tt),
	})
	a := newTestAgent(t, nil)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	addFakePeer(a, tc, fp)
	waitForDownload(t, a, tc)
	require.Eventually(t, func() bool { return pendingWriteCount(tc) == 0 }, 10*time.Second, time.Millisecond)
	require.NoError(t, a.RemoveTorrent(tt.InfoHash()))

	tc, err = a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	assert.Equal(t, Downloading, tc.Status())
	assert.Equal(t, 2, tc.MissingPieces())
	assert.False(t, tc.HavePiece(0))
}

func TestAgentLifecycle(t *testing.T) {
	a, err := NewAgent(TestingConfig(t))
	qt.Assert(t, qt.IsNil(err))
	defer a.Close()
	qt.Assert(t, qt.IsFalse(a.Running()))
	qt.Assert(t, qt.ErrorIs(a.ShutDown(), ErrAgentNotRunning))
	qt.Assert(t, qt.IsNil(a.Startup()))
	qt.Assert(t, qt.IsTrue(a.Running()))
	qt.Assert(t, qt.Not(qt.Equals(a.ListenPort(), 0)))
	qt.Assert(t, qt.ErrorIs(a.Startup(), ErrAgentRunning))
	qt.Assert(t, qt.IsNil(a.ShutDown()))
	qt.Assert(t, qt.IsFalse(a.Running()))
	// Restartable.
	qt.Assert(t, qt.IsNil(a.Startup()))
	qt.Assert(t, qt.IsNil(a.ShutDown()))
}

func TestShutDownDuringHandshake(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 2*BlockSize)
	// Accepts connections and never answers the handshake.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()
	cfg := TestingConfig(t)
	cfg.HandshakesTimeout = time.Minute
	a := newTestAgent(t, cfg)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	closesBefore := promtestutil.ToFloat64(closesQueued)
	addr := l.Addr().(*net.TCPAddr)
	a.AddPeers(tc, PeerCandidate{IP: addr.IP.String(), Port: addr.Port})
	select {
	case c := <-accepted:
		defer c.Close()
	case <-time.After(10 * time.Second):
		t.Fatal("peer never dialed")
	}
	started := time.Now()
	require.NoError(t, a.ShutDown())
	assert.Less(t, time.Since(started), 10*time.Second)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(closesQueued)-closesBefore)
	// Shutting down isn't the peer's fault.
	assert.Equal(t, 0, a.Manager().DeadPeerCount())
	assert.Equal(t, 0, tc.SwarmSize())
}

func TestStartupBindFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	cfg := TestingConfig(t)
	cfg.ListenPort = l.Addr().(*net.TCPAddr).Port
	a, err := NewAgent(cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.Error(t, a.Startup())
	assert.False(t, a.Running())
	assert.ErrorIs(t, a.ShutDown(), ErrAgentNotRunning)
}

func TestWriteStatus(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 2*BlockSize)
	fp := testutil.NewFakePeer(t, testutil.FakePeerConfig{Torrent: tt})
	a := newTestAgent(t, nil)
	tc, err := a.AddTorrent(tt.MetaInfo)
	require.NoError(t, err)
	addFakePeer(a, tc, fp)
	require.Eventually(t, func() bool { return tc.SwarmSize() == 1 }, 10*time.Second, time.Millisecond)
	var buf bytes.Buffer
	a.WriteStatus(&buf)
	assert.Contains(t, buf.String(), tt.InfoHash().HexString())
	assert.Contains(t, buf.String(), "Status: downloading")
	assert.Contains(t, buf.String(), fp.AddrString())
}
