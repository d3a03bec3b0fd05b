package swarm

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	g "github.com/anacrolix/generics"
	qt "github.com/go-quicktest/qt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"github.com/peerhive/swarm/internal/testutil"
)

func newTestStorage(t testing.TB) storage.ClientImplCloser {
	cl := storage.NewFileOpts(storage.NewFileClientOpts{
		ClientBaseDir:   t.TempDir(),
		PieceCompletion: storage.NewMapPieceCompletion(),
		UsePartFiles:    g.Some(false),
	})
	t.Cleanup(func() { cl.Close() })
	return cl
}

func newTestTorrentContext(t testing.TB, cfg *Config, tt testutil.Torrent, cl storage.ClientImpl) *TorrentContext {
	tc, err := newTorrentContext(context.Background(), cfg, tt.InfoHash(), tt.Info, cl)
	require.NoError(t, err)
	t.Cleanup(tc.close)
	return tc
}

// A peer on one end of a pipe, not running any goroutines.
func newTestPeer(t testing.TB, tc *TorrentContext, ip string, port int) *Peer {
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	var q asyncQueue[io.Closer]
	return newPeer(context.Background(), tc, c1, ip, port, true, &q)
}

func TestCommitPieceIsExclusive(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 4*BlockSize)
	tc := newTestTorrentContext(t, TestingConfig(t), tt, newTestStorage(t))
	require.Equal(t, 4, tc.MissingPieces())
	var wg sync.WaitGroup
	var wins atomic.Int32
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tc.commitPiece(2, tt.PieceData(2)) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
	assert.Equal(t, 3, tc.MissingPieces())
	assert.True(t, tc.HavePiece(2))
	assert.Equal(t, Downloading, tc.Status())
}

func TestCommitLastPieceFinishesDownload(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 2*BlockSize)
	cfg := TestingConfig(t)
	var statuses []TorrentStatus
	cfg.Callbacks.StatusChanged = func(ih metainfo.Hash, s TorrentStatus) {
		statuses = append(statuses, s)
	}
	tc := newTestTorrentContext(t, cfg, tt, newTestStorage(t))
	qt.Assert(t, qt.IsTrue(tc.commitPiece(0, tt.PieceData(0))))
	select {
	case <-tc.DownloadFinished():
		t.Fatal("finished with a piece missing")
	default:
	}
	qt.Assert(t, qt.IsTrue(tc.commitPiece(1, tt.PieceData(1))))
	<-tc.DownloadFinished()
	qt.Assert(t, qt.Equals(tc.MissingPieces(), 0))
	qt.Assert(t, qt.Equals(tc.Status(), Seeding))
	qt.Assert(t, qt.IsTrue(tc.selector.Completed()))
	qt.Assert(t, qt.DeepEquals(statuses, []TorrentStatus{Seeding}))
	qt.Assert(t, qt.IsFalse(tc.commitPiece(1, tt.PieceData(1))))
	qt.Assert(t, qt.Equals(tc.MissingPieces(), 0))
}

func TestCheckPieceHash(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 2*BlockSize)
	cfg := TestingConfig(t)
	type hashed struct {
		piece   int
		correct bool
	}
	var got []hashed
	cfg.Callbacks.PieceHashed = func(ih metainfo.Hash, piece int, correct bool) {
		got = append(got, hashed{piece, correct})
	}
	tc := newTestTorrentContext(t, cfg, tt, newTestStorage(t))
	assert.True(t, tc.checkPieceHash(1, tt.PieceData(1)))
	bad := append([]byte(nil), tt.PieceData(0)...)
	bad[len(bad)-1]++
	assert.False(t, tc.checkPieceHash(0, bad))
	assert.Equal(t, []hashed{{1, true}, {0, false}}, got)
	// Checking doesn't commit.
	assert.Equal(t, 2, tc.MissingPieces())
}

func TestTorrentResumesFromStorage(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 3*BlockSize+1)
	cfg := TestingConfig(t)
	cl := newTestStorage(t)
	tc := newTestTorrentContext(t, cfg, tt, cl)
	require.True(t, tc.commitPiece(1, tt.PieceData(1)))
	require.NoError(t, writePieceToStorage(pieceWrite{tc, 1, tt.PieceData(1)}))
	tc.pieceWritten(1)
	tc.close()

	tc = newTestTorrentContext(t, cfg, tt, cl)
	assert.True(t, tc.HavePiece(1))
	assert.Equal(t, 3, tc.MissingPieces())
	assert.Equal(t, 3, tc.selector.Len())
	assert.Equal(t, Downloading, tc.Status())
	b := make([]byte, 10)
	_, err := tc.readBlock(1, 5, b)
	require.NoError(t, err)
	assert.Equal(t, tt.PieceData(1)[5:15], b)
	assert.EqualValues(t, 2*BlockSize+1, tc.bytesLeft())
}

func TestReadBlockFromPendingWrite(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, BlockSize)
	tc := newTestTorrentContext(t, TestingConfig(t), tt, newTestStorage(t))
	require.True(t, tc.commitPiece(0, tt.PieceData(0)))
	b := make([]byte, 100)
	n, err := tc.readBlock(0, 1000, b)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, tt.PieceData(0)[1000:1100], b)
}

func TestTorrentStatusTransitions(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, BlockSize)
	tc := newTestTorrentContext(t, TestingConfig(t), tt, newTestStorage(t))
	tc.setStatus(Paused)
	qt.Assert(t, qt.Equals(tc.Status(), Paused))
	tc.setStatus(Downloading)
	qt.Assert(t, qt.Equals(tc.Status(), Downloading))
	tc.commitPiece(0, tt.PieceData(0))
	qt.Assert(t, qt.Equals(tc.Status(), Seeding))
	// Seeding torrents don't pause.
	tc.setStatus(Paused)
	qt.Assert(t, qt.Equals(tc.Status(), Seeding))
	tc.setStatus(Ended)
	qt.Assert(t, qt.Equals(tc.Status(), Ended))
	tc.setStatus(Downloading)
	qt.Assert(t, qt.Equals(tc.Status(), Ended))
}

func TestAddPeer(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, BlockSize)
	cfg := TestingConfig(t)
	cfg.MaxSwarmSize = 2
	var closed []string
	cfg.Callbacks.PeerClosed = func(ih metainfo.Hash, addr string) {
		closed = append(closed, addr)
	}
	tc := newTestTorrentContext(t, cfg, tt, newTestStorage(t))
	p1 := newTestPeer(t, tc, "1.2.3.4", 1)
	require.NoError(t, tc.addPeer(p1))
	assert.ErrorIs(t, tc.addPeer(newTestPeer(t, tc, "1.2.3.4", 1)), ErrDuplicatePeer)
	p2 := newTestPeer(t, tc, "1.2.3.4", 2)
	require.NoError(t, tc.addPeer(p2))
	assert.ErrorIs(t, tc.addPeer(newTestPeer(t, tc, "5.6.7.8", 1)), ErrSwarmFull)
	assert.Equal(t, 2, tc.SwarmSize())
	assert.Equal(t, []*Peer{p1, p2}, tc.peersSnapshot())

	// Only the registered peer is removed under its address.
	assert.False(t, tc.removePeer(newTestPeer(t, tc, "1.2.3.4", 1)))
	p1.Close()
	p1.Close()
	assert.Nil(t, tc.peer("1.2.3.4:1"))
	assert.Equal(t, []string{"1.2.3.4:1"}, closed)
	assert.Equal(t, assemblerClosed, p1.State())

	tc.setStatus(Ended)
	assert.ErrorIs(t, tc.addPeer(newTestPeer(t, tc, "5.6.7.8", 1)), ErrTorrentEnded)
}

func TestLocalPieceSuggestions(t *testing.T) {
	tt := testutil.RandomDataTorrent(t, BlockSize, 4*BlockSize)
	tc := newTestTorrentContext(t, TestingConfig(t), tt, newTestStorage(t))
	for _, i := range []int{0, 1, 3} {
		require.True(t, tc.commitPiece(i, tt.PieceData(i)))
	}
	p := newTestPeer(t, tc, "1.2.3.4", 1)
	p.setRemotePiece(0)
	assert.ElementsMatch(t, []int{1, 3}, tc.localPieceSuggestions(p, 10))
	assert.Len(t, tc.localPieceSuggestions(p, 1), 1)
	p.sentHaves.Add(1)
	assert.Equal(t, []int{3}, tc.localPieceSuggestions(p, 10))
}
