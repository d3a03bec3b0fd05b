package swarm

import (
	"bytes"
	"cmp"
	"context"
	"crypto/sha1"
	"math/rand/v2"
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/sync"
	"github.com/pkg/errors"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
)

// TorrentContext is the engine's state for one torrent: which pieces are held locally, the swarm of
// connected peers, and the selector handing missing pieces to those peers.
type TorrentContext struct {
	infoHash metainfo.Hash
	info     *metainfo.Info
	config   *Config
	logger   log.Logger
	storage  storage.TorrentImpl

	selector *Selector

	mu          sync.RWMutex
	localPieces roaring.Bitmap
	// Number of pieces not in localPieces. Only ever decreases.
	missing int
	status  TorrentStatus
	// Keyed by "ip:port".
	peers        map[string]*Peer
	maxSwarmSize int
	peerSource   *attachedSource
	// Committed pieces that haven't reached storage yet.
	pendingWrites map[int][]byte
	// Hands committed piece data to the disk writer.
	queueWrite func(piece int, data []byte)

	downloadFinished chansync.SetOnce
	// Serializes piece writes with closing the storage.
	storageMu sync.Mutex
	closed    chansync.SetOnce

	bytesDownloaded Count
	bytesUploaded   Count
}

func newTorrentContext(
	ctx context.Context,
	cfg *Config,
	infoHash metainfo.Hash,
	info *metainfo.Info,
	storageClient storage.ClientImpl,
) (t *TorrentContext, err error) {
	t = &TorrentContext{
		infoHash:      infoHash,
		info:          info,
		config:        cfg,
		logger:        cfg.Logger.WithNames("torrent", infoHash.HexString()[:8]),
		peers:         make(map[string]*Peer),
		maxSwarmSize:  cfg.MaxSwarmSize,
		pendingWrites: make(map[int][]byte),
	}
	t.storage, err = storageClient.OpenTorrent(ctx, info, infoHash)
	if err != nil {
		return nil, errors.Wrap(err, "opening torrent storage")
	}
	t.loadLocalPieces()
	t.selector = NewSelector(t.NumPieces(), t.HavePiece)
	if t.missing == 0 {
		t.downloadFinished.Set()
		t.selector.Complete()
		t.status = Seeding
	} else {
		t.status = Downloading
	}
	t.logger.Levelf(log.Info, "added %q: %v/%v pieces local", info.BestName(), t.NumPieces()-t.missing, t.NumPieces())
	return
}

// Pieces the storage already has verified count as local, so a resumed download only fetches the
// rest.
func (t *TorrentContext) loadLocalPieces() {
	t.missing = t.NumPieces()
	for i := range t.NumPieces() {
		c := t.pieceStorage(i).Completion()
		if c.Err != nil {
			t.logger.Levelf(log.Warning, "getting completion for piece %v: %v", i, c.Err)
			continue
		}
		if c.Ok && c.Complete {
			t.localPieces.Add(uint32(i))
			t.missing--
		}
	}
}

func (t *TorrentContext) InfoHash() metainfo.Hash {
	return t.infoHash
}

func (t *TorrentContext) Info() *metainfo.Info {
	return t.info
}

func (t *TorrentContext) Name() string {
	return t.info.BestName()
}

func (t *TorrentContext) NumPieces() int {
	return t.info.NumPieces()
}

func (t *TorrentContext) Length() int64 {
	return t.info.TotalLength()
}

func (t *TorrentContext) pieceLength(piece int) int64 {
	return t.info.Piece(piece).Length()
}

func (t *TorrentContext) pieceStorage(piece int) storage.PieceImpl {
	return t.storage.Piece(t.info.Piece(piece))
}

func (t *TorrentContext) HavePiece(piece int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.localPieces.Contains(uint32(piece))
}

func (t *TorrentContext) MissingPieces() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.missing
}

func (t *TorrentContext) localPiecesCopy() *roaring.Bitmap {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.localPieces.Clone()
}

// Closed once every piece is held locally.
func (t *TorrentContext) DownloadFinished() <-chan struct{} {
	return t.downloadFinished.Done()
}

func (t *TorrentContext) Status() TorrentStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *TorrentContext) setStatus(status TorrentStatus) {
	t.mu.Lock()
	changed := t.setStatusLocked(status)
	t.mu.Unlock()
	if changed {
		t.statusChanged(status)
	}
}

// Ended is terminal, and a finished download can only go from Seeding to Ended.
func (t *TorrentContext) setStatusLocked(status TorrentStatus) bool {
	if t.status == status || t.status == Ended {
		return false
	}
	if t.status == Seeding && status != Ended {
		return false
	}
	t.status = status
	return true
}

func (t *TorrentContext) statusChanged(status TorrentStatus) {
	t.logger.Levelf(log.Info, "status changed to %v", status)
	if f := t.config.Callbacks.StatusChanged; f != nil {
		f(t.infoHash, status)
	}
}

// Verifies assembled piece data against the metainfo hash.
func (t *TorrentContext) checkPieceHash(piece int, data []byte) bool {
	sum := sha1.Sum(data)
	want := t.info.Pieces[piece*sha1.Size : (piece+1)*sha1.Size]
	correct := bytes.Equal(sum[:], want)
	if correct {
		piecesHashed.WithLabelValues("correct").Inc()
	} else {
		piecesHashed.WithLabelValues("incorrect").Inc()
	}
	if f := t.config.Callbacks.PieceHashed; f != nil {
		f(t.infoHash, piece, correct)
	}
	return correct
}

// commitPiece marks a verified piece as local, holding its data for serving until the write to
// storage completes. Only one caller per piece gets true; the others must not count or write the
// piece again. The last commit finishes the download.
func (t *TorrentContext) commitPiece(piece int, data []byte) bool {
	t.mu.Lock()
	if t.localPieces.Contains(uint32(piece)) {
		t.mu.Unlock()
		return false
	}
	t.localPieces.Add(uint32(piece))
	if data != nil {
		t.pendingWrites[piece] = data
	}
	t.missing--
	panicif.LessThan(t.missing, 0)
	finished := t.missing == 0
	statusChanged := finished && t.setStatusLocked(Seeding)
	t.mu.Unlock()
	// Queued before the download can be seen to finish, so that shutting down after waiting for the
	// download still flushes every piece.
	if data != nil && t.queueWrite != nil {
		t.queueWrite(piece, data)
	}
	if finished {
		t.onDownloadFinished()
	}
	if statusChanged {
		t.statusChanged(Seeding)
	}
	t.broadcastHave(piece)
	return true
}

func (t *TorrentContext) pieceWritten(piece int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pendingWrites, piece)
}

// Reads piece data for upload, from pending writes first and then storage.
func (t *TorrentContext) readBlock(piece int, begin int64, b []byte) (int, error) {
	t.mu.RLock()
	data, ok := t.pendingWrites[piece]
	t.mu.RUnlock()
	if ok {
		return copy(b, data[begin:]), nil
	}
	return t.pieceStorage(piece).ReadAt(b, begin)
}

func (t *TorrentContext) onDownloadFinished() {
	if !t.downloadFinished.Set() {
		return
	}
	t.selector.Complete()
	t.logger.Levelf(log.Info, "download finished")
}

func (t *TorrentContext) broadcastHave(piece int) {
	for _, p := range t.peersSnapshot() {
		if !p.HasPiece(piece) {
			p.sendHave(piece)
		}
	}
}

// Up to n local pieces the peer doesn't have and hasn't been told about, in random order.
func (t *TorrentContext) localPieceSuggestions(p *Peer, n int) (ret []int) {
	local := t.localPiecesCopy()
	it := local.Iterator()
	for it.HasNext() {
		piece := int(it.Next())
		if !p.HasPiece(piece) && !p.sentHave(piece) {
			ret = append(ret, piece)
		}
	}
	rand.Shuffle(len(ret), func(i, j int) {
		ret[i], ret[j] = ret[j], ret[i]
	})
	if len(ret) > n {
		ret = ret[:n]
	}
	return
}

// addPeer inserts the peer into the swarm unless the torrent has ended, the swarm is full, or a peer
// with the same address is already present.
func (t *TorrentContext) addPeer(p *Peer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == Ended {
		return ErrTorrentEnded
	}
	if len(t.peers) >= t.maxSwarmSize {
		return ErrSwarmFull
	}
	if _, ok := t.peers[p.key]; ok {
		return ErrDuplicatePeer
	}
	t.peers[p.key] = p
	return nil
}

// Removes the peer if it's still the one registered under its address.
func (t *TorrentContext) removePeer(p *Peer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peers[p.key] != p {
		return false
	}
	delete(t.peers, p.key)
	return true
}

func (t *TorrentContext) peer(key string) *Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peers[key]
}

// Copy of the swarm, ordered by address.
func (t *TorrentContext) peersSnapshot() (ret []*Peer) {
	t.mu.RLock()
	for _, p := range t.peers {
		ret = append(ret, p)
	}
	t.mu.RUnlock()
	slices.SortFunc(ret, func(a, b *Peer) int {
		return cmp.Compare(a.key, b.key)
	})
	return
}

func (t *TorrentContext) SwarmSize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

func (t *TorrentContext) setPeerSource(s *attachedSource) (old *attachedSource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old = t.peerSource
	t.peerSource = s
	return
}

// Bytes left to download, for tracker announces.
func (t *TorrentContext) bytesLeft() (left int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.NumPieces() {
		if !t.localPieces.Contains(uint32(i)) {
			left += t.pieceLength(i)
		}
	}
	return
}

func (t *TorrentContext) close() {
	t.storageMu.Lock()
	defer t.storageMu.Unlock()
	if !t.closed.Set() {
		return
	}
	if t.storage.Close != nil {
		if err := t.storage.Close(); err != nil {
			t.logger.Levelf(log.Warning, "closing storage: %v", err)
		}
	}
}
