// Package completion persists which pieces of each torrent have been verified, so a restarted
// download resumes where it stopped.
package completion

import (
	"encoding/binary"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
)

const dbFileName = ".piece-completion.bolt.db"

var completionBucketKey = []byte("completion")

// Bolt keeps completion state in a bbolt database. Each torrent has a bucket keyed by info hash,
// holding one key per piece index. Ranges are read in a single transaction, and a torrent's state
// can be dropped with Forget.
type Bolt struct {
	db *bbolt.DB
}

var (
	_ storage.PieceCompletion          = (*Bolt)(nil)
	_ storage.PieceCompletionGetRanger = (*Bolt)(nil)
)

func NewBolt(dir string) (ret *Bolt, err error) {
	err = os.MkdirAll(dir, 0o750)
	if err != nil {
		return
	}
	p := filepath.Join(dir, dbFileName)
	db, err := bbolt.Open(p, 0o660, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", p)
	}
	db.NoSync = true
	return &Bolt{db}, nil
}

func pieceIndexKey(index int) (ret [4]byte) {
	binary.BigEndian.PutUint32(ret[:], uint32(index))
	return
}

func torrentBucket(tx *bbolt.Tx, infoHash metainfo.Hash) *bbolt.Bucket {
	cb := tx.Bucket(completionBucketKey)
	if cb == nil {
		return nil
	}
	return cb.Bucket(infoHash[:])
}

// Missing keys are unknown completion.
func getCompletion(b *bbolt.Bucket, index int) (cn storage.Completion) {
	if b == nil {
		return
	}
	key := pieceIndexKey(index)
	v := b.Get(key[:])
	if len(v) == 0 {
		return
	}
	cn.Ok = true
	cn.Complete = v[0] != 0
	return
}

func (me *Bolt) Get(pk metainfo.PieceKey) (cn storage.Completion, err error) {
	err = me.db.View(func(tx *bbolt.Tx) error {
		cn = getCompletion(torrentBucket(tx, pk.InfoHash), pk.Index)
		return nil
	})
	return
}

// GetRange yields the completion of pieces [begin, end). The transaction is closed before anything
// is yielded.
func (me *Bolt) GetRange(infoHash metainfo.Hash, begin, end int) iter.Seq[storage.Completion] {
	return func(yield func(storage.Completion) bool) {
		ret := make([]storage.Completion, max(end-begin, 0))
		err := me.db.View(func(tx *bbolt.Tx) error {
			b := torrentBucket(tx, infoHash)
			for i := range ret {
				ret[i] = getCompletion(b, begin+i)
			}
			return nil
		})
		for _, c := range ret {
			c.Err = err
			if !yield(c) {
				return
			}
		}
	}
}

func (me *Bolt) Set(pk metainfo.PieceKey, b bool) error {
	return me.db.Update(func(tx *bbolt.Tx) error {
		c, err := tx.CreateBucketIfNotExists(completionBucketKey)
		if err != nil {
			return err
		}
		ih, err := c.CreateBucketIfNotExists(pk.InfoHash[:])
		if err != nil {
			return err
		}
		key := pieceIndexKey(pk.Index)
		v := []byte{0}
		if b {
			v[0] = 1
		}
		return ih.Put(key[:], v)
	})
}

// Forget drops all state for a torrent.
func (me *Bolt) Forget(infoHash metainfo.Hash) error {
	return me.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(completionBucketKey)
		if c == nil || c.Bucket(infoHash[:]) == nil {
			return nil
		}
		return c.DeleteBucket(infoHash[:])
	})
}

func (me *Bolt) Persistent() bool {
	return true
}

func (me *Bolt) Close() error {
	return me.db.Close()
}
