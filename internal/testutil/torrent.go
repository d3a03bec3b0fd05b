// Package testutil builds torrents and scripted remote peers for exercising the engine over real
// sockets.
package testutil

import (
	"crypto/rand"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

// Torrent is a single-file torrent held in memory along with its data.
type Torrent struct {
	MetaInfo *metainfo.MetaInfo
	Info     *metainfo.Info
	Data     []byte
}

func (me Torrent) InfoHash() metainfo.Hash {
	return me.MetaInfo.HashInfoBytes()
}

// PieceData returns the bytes of a piece.
func (me Torrent) PieceData(piece int) []byte {
	begin := int64(piece) * me.Info.PieceLength
	end := min(begin+me.Info.PieceLength, int64(len(me.Data)))
	return me.Data[begin:end]
}

// RandomDataTorrent generates a torrent of length random bytes split into pieces of pieceLength.
func RandomDataTorrent(t testing.TB, pieceLength, length int64) Torrent {
	data := make([]byte, length)
	_, err := rand.Read(data)
	require.NoError(t, err)
	var pieces []byte
	for off := int64(0); off < length; off += pieceLength {
		sum := sha1.Sum(data[off:min(off+pieceLength, length)])
		pieces = append(pieces, sum[:]...)
	}
	info := metainfo.Info{
		Name:        "random",
		PieceLength: pieceLength,
		Length:      length,
		Pieces:      pieces,
	}
	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)
	mi := &metainfo.MetaInfo{
		InfoBytes: infoBytes,
	}
	return Torrent{
		MetaInfo: mi,
		Info:     &info,
		Data:     data,
	}
}
