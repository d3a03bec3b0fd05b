package swarm

import (
	pp "github.com/anacrolix/torrent/peer_protocol"
)

// A block within a piece, as carried by request and piece messages.
type chunkSpec struct {
	Begin, Length pp.Integer
}

func numChunks(pieceLength int64) int {
	return int((pieceLength + BlockSize - 1) / BlockSize)
}

// The last chunk of a piece covers whatever remains after the full-size chunks.
func chunkIndexSpec(index int, pieceLength int64) chunkSpec {
	ret := chunkSpec{pp.Integer(index) * BlockSize, BlockSize}
	if int64(ret.Begin+ret.Length) > pieceLength {
		ret.Length = pp.Integer(pieceLength) - ret.Begin
	}
	return ret
}
