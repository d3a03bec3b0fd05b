// Package wire performs the BitTorrent handshake that opens every peer connection.
package wire

import (
	"fmt"
	"io"

	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/pkg/errors"

	"github.com/anacrolix/torrent/metainfo"
	pp "github.com/anacrolix/torrent/peer_protocol"
)

// Returned when an inbound handshake names a torrent the accept func rejects.
var ErrUnknownInfoHash = errors.New("unknown info hash")

const handshakeLen = len(pp.Protocol) + 8 + 20 + 20

type HandshakeResult struct {
	pp.PeerExtensionBits
	PeerID [20]byte
	metainfo.Hash
}

func handshakeWriter(w io.Writer, bb <-chan []byte, done chan<- error) {
	var err error
	for b := range bb {
		_, err = w.Write(b)
		if err != nil {
			break
		}
	}
	done <- err
}

// Handshake exchanges handshakes over sock. For outgoing connections ih is the torrent we want, and
// our side is sent immediately. For incoming connections ih is nil: the peer's info hash is passed
// to accept, and we only reply if it returns true. Deadlines are the caller's concern.
func Handshake(
	sock io.ReadWriter,
	ih *metainfo.Hash,
	peerID [20]byte,
	extensions pp.PeerExtensionBits,
	accept func(metainfo.Hash) bool,
) (
	res HandshakeResult, err error,
) {
	// Bytes to be sent to the peer. Posting never blocks.
	postCh := make(chan []byte, 4)
	writeDone := make(chan error, 1)
	go handshakeWriter(sock, postCh, writeDone)

	defer func() {
		close(postCh)
		if err != nil {
			return
		}
		err = <-writeDone
		if err != nil {
			err = fmt.Errorf("error writing: %w", err)
		}
	}()

	post := func(bb []byte) {
		panicif.SendBlocks(postCh, bb)
	}

	post([]byte(pp.Protocol))
	post(extensions[:])
	if ih != nil {
		post(ih[:])
		post(peerID[:])
	}

	b := make([]byte, handshakeLen)
	_, err = io.ReadFull(sock, b)
	if err != nil {
		return res, fmt.Errorf("while reading: %w", err)
	}
	if string(b[:len(pp.Protocol)]) != pp.Protocol {
		return res, fmt.Errorf("unexpected protocol string %q", b[:len(pp.Protocol)])
	}
	b = b[len(pp.Protocol):]
	b = b[copy(res.PeerExtensionBits[:], b):]
	b = b[copy(res.Hash[:], b):]
	copy(res.PeerID[:], b)

	if ih != nil {
		if res.Hash != *ih {
			return res, fmt.Errorf("peer handshake for %v, expected %v", res.Hash, *ih)
		}
		return
	}
	if accept != nil && !accept(res.Hash) {
		return res, ErrUnknownInfoHash
	}
	post(res.Hash[:])
	post(peerID[:])
	return
}
