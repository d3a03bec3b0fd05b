package swarm

import (
	"github.com/pkg/errors"
)

var (
	ErrInvalidInfoHash = errors.New("invalid info hash")
	ErrTorrentExists   = errors.New("torrent already added")
	ErrTorrentNotFound = errors.New("torrent not found")
	ErrTorrentEnded    = errors.New("torrent has ended")
	ErrSwarmFull       = errors.New("swarm is full")
	ErrDuplicatePeer   = errors.New("peer already in swarm")
	ErrDeadPeer        = errors.New("peer is marked dead")
	ErrAgentNotRunning = errors.New("agent not running")
	ErrAgentRunning    = errors.New("agent already running")
)
