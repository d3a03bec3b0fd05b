package swarm

import (
	"time"

	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2"
	"golang.org/x/time/rate"

	"github.com/anacrolix/torrent/storage"

	"github.com/peerhive/swarm/version"
)

// Probably not safe to modify this after it's given to an Agent, or to pass it to multiple Agents.
type Config struct {
	// Store torrent file data in this directory unless DefaultStorage is specified.
	DataDir string `long:"data-dir" description:"directory to store downloaded torrent data"`
	// The host to listen on for incoming BitTorrent connections, by network.
	ListenHost func(network string) string
	ListenPort int
	// Defaults to a file storage in DataDir.
	DefaultStorage storage.ClientImpl
	// Used by the default storage to record which pieces are already verified. Defaults to a bolt
	// database in DataDir, falling back to memory.
	PieceCompletion storage.PieceCompletion

	// Defaults to a random ID with the Bep20 prefix.
	PeerID string
	// BEP 20 peer ID prefix.
	Bep20 string
	// Used for tracker announces.
	HTTPUserAgent string

	// Admission is refused once a torrent's swarm holds this many peers.
	MaxSwarmSize int
	// A piece attempt that has not received all its blocks in this time is abandoned and the
	// piece returned to the selector.
	PieceTimeout time.Duration
	// Applies to the BitTorrent handshake in both directions.
	HandshakesTimeout time.Duration
	// How long admission waits for the remote bitfield. Peers that send something else first are
	// treated as having nothing.
	BitfieldTimeout    time.Duration
	NominalDialTimeout time.Duration
	KeepAliveTimeout   time.Duration
	// Dead peers are forgotten on this interval.
	DeadPeerPurgeInterval time.Duration
	// The number of local pieces announced with have messages when a peer is admitted.
	HaveSuggestions int
	// Maximum concurrent outbound dials, across all torrents.
	TotalHalfOpenConns int
	// Rate limits all dials.
	DialRateLimiter *rate.Limiter
	// Inbound requests longer than this end the connection.
	MaxRequestLength int

	Callbacks Callbacks

	Debug  bool `help:"enable debugging"`
	Logger log.Logger
}

func (cfg *Config) SetListenAddr(addr string) *Config {
	host, port, err := missinggo.ParseHostPort(addr)
	if err != nil {
		panic(err)
	}
	cfg.ListenHost = func(string) string { return host }
	cfg.ListenPort = port
	return cfg
}

func NewDefaultConfig() *Config {
	return &Config{
		HTTPUserAgent:         version.DefaultHttpUserAgent,
		Bep20:                 version.DefaultBep20Prefix,
		ListenHost:            func(string) string { return "" },
		ListenPort:            42069,
		MaxSwarmSize:          50,
		PieceTimeout:          time.Minute,
		HandshakesTimeout:     4 * time.Second,
		BitfieldTimeout:       10 * time.Second,
		NominalDialTimeout:    20 * time.Second,
		KeepAliveTimeout:      time.Minute,
		DeadPeerPurgeInterval: 15 * time.Minute,
		HaveSuggestions:       defaultHaveSuggestions,
		TotalHalfOpenConns:    100,
		DialRateLimiter:       rate.NewLimiter(10, 10),
		MaxRequestLength:      1 << 17,
	}
}
