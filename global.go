package swarm

const (
	// BlockSize is the length of every block request, except for the last block of a piece which
	// covers the remainder.
	BlockSize = 0x4000 // 16KiB

	// Upper bound on the pieces we advertise with have messages when a peer is admitted.
	defaultHaveSuggestions = 10
)
