package swarm

import "fmt"

type TorrentStatus int

const (
	Initialized TorrentStatus = iota
	Downloading
	Paused
	Seeding
	Ended
)

func (me TorrentStatus) String() string {
	switch me {
	case Initialized:
		return "initialized"
	case Downloading:
		return "downloading"
	case Paused:
		return "paused"
	case Seeding:
		return "seeding"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("TorrentStatus(%d)", int(me))
	}
}
