package swarm

import (
	"context"
	"time"

	"github.com/anacrolix/log"
	"github.com/pkg/errors"

	"github.com/anacrolix/torrent/tracker"
	"github.com/anacrolix/torrent/types"
)

// Announces are never more frequent than this, whatever the tracker says.
const minAnnounceInterval = time.Minute

// TrackerSource is a PeerSource that announces to trackers. Trackers are tried in order each round
// until one responds. The started, completed and stopped events are sent as the torrent's download
// progresses.
type TrackerSource struct {
	urls      []string
	peerID    PeerID
	port      func() int
	userAgent string
	logger    log.Logger
}

var _ PeerSource = (*TrackerSource)(nil)

func NewTrackerSource(a *Agent, urls ...string) *TrackerSource {
	return &TrackerSource{
		urls:      urls,
		peerID:    a.peerID,
		port:      a.ListenPort,
		userAgent: a.config.HTTPUserAgent,
		logger:    a.logger.WithNames("tracker"),
	}
}

type trackerAnnounceResult struct {
	Url      string
	NumPeers int
	Interval time.Duration
	Err      error
}

func (me *TrackerSource) Run(ctx context.Context, t *TorrentContext, add func(...PeerCandidate)) error {
	defer me.announceStopped(t)
	event := tracker.Started
	finished := t.DownloadFinished()
	select {
	case <-finished:
		// Nothing to report completed for.
		finished = nil
	default:
	}
	for {
		ar := me.announceAny(ctx, t, event, add)
		interval := max(ar.Interval, minAnnounceInterval)
		if ar.Err != nil {
			me.logger.WithDefaultLevel(log.Warning).Printf("announcing %v: %v", event, ar.Err)
		} else {
			me.logger.Levelf(log.Debug, "announced %v to %q: got %v peers, next in %v", event, ar.Url, ar.NumPeers, interval)
			event = tracker.None
		}
		select {
		case <-ctx.Done():
			return nil
		case <-finished:
			finished = nil
			event = tracker.Completed
		case <-time.After(interval):
		}
	}
}

func (me *TrackerSource) announceAny(
	ctx context.Context,
	t *TorrentContext,
	event tracker.AnnounceEvent,
	add func(...PeerCandidate),
) (ret trackerAnnounceResult) {
	ret.Err = errors.New("no trackers")
	for _, u := range me.urls {
		ret = me.announce(ctx, u, t, event, add)
		if ret.Err != nil {
			continue
		}
		return
	}
	return
}

func (me *TrackerSource) announce(
	ctx context.Context,
	url string,
	t *TorrentContext,
	event tracker.AnnounceEvent,
	add func(...PeerCandidate),
) (ret trackerAnnounceResult) {
	ret.Url = url
	ctx, cancel := context.WithTimeout(ctx, tracker.DefaultTrackerAnnounceTimeout)
	defer cancel()
	req := tracker.AnnounceRequest{
		InfoHash:   t.infoHash,
		PeerId:     types.PeerID(me.peerID),
		Downloaded: t.bytesDownloaded.Int64(),
		Uploaded:   t.bytesUploaded.Int64(),
		Left:       t.bytesLeft(),
		Event:      event,
		NumWant:    -1,
		Port:       uint16(me.port()),
	}
	res, err := tracker.Announce{
		Context:    ctx,
		TrackerUrl: url,
		Request:    req,
		UserAgent:  me.userAgent,
		Logger:     me.logger,
	}.Do()
	if err != nil {
		ret.Err = errors.Wrapf(err, "announcing to %q", url)
		return
	}
	cands := make([]PeerCandidate, 0, len(res.Peers))
	for _, p := range res.Peers {
		if p.IP == nil || p.Port == 0 {
			continue
		}
		cands = append(cands, PeerCandidate{
			IP:       p.IP.String(),
			Port:     p.Port,
			InfoHash: t.infoHash,
		})
	}
	add(cands...)
	ret.NumPeers = len(cands)
	ret.Interval = time.Duration(res.Interval) * time.Second
	return
}

func (me *TrackerSource) announceStopped(t *TorrentContext) {
	ctx, cancel := context.WithTimeout(context.Background(), tracker.DefaultTrackerAnnounceTimeout)
	defer cancel()
	me.announceAny(ctx, t, tracker.Stopped, func(...PeerCandidate) {})
}
