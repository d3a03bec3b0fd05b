package swarm

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	piecesHashed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm",
		Name:      "pieces_hashed_total",
		Help:      "Piece hash checks by result.",
	}, []string{"result"})
	piecesRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm",
		Name:      "pieces_requeued_total",
		Help:      "Piece attempts that were returned to the selector.",
	})
	peerAdmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm",
		Name:      "peer_admissions_total",
		Help:      "Peer admission attempts by outcome.",
	}, []string{"outcome"})
	blocksReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm",
		Name:      "blocks_received_total",
		Help:      "Piece blocks received from peers.",
	})
	unsuccessfulDials = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm",
		Name:      "dials_failed_total",
		Help:      "Outbound connections that could not be established.",
	})
	closesQueued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm",
		Name:      "queued_closes_total",
		Help:      "Peers and rejected connections closed through the close queue.",
	})
	bytesUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm",
		Name:      "uploaded_bytes_total",
		Help:      "Piece data served to peers.",
	})
)

func init() {
	prometheus.MustRegister(
		piecesHashed,
		piecesRequeued,
		peerAdmissions,
		blocksReceived,
		unsuccessfulDials,
		closesQueued,
		bytesUploaded,
	)
}
