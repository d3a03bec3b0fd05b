// Downloads torrents from the command-line.
//
// Example run:
// $ go run ./cmd/swarm download --test-peer 192.168.1.5:42069 ubuntu.torrent
// 1.000621865s: downloading "ubuntu-24.04-live-server-amd64.iso": 0 B/2.7 GB, 0/10386 pieces: 0 B/s
// 2.001119331s: downloading "ubuntu-24.04-live-server-amd64.iso": 3.4 MB/2.7 GB, 13/10386 pieces: 3.4 MB/s
// ...
package main

import (
	"context"
	"fmt"
	"io"
	stdLog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/chansync"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"github.com/peerhive/swarm"
	"github.com/peerhive/swarm/version"
)

var flags struct {
	Debug bool

	*DownloadCmd      `arg:"subcommand:download"`
	*SpewBencodingCmd `arg:"subcommand:spew-bencoding"`
	*VersionCmd       `arg:"subcommand:version"`
}

type VersionCmd struct{}

type SpewBencodingCmd struct{}

type DownloadCmd struct {
	TestPeer     []string      `help:"addresses of some starting peers"`
	Seed         bool          `help:"seed after download is complete"`
	Addr         string        `help:"network listen addr"`
	DataDir      string        `help:"directory to store downloaded data" default:"."`
	MaxSwarmSize int           `help:"maximum peers per torrent" default:"50"`
	PieceTimeout time.Duration `help:"abandon piece attempts after this long" default:"1m"`
	NoTrackers   bool          `help:"don't announce to the torrent's trackers"`
	Progress     bool          `default:"true"`
	Quiet        bool          `help:"discard engine logging"`
	Torrent      []string      `arity:"+" help:"torrent file path or URL" arg:"positional"`
}

func torrentBar(t *swarm.TorrentContext) {
	go func() {
		start := time.Now()
		var lastDownloaded int64
		var lastLine string
		for range time.Tick(time.Second) {
			left := t.MissingPieces()
			downloaded := t.Length() - pieceBytesLeft(t)
			line := fmt.Sprintf(
				"%v: %v %q: %s/%s, %d/%d pieces: %v/s\n",
				time.Since(start),
				t.Status(),
				t.Name(),
				humanize.Bytes(uint64(downloaded)),
				humanize.Bytes(uint64(t.Length())),
				t.NumPieces()-left,
				t.NumPieces(),
				humanize.Bytes(uint64(max(downloaded-lastDownloaded, 0))),
			)
			if line != lastLine {
				lastLine = line
				os.Stdout.WriteString(line)
			}
			lastDownloaded = downloaded
		}
	}()
}

func pieceBytesLeft(t *swarm.TorrentContext) (left int64) {
	info := t.Info()
	for i := range t.NumPieces() {
		if !t.HavePiece(i) {
			left += info.Piece(i).Length()
		}
	}
	return
}

func resolveTestPeers(addrs []string) (ret []swarm.PeerCandidate, err error) {
	for _, ta := range addrs {
		host, portStr, err := net.SplitHostPort(ta)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing test peer %q", ta)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing port of test peer %q", ta)
		}
		ret = append(ret, swarm.PeerCandidate{IP: host, Port: port})
	}
	return
}

func loadMetaInfo(arg string) (*metainfo.MetaInfo, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		response, err := http.Get(arg)
		if err != nil {
			return nil, errors.Wrap(err, "downloading torrent file")
		}
		defer response.Body.Close()
		return metainfo.Load(response.Body)
	}
	return metainfo.LoadFromFile(arg)
}

func addTorrents(a *swarm.Agent) (ret []*swarm.TorrentContext, err error) {
	testPeers, err := resolveTestPeers(flags.TestPeer)
	if err != nil {
		return
	}
	for _, arg := range flags.Torrent {
		mi, err := loadMetaInfo(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "loading torrent %q", arg)
		}
		t, err := a.AddTorrent(mi)
		if err != nil {
			return nil, errors.Wrapf(err, "adding torrent %q", arg)
		}
		if flags.Progress {
			torrentBar(t)
		}
		a.AddPeers(t, testPeers...)
		if !flags.NoTrackers {
			if urls := mi.UpvertedAnnounceList().DistinctValues(); len(urls) != 0 {
				a.AttachPeerSource(t, swarm.NewTrackerSource(a, urls...))
			}
		}
		ret = append(ret, t)
	}
	return
}

func exitSignalHandlers(notify *chansync.SetOnce) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	for {
		log.Printf("close signal received: %+v", <-c)
		notify.Set()
	}
}

func main() {
	defer envpprof.Stop()
	if err := mainErr(); err != nil {
		log.Printf("error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	stdLog.SetFlags(stdLog.Flags() | stdLog.Lshortfile)
	p := arg.MustParse(&flags)
	switch {
	case flags.DownloadCmd != nil:
		return downloadErr()
	case flags.SpewBencodingCmd != nil:
		d := bencode.NewDecoder(os.Stdin)
		for i := 0; ; i++ {
			var v interface{}
			err := d.Decode(&v)
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("decoding message index %d: %w", i, err)
			}
			spew.Dump(v)
		}
		return nil
	case flags.VersionCmd != nil:
		fmt.Printf("HTTP User-Agent: %q\n", version.DefaultHttpUserAgent)
		fmt.Printf("Module version: %q\n", version.ModuleVersion)
		fmt.Printf("Peer ID prefix: %q\n", version.DefaultBep20Prefix)
		return nil
	default:
		p.Fail(fmt.Sprintf("unexpected subcommand: %v", p.Subcommand()))
		panic("unreachable")
	}
}

func downloadErr() error {
	cfg := swarm.NewDefaultConfig()
	cfg.Debug = flags.Debug
	cfg.DataDir = flags.DataDir
	cfg.MaxSwarmSize = flags.MaxSwarmSize
	cfg.PieceTimeout = flags.PieceTimeout
	if flags.Addr != "" {
		cfg.SetListenAddr(flags.Addr)
	}
	if flags.Quiet {
		cfg.Logger = log.Default.WithFilterLevel(log.Disabled)
	}

	var stop chansync.SetOnce
	defer stop.Set()

	a, err := swarm.NewAgent(cfg)
	if err != nil {
		return errors.Wrap(err, "creating agent")
	}
	defer a.Close()
	err = a.Startup()
	if err != nil {
		return errors.Wrap(err, "starting agent")
	}
	go exitSignalHandlers(&stop)

	// Write status on the root path on the default HTTP muxer. This will be bound to localhost
	// somewhere if GOPPROF is set, thanks to the envpprof import.
	http.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		a.WriteStatus(w)
	})
	http.Handle("/metrics", promhttp.Handler())

	torrents, err := addTorrents(a)
	if err != nil {
		return errors.Wrap(err, "adding torrents")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop.Done()
		cancel()
	}()
	var g errgroup.Group
	for _, t := range torrents {
		g.Go(func() error {
			return a.WaitForDownload(ctx, t)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.New("y u no complete torrents?!")
	}
	log.Print("downloaded ALL the torrents")
	if flags.Seed {
		a.WriteStatus(os.Stdout)
		<-stop.Done()
	}
	return nil
}
