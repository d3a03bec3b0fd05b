package swarm

import (
	"testing"

	"github.com/anacrolix/log"
	"golang.org/x/time/rate"
)

// TestingConfig returns a config listening on an ephemeral loopback port with data stored under the
// test's temporary directory.
func TestingConfig(t testing.TB) *Config {
	cfg := NewDefaultConfig()
	cfg.ListenHost = LoopbackListenHost
	cfg.ListenPort = 0
	cfg.DataDir = t.TempDir()
	cfg.DialRateLimiter = rate.NewLimiter(rate.Inf, 0)
	cfg.Logger = log.Default.WithNames(t.Name())
	//cfg.Debug = true
	return cfg
}
