package testutils

import (
	"testing"
	"time"

	"github.com/blockpipe/txpipe/domain/txpipeline/chaincontext"
	"github.com/blockpipe/txpipe/infrastructure/db/database/ldb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// TestChainID is the chain ID of chain contexts created by NewTestChainContext
const TestChainID = 1

// TestMainAssetID is the main asset of TestChainID
const TestMainAssetID = 1

// TestStartTime is the initial time of test clocks
var TestStartTime = time.Unix(1_600_000_000, 0)

// NewTestChainContext returns a chain context backed by a LevelDB database
// in a temporary directory, with the simulated transaction types
// registered. A nil config means chaincontext.DefaultConfig and a nil clk
// means the wall clock.
func NewTestChainContext(t testing.TB, config *chaincontext.Config, clk clock.Clock) (
	cc *chaincontext.ChainContext, registry *prometheus.Registry, teardown func()) {

	if config == nil {
		config = chaincontext.DefaultConfig()
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	db, err := ldb.NewLevelDB(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("NewLevelDB: %+v", err)
	}
	teardown = func() {
		err := db.Close()
		if err != nil {
			t.Errorf("Close: %+v", err)
		}
	}

	registry = prometheus.NewRegistry()
	cc, err = chaincontext.New(TestChainID, config, db, registry, clk)
	if err != nil {
		teardown()
		t.Fatalf("chaincontext.New: %+v", err)
	}
	err = RegisterSimulatedTypes(cc.Registry)
	if err != nil {
		teardown()
		t.Fatalf("RegisterSimulatedTypes: %+v", err)
	}
	return cc, registry, teardown
}
