package chaincontext

import (
	"testing"
	"time"

	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/utils/txhashing"
	"github.com/blockpipe/txpipe/infrastructure/db/database/ldb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
)

func TestChainContextsAreIsolated(t *testing.T) {
	db, err := ldb.NewLevelDB(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("NewLevelDB: %+v", err)
	}
	defer db.Close()
	registerer := prometheus.NewRegistry()
	testClock := clock.NewTestClock(time.Unix(1_600_000_000, 0))

	first, err := New(1, DefaultConfig(), db, registerer, testClock)
	if err != nil {
		t.Fatalf("New: %+v", err)
	}
	second, err := New(2, DefaultConfig(), db, registerer, testClock)
	if err != nil {
		t.Fatalf("New: %+v", err)
	}

	tx := &model.Transaction{Type: 2, TxData: []byte{1}}
	txhashing.TransactionHash(tx)
	if _, err := first.Pool.Admit(tx); err != nil {
		t.Fatalf("Admit: %+v", err)
	}
	if err := first.UnconfirmedStore.Put(tx); err != nil {
		t.Fatalf("Put: %+v", err)
	}
	if err := first.Registry.Register("transfer", &model.TxRegister{TxType: 2}); err != nil {
		t.Fatalf("Register: %+v", err)
	}
	first.OrphanCounter.Increment(*tx.Hash)
	first.SetAccepting(false)

	if second.Pool.Contains(*tx.Hash) {
		t.Fatalf("pool state leaked between chains")
	}
	if has, _ := second.UnconfirmedStore.Has(*tx.Hash); has {
		t.Fatalf("unconfirmed store leaked between chains")
	}
	if _, err := second.Registry.Get(2); err == nil {
		t.Fatalf("registry leaked between chains")
	}
	if second.OrphanCounter.Count(*tx.Hash) != 0 {
		t.Fatalf("orphan counter leaked between chains")
	}
	if !second.IsAccepting() || first.IsAccepting() {
		t.Fatalf("accepting flag leaked between chains")
	}
	if first.Lock == second.Lock {
		t.Fatalf("chains must not share a lock")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config is invalid: %+v", err)
	}

	mutations := map[string]func(*Config){
		"batch size":    func(c *Config) { c.BatchSize = 0 },
		"poll interval": func(c *Config) { c.PollInterval = 0 },
		"cache size":    func(c *Config) { c.ConfirmedCacheSize = 0 },
		"tolerance":     func(c *Config) { c.TimeWindowTolerance = -time.Second },
	}
	for name, mutate := range mutations {
		config := DefaultConfig()
		mutate(config)
		if err := config.Validate(); err == nil {
			t.Fatalf("%s: expected a validation error", name)
		}
	}
}
