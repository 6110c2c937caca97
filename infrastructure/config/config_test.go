package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blockpipe/txpipe/domain/txpipeline/chaincontext"
)

func init() {
	errWriter = io.Discard
}

func TestLoadConfigDefaults(t *testing.T) {
	appDir := t.TempDir()
	cfg, err := LoadConfig([]string{"--simnet", "--appdir", appDir,
		"--configfile", filepath.Join(appDir, "missing.conf")})
	if err != nil {
		t.Fatalf("LoadConfig: %+v", err)
	}

	defaults := chaincontext.DefaultConfig()
	defaults.MainAssetID = defaultMainAssetID
	if *cfg.Pipeline != *defaults {
		t.Fatalf("expected the default pipeline config %+v, got %+v", defaults, cfg.Pipeline)
	}
	if cfg.ChainID != defaultChainID {
		t.Fatalf("expected chain ID %d, got %d", defaultChainID, cfg.ChainID)
	}
	expectedDataDir := filepath.Join(appDir, "data", "chain-1")
	if cfg.DataDir() != expectedDataDir {
		t.Fatalf("expected data dir %s, got %s", expectedDataDir, cfg.DataDir())
	}
}

func TestLoadConfigFileAndCommandLine(t *testing.T) {
	appDir := t.TempDir()
	configFile := filepath.Join(appDir, "txpiped.conf")
	content := "[Application Options]\nbatchsize=50\nmaxcrosschain=3\nchainid=7\n"
	err := os.WriteFile(configFile, []byte(content), 0600)
	if err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	cfg, err := LoadConfig([]string{"--simnet", "--appdir", appDir, "--configfile", configFile,
		"--batchsize", "20", "--packreserve", "250ms"})
	if err != nil {
		t.Fatalf("LoadConfig: %+v", err)
	}

	if cfg.Pipeline.BatchSize != 20 {
		t.Fatalf("the command line didn't override the config file: batch size %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.MaxCrossChainTxPerBlock != 3 {
		t.Fatalf("expected cross-chain cap 3 from the config file, got %d", cfg.Pipeline.MaxCrossChainTxPerBlock)
	}
	if cfg.Pipeline.PackReserve != 250*time.Millisecond {
		t.Fatalf("expected pack reserve 250ms, got %s", cfg.Pipeline.PackReserve)
	}
	if cfg.ChainID != 7 {
		t.Fatalf("expected chain ID 7, got %d", cfg.ChainID)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no simnet", args: []string{}},
		{name: "zero chain ID", args: []string{"--simnet", "--chainid", "0"}},
		{name: "zero main asset", args: []string{"--simnet", "--mainassetid", "0"}},
		{name: "zero batch size", args: []string{"--simnet", "--batchsize", "0"}},
		{name: "negative reserve", args: []string{"--simnet", "--packreserve", "-1s"}},
		{name: "bad debug level", args: []string{"--simnet", "--debuglevel", "loud"}},
		{name: "unknown flag", args: []string{"--simnet", "--nosuchflag"}},
		{name: "zero db cache", args: []string{"--simnet", "--dbcachesize", "0"}},
	}

	for _, test := range tests {
		appDir := t.TempDir()
		args := append([]string{"--appdir", appDir, "--configfile", filepath.Join(appDir, "missing.conf")},
			test.args...)
		_, err := LoadConfig(args)
		if err == nil {
			t.Errorf("%s: expected an error", test.name)
		}
	}
}
