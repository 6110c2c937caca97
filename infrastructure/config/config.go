package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blockpipe/txpipe/domain/txpipeline/chaincontext"
	"github.com/blockpipe/txpipe/infrastructure/logger"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	defaultConfigFilename = "txpiped.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "txpiped.log"
	defaultErrLogFilename = "txpiped_err.log"
	defaultChainID        = 1
	defaultMainAssetID    = 1
	defaultDBCacheSizeMiB = 64
	defaultBlockInterval  = 10 * time.Second
)

var (
	// DefaultAppDir is the default home directory for txpiped
	DefaultAppDir = defaultAppDir()

	defaultConfigFile = filepath.Join(DefaultAppDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(DefaultAppDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(DefaultAppDir, defaultLogDirname)

	errWriter io.Writer = os.Stderr
)

// Flags defines the configuration options for txpiped.
//
// See LoadConfig for details on the configuration load process.
type Flags struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDir      string `short:"b" long:"appdir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	Profile     string `long:"profile" description:"Enable HTTP profiling and metrics on the given port -- NOTE port must be between 1024 and 65536"`

	DBCacheSizeMiB int           `long:"dbcachesize" description:"LevelDB cache size in MiB"`
	BlockInterval  time.Duration `long:"blockinterval" description:"Interval between blocks packed by the simulated block producer"`

	BatchSize               int           `long:"batchsize" description:"Number of transactions verified by the ledger in one call while packing"`
	PackReserve             time.Duration `long:"packreserve" description:"Part of the packing time budget kept for finalizing the block"`
	BlockHeaderReserveBytes int           `long:"headerreserve" description:"Bytes of the block size budget kept for the block header"`
	TimeWindowTolerance     time.Duration `long:"timewindow" description:"Maximum distance between a time-window transaction and the block time"`
	MaxCrossChainTxPerBlock int           `long:"maxcrosschain" description:"Maximum number of cross-chain transactions in one block"`
	MaxOrphanRetries        int           `long:"maxorphanretries" description:"Number of times an orphan transaction is put back into the pool"`
	MaxOrphanCounterEntries int           `long:"maxorphanentries" description:"Maximum number of tracked orphan transactions"`
	MaxPoolTransactions     int           `long:"maxpooltxs" description:"Maximum number of pooled transactions, 0 for unlimited"`
	PollInterval            time.Duration `long:"pollinterval" description:"Interval between pool polls while the pool is empty during packing"`
	BroadcastRetries        int           `long:"broadcastretries" description:"Number of times a failed broadcast is retried"`
	BroadcastRetryInterval  time.Duration `long:"broadcastinterval" description:"Interval between broadcast retries"`
	MinFeePerKB             uint64        `long:"minfeeperkb" description:"Minimum fee in the smallest unit of the main asset per 1000 bytes"`
	ConfirmedCacheSize      int           `long:"confirmedcache" description:"Number of confirmed transactions kept in the in-memory cache"`

	NetworkFlags
}

// Config defines the configuration options for txpiped
type Config struct {
	*Flags
	Pipeline *chaincontext.Config
}

func defaultAppDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".txpiped"
	}
	return filepath.Join(homeDir, ".txpiped")
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", homeDir, 1)
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}

func defaultFlags() *Flags {
	pipelineDefaults := chaincontext.DefaultConfig()
	return &Flags{
		ConfigFile:              defaultConfigFile,
		AppDir:                  DefaultAppDir,
		LogDir:                  defaultLogDir,
		DebugLevel:              defaultLogLevel,
		DBCacheSizeMiB:          defaultDBCacheSizeMiB,
		BlockInterval:           defaultBlockInterval,
		BatchSize:               pipelineDefaults.BatchSize,
		PackReserve:             pipelineDefaults.PackReserve,
		BlockHeaderReserveBytes: pipelineDefaults.BlockHeaderReserveBytes,
		TimeWindowTolerance:     pipelineDefaults.TimeWindowTolerance,
		MaxCrossChainTxPerBlock: pipelineDefaults.MaxCrossChainTxPerBlock,
		MaxOrphanRetries:        pipelineDefaults.MaxOrphanRetries,
		MaxOrphanCounterEntries: pipelineDefaults.MaxOrphanCounterEntries,
		MaxPoolTransactions:     pipelineDefaults.MaxPoolTransactions,
		PollInterval:            pipelineDefaults.PollInterval,
		BroadcastRetries:        pipelineDefaults.BroadcastRetries,
		BroadcastRetryInterval:  pipelineDefaults.BroadcastRetryInterval,
		MinFeePerKB:             pipelineDefaults.MinFeePerKB,
		ConfirmedCacheSize:      pipelineDefaults.ConfirmedCacheSize,
		NetworkFlags: NetworkFlags{
			ChainID:     defaultChainID,
			MainAssetID: defaultMainAssetID,
		},
	}
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// A missing config file is not an error.
func LoadConfig(args []string) (*Config, error) {
	cfgFlags := defaultFlags()

	preCfg := *cfgFlags
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(errWriter, err)
			return nil, err
		}
	}
	if preCfg.ShowVersion {
		return &Config{Flags: &preCfg}, nil
	}

	parser := flags.NewParser(cfgFlags, flags.HelpFlag)
	err = flags.NewIniParser(parser).ParseFile(cleanAndExpandPath(preCfg.ConfigFile))
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, errors.Wrapf(err, "error parsing config file %s", preCfg.ConfigFile)
		}
	}

	// Command line options take precedence over the config file.
	_, err = parser.ParseArgs(args)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	err = cfgFlags.ResolveNetwork(parser)
	if err != nil {
		return nil, err
	}

	cfgFlags.AppDir = cleanAndExpandPath(cfgFlags.AppDir)
	cfgFlags.LogDir = cleanAndExpandPath(cfgFlags.LogDir)

	err = logger.ParseAndSetLogLevels(cfgFlags.DebugLevel)
	if err != nil {
		parser.WriteHelp(errWriter)
		return nil, err
	}

	if cfgFlags.DBCacheSizeMiB <= 0 {
		return nil, errors.Errorf("the database cache size must be positive, got %d", cfgFlags.DBCacheSizeMiB)
	}

	if cfgFlags.BlockInterval <= 0 {
		return nil, errors.Errorf("the block interval must be positive, got %s", cfgFlags.BlockInterval)
	}

	pipeline := cfgFlags.pipelineConfig()
	err = pipeline.Validate()
	if err != nil {
		return nil, err
	}

	return &Config{
		Flags:    cfgFlags,
		Pipeline: pipeline,
	}, nil
}

func (cfgFlags *Flags) pipelineConfig() *chaincontext.Config {
	pipeline := chaincontext.DefaultConfig()
	pipeline.BatchSize = cfgFlags.BatchSize
	pipeline.PackReserve = cfgFlags.PackReserve
	pipeline.BlockHeaderReserveBytes = cfgFlags.BlockHeaderReserveBytes
	pipeline.TimeWindowTolerance = cfgFlags.TimeWindowTolerance
	pipeline.MaxCrossChainTxPerBlock = cfgFlags.MaxCrossChainTxPerBlock
	pipeline.MaxOrphanRetries = cfgFlags.MaxOrphanRetries
	pipeline.MaxOrphanCounterEntries = cfgFlags.MaxOrphanCounterEntries
	pipeline.MaxPoolTransactions = cfgFlags.MaxPoolTransactions
	pipeline.PollInterval = cfgFlags.PollInterval
	pipeline.BroadcastRetries = cfgFlags.BroadcastRetries
	pipeline.BroadcastRetryInterval = cfgFlags.BroadcastRetryInterval
	pipeline.MinFeePerKB = cfgFlags.MinFeePerKB
	pipeline.MainAssetID = cfgFlags.MainAssetID
	pipeline.ConfirmedCacheSize = cfgFlags.ConfirmedCacheSize
	return pipeline
}

// DataDir returns the directory of the chain's database
func (cfg *Config) DataDir() string {
	return filepath.Join(cfg.AppDir, defaultDataDirname, fmt.Sprintf("chain-%d", cfg.ChainID))
}

// LogFiles returns the paths of the log file and of the error log file
func (cfg *Config) LogFiles() (logFile, errLogFile string) {
	return filepath.Join(cfg.LogDir, defaultLogFilename), filepath.Join(cfg.LogDir, defaultErrLogFilename)
}
