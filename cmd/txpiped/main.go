package main

import (
	"fmt"
	"os"

	"github.com/blockpipe/txpipe/infrastructure/config"
	"github.com/blockpipe/txpipe/infrastructure/logger"
	"github.com/blockpipe/txpipe/infrastructure/os/signal"
	"github.com/blockpipe/txpipe/util/panics"
	"github.com/blockpipe/txpipe/version"
)

func main() {
	interrupt := signal.InterruptListener()

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing command-line arguments: %s\n", err)
		os.Exit(1)
	}
	if cfg.ShowVersion {
		fmt.Println("txpiped version", version.Version())
		os.Exit(0)
	}

	logFile, errLogFile := cfg.LogFiles()
	logger.InitLog(logFile, errLogFile)
	defer logger.BackendLog.Close()
	defer panics.HandlePanic(log, nil)

	log.Infof("Version %s", version.Version())

	node, err := newNode(cfg)
	if err != nil {
		log.Criticalf("Error starting txpiped: %+v", err)
		logger.BackendLog.Close()
		os.Exit(1)
	}
	node.start()

	<-interrupt
	node.stop()
	log.Infof("Shutdown complete")
}
