package main

import (
	"github.com/blockpipe/txpipe/infrastructure/logger"
	"github.com/blockpipe/txpipe/util/panics"
)

var (
	log   = logger.RegisterSubSystem("TXPD")
	spawn = panics.GoroutineWrapperFunc(log)
)
