package txpipeline

import (
	"github.com/blockpipe/txpipe/infrastructure/logger"
)

var log = logger.RegisterSubSystem("TXPL")
