package coordinator

import (
	"github.com/blockpipe/txpipe/infrastructure/logger"
)

var log = logger.RegisterSubSystem("CORD")
