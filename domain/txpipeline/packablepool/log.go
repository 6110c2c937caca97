package packablepool

import (
	"github.com/blockpipe/txpipe/infrastructure/logger"
)

var log = logger.RegisterSubSystem("POOL")
