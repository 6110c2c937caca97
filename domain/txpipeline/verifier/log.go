package verifier

import (
	"github.com/blockpipe/txpipe/infrastructure/logger"
)

var log = logger.RegisterSubSystem("VRFY")
