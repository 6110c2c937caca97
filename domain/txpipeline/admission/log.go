package admission

import (
	"github.com/blockpipe/txpipe/infrastructure/logger"
)

var log = logger.RegisterSubSystem("ADMT")
