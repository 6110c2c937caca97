package packager

import (
	"github.com/blockpipe/txpipe/infrastructure/logger"
	"github.com/blockpipe/txpipe/util/panics"
)

var log = logger.RegisterSubSystem("PKGR")
var spawn = panics.GoroutineWrapperFunc(log)
var spawnGatewayCall = panics.RecoverableGoroutineWrapperFunc(log)
