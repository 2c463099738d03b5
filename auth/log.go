package auth

import "github.com/RoanBrand/PolicyDaemonProtocol/logger"

var log, _ = logger.Get(logger.SubsystemTags.AUTH)
