package notify

import "github.com/RoanBrand/PolicyDaemonProtocol/logger"

var log, _ = logger.Get(logger.SubsystemTags.NTFY)
