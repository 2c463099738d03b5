package protocol

import "github.com/RoanBrand/PolicyDaemonProtocol/logger"

var (
	log, _    = logger.Get(logger.SubsystemTags.PROT)
	cliLog, _ = logger.Get(logger.SubsystemTags.CLNT)
	srvLog, _ = logger.Get(logger.SubsystemTags.SRVR)
)
