package main

import "github.com/RoanBrand/PolicyDaemonProtocol/logger"

var log, _ = logger.Get(logger.SubsystemTags.PCTL)
