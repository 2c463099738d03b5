//go:build wiredump

package protocol

import (
	"github.com/RoanBrand/PolicyDaemonProtocol/logger"
	"github.com/davecgh/go-spew/spew"
)

// dumpMessage writes every buffer crossing the wire to the log.
func dumpMessage(direction string, b []byte) {
	if !log.Enabled(logger.LevelTrace) {
		return
	}
	log.Tracef("%s %d bytes\n%s", direction, len(b), spew.Sdump(b))
}
