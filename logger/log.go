package logger

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// BackendLog is the logging backend used to create all subsystem loggers.
var BackendLog = NewBackend()

// SubsystemTags is an enum of all sub system tags
var SubsystemTags = struct {
	PROT, CLNT, SRVR, TRNS, COMW, AUTH, NTFY, PLCD, PCTL string
}{
	PROT: "PROT",
	CLNT: "CLNT",
	SRVR: "SRVR",
	TRNS: "TRNS",
	COMW: "COMW",
	AUTH: "AUTH",
	NTFY: "NTFY",
	PLCD: "PLCD",
	PCTL: "PCTL",
}

var subsystemLoggers = map[string]*Logger{
	SubsystemTags.PROT: BackendLog.Logger(SubsystemTags.PROT),
	SubsystemTags.CLNT: BackendLog.Logger(SubsystemTags.CLNT),
	SubsystemTags.SRVR: BackendLog.Logger(SubsystemTags.SRVR),
	SubsystemTags.TRNS: BackendLog.Logger(SubsystemTags.TRNS),
	SubsystemTags.COMW: BackendLog.Logger(SubsystemTags.COMW),
	SubsystemTags.AUTH: BackendLog.Logger(SubsystemTags.AUTH),
	SubsystemTags.NTFY: BackendLog.Logger(SubsystemTags.NTFY),
	SubsystemTags.PLCD: BackendLog.Logger(SubsystemTags.PLCD),
	SubsystemTags.PCTL: BackendLog.Logger(SubsystemTags.PCTL),
}

// InitLog attaches stdout and, when logFile is non-empty, a rotating log
// file to the backend. Entries at level or above reach stdout; the file
// receives everything from LevelDebug up.
func InitLog(logFile string, level Level) error {
	BackendLog.AddLogWriter(stdoutWriter{}, level)
	if logFile == "" {
		return nil
	}
	return BackendLog.AddLogFile(logFile, LevelDebug)
}

// Get returns a logger of a specific sub system
func Get(tag string) (logger *Logger, ok bool) {
	logger, ok = subsystemLoggers[tag]
	return
}

// SetLogLevel sets the logging level for provided subsystem.
func SetLogLevel(subsystemID string, logLevel string) error {
	l, ok := subsystemLoggers[subsystemID]
	if !ok {
		return errors.Errorf("unknown subsystem %q", subsystemID)
	}
	level, ok := LevelFromString(logLevel)
	if !ok {
		return errors.Errorf("invalid log level %q", logLevel)
	}
	l.SetLevel(level)
	return nil
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func SetLogLevels(logLevel string) error {
	level, ok := LevelFromString(logLevel)
	if !ok {
		return errors.Errorf("invalid log level %q", logLevel)
	}
	for _, l := range subsystemLoggers {
		l.SetLevel(level)
	}
	return nil
}

// SupportedSubsystems returns a sorted, comma separated list of supported
// subsystems.
func SupportedSubsystems() string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for tag := range subsystemLoggers {
		subsystems = append(subsystems, tag)
	}
	sort.Strings(subsystems)
	return strings.Join(subsystems, ", ")
}
