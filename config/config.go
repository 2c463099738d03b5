// Package config parses the command line and configuration file of the
// policy daemon and its control client.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/RoanBrand/PolicyDaemonProtocol/logger"
	"github.com/RoanBrand/PolicyDaemonProtocol/protocol"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultLogFilename = "policyd.log"
	defaultLogLevel    = "info"
	defaultNetwork     = "unix"
	defaultAddress     = "/run/policyd.sock"
	defaultBaudRate    = 115200
	defaultProtocols   = "POLICY"
)

var defaultLogDir = filepath.Join(os.TempDir(), "policyd")

// LogFlags are the logging options shared by both programs.
type LogFlags struct {
	LogDir   string `long:"logdir" description:"Directory to log output" yaml:"logdir"`
	LogLevel string `short:"d" long:"loglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}" yaml:"loglevel"`
}

// LogFile is the path of the rotating log file, empty when file logging is
// disabled.
func (f *LogFlags) LogFile() string {
	if f.LogDir == "" {
		return ""
	}
	return filepath.Join(f.LogDir, defaultLogFilename)
}

func (f *LogFlags) validate() error {
	if _, ok := logger.LevelFromString(f.LogLevel); !ok {
		return errors.Errorf("invalid log level %q", f.LogLevel)
	}
	return nil
}

// TransportFlags select the stream, serial and websocket endpoints.
type TransportFlags struct {
	Network    string `long:"network" description:"Stream network {tcp, unix}" yaml:"network"`
	Address    string `long:"address" description:"Stream address, empty to disable" yaml:"address"`
	SerialPort string `long:"serial" description:"Serial port name, empty to disable" yaml:"serial"`
	BaudRate   int    `long:"baud" description:"Serial port baud rate" yaml:"baud"`
	WebSocket  string `long:"websocket" description:"WebSocket address, empty to disable" yaml:"websocket"`
}

func (f *TransportFlags) enabled() int {
	n := 0
	for _, s := range []string{f.Address, f.SerialPort, f.WebSocket} {
		if s != "" {
			n++
		}
	}
	return n
}

func (f *TransportFlags) validate() error {
	switch f.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return errors.Errorf("unsupported network %q", f.Network)
	}
	if f.SerialPort != "" && f.BaudRate <= 0 {
		return errors.Errorf("invalid baud rate %d", f.BaudRate)
	}
	return nil
}

// Daemon is the configuration of the policy daemon.
type Daemon struct {
	ConfigFile     string `short:"C" long:"configfile" description:"Path to YAML configuration file" yaml:"-"`
	LogFlags       `yaml:",inline"`
	TransportFlags `yaml:",inline"`
	MetricsAddress string `long:"metrics" description:"HTTP address serving /metrics, empty to disable" yaml:"metrics"`
	Static         bool   `long:"static" description:"Authenticate every peer as --static-uid instead of using peer credentials" yaml:"static"`
	StaticUID      uint32 `long:"static-uid" description:"Uid reported with --static" yaml:"static-uid"`
	StaticName     string `long:"static-name" description:"User name reported with --static" yaml:"static-name"`
}

// Client is the configuration of the control client.
type Client struct {
	ConfigFile     string `short:"C" long:"configfile" description:"Path to YAML configuration file" yaml:"-"`
	LogFlags       `yaml:",inline"`
	TransportFlags `yaml:",inline"`
	Protocols      string `short:"p" long:"protocols" description:"Sub-protocols to select, comma separated {POLICY, NOTIFY}" yaml:"protocols"`
	Token          uint64 `long:"token" description:"Registration token" yaml:"token"`
	PID            uint32 `long:"pid" description:"Registration pid filter" yaml:"pid"`
	RuleID         uint32 `long:"rule" description:"Registration rule id filter, 0 for any" yaml:"rule"`
	UID            uint32 `long:"uid" description:"Registration uid filter, 0 for any" yaml:"uid"`
	Subsystem      uint32 `long:"subsystem" description:"Registration subsystem filter, 0 for any" yaml:"subsystem"`
}

// Subprotocols returns the selected sub-protocol set.
func (c *Client) Subprotocols() (protocol.Subprotocol, error) {
	p := protocol.Subprotocol(protocol.ParseStringList(strings.ToUpper(c.Protocols), protocol.ProtocolNames))
	if p == 0 {
		return 0, errors.Errorf("no known sub-protocol in %q", c.Protocols)
	}
	return p, nil
}

func defaultTransport() TransportFlags {
	return TransportFlags{
		Network:  defaultNetwork,
		Address:  defaultAddress,
		BaudRate: defaultBaudRate,
	}
}

func defaultLog() LogFlags {
	return LogFlags{LogDir: defaultLogDir, LogLevel: defaultLogLevel}
}

// LoadDaemon builds the daemon configuration from defaults, the optional
// configuration file and args, in that order of precedence.
func LoadDaemon(args []string) (*Daemon, []string, error) {
	cfg := &Daemon{
		LogFlags:       defaultLog(),
		TransportFlags: defaultTransport(),
	}
	remaining, err := load(cfg, args)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.LogFlags.validate(); err != nil {
		return nil, nil, err
	}
	if err := cfg.TransportFlags.validate(); err != nil {
		return nil, nil, err
	}
	if cfg.enabled() == 0 {
		return nil, nil, errors.New("no listener configured")
	}
	return cfg, remaining, nil
}

// LoadClient builds the client configuration the same way as LoadDaemon.
func LoadClient(args []string) (*Client, []string, error) {
	cfg := &Client{
		LogFlags:       LogFlags{LogLevel: defaultLogLevel},
		TransportFlags: defaultTransport(),
		Protocols:      defaultProtocols,
	}
	remaining, err := load(cfg, args)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.LogFlags.validate(); err != nil {
		return nil, nil, err
	}
	if err := cfg.TransportFlags.validate(); err != nil {
		return nil, nil, err
	}
	// A serial port or websocket replaces the default stream address.
	if cfg.Address == defaultAddress && (cfg.SerialPort != "" || cfg.WebSocket != "") {
		cfg.Address = ""
	}
	if cfg.enabled() != 1 {
		return nil, nil, errors.New("exactly one of --address, --serial and --websocket is required")
	}
	if _, err := cfg.Subprotocols(); err != nil {
		return nil, nil, err
	}
	return cfg, remaining, nil
}

// load runs a pre-parse to find --configfile, applies the file and then
// parses args again so that flags override the file.
func load(cfg interface{}, args []string) ([]string, error) {
	preCfg := struct {
		ConfigFile string `short:"C" long:"configfile"`
	}{}
	preParser := flags.NewParser(&preCfg, flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}

	if preCfg.ConfigFile != "" {
		data, err := os.ReadFile(preCfg.ConfigFile)
		if err != nil {
			return nil, errors.Wrap(err, "reading configuration file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", preCfg.ConfigFile)
		}
	}

	parser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	return parser.ParseArgs(args)
}
