// Command policyctl talks to the policy daemon.
//
//	policyctl [options] get
//	policyctl [options] set <policy>
//	policyctl [options] check <subject>
//	policyctl [options] version
//	policyctl [options] listen [allow|deny|delegate]
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/RoanBrand/PolicyDaemonProtocol/comwrapper"
	"github.com/RoanBrand/PolicyDaemonProtocol/config"
	"github.com/RoanBrand/PolicyDaemonProtocol/logger"
	"github.com/RoanBrand/PolicyDaemonProtocol/protocol"
	"github.com/RoanBrand/PolicyDaemonProtocol/transport"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

func dial(cfg *config.Client) (protocol.Channel, error) {
	switch {
	case cfg.SerialPort != "":
		return comwrapper.Open(cfg.SerialPort, cfg.BaudRate)
	case cfg.WebSocket != "":
		return transport.DialWebSocket(cfg.WebSocket)
	default:
		return transport.Dial(cfg.Network, cfg.Address)
	}
}

func run(cfg *config.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}
	cmd := args[0]
	proto, err := cfg.Subprotocols()
	if err != nil {
		return err
	}
	if cmd == "listen" {
		proto |= protocol.ProtoNotify
	} else {
		proto |= protocol.ProtoPolicy
	}

	ch, err := dial(cfg)
	if err != nil {
		return err
	}
	defer ch.Close()
	c := protocol.NewClient(ch, protocol.ClientConfig{})
	if err := c.Connect(proto); err != nil {
		return errors.Wrap(err, "connect")
	}
	log.Debugf("connected to %s (uid %d) with %s", c.PeerName(), c.PeerUID(),
		protocol.FormatStringList(uint32(c.Protocols()), protocol.ProtocolNames))

	switch cmd {
	case "get", "set", "check":
		err = request(c, strings.Join(args, " "))
	case "version":
		var v protocol.Ver
		if v, err = c.VersionQuery(); err == nil {
			fmt.Printf("protocol %d, policy language %d\n", v.Protocol, v.APN)
		}
	case "listen":
		err = listen(c, cfg, args[1:])
	default:
		err = errors.Errorf("unknown command %q", cmd)
	}
	if err != nil || c.State().Terminal() {
		return err
	}
	return c.Close()
}

func request(c *protocol.Client, payload string) error {
	reply, err := c.PolicyRequest(1, []byte(payload))
	if len(reply.Payload) > 0 {
		fmt.Println(string(reply.Payload))
	}
	if errno, ok := err.(protocol.Errno); ok {
		fmt.Printf("%s\n", errno)
		return nil
	}
	return err
}

// listen prints events until the connection ends, answering every ASK
// with the given mode.
func listen(c *protocol.Client, cfg *config.Client, args []string) error {
	mode := "allow"
	if len(args) > 0 {
		mode = args[0]
	}
	var verdict uint32
	delegate := false
	switch mode {
	case "allow":
	case "deny":
		verdict = uint32(protocol.EPERM)
	case "delegate":
		delegate = true
	default:
		return errors.Errorf("unknown listen mode %q", mode)
	}

	token := cfg.Token
	if token == 0 {
		token = 1
	}
	t, err := c.Register(token, cfg.PID, cfg.RuleID, cfg.UID, cfg.Subsystem)
	if err != nil {
		return err
	}
	if err := c.Wait(t); err != nil {
		return errors.Wrap(err, "register")
	}
	fmt.Printf("registered token %d\n", token)

	for {
		for m, ok := c.NextNotification(); ok; m, ok = c.NextNotification() {
			if err := printEvent(c, m, verdict, delegate); err != nil {
				return err
			}
		}
		if err := c.Receive(); err != nil {
			if c.State().Terminal() {
				return nil
			}
			log.Warnf("%v", err)
		}
	}
}

func printEvent(c *protocol.Client, m *protocol.Message, verdict uint32, delegate bool) error {
	switch m.Opcode() {
	case protocol.OpResYou, protocol.OpResOther:
		r, err := protocol.DecodeNotifyResult(m)
		if err != nil {
			return err
		}
		fmt.Printf("%s token %d uid %d: %s\n", m.Opcode(), r.Token, r.UID, r.Error)
		return nil
	}
	n, err := protocol.DecodeNotify(m)
	if err != nil {
		return err
	}
	fmt.Printf("%s token %d pid %d rule %d uid %d subsystem %d: %s\n",
		m.Opcode(), n.Token, n.PID, n.RuleID, n.UID, n.Subsystem, n.Payload)
	if m.Opcode() == protocol.OpAsk {
		return c.Reply(n.Token, verdict, delegate)
	}
	return nil
}

func main() {
	cfg, args, err := config.LoadClient(os.Args[1:])
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	level, _ := logger.LevelFromString(cfg.LogLevel)
	if err := logger.InitLog(cfg.LogFile(), level); err != nil {
		fmt.Fprintf(os.Stderr, "log: %v\n", err)
		os.Exit(1)
	}
	logger.SetLogLevels(cfg.LogLevel)

	err = run(cfg, args)
	logger.BackendLog.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
