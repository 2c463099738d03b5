// Command policyd is the policy daemon. It serves the policy and notify
// sub-protocols on a stream socket, a serial port and a websocket.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/RoanBrand/PolicyDaemonProtocol/auth"
	"github.com/RoanBrand/PolicyDaemonProtocol/comwrapper"
	"github.com/RoanBrand/PolicyDaemonProtocol/config"
	"github.com/RoanBrand/PolicyDaemonProtocol/logger"
	"github.com/RoanBrand/PolicyDaemonProtocol/notify"
	"github.com/RoanBrand/PolicyDaemonProtocol/protocol"
	"github.com/RoanBrand/PolicyDaemonProtocol/transport"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const askTimeout = 30 * time.Second

type daemon struct {
	cfg protocol.ServerConfig
	wg  sync.WaitGroup
}

func newDaemon(c *config.Daemon, reg *prometheus.Registry) *daemon {
	hub := notify.NewHub()
	authFactory := auth.PeerCred()
	if c.Static {
		authFactory = auth.Static(c.StaticUID, c.StaticName)
	}
	return &daemon{cfg: protocol.ServerConfig{
		Auth:    authFactory,
		Notify:  hub.Factory(),
		Policy:  newPolicyStore(hub, askTimeout),
		Metrics: protocol.NewMetrics(reg),
	}}
}

// serve runs one connection to completion.
func (d *daemon) serve(ch protocol.Channel) {
	defer ch.Close()
	s := protocol.NewServer(ch, d.cfg)
	log.Infof("connection %s opened", s.ID())
	if err := s.Serve(); err != nil {
		log.Warnf("connection %s: %v", s.ID(), err)
		return
	}
	log.Infof("connection %s closed (uid %d)", s.ID(), s.PeerUID())
}

func (d *daemon) listenStream(l *transport.Listener) {
	defer d.wg.Done()
	for {
		ch, err := l.AcceptChannel()
		if err != nil {
			log.Infof("stream listener %s stopped: %v", l.Addr(), err)
			return
		}
		go d.serve(ch)
	}
}

func main() {
	cfg, _, err := config.LoadDaemon(os.Args[1:])
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
	defer logger.BackendLog.Close()
	if err := logger.SetLogLevels(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	d := newDaemon(cfg, reg)

	var closers []func() error
	if cfg.Address != "" {
		if cfg.Network == "unix" {
			os.Remove(cfg.Address)
		}
		l, err := transport.Listen(cfg.Network, cfg.Address)
		if err != nil {
			log.Criticalf("%v", err)
			os.Exit(1)
		}
		closers = append(closers, l.Close)
		d.wg.Add(1)
		go d.listenStream(l)
		log.Infof("listening on %s %s", cfg.Network, cfg.Address)
	}

	if cfg.SerialPort != "" {
		com := comwrapper.NewComPortServer(cfg.SerialPort, cfg.BaudRate, d.cfg)
		go com.ListenAndServe()
		log.Infof("serving serial port %s at %d baud", cfg.SerialPort, cfg.BaudRate)
	}

	for addr, mux := range httpMuxes(cfg, d, reg) {
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		closers = append(closers, srv.Close)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				log.Errorf("http %s: %v", srv.Addr, err)
			}
		}()
		log.Infof("http listening on %s", addr)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	log.Infof("shutting down")
	for _, c := range closers {
		c()
	}
	d.wg.Wait()
}

// httpMuxes groups the websocket and metrics endpoints by address.
func httpMuxes(cfg *config.Daemon, d *daemon, reg *prometheus.Registry) map[string]*http.ServeMux {
	muxes := make(map[string]*http.ServeMux)
	mux := func(addr string) *http.ServeMux {
		if m, ok := muxes[addr]; ok {
			return m
		}
		m := http.NewServeMux()
		muxes[addr] = m
		return m
	}
	if cfg.WebSocket != "" {
		mux(cfg.WebSocket).Handle("/ws", &transport.WebSocketHandler{Serve: d.serve})
	}
	if cfg.MetricsAddress != "" {
		mux(cfg.MetricsAddress).Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return muxes
}
