package protocol

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ServerConfig wires the collaborators of a server connection. Any of them
// may be nil: AUTH is then refused, NOTIFY runs without event routing and
// policy requests are answered with EOPNOTSUPP.
type ServerConfig struct {
	Auth    AuthFactory
	Notify  NotifyFactory
	Policy  PolicyHandler
	Metrics *Metrics
}

// HandlerFunc handles one admitted inbound message.
type HandlerFunc func(s *Server, m *Message, arg interface{}) error

type handlerEntry struct {
	fn  HandlerFunc
	arg interface{}
}

// negotiation is what the server learned during connect.
type negotiation struct {
	helloSent  bool
	verselDone bool
	authBusy   bool
	authDone   bool
	authOK     bool
	options    Option
	protocols  Subprotocol
}

// Server is the server side of one connection. Like Client it is driven by
// a single goroutine, usually through Serve.
type Server struct {
	id       uuid.UUID
	ch       Channel
	cfg      ServerConfig
	state    State
	neg      negotiation
	close    closeState
	handlers map[Opcode]handlerEntry

	peerUID  uint32
	peerName string
	auth     Authenticator
	group    NotifyGroup

	// outbox holds messages posted from other goroutines until Serve
	// sends them.
	outMu     sync.Mutex
	outbox    []*Message
	outClosed bool
	outReady  chan struct{}
}

// NewServer creates a server connection owning ch.
func NewServer(ch Channel, cfg ServerConfig) *Server {
	s := &Server{
		id:       uuid.New(),
		ch:       ch,
		cfg:      cfg,
		handlers: make(map[Opcode]handlerEntry),
		outReady: make(chan struct{}, 1),
	}
	for op, fn := range defaultHandlers {
		s.handlers[op] = handlerEntry{fn: fn}
	}
	return s
}

// ID identifies the connection in logs.
func (s *Server) ID() uuid.UUID { return s.id }

// State returns the lifecycle state.
func (s *Server) State() State { return s.state }

// PeerUID is the authenticated uid of the client.
func (s *Server) PeerUID() uint32 { return s.peerUID }

// PeerName is the authenticated name of the client.
func (s *Server) PeerName() string { return s.peerName }

// Protocols returns the active sub-protocols. Once closing only NOTIFY
// remains.
func (s *Server) Protocols() Subprotocol { return s.neg.protocols }

// Options returns the granted options.
func (s *Server) Options() Option { return s.neg.options }

// NotifyGroup returns the notification group, nil unless NOTIFY was
// selected.
func (s *Server) NotifyGroup() NotifyGroup { return s.group }

// SetHandler installs the handler for op, replacing any default one.
// Opcodes that only the server may send are refused before any handler is
// consulted.
func (s *Server) SetHandler(op Opcode, fn HandlerFunc, arg interface{}) {
	if fn == nil {
		delete(s.handlers, op)
		return
	}
	s.handlers[op] = handlerEntry{fn: fn, arg: arg}
}

func (s *Server) setState(st State) {
	if s.state == st {
		return
	}
	srvLog.Debugf("server %s state %s -> %s", s.id, s.state, st)
	s.state = st
	s.cfg.Metrics.transition("server", st)
}

// Start greets the client. It must be called exactly once, before any
// message is processed.
func (s *Server) Start() error {
	if s.neg.helloSent || s.neg.protocols != 0 {
		return errors.Wrap(EALREADY, "HELLO already sent")
	}
	m, err := NewHello(Hello{Version: ProtocolVersion, MinVersion: MinProtocolVersion})
	if err != nil {
		return err
	}
	s.setState(StateConnecting)
	if err := s.Send(m); err != nil {
		return err
	}
	s.neg.helloSent = true
	return nil
}

// Send transmits m. Once both close acknowledgements are exchanged the
// channel is closed right here; a CLOSEACK owed to the peer is sent first.
func (s *Server) Send(m *Message) error {
	if s.state.Terminal() {
		return ErrConnectionClosed
	}
	b := m.Bytes()
	CRCSet(b)
	dumpMessage("send", b)
	op := m.Opcode()
	if err := s.ch.Send(b); err != nil {
		return s.fail(errors.Wrapf(err, "send %s", op))
	}
	s.cfg.Metrics.messageSent(op)
	s.close.sent(op)

	if s.close.needAck() {
		if !s.close.sentReq {
			return s.sendGeneral(OpCloseReq)
		}
		s.close.sentAck = true
		if err := s.sendGeneral(OpCloseAck); err != nil {
			return err
		}
	}
	s.checkClosed()
	return nil
}

func (s *Server) sendGeneral(op Opcode) error {
	m, err := NewGeneral(op)
	if err != nil {
		return err
	}
	return s.Send(m)
}

func (s *Server) sendAck(token uint64, op Opcode, errno Errno) error {
	m, err := NewAck(OpReply, Ack{Token: token, Opcode: op, Error: errno})
	if err != nil {
		return err
	}
	return s.Send(m)
}

func (s *Server) checkClosed() {
	if s.state.Terminal() || !s.close.complete() {
		return
	}
	s.setState(StateClosed)
	s.release()
}

func (s *Server) release() {
	if err := s.ch.Close(); err != nil {
		srvLog.Debugf("server %s closing channel: %v", s.id, err)
	}
	if s.auth != nil {
		s.auth.Close()
		s.auth = nil
	}
	if s.group != nil {
		s.group.Close()
		s.group = nil
	}
}

func (s *Server) fail(err error) error {
	if s.state.Terminal() {
		return err
	}
	srvLog.Warnf("server %s connection failed: %v", s.id, err)
	s.setState(StateError)
	s.release()
	return err
}

// StartClose starts the close handshake from the server side.
func (s *Server) StartClose() error {
	if s.state.Terminal() {
		return ErrConnectionClosed
	}
	s.enterClosing()
	if s.close.sentReq {
		return nil
	}
	return s.sendGeneral(OpCloseReq)
}

func (s *Server) enterClosing() {
	s.setState(StateClosing)
	s.neg.protocols &= ProtoNotify
}

// Process consumes one received message.
func (s *Server) Process(m *Message) error {
	if s.state.Terminal() {
		return ErrConnectionClosed
	}
	if !m.VerifyField(LayoutGeneral, "type") {
		s.cfg.Metrics.integrityFailure()
		return s.fail(protocolError(true, ErrShortMessage, "received message"))
	}
	dumpMessage("recv", m.Bytes())
	if !CRCCheck(m.Bytes()) {
		s.cfg.Metrics.integrityFailure()
		return s.fail(protocolError(true, ErrBadCRC, "received message"))
	}
	op := m.Opcode()
	s.cfg.Metrics.messageReceived(op)
	if err := s.close.observe(op); err != nil {
		return s.fail(err)
	}

	h, errno := s.admit(op)
	if errno != EOK {
		return s.reject(m, errno)
	}
	return h.fn(s, m, h.arg)
}

// reject answers m with a REPLY carrying errno.
func (s *Server) reject(m *Message, errno Errno) error {
	op := m.Opcode()
	token, _ := MessageToken(m)
	srvLog.Debugf("server %s rejecting %s token %d: %s", s.id, op, token, errno)
	s.cfg.Metrics.messageRejected(op)
	if err := s.sendAck(token, op, errno); err != nil {
		return err
	}
	return protocolErrorf(false, errno, "%s rejected", op)
}

// Receive reads one message from the channel and processes it.
func (s *Server) Receive() error {
	if s.state.Terminal() {
		return ErrConnectionClosed
	}
	b, err := s.ch.Receive()
	if err != nil {
		return s.fail(errors.Wrap(err, "receive"))
	}
	m, err := MessageFromBytes(b)
	if err != nil {
		return s.fail(protocolError(true, err, "receive"))
	}
	return s.Process(m)
}

// Post queues m to be sent by the goroutine running Serve. It never
// blocks and is safe to call from any goroutine, including from within a
// handler.
func (s *Server) Post(m *Message) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.outClosed {
		return ErrConnectionClosed
	}
	s.outbox = append(s.outbox, m)
	select {
	case s.outReady <- struct{}{}:
	default:
	}
	return nil
}

func (s *Server) takeOutbox() []*Message {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	out := s.outbox
	s.outbox = nil
	return out
}

func (s *Server) closeOutbox() {
	s.outMu.Lock()
	s.outClosed = true
	s.outbox = nil
	s.outMu.Unlock()
}

type received struct {
	b   []byte
	err error
}

// rxChannel receives from the channel until it fails or done is closed.
func (s *Server) rxChannel(rx chan<- received, done <-chan struct{}) {
	for {
		b, err := s.ch.Receive()
		select {
		case rx <- received{b, err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Serve greets the client and handles its messages, and the ones posted
// for it, until the connection is closed or fails. A clean close returns
// nil.
func (s *Server) Serve() error {
	defer s.closeOutbox()
	if err := s.Start(); err != nil {
		return err
	}
	srvLog.Debugf("server %s serving", s.id)

	rx := make(chan received)
	done := make(chan struct{})
	defer close(done)
	go s.rxChannel(rx, done)

	var err error
	for !s.state.Terminal() {
		select {
		case r := <-rx:
			if r.err != nil {
				err = s.fail(errors.Wrap(r.err, "receive"))
				break
			}
			m, merr := MessageFromBytes(r.b)
			if merr != nil {
				err = s.fail(protocolError(true, merr, "receive"))
				break
			}
			err = s.Process(m)
		case <-s.outReady:
			for _, m := range s.takeOutbox() {
				if err = s.Send(m); err != nil {
					break
				}
			}
		}
		if err != nil && !s.state.Terminal() {
			srvLog.Debugf("server %s: %v", s.id, err)
		}
	}
	if s.state == StateClosed {
		return nil
	}
	return err
}
