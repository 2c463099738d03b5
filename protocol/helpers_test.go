package protocol

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

// queueChannel is an in-memory Channel. Sent buffers are recorded and,
// when linked to a peer, queued on the peer's inbox until a test delivers
// them.
type queueChannel struct {
	peer   *queueChannel
	inbox  [][]byte
	out    [][]byte
	closed bool
}

func linkedChannels() (*queueChannel, *queueChannel) {
	a, b := &queueChannel{}, &queueChannel{}
	a.peer, b.peer = b, a
	return a, b
}

func (q *queueChannel) Send(b []byte) error {
	if q.closed {
		return io.ErrClosedPipe
	}
	buf := append([]byte(nil), b...)
	q.out = append(q.out, buf)
	if q.peer != nil {
		q.peer.inbox = append(q.peer.inbox, buf)
	}
	return nil
}

func (q *queueChannel) Receive() ([]byte, error) {
	if len(q.inbox) == 0 {
		return nil, io.EOF
	}
	b := q.inbox[0]
	q.inbox = q.inbox[1:]
	return b, nil
}

func (q *queueChannel) Close() error {
	q.closed = true
	return nil
}

// script queues messages as if the peer had sent them.
func (q *queueChannel) script(msgs ...*Message) {
	for _, m := range msgs {
		b := m.Bytes()
		CRCSet(b)
		q.inbox = append(q.inbox, b)
	}
}

func (q *queueChannel) sentOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(q.out))
	for _, b := range q.out {
		ops = append(ops, Opcode(binary.BigEndian.Uint32(b)))
	}
	return ops
}

func (q *queueChannel) count(op Opcode) int {
	n := 0
	for _, o := range q.sentOpcodes() {
		if o == op {
			n++
		}
	}
	return n
}

func (q *queueChannel) last(t *testing.T) *Message {
	require.NotEmpty(t, q.out)
	m, err := MessageFromBytes(q.out[len(q.out)-1])
	require.NoError(t, err)
	return m
}

type processor interface {
	Process(m *Message) error
}

// deliverOne hands the oldest queued message of ch to p.
func deliverOne(t *testing.T, p processor, ch *queueChannel) error {
	b, err := ch.Receive()
	require.NoError(t, err)
	m, err := MessageFromBytes(b)
	require.NoError(t, err)
	return p.Process(m)
}

// pump alternates deliveries until both sides went quiet.
func pump(t *testing.T, c *Client, cch *queueChannel, s *Server, sch *queueChannel) {
	for i := 0; len(cch.inbox)+len(sch.inbox) > 0; i++ {
		require.Less(t, i, 1000, "no quiescence\nclient: %s\nserver: %s",
			spew.Sdump(cch.sentOpcodes()), spew.Sdump(sch.sentOpcodes()))
		if len(cch.inbox) > 0 && !c.State().Terminal() {
			if err := deliverOne(t, c, cch); err != nil {
				t.Logf("client: %v", err)
			}
		} else {
			cch.inbox = nil
		}
		if len(sch.inbox) > 0 && !s.State().Terminal() {
			if err := deliverOne(t, s, sch); err != nil {
				t.Logf("server: %v", err)
			}
		} else {
			sch.inbox = nil
		}
	}
}

func mustMessage(t *testing.T) func(*Message, error) *Message {
	return func(m *Message, err error) *Message {
		require.NoError(t, err)
		return m
	}
}

// handshakeScript is what a server sends during a successful connect.
func handshakeScript(t *testing.T, granted string) []*Message {
	must := mustMessage(t)
	return []*Message{
		must(NewHello(Hello{Version: ProtocolVersion, MinVersion: MinProtocolVersion})),
		must(NewAck(OpReply, Ack{Opcode: OpVersel})),
		must(NewAck(OpReply, Ack{Opcode: OpAuth})),
		must(NewAuthReply(AuthReply{UID: 1000, Name: "alice"})),
		must(NewStringList(OpOptAck, granted)),
		must(NewAck(OpReply, Ack{Opcode: OpProtoSel})),
	}
}

// connectedClient returns a client that completed the handshake for proto
// against a scripted server.
func connectedClient(t *testing.T, proto Subprotocol) (*Client, *queueChannel) {
	ch := &queueChannel{}
	ch.script(handshakeScript(t, "MULTIPLEX")...)
	c := NewClient(ch, ClientConfig{})
	require.NoError(t, c.Connect(proto))
	require.Equal(t, StateConnected, c.State())
	ch.out = nil
	return c, ch
}

type fakeAuth struct {
	done func(AuthResult)
	res  AuthResult
}

func (a *fakeAuth) Process(*Message) error {
	a.done(a.res)
	return nil
}

func (a *fakeAuth) Close() {}

func staticAuth(uid uint32, name string) AuthFactory {
	return func(_ Channel, done func(AuthResult)) Authenticator {
		return &fakeAuth{done: done, res: AuthResult{UID: uid, Name: name}}
	}
}

type answer struct {
	token    uint64
	verdict  uint32
	delegate bool
}

type fakeGroup struct {
	uid        uint32
	registered map[uint64]NotifyReg
	answers    []answer
	closed     bool
}

func (g *fakeGroup) Register(token uint64, uid, ruleID, subsystem uint32) error {
	if _, ok := g.registered[token]; ok {
		return EEXIST
	}
	g.registered[token] = NotifyReg{Token: token, UID: uid, RuleID: ruleID, Subsystem: subsystem}
	return nil
}

func (g *fakeGroup) Unregister(token uint64, _, _, _ uint32) error {
	if _, ok := g.registered[token]; !ok {
		return ENOENT
	}
	delete(g.registered, token)
	return nil
}

func (g *fakeGroup) Answer(token uint64, verdict uint32, delegate bool) error {
	g.answers = append(g.answers, answer{token, verdict, delegate})
	return nil
}

func (g *fakeGroup) Close() { g.closed = true }

// enginePair wires a client and a server engine over linked channels.
type enginePair struct {
	c     *Client
	cch   *queueChannel
	s     *Server
	sch   *queueChannel
	group *fakeGroup
}

func newEnginePair(t *testing.T, policy PolicyHandler) *enginePair {
	cch, sch := linkedChannels()
	p := &enginePair{cch: cch, sch: sch}
	p.c = NewClient(cch, ClientConfig{})
	p.s = NewServer(sch, ServerConfig{
		Auth: staticAuth(1000, "alice"),
		Notify: func(_ *Server, uid uint32) NotifyGroup {
			p.group = &fakeGroup{uid: uid, registered: make(map[uint64]NotifyReg)}
			return p.group
		},
		Policy: policy,
	})
	return p
}

func (p *enginePair) pump(t *testing.T) {
	pump(t, p.c, p.cch, p.s, p.sch)
}

func (p *enginePair) connect(t *testing.T, proto Subprotocol) {
	tx, err := p.c.StartConnect(proto)
	require.NoError(t, err)
	require.NoError(t, p.s.Start())
	p.pump(t)
	require.True(t, tx.IsDone())
	require.NoError(t, tx.Result())
	require.Equal(t, StateConnected, p.c.State())
	require.Equal(t, StateConnected, p.s.State())
}
