package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnginesConnect(t *testing.T) {
	for _, proto := range []Subprotocol{ProtoPolicy, ProtoNotify, ProtoBoth} {
		p := newEnginePair(t, nil)
		p.connect(t, proto)
		assert.Equal(t, proto, p.c.Protocols())
		assert.Equal(t, proto, p.s.Protocols())
		assert.Equal(t, uint32(1000), p.c.PeerUID())
		assert.Equal(t, "alice", p.s.PeerName())
		assert.Equal(t, OptMultiplex, p.c.Options())
		assert.Equal(t, proto.Has(ProtoNotify), p.group != nil)
	}
}

func TestEnginesRegisterAndAnswer(t *testing.T) {
	p := newEnginePair(t, nil)
	p.connect(t, ProtoNotify)

	tx, err := p.c.Register(21, 0, 7, 1000, 2)
	require.NoError(t, err)
	p.pump(t)
	require.True(t, tx.IsDone())
	require.NoError(t, tx.Result())
	assert.Equal(t, NotifyReg{Token: 21, RuleID: 7, UID: 1000, Subsystem: 2}, p.group.registered[21])

	tx, err = p.c.Register(21, 0, 7, 1000, 2)
	require.NoError(t, err)
	p.pump(t)
	assert.ErrorIs(t, tx.Result(), EINVAL, "duplicate registration")

	ask := mustMessage(t)(NewNotify(OpAsk, Notify{Token: 500, RuleID: 7}))
	require.NoError(t, p.s.Send(ask))
	p.pump(t)
	require.Len(t, p.c.Notifications(), 1)

	require.NoError(t, p.c.Reply(500, 1, false))
	require.NoError(t, p.c.Reply(501, 0, true))
	p.pump(t)
	assert.Equal(t, []answer{{500, 1, false}, {501, 0, true}}, p.group.answers)

	tx, err = p.c.Unregister(21, 0, 7, 1000, 2)
	require.NoError(t, err)
	p.pump(t)
	require.NoError(t, tx.Result())
	assert.Empty(t, p.group.registered)
}

func TestEnginesEventRejectionIsNotAVerdict(t *testing.T) {
	p := newEnginePair(t, nil)
	p.connect(t, ProtoNotify)

	reg := mustMessage(t)(NewNotifyReg(OpRegister, NotifyReg{Token: 500}))
	require.NoError(t, p.s.Send(reg))
	p.pump(t)
	require.Equal(t, 1, p.cch.count(OpReply))
	assert.Empty(t, p.group.answers)
	assert.Equal(t, StateConnected, p.s.State())
}

func TestServerVersionReply(t *testing.T) {
	s, ch := startedServer(t, ServerConfig{})
	require.NoError(t, s.Process(mustMessage(t)(NewGeneral(OpVersion))))
	v, err := DecodeVer(ch.last(t))
	require.NoError(t, err)
	assert.Equal(t, Ver{Protocol: ProtocolVersion, APN: PolicyLanguageVersion}, v)
}

func TestClientVersionQuery(t *testing.T) {
	c, ch := connectedClient(t, ProtoPolicy)
	ch.script(mustMessage(t)(NewVer(Ver{Protocol: ProtocolVersion, APN: PolicyLanguageVersion})))

	v, err := c.VersionQuery()
	require.NoError(t, err)
	assert.Equal(t, uint32(PolicyLanguageVersion), v.APN)
	assert.Equal(t, []Opcode{OpVersion}, ch.sentOpcodes())
	assert.Empty(t, c.Pending())
}

type echoPolicy struct{}

func (echoPolicy) HandlePolicy(m *Message, _ uint32, s *Server) error {
	req, err := DecodePolicyRequest(m)
	if err != nil {
		return err
	}
	reply, err := NewPolicyReply(PolicyReply{Token: req.Token, Payload: req.Payload})
	if err != nil {
		return err
	}
	return s.Send(reply)
}

func TestEnginesPolicyRequest(t *testing.T) {
	p := newEnginePair(t, echoPolicy{})
	p.connect(t, ProtoPolicy)

	tx, err := p.c.StartPolicyRequest(3, []byte("allow /tmp"))
	require.NoError(t, err)
	p.pump(t)
	require.NoError(t, tx.Result())
	assert.Equal(t, []byte("allow /tmp"), tx.Data.(PolicyReply).Payload)

	_, err = p.c.StartPolicyRequest(0, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEnginesPolicyRequestWithoutHandler(t *testing.T) {
	p := newEnginePair(t, nil)
	p.connect(t, ProtoPolicy)

	tx, err := p.c.StartPolicyRequest(3, []byte("x"))
	require.NoError(t, err)
	p.pump(t)
	assert.ErrorIs(t, tx.Result(), EOPNOTSUPP)
}

func TestEnginesCloseSymmetry(t *testing.T) {
	cases := []struct {
		name  string
		start func(t *testing.T, p *enginePair)
	}{
		{"client first", func(t *testing.T, p *enginePair) {
			_, err := p.c.StartClose()
			require.NoError(t, err)
		}},
		{"server first", func(t *testing.T, p *enginePair) {
			require.NoError(t, p.s.StartClose())
		}},
		{"crossed", func(t *testing.T, p *enginePair) {
			_, err := p.c.StartClose()
			require.NoError(t, err)
			require.NoError(t, p.s.StartClose())
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := newEnginePair(t, nil)
			p.connect(t, ProtoBoth)
			c.start(t, p)
			p.pump(t)

			assert.Equal(t, StateClosed, p.c.State())
			assert.Equal(t, StateClosed, p.s.State())
			assert.Equal(t, 1, p.cch.count(OpCloseReq))
			assert.Equal(t, 1, p.sch.count(OpCloseReq))
			assert.Equal(t, 1, p.cch.count(OpCloseAck))
			assert.Equal(t, 1, p.sch.count(OpCloseAck))
			assert.True(t, p.cch.closed)
			assert.True(t, p.sch.closed)
			assert.True(t, p.group.closed)

			tx, err := p.c.StartClose()
			require.NoError(t, err)
			assert.True(t, tx.IsDone())
			assert.NoError(t, tx.Result())
		})
	}
}

func TestEnginesNotifyDeliverableWhileClosing(t *testing.T) {
	p := newEnginePair(t, echoPolicy{})
	p.connect(t, ProtoBoth)

	require.NoError(t, p.s.StartClose())
	assert.Equal(t, ProtoNotify, p.s.Protocols())
	require.NoError(t, p.s.Send(mustMessage(t)(NewNotify(OpNotify, Notify{Token: 1}))))
	p.pump(t)

	assert.Len(t, p.c.Notifications(), 1)
	assert.Equal(t, StateClosed, p.c.State())
	assert.Equal(t, StateClosed, p.s.State())
}

func TestServerPolicyRefusedWhileClosing(t *testing.T) {
	p := newEnginePair(t, echoPolicy{})
	p.connect(t, ProtoBoth)

	tx, err := p.c.StartPolicyRequest(9, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, p.s.StartClose())
	require.Error(t, deliverOne(t, p.s, p.sch))
	assert.Equal(t, Ack{Token: 9, Opcode: OpPolicyRequest, Error: EINVAL}, lastAck(t, p.sch))

	p.pump(t)
	assert.ErrorIs(t, tx.Result(), EINVAL)
}
