package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConnectHappyPath(t *testing.T) {
	ch := &queueChannel{}
	ch.script(handshakeScript(t, "MULTIPLEX")...)
	c := NewClient(ch, ClientConfig{})

	tx, err := c.StartConnect(ProtoBoth)
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, c.State())
	require.NoError(t, c.Wait(tx))

	assert.Equal(t, StateConnected, c.State())
	assert.True(t, tx.IsDone())
	assert.Equal(t, int32(0), tx.Code())
	assert.Equal(t, []Opcode{OpVersel, OpAuth, OpAuthData, OpOptReq, OpProtoSel}, ch.sentOpcodes())
	assert.Equal(t, uint32(1000), c.PeerUID())
	assert.Equal(t, "alice", c.PeerName())
	assert.Equal(t, OptMultiplex, c.Options())
	assert.Equal(t, ProtoBoth, c.Protocols())
	assert.Empty(t, c.Pending())

	optreq, _ := MessageFromBytes(ch.out[3])
	list, err := DecodeStringList(optreq)
	require.NoError(t, err)
	assert.Equal(t, "MULTIPLEX,PIPELINE", list)

	protosel, _ := MessageFromBytes(ch.out[4])
	list, err = DecodeStringList(protosel)
	require.NoError(t, err)
	assert.Equal(t, "POLICY,NOTIFY", list)
}

func TestClientConnectVersionMismatch(t *testing.T) {
	ch := &queueChannel{}
	ch.script(mustMessage(t)(NewHello(Hello{Version: ProtocolVersion + 2, MinVersion: ProtocolVersion + 1})))
	c := NewClient(ch, ClientConfig{})

	err := c.Connect(ProtoPolicy)
	require.ErrorIs(t, err, ErrNotSupported)
	assert.Equal(t, StateError, c.State())
	assert.True(t, ch.closed)
	assert.Empty(t, ch.out)
}

func TestClientConnectMultiplexNotGranted(t *testing.T) {
	ch := &queueChannel{}
	ch.script(handshakeScript(t, "")...)
	c := NewClient(ch, ClientConfig{})

	tx, err := c.StartConnect(ProtoBoth)
	require.NoError(t, err)
	require.ErrorIs(t, c.Wait(tx), ErrNotSupported)
	assert.Equal(t, -int32(EPROTONOSUPPORT), tx.Code())
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, 0, ch.count(OpProtoSel))
}

func TestClientConnectRejectedVersel(t *testing.T) {
	must := mustMessage(t)
	ch := &queueChannel{}
	ch.script(
		must(NewHello(Hello{Version: ProtocolVersion, MinVersion: MinProtocolVersion})),
		must(NewAck(OpReply, Ack{Opcode: OpVersel, Error: EINVAL})),
	)
	c := NewClient(ch, ClientConfig{})

	err := c.Connect(ProtoPolicy)
	require.ErrorIs(t, err, EINVAL)
	assert.Equal(t, StateError, c.State())
}

func TestClientRejectsCorruptMessage(t *testing.T) {
	c, ch := connectedClient(t, ProtoNotify)
	ch.script(mustMessage(t)(NewNotify(OpNotify, Notify{Token: 1})))
	ch.inbox[0][5] ^= 0x10

	err := c.Receive()
	require.ErrorIs(t, err, ErrBadCRC)
	assert.True(t, IsFatal(err))
	assert.Equal(t, StateError, c.State())
	assert.True(t, ch.closed)
	assert.ErrorIs(t, c.Process(mustMessage(t)(NewGeneral(OpCloseReq))), ErrConnectionClosed)
}

func TestClientConnectTwice(t *testing.T) {
	c, _ := connectedClient(t, ProtoPolicy)
	_, err := c.StartConnect(ProtoPolicy)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = NewClient(&queueChannel{}, ClientConfig{}).StartConnect(0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClientCloseSelfFirst(t *testing.T) {
	c, ch := connectedClient(t, ProtoPolicy)
	tx, err := c.StartClose()
	require.NoError(t, err)
	assert.Equal(t, StateClosing, c.State())

	again, err := c.StartClose()
	require.NoError(t, err)
	assert.Same(t, tx, again)

	must := mustMessage(t)
	ch.script(must(NewGeneral(OpCloseReq)), must(NewGeneral(OpCloseAck)))
	require.NoError(t, c.Wait(tx))

	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, []Opcode{OpCloseReq, OpCloseAck}, ch.sentOpcodes())
	assert.True(t, ch.closed)
}

func TestClientClosePeerFirst(t *testing.T) {
	c, ch := connectedClient(t, ProtoPolicy)
	must := mustMessage(t)

	require.NoError(t, c.Process(must(NewGeneral(OpCloseReq))))
	assert.Equal(t, StateClosing, c.State())
	assert.Equal(t, []Opcode{OpCloseReq, OpCloseAck}, ch.sentOpcodes())

	require.NoError(t, c.Process(must(NewGeneral(OpCloseAck))))
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, ch.count(OpCloseAck))

	tx, err := c.StartClose()
	require.NoError(t, err)
	assert.True(t, tx.IsDone())
	assert.NoError(t, tx.Result())
}

// A close started while PROTOSEL is in flight stays a close when the ack
// arrives.
func TestClientCloseDuringConnect(t *testing.T) {
	must := mustMessage(t)
	script := handshakeScript(t, "MULTIPLEX")
	ch := &queueChannel{}
	ch.script(script[:5]...)
	c := NewClient(ch, ClientConfig{})

	tx, err := c.StartConnect(ProtoPolicy)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Receive())
	}
	require.Equal(t, OpProtoSel, ch.last(t).Opcode())

	closeTx, err := c.StartClose()
	require.NoError(t, err)
	assert.Equal(t, StateClosing, c.State())

	ch.script(script[5])
	require.NoError(t, c.Receive())
	assert.Equal(t, StateClosing, c.State())
	assert.True(t, tx.IsDone())
	assert.NoError(t, tx.Result())
	assert.Equal(t, ProtoPolicy, c.Protocols())

	ch.script(must(NewGeneral(OpCloseReq)), must(NewGeneral(OpCloseAck)))
	require.NoError(t, c.Wait(closeTx))
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, ch.count(OpCloseAck))
}

func TestClientCloseAckBeforeRequest(t *testing.T) {
	c, ch := connectedClient(t, ProtoPolicy)
	_, err := c.StartClose()
	require.NoError(t, err)

	err = c.Process(mustMessage(t)(NewGeneral(OpCloseAck)))
	require.ErrorIs(t, err, ErrCloseViolation)
	assert.True(t, IsFatal(err))
	assert.Equal(t, StateError, c.State())
	assert.True(t, ch.closed)
}

func TestClientAskPairing(t *testing.T) {
	c, _ := connectedClient(t, ProtoNotify)
	must := mustMessage(t)

	require.NoError(t, c.Process(must(NewNotify(OpAsk, Notify{Token: 1}))))
	require.NoError(t, c.Process(must(NewNotify(OpNotify, Notify{Token: 99}))))
	require.NoError(t, c.Process(must(NewNotify(OpAsk, Notify{Token: 2}))))
	assert.Len(t, c.Pending(), 2)

	require.NoError(t, c.Process(must(NewNotifyResult(OpResOther, NotifyResult{Token: 2}))))
	require.NoError(t, c.Process(must(NewNotifyResult(OpResYou, NotifyResult{Token: 1}))))
	assert.Empty(t, c.Pending())

	var got []Opcode
	var tokens []uint64
	for _, m := range c.Notifications() {
		token, _ := MessageToken(m)
		got = append(got, m.Opcode())
		tokens = append(tokens, token)
	}
	assert.Equal(t, []Opcode{OpAsk, OpResYou, OpNotify, OpAsk, OpResOther}, got)
	assert.Equal(t, []uint64{1, 1, 99, 2, 2}, tokens)

	require.NoError(t, c.Process(must(NewNotifyResult(OpResYou, NotifyResult{Token: 1}))))
	assert.Len(t, c.Notifications(), 5, "duplicate verdict is dropped")

	require.NoError(t, c.Process(must(NewNotifyResult(OpResYou, NotifyResult{Token: 77}))))
	assert.Len(t, c.Notifications(), 5, "verdict without ASK is dropped")

	m, ok := c.NextNotification()
	require.True(t, ok)
	assert.Equal(t, OpAsk, m.Opcode())
	assert.Len(t, c.Notifications(), 4)
}

func TestClientDropsVerdictForDrainedAsk(t *testing.T) {
	c, _ := connectedClient(t, ProtoNotify)
	must := mustMessage(t)

	require.NoError(t, c.Process(must(NewNotify(OpAsk, Notify{Token: 3}))))
	_, ok := c.NextNotification()
	require.True(t, ok)

	require.NoError(t, c.Process(must(NewNotifyResult(OpResYou, NotifyResult{Token: 3}))))
	assert.Empty(t, c.Notifications())
	assert.Empty(t, c.Pending())
}

func TestClientRejectsServerRegister(t *testing.T) {
	c, ch := connectedClient(t, ProtoNotify)
	must := mustMessage(t)

	require.NoError(t, c.Process(must(NewNotifyReg(OpRegister, NotifyReg{Token: 4}))))
	ack, err := DecodeAck(ch.last(t))
	require.NoError(t, err)
	assert.Equal(t, Ack{Token: 4, Opcode: OpRegister, Error: EINVAL}, ack)

	require.NoError(t, c.Process(must(NewGeneral(OpCtxReply))))
	ack, err = DecodeAck(ch.last(t))
	require.NoError(t, err)
	assert.Equal(t, Ack{Opcode: OpCtxReply, Error: EOPNOTSUPP}, ack)
}

func TestClientRegister(t *testing.T) {
	c, ch := connectedClient(t, ProtoNotify)

	_, err := c.Register(0, 1, 2, 3, 4)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	tx, err := c.Register(7, 1, 2, 3, 4)
	require.NoError(t, err)
	r, err := DecodeNotifyReg(ch.last(t))
	require.NoError(t, err)
	assert.Equal(t, NotifyReg{Token: 7, PID: 1, RuleID: 2, UID: 3, Subsystem: 4}, r)
	assert.Len(t, c.Pending(), 1)

	ch.script(mustMessage(t)(NewAck(OpReply, Ack{Token: 7, Opcode: OpRegister})))
	require.NoError(t, c.Wait(tx))
	assert.Empty(t, c.Pending())

	tx, err = c.Unregister(8, 1, 2, 3, 4)
	require.NoError(t, err)
	ch.script(mustMessage(t)(NewAck(OpReply, Ack{Token: 8, Opcode: OpUnregister, Error: EINVAL})))
	assert.ErrorIs(t, c.Wait(tx), EINVAL)
	assert.Equal(t, StateConnected, c.State())
}

func TestClientRegisterNeedsNotify(t *testing.T) {
	c, _ := connectedClient(t, ProtoPolicy)
	_, err := c.Register(7, 1, 2, 3, 4)
	assert.ErrorIs(t, err, ErrNotSupported)

	_, err = NewClient(&queueChannel{}, ClientConfig{}).Register(7, 1, 2, 3, 4)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientReply(t *testing.T) {
	c, ch := connectedClient(t, ProtoNotify)

	require.NoError(t, c.Reply(5, 1, true))
	assert.Equal(t, OpDelegate, ch.last(t).Opcode())
	ack, err := DecodeAck(ch.last(t))
	require.NoError(t, err)
	assert.Equal(t, Ack{Token: 5, Opcode: OpAsk, Error: 1}, ack)
}
