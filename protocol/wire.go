package protocol

import (
	"github.com/pkg/errors"
)

func short(layout *Layout, field string) error {
	return errors.Wrapf(ErrShortMessage, "%s.%s missing", layout.Name(), field)
}

// NewGeneral builds a message that carries nothing but its opcode.
func NewGeneral(op Opcode) (*Message, error) {
	return allocate(LayoutGeneral, op, 0)
}

// Hello is the server greeting: the version bracket it supports.
type Hello struct {
	Version    uint32
	MinVersion uint32
}

// NewHello builds a HELLO message.
func NewHello(h Hello) (*Message, error) {
	m, err := allocate(LayoutHello, OpHello, 0)
	if err != nil {
		return nil, err
	}
	m.put32(LayoutHello, "version", h.Version)
	m.put32(LayoutHello, "min_version", h.MinVersion)
	return m, nil
}

// DecodeHello reads a HELLO message.
func DecodeHello(m *Message) (Hello, error) {
	if !m.VerifyField(LayoutHello, "min_version") {
		return Hello{}, short(LayoutHello, "min_version")
	}
	return Hello{
		Version:    m.get32(LayoutHello, "version"),
		MinVersion: m.get32(LayoutHello, "min_version"),
	}, nil
}

// NewVersel builds the client's version selection.
func NewVersel(version uint32) (*Message, error) {
	m, err := allocate(LayoutVersel, OpVersel, 0)
	if err != nil {
		return nil, err
	}
	m.put32(LayoutVersel, "version", version)
	return m, nil
}

// DecodeVersel returns the selected version.
func DecodeVersel(m *Message) (uint32, error) {
	if !m.VerifyField(LayoutVersel, "version") {
		return 0, short(LayoutVersel, "version")
	}
	return m.get32(LayoutVersel, "version"), nil
}

// Ack is the generic reply: which request it answers and how it went. The
// same shape carries a client's verdict on an ASK (REPLY or DELEGATE).
type Ack struct {
	Token  uint64
	Opcode Opcode
	Error  Errno
}

// NewAck builds an ack-shaped message of type op.
func NewAck(op Opcode, a Ack) (*Message, error) {
	m, err := allocate(LayoutAck, op, 0)
	if err != nil {
		return nil, err
	}
	m.put64(LayoutAck, "token", a.Token)
	m.put32(LayoutAck, "opcode", uint32(a.Opcode))
	m.put32(LayoutAck, "error", uint32(a.Error))
	return m, nil
}

// DecodeAck reads an ack-shaped message.
func DecodeAck(m *Message) (Ack, error) {
	if !m.VerifyField(LayoutAck, "error") {
		return Ack{}, short(LayoutAck, "error")
	}
	return Ack{
		Token:  m.get64(LayoutAck, "token"),
		Opcode: Opcode(m.get32(LayoutAck, "opcode")),
		Error:  Errno(m.get32(LayoutAck, "error")),
	}, nil
}

// NewAuthData builds AUTHDATA naming the authentication mechanism.
func NewAuthData(authType uint32) (*Message, error) {
	m, err := allocate(LayoutAuthTransport, OpAuthData, 0)
	if err != nil {
		return nil, err
	}
	m.put32(LayoutAuthTransport, "auth_type", authType)
	return m, nil
}

// DecodeAuthData returns the requested mechanism.
func DecodeAuthData(m *Message) (uint32, error) {
	if !m.VerifyField(LayoutAuthTransport, "auth_type") {
		return 0, short(LayoutAuthTransport, "auth_type")
	}
	return m.get32(LayoutAuthTransport, "auth_type"), nil
}

// AuthReply reports the outcome of authentication and the peer identity.
type AuthReply struct {
	Error Errno
	UID   uint32
	Name  string
}

// NewAuthReply builds an AUTHREPLY. The name is not NUL terminated; its
// length follows from the message length.
func NewAuthReply(r AuthReply) (*Message, error) {
	m, err := allocate(LayoutAuthReply, OpAuthReply, len(r.Name))
	if err != nil {
		return nil, err
	}
	m.put32(LayoutAuthReply, "error", uint32(r.Error))
	m.put32(LayoutAuthReply, "uid", r.UID)
	copy(m.tail(LayoutAuthReply, "name"), r.Name)
	return m, nil
}

// DecodeAuthReply reads an AUTHREPLY.
func DecodeAuthReply(m *Message) (AuthReply, error) {
	if !m.VerifyField(LayoutAuthReply, "name") {
		return AuthReply{}, short(LayoutAuthReply, "name")
	}
	return AuthReply{
		Error: Errno(m.get32(LayoutAuthReply, "error")),
		UID:   m.get32(LayoutAuthReply, "uid"),
		Name:  string(m.tail(LayoutAuthReply, "name")),
	}, nil
}

// NewStringList builds a message of type op carrying a comma separated
// list.
func NewStringList(op Opcode, list string) (*Message, error) {
	m, err := allocate(LayoutStringList, op, len(list))
	if err != nil {
		return nil, err
	}
	copy(m.tail(LayoutStringList, "stringlist"), list)
	return m, nil
}

// DecodeStringList returns the list payload with any NUL padding removed.
func DecodeStringList(m *Message) (string, error) {
	if !m.VerifyField(LayoutStringList, "stringlist") {
		return "", short(LayoutStringList, "stringlist")
	}
	raw := m.tail(LayoutStringList, "stringlist")
	for len(raw) > 0 && raw[len(raw)-1] == 0 {
		raw = raw[:len(raw)-1]
	}
	return string(raw), nil
}

// NotifyReg asks the daemon to route events for a rule to this connection.
type NotifyReg struct {
	Token     uint64
	PID       uint32
	RuleID    uint32
	UID       uint32
	Subsystem uint32
}

// NewNotifyReg builds REGISTER or UNREGISTER.
func NewNotifyReg(op Opcode, r NotifyReg) (*Message, error) {
	m, err := allocate(LayoutNotifyReg, op, 0)
	if err != nil {
		return nil, err
	}
	m.put64(LayoutNotifyReg, "token", r.Token)
	m.put32(LayoutNotifyReg, "pid", r.PID)
	m.put32(LayoutNotifyReg, "rule_id", r.RuleID)
	m.put32(LayoutNotifyReg, "uid", r.UID)
	m.put32(LayoutNotifyReg, "subsystem", r.Subsystem)
	return m, nil
}

// DecodeNotifyReg reads REGISTER or UNREGISTER.
func DecodeNotifyReg(m *Message) (NotifyReg, error) {
	if !m.VerifyField(LayoutNotifyReg, "subsystem") {
		return NotifyReg{}, short(LayoutNotifyReg, "subsystem")
	}
	return NotifyReg{
		Token:     m.get64(LayoutNotifyReg, "token"),
		PID:       m.get32(LayoutNotifyReg, "pid"),
		RuleID:    m.get32(LayoutNotifyReg, "rule_id"),
		UID:       m.get32(LayoutNotifyReg, "uid"),
		Subsystem: m.get32(LayoutNotifyReg, "subsystem"),
	}, nil
}

// Notify is an event pushed by the daemon. ASK events await a verdict.
type Notify struct {
	Token     uint64
	PID       uint32
	RuleID    uint32
	UID       uint32
	Subsystem uint32
	Operation uint32
	Error     Errno
	Payload   []byte
}

// NewNotify builds ASK, NOTIFY, LOGNOTIFY, POLICYCHANGE or STATUSNOTIFY.
func NewNotify(op Opcode, n Notify) (*Message, error) {
	m, err := allocate(LayoutNotify, op, len(n.Payload))
	if err != nil {
		return nil, err
	}
	m.put64(LayoutNotify, "token", n.Token)
	m.put32(LayoutNotify, "pid", n.PID)
	m.put32(LayoutNotify, "rule_id", n.RuleID)
	m.put32(LayoutNotify, "uid", n.UID)
	m.put32(LayoutNotify, "subsystem", n.Subsystem)
	m.put32(LayoutNotify, "operation", n.Operation)
	m.put32(LayoutNotify, "error", uint32(n.Error))
	copy(m.tail(LayoutNotify, "payload"), n.Payload)
	return m, nil
}

// DecodeNotify reads an event message.
func DecodeNotify(m *Message) (Notify, error) {
	if !m.VerifyField(LayoutNotify, "payload") {
		return Notify{}, short(LayoutNotify, "payload")
	}
	return Notify{
		Token:     m.get64(LayoutNotify, "token"),
		PID:       m.get32(LayoutNotify, "pid"),
		RuleID:    m.get32(LayoutNotify, "rule_id"),
		UID:       m.get32(LayoutNotify, "uid"),
		Subsystem: m.get32(LayoutNotify, "subsystem"),
		Operation: m.get32(LayoutNotify, "operation"),
		Error:     Errno(m.get32(LayoutNotify, "error")),
		Payload:   append([]byte(nil), m.tail(LayoutNotify, "payload")...),
	}, nil
}

// NotifyResult is the final verdict on an ASK event.
type NotifyResult struct {
	Token uint64
	UID   uint32
	Error Errno
}

// NewNotifyResult builds RESYOU or RESOTHER.
func NewNotifyResult(op Opcode, r NotifyResult) (*Message, error) {
	m, err := allocate(LayoutNotifyResult, op, 0)
	if err != nil {
		return nil, err
	}
	m.put64(LayoutNotifyResult, "token", r.Token)
	m.put32(LayoutNotifyResult, "uid", r.UID)
	m.put32(LayoutNotifyResult, "error", uint32(r.Error))
	return m, nil
}

// DecodeNotifyResult reads RESYOU or RESOTHER.
func DecodeNotifyResult(m *Message) (NotifyResult, error) {
	if !m.VerifyField(LayoutNotifyResult, "error") {
		return NotifyResult{}, short(LayoutNotifyResult, "error")
	}
	return NotifyResult{
		Token: m.get64(LayoutNotifyResult, "token"),
		UID:   m.get32(LayoutNotifyResult, "uid"),
		Error: Errno(m.get32(LayoutNotifyResult, "error")),
	}, nil
}

// Ver is the answer to a version query.
type Ver struct {
	Error    Errno
	Protocol uint32
	APN      uint32
}

// NewVer builds a VERSIONREPLY.
func NewVer(v Ver) (*Message, error) {
	m, err := allocate(LayoutVer, OpVersionReply, 0)
	if err != nil {
		return nil, err
	}
	m.put32(LayoutVer, "error", uint32(v.Error))
	m.put32(LayoutVer, "protocol", v.Protocol)
	m.put32(LayoutVer, "apn", v.APN)
	return m, nil
}

// DecodeVer reads a VERSIONREPLY.
func DecodeVer(m *Message) (Ver, error) {
	if !m.VerifyField(LayoutVer, "apn") {
		return Ver{}, short(LayoutVer, "apn")
	}
	return Ver{
		Error:    Errno(m.get32(LayoutVer, "error")),
		Protocol: m.get32(LayoutVer, "protocol"),
		APN:      m.get32(LayoutVer, "apn"),
	}, nil
}

// PolicyRequest carries an opaque policy-protocol request.
type PolicyRequest struct {
	Token   uint64
	Payload []byte
}

// NewPolicyRequest builds a POLICYREQUEST.
func NewPolicyRequest(r PolicyRequest) (*Message, error) {
	m, err := allocate(LayoutPolicyReq, OpPolicyRequest, len(r.Payload))
	if err != nil {
		return nil, err
	}
	m.put64(LayoutPolicyReq, "token", r.Token)
	copy(m.tail(LayoutPolicyReq, "payload"), r.Payload)
	return m, nil
}

// DecodePolicyRequest reads a POLICYREQUEST.
func DecodePolicyRequest(m *Message) (PolicyRequest, error) {
	if !m.VerifyField(LayoutPolicyReq, "payload") {
		return PolicyRequest{}, short(LayoutPolicyReq, "payload")
	}
	return PolicyRequest{
		Token:   m.get64(LayoutPolicyReq, "token"),
		Payload: append([]byte(nil), m.tail(LayoutPolicyReq, "payload")...),
	}, nil
}

// PolicyReply carries the daemon's answer to a policy request.
type PolicyReply struct {
	Token   uint64
	Error   Errno
	Payload []byte
}

// NewPolicyReply builds a POLICYREPLY.
func NewPolicyReply(r PolicyReply) (*Message, error) {
	m, err := allocate(LayoutPolicyReply, OpPolicyReply, len(r.Payload))
	if err != nil {
		return nil, err
	}
	m.put64(LayoutPolicyReply, "token", r.Token)
	m.put32(LayoutPolicyReply, "error", uint32(r.Error))
	copy(m.tail(LayoutPolicyReply, "payload"), r.Payload)
	return m, nil
}

// DecodePolicyReply reads a POLICYREPLY.
func DecodePolicyReply(m *Message) (PolicyReply, error) {
	if !m.VerifyField(LayoutPolicyReply, "payload") {
		return PolicyReply{}, short(LayoutPolicyReply, "payload")
	}
	return PolicyReply{
		Token:   m.get64(LayoutPolicyReply, "token"),
		Error:   Errno(m.get32(LayoutPolicyReply, "error")),
		Payload: append([]byte(nil), m.tail(LayoutPolicyReply, "payload")...),
	}, nil
}

// tokenLayouts lists the message types whose token sits right after the
// opcode.
var tokenLayouts = map[Opcode]*Layout{
	OpReply:         LayoutAck,
	OpDelegate:      LayoutAck,
	OpRegister:      LayoutNotifyReg,
	OpUnregister:    LayoutNotifyReg,
	OpAsk:           LayoutNotify,
	OpNotify:        LayoutNotify,
	OpLogNotify:     LayoutNotify,
	OpPolicyChange:  LayoutNotify,
	OpStatusNotify:  LayoutNotify,
	OpResYou:        LayoutNotifyResult,
	OpResOther:      LayoutNotifyResult,
	OpPolicyRequest: LayoutPolicyReq,
	OpPolicyReply:   LayoutPolicyReply,
}

// MessageToken returns the token of messages that carry one. Other
// messages, and truncated ones, report false.
func MessageToken(m *Message) (uint64, bool) {
	layout, ok := tokenLayouts[m.Opcode()]
	if !ok || !m.VerifyField(layout, "token") {
		return 0, false
	}
	return m.get64(layout, "token"), true
}
