package protocol

import "fmt"

// Opcode is the 4-byte type tag at the start of every wire message.
type Opcode uint32

// Generic acknowledgement.
const (
	OpReply Opcode = 0x1000
)

// Connect-phase opcodes.
const (
	OpHello     Opcode = 0x2000
	OpVersel    Opcode = 0x2001
	OpAuth      Opcode = 0x2002
	OpAuthData  Opcode = 0x2003
	OpAuthReply Opcode = 0x2004
	OpOptReq    Opcode = 0x2005
	OpOptAck    Opcode = 0x2006
	OpProtoSel  Opcode = 0x2007
	OpCloseReq  Opcode = 0x2010
	OpCloseAck  Opcode = 0x2011
)

// Notify-phase opcodes.
const (
	OpRegister     Opcode = 0x3000
	OpUnregister   Opcode = 0x3001
	OpAsk          Opcode = 0x3002
	OpNotify       Opcode = 0x3003
	OpLogNotify    Opcode = 0x3004
	OpResYou       Opcode = 0x3005
	OpResOther     Opcode = 0x3006
	OpDelegate     Opcode = 0x3007
	OpCtxReq       Opcode = 0x3008
	OpCtxReply     Opcode = 0x3009
	OpPolicyChange Opcode = 0x300a
	OpStatusNotify Opcode = 0x300b
)

// Policy-phase opcodes.
const (
	OpPolicyRequest Opcode = 0x4000
	OpPolicyReply   Opcode = 0x4001
	OpVersion       Opcode = 0x4002
	OpVersionReply  Opcode = 0x4003
)

var opcodeNames = map[Opcode]string{
	OpReply:         "REPLY",
	OpHello:         "HELLO",
	OpVersel:        "VERSEL",
	OpAuth:          "AUTH",
	OpAuthData:      "AUTHDATA",
	OpAuthReply:     "AUTHREPLY",
	OpOptReq:        "OPTREQ",
	OpOptAck:        "OPTACK",
	OpProtoSel:      "PROTOSEL",
	OpCloseReq:      "CLOSEREQ",
	OpCloseAck:      "CLOSEACK",
	OpRegister:      "REGISTER",
	OpUnregister:    "UNREGISTER",
	OpAsk:           "ASK",
	OpNotify:        "NOTIFY",
	OpLogNotify:     "LOGNOTIFY",
	OpResYou:        "RESYOU",
	OpResOther:      "RESOTHER",
	OpDelegate:      "DELEGATE",
	OpCtxReq:        "CTXREQ",
	OpCtxReply:      "CTXREPLY",
	OpPolicyChange:  "POLICYCHANGE",
	OpStatusNotify:  "STATUSNOTIFY",
	OpPolicyRequest: "POLICYREQUEST",
	OpPolicyReply:   "POLICYREPLY",
	OpVersion:       "VERSION",
	OpVersionReply:  "VERSIONREPLY",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OPCODE(0x%x)", uint32(op))
}

// Protocol versions.
const (
	// ProtocolVersion is the only version this implementation speaks.
	ProtocolVersion = 5
	// MinProtocolVersion is the oldest version a server advertises.
	MinProtocolVersion = 5
	// PolicyLanguageVersion is reported in version replies.
	PolicyLanguageVersion = 0x00010004
)

// AuthTransport is the transport-level authentication mechanism: the server
// identifies the peer from the channel itself.
const AuthTransport = 10

// Subprotocol is a bit set of sub-protocols carried on a connection.
type Subprotocol uint32

// Sub-protocols.
const (
	ProtoPolicy Subprotocol = 1
	ProtoNotify Subprotocol = 2
	ProtoBoth               = ProtoPolicy | ProtoNotify
)

// Has reports whether all bits of p are set.
func (s Subprotocol) Has(p Subprotocol) bool {
	return s&p == p
}

// Option is a bit set of optional protocol features.
type Option uint32

// Optional features.
const (
	OptMultiplex Option = 1 << iota
	OptPipeline
	OptOutOfBand
)

// Has reports whether all bits of o are set.
func (o Option) Has(opt Option) bool {
	return o&opt == opt
}

// StringListEntry maps a stringlist token to its bit value.
type StringListEntry struct {
	Value uint32
	Name  string
}

// OptionNames is the stringlist vocabulary of OPTREQ/OPTACK.
var OptionNames = []StringListEntry{
	{uint32(OptMultiplex), "MULTIPLEX"},
	{uint32(OptPipeline), "PIPELINE"},
	{uint32(OptOutOfBand), "OOB"},
}

// ProtocolNames is the stringlist vocabulary of PROTOSEL.
var ProtocolNames = []StringListEntry{
	{uint32(ProtoPolicy), "POLICY"},
	{uint32(ProtoNotify), "NOTIFY"},
}
