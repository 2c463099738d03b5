package protocol

// admission is the class of an inbound opcode as seen by the server.
type admission int

const (
	// admitDispatch opcodes need a registered handler and are refused once
	// closing.
	admitDispatch admission = iota
	// admitSetup opcodes are refused once either side started to close.
	admitSetup
	// admitClose opcodes are always admitted.
	admitClose
	// admitContinuation opcodes answer something the server pushed.
	admitContinuation
	// admitServerOnly opcodes are never accepted from a client.
	admitServerOnly
)

var admissionTable = map[Opcode]admission{
	OpVersel:     admitSetup,
	OpAuth:       admitSetup,
	OpAuthData:   admitSetup,
	OpOptReq:     admitSetup,
	OpProtoSel:   admitSetup,
	OpRegister:   admitSetup,
	OpUnregister: admitSetup,
	OpVersion:    admitSetup,

	OpCloseReq: admitClose,
	OpCloseAck: admitClose,

	OpReply:    admitContinuation,
	OpDelegate: admitContinuation,

	OpHello:        admitServerOnly,
	OpAuthReply:    admitServerOnly,
	OpOptAck:       admitServerOnly,
	OpAsk:          admitServerOnly,
	OpNotify:       admitServerOnly,
	OpLogNotify:    admitServerOnly,
	OpResYou:       admitServerOnly,
	OpResOther:     admitServerOnly,
	OpPolicyChange: admitServerOnly,
	OpStatusNotify: admitServerOnly,
	OpPolicyReply:  admitServerOnly,
	OpVersionReply: admitServerOnly,
}

// admit decides whether op may be handled now and by what.
func (s *Server) admit(op Opcode) (handlerEntry, Errno) {
	class := admissionTable[op]
	if class == admitServerOnly {
		return handlerEntry{}, EINVAL
	}
	if class == admitSetup && s.close.started() {
		return handlerEntry{}, EINVAL
	}
	h, ok := s.handlers[op]
	if !ok {
		return handlerEntry{}, EINVAL
	}
	if class == admitDispatch && s.close.started() {
		return handlerEntry{}, EINVAL
	}
	return h, EOK
}
