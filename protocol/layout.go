package protocol

// Field locates one field inside a fixed message layout. A Size of zero
// marks a variable-length tail that runs up to the CRC trailer.
type Field struct {
	Offset int
	Size   int
}

// Layout is the fixed-offset structure of one message type.
type Layout struct {
	name   string
	fields map[string]Field
	size   int
}

type fieldSpec struct {
	name string
	size int
}

func newLayout(name string, specs ...fieldSpec) *Layout {
	l := &Layout{name: name, fields: make(map[string]Field, len(specs))}
	for _, s := range specs {
		l.fields[s.name] = Field{Offset: l.size, Size: s.size}
		l.size += s.size
	}
	return l
}

// Name of the layout.
func (l *Layout) Name() string { return l.name }

// Size is the fixed header size of the layout without the CRC trailer.
func (l *Layout) Size() int { return l.size }

// Field returns the named field.
func (l *Layout) Field(name string) (Field, bool) {
	f, ok := l.fields[name]
	return f, ok
}

// Wire layouts. All integers are big-endian.
var (
	LayoutGeneral       = newLayout("general", fieldSpec{"type", 4})
	LayoutHello         = newLayout("hello", fieldSpec{"type", 4}, fieldSpec{"version", 4}, fieldSpec{"min_version", 4})
	LayoutVersel        = newLayout("versel", fieldSpec{"type", 4}, fieldSpec{"version", 4}, fieldSpec{"pad", 4})
	LayoutAck           = newLayout("ack", fieldSpec{"type", 4}, fieldSpec{"token", 8}, fieldSpec{"opcode", 4}, fieldSpec{"error", 4})
	LayoutAuthTransport = newLayout("authtransport", fieldSpec{"type", 4}, fieldSpec{"auth_type", 4})
	LayoutAuthReply     = newLayout("authreply", fieldSpec{"type", 4}, fieldSpec{"error", 4}, fieldSpec{"uid", 4}, fieldSpec{"name", 0})
	LayoutStringList    = newLayout("stringlist", fieldSpec{"type", 4}, fieldSpec{"stringlist", 0})
	LayoutNotifyReg     = newLayout("notifyreg", fieldSpec{"type", 4}, fieldSpec{"token", 8}, fieldSpec{"pid", 4},
		fieldSpec{"rule_id", 4}, fieldSpec{"uid", 4}, fieldSpec{"subsystem", 4})
	LayoutNotify = newLayout("notify", fieldSpec{"type", 4}, fieldSpec{"token", 8}, fieldSpec{"pid", 4},
		fieldSpec{"rule_id", 4}, fieldSpec{"uid", 4}, fieldSpec{"subsystem", 4}, fieldSpec{"operation", 4},
		fieldSpec{"error", 4}, fieldSpec{"payload", 0})
	LayoutNotifyResult = newLayout("notifyresult", fieldSpec{"type", 4}, fieldSpec{"token", 8}, fieldSpec{"uid", 4}, fieldSpec{"error", 4})
	LayoutVer          = newLayout("ver", fieldSpec{"type", 4}, fieldSpec{"error", 4}, fieldSpec{"protocol", 4}, fieldSpec{"apn", 4})
	LayoutPolicyReq    = newLayout("policyrequest", fieldSpec{"type", 4}, fieldSpec{"token", 8}, fieldSpec{"payload", 0})
	LayoutPolicyReply  = newLayout("policyreply", fieldSpec{"type", 4}, fieldSpec{"token", 8}, fieldSpec{"error", 4}, fieldSpec{"payload", 0})
)
