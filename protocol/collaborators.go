package protocol

// AuthResult is the outcome of authenticating the peer.
type AuthResult struct {
	Err  error
	UID  uint32
	Name string
}

// Authenticator runs one authentication exchange on the server side.
type Authenticator interface {
	// Process consumes an inbound AUTHDATA message. The authenticator
	// reports its outcome through the done callback it was created with,
	// possibly before Process returns.
	Process(m *Message) error
	Close()
}

// AuthFactory creates the authenticator for one connection.
type AuthFactory func(ch Channel, done func(AuthResult)) Authenticator

// NotifyGroup routes notification events to one connection and collects
// its answers to ASK events.
type NotifyGroup interface {
	Register(token uint64, uid, ruleID, subsystem uint32) error
	Unregister(token uint64, uid, ruleID, subsystem uint32) error
	Answer(token uint64, verdict uint32, delegate bool) error
	Close()
}

// NotifyFactory creates the notification group of a connection once it
// selected the NOTIFY sub-protocol. uid is the authenticated peer.
type NotifyFactory func(s *Server, uid uint32) NotifyGroup

// PolicyHandler answers policy-protocol requests. It receives its own copy
// of the request and replies through s.
type PolicyHandler interface {
	HandlePolicy(m *Message, uid uint32, s *Server) error
}

// PolicyHandlerFunc adapts a function to PolicyHandler.
type PolicyHandlerFunc func(m *Message, uid uint32, s *Server) error

// HandlePolicy calls f.
func (f PolicyHandlerFunc) HandlePolicy(m *Message, uid uint32, s *Server) error {
	return f(m, uid, s)
}
