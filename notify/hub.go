package notify

import (
	"sync"

	"github.com/RoanBrand/PolicyDaemonProtocol/protocol"
	"github.com/pkg/errors"
)

// Event is something the daemon reports to registered connections.
type Event struct {
	PID       uint32
	RuleID    uint32
	UID       uint32
	Subsystem uint32
	Operation uint32
	Error     protocol.Errno
	Payload   []byte
}

func (e Event) notify(token uint64) protocol.Notify {
	return protocol.Notify{
		Token:     token,
		PID:       e.PID,
		RuleID:    e.RuleID,
		UID:       e.UID,
		Subsystem: e.Subsystem,
		Operation: e.Operation,
		Error:     e.Error,
		Payload:   e.Payload,
	}
}

// Verdict is the resolution of an ASK.
type Verdict struct {
	Token uint64
	// Value is the answer, an errno where zero allows.
	Value uint32
	// UID of the connection that decided.
	UID uint32
	// Delegated is set when every asked connection delegated.
	Delegated bool
}

type pendingAsk struct {
	asked   map[*Group]bool
	result  chan Verdict
	lastVal uint32
}

// Hub holds the notification groups of all connections.
type Hub struct {
	mu        sync.Mutex
	groups    map[*Group]struct{}
	asks      map[uint64]*pendingAsk
	nextToken uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		groups: make(map[*Group]struct{}),
		asks:   make(map[uint64]*pendingAsk),
	}
}

// Factory returns the collaborator the server engine uses to create a
// group for each connection that selects NOTIFY.
func (h *Hub) Factory() protocol.NotifyFactory {
	return func(s *protocol.Server, uid uint32) protocol.NotifyGroup {
		return h.Join(s, uid)
	}
}

// Join adds a group for the connection conn authenticated as uid.
func (h *Hub) Join(conn Poster, uid uint32) *Group {
	g := &Group{hub: h, conn: conn, uid: uid, regs: make(map[uint64]registration)}
	h.mu.Lock()
	h.groups[g] = struct{}{}
	h.mu.Unlock()
	return g
}

func (h *Hub) leave(g *Group) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.groups, g)
	for token, pa := range h.asks {
		if _, ok := pa.asked[g]; !ok {
			continue
		}
		delete(pa.asked, g)
		if len(pa.asked) == 0 {
			h.resolve(token, pa, Verdict{Token: token, Value: uint32(protocol.ESHUTDOWN)}, nil)
			continue
		}
		h.maybeResolveDelegated(token, pa)
	}
}

// Len returns the number of connected groups.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups)
}

func (h *Hub) matching(e Event) []*Group {
	var out []*Group
	for g := range h.groups {
		if g.wants(e) {
			out = append(out, g)
		}
	}
	return out
}

// Dispatch sends e as a NOTIFY, LOGNOTIFY, POLICYCHANGE or STATUSNOTIFY
// event to every matching group and returns how many received it.
func (h *Hub) Dispatch(op protocol.Opcode, e Event) (int, error) {
	switch op {
	case protocol.OpNotify, protocol.OpLogNotify, protocol.OpPolicyChange, protocol.OpStatusNotify:
	default:
		return 0, errors.Wrapf(protocol.ErrInvalidArgument, "cannot dispatch %s", op)
	}
	h.mu.Lock()
	groups := h.matching(e)
	h.mu.Unlock()

	sent := 0
	for _, g := range groups {
		m, err := protocol.NewNotify(op, e.notify(0))
		if err := g.post(op, m, err); err != nil {
			log.Warnf("dispatch: %v", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// Ask sends e as an ASK to every matching group. The verdict arrives on
// the returned channel once a group answered without delegating.
func (h *Hub) Ask(e Event) (uint64, <-chan Verdict, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	groups := h.matching(e)
	if len(groups) == 0 {
		return 0, nil, errors.Wrap(protocol.ENOENT, "no connection registered for the event")
	}
	h.nextToken++
	token := h.nextToken
	pa := &pendingAsk{asked: make(map[*Group]bool), result: make(chan Verdict, 1)}
	for _, g := range groups {
		m, err := protocol.NewNotify(protocol.OpAsk, e.notify(token))
		if err := g.post(protocol.OpAsk, m, err); err != nil {
			log.Warnf("ask: %v", err)
			continue
		}
		pa.asked[g] = false
	}
	if len(pa.asked) == 0 {
		return 0, nil, errors.Wrap(protocol.ESHUTDOWN, "no connection accepted the event")
	}
	h.asks[token] = pa
	log.Debugf("ASK token %d sent to %d connections", token, len(pa.asked))
	return token, pa.result, nil
}

// answer resolves an ASK. The deciding group gets RESYOU, every other
// asked group RESOTHER.
func (h *Hub) answer(g *Group, token uint64, verdict uint32, delegate bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	pa, ok := h.asks[token]
	if !ok {
		return errors.Wrapf(protocol.ENOENT, "no ASK with token %d", token)
	}
	delegated, asked := pa.asked[g]
	if !asked {
		return errors.Wrapf(protocol.EPERM, "token %d was not asked of uid %d", token, g.uid)
	}
	if delegated {
		return errors.Wrapf(protocol.EALREADY, "token %d already delegated", token)
	}
	if delegate {
		pa.asked[g] = true
		pa.lastVal = verdict
		h.maybeResolveDelegated(token, pa)
		return nil
	}
	h.resolve(token, pa, Verdict{Token: token, Value: verdict, UID: g.uid}, g)
	return nil
}

// maybeResolveDelegated resolves an ASK once nobody is left to decide.
func (h *Hub) maybeResolveDelegated(token uint64, pa *pendingAsk) {
	for _, delegated := range pa.asked {
		if !delegated {
			return
		}
	}
	h.resolve(token, pa, Verdict{Token: token, Value: pa.lastVal, Delegated: true}, nil)
}

func (h *Hub) resolve(token uint64, pa *pendingAsk, v Verdict, decider *Group) {
	delete(h.asks, token)
	for g := range pa.asked {
		op := protocol.OpResOther
		if g == decider {
			op = protocol.OpResYou
		}
		m, err := protocol.NewNotifyResult(op, protocol.NotifyResult{Token: token, UID: v.UID, Error: protocol.Errno(v.Value)})
		if err := g.post(op, m, err); err != nil {
			log.Debugf("resolve: %v", err)
		}
	}
	pa.result <- v
	log.Debugf("ASK token %d resolved: %+v", token, v)
}
