package protocol

// TxFlags describe who started a transaction and what the owning engine
// does with it once it is done.
type TxFlags uint32

// Transaction flags.
const (
	TxSelf TxFlags = 1 << iota
	TxPeer
	TxAutoDequeue
	TxAutoDestroy
	TxDone
)

// StepFunc handles one matched message. It must end in either Progress or
// Done on every path that does not return an error.
type StepFunc func(t *Transaction, m *Message) error

// CompletionFunc is invoked exactly once, when the transaction is done.
type CompletionFunc func(t *Transaction)

// Transaction is one in-flight multi-round exchange: it waits for one of a
// set of opcodes, hands the message to its step function and either
// advances or terminates.
type Transaction struct {
	token      uint64
	flags      TxFlags
	stage      int
	expected   []Opcode
	step       StepFunc
	completion CompletionFunc
	result     error

	// Data is owned by the caller that created the transaction.
	Data interface{}
}

// NewTransaction creates a transaction in stage 0 that expects nothing yet.
func NewTransaction(token uint64, flags TxFlags, step StepFunc, completion CompletionFunc, data interface{}) *Transaction {
	return &Transaction{
		token:      token,
		flags:      flags &^ TxDone,
		step:       step,
		completion: completion,
		Data:       data,
	}
}

// Token identifying the exchange. Zero marks a connection-scoped exchange.
func (t *Transaction) Token() uint64 { return t.token }

// Flags returns the current flag set.
func (t *Transaction) Flags() TxFlags { return t.flags }

// Stage is the number of successful advances so far.
func (t *Transaction) Stage() int { return t.stage }

// IsDone reports whether the transaction terminated.
func (t *Transaction) IsDone() bool { return t.flags&TxDone != 0 }

// Result is the final outcome. It is nil while the transaction is live.
func (t *Transaction) Result() error { return t.result }

// Code is the negative error code of the result, 0 on success.
func (t *Transaction) Code() int32 { return Code(t.result) }

// SetExpected replaces the set of opcodes that may satisfy the next step.
func (t *Transaction) SetExpected(ops ...Opcode) {
	t.expected = append(t.expected[:0], ops...)
}

// Expected returns the opcodes the next step accepts.
func (t *Transaction) Expected() []Opcode {
	return append([]Opcode(nil), t.expected...)
}

// Matches reports whether a message with the given token, direction and
// opcode belongs to this transaction.
func (t *Transaction) Matches(token uint64, self bool, op Opcode) bool {
	if t.IsDone() || t.token != token || (t.flags&TxSelf != 0) != self {
		return false
	}
	for _, e := range t.expected {
		if e == op {
			return true
		}
	}
	return false
}

// Process runs the step function on m.
func (t *Transaction) Process(m *Message) error {
	if t.IsDone() {
		return ErrInvalidArgument
	}
	return t.step(t, m)
}

// Progress advances to the next stage, which accepts ops.
func (t *Transaction) Progress(ops ...Opcode) {
	t.stage++
	t.SetExpected(ops...)
}

// Done terminates the transaction with result and fires the completion
// callback. Later calls are ignored.
func (t *Transaction) Done(result error) {
	if t.IsDone() {
		return
	}
	t.flags |= TxDone
	t.result = result
	t.expected = nil
	if t.completion != nil {
		t.completion(t)
	}
}

// pendingList keeps the live transactions of one engine in insertion
// order.
type pendingList struct {
	txs []*Transaction
}

func (l *pendingList) add(t *Transaction) {
	l.txs = append(l.txs, t)
}

func (l *pendingList) remove(t *Transaction) {
	for i, x := range l.txs {
		if x == t {
			l.txs = append(l.txs[:i], l.txs[i+1:]...)
			return
		}
	}
}

func (l *pendingList) len() int { return len(l.txs) }

func (l *pendingList) snapshot() []*Transaction {
	return append([]*Transaction(nil), l.txs...)
}

// dispatch hands m to the first matching transaction. Done transactions
// flagged for automatic removal are dropped as the scan reaches them.
func (l *pendingList) dispatch(token uint64, self bool, m *Message) (bool, error) {
	op := m.Opcode()
	for i := 0; i < len(l.txs); {
		t := l.txs[i]
		if l.reap(i) {
			continue
		}
		if !t.Matches(token, self, op) {
			i++
			continue
		}
		err := t.Process(m)
		if t.IsDone() {
			for j, x := range l.txs {
				if x == t {
					l.reap(j)
					break
				}
			}
		}
		return true, err
	}
	return false, nil
}

func (l *pendingList) reap(i int) bool {
	t := l.txs[i]
	if !t.IsDone() || t.flags&(TxAutoDequeue|TxAutoDestroy) == 0 {
		return false
	}
	l.txs = append(l.txs[:i], l.txs[i+1:]...)
	if t.flags&TxAutoDestroy != 0 {
		t.Data = nil
	}
	return true
}
