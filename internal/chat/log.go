package chat

import "sync"

// Log owns the mutable message list for one conversation lifetime. Every
// write goes through Apply, which hands the updater the latest list and
// stores the result before another writer can observe it.
type Log struct {
	mu       sync.Mutex
	messages []Message
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Apply runs fn against the current list and stores the returned list.
func (l *Log) Apply(fn func(current []Message) Result) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := fn(l.messages)
	l.messages = res.Messages
	return res
}

// Merge folds a batch through Merge against the latest state.
func (l *Log) Merge(batch ...Message) Result {
	return l.Apply(func(current []Message) Result {
		return Merge(current, batch)
	})
}

// Dismiss removes an errored entry by TempID.
func (l *Log) Dismiss(tempID string) bool {
	var found bool
	l.Apply(func(current []Message) Result {
		var out []Message
		out, found = Dismiss(current, tempID)
		return Result{Messages: out}
	})
	return found
}

// Clear empties the list.
func (l *Log) Clear() {
	l.mu.Lock()
	l.messages = nil
	l.mu.Unlock()
}

// Snapshot returns a copy of the current list.
func (l *Log) Snapshot() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Find returns the entry with the given TempID.
func (l *Log) Find(tempID string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m.TempID == tempID {
			return m, true
		}
	}
	return Message{}, false
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
