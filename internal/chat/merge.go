package chat

import "sort"

// Result is the outcome of a Merge.
type Result struct {
	Messages []Message
	Appended int
	Promoted int
	Errored  int
	Dropped  int
}

// Changed reports whether the merge appended or promoted anything. The
// presentation layer scrolls to the latest message only in that case.
func (r Result) Changed() bool {
	return r.Appended > 0 || r.Promoted > 0
}

// Merge folds incoming into current and returns the new list. It never
// mutates either argument and is idempotent for a repeated incoming batch.
//
// Signature dedup collapses two identical texts from the same sender when no
// stronger identity is available. That trade-off is accepted until the server
// echoes a per-message nonce for every delivery path.
func Merge(current, incoming []Message) Result {
	out := make([]Message, len(current), len(current)+len(incoming))
	copy(out, current)

	ids := make(map[string]int, len(out))
	tempIDs := make(map[string]int, len(out))
	sigs := make(map[string]struct{}, len(out))
	for i, m := range out {
		if m.ID != "" {
			ids[m.ID] = i
		}
		if m.TempID != "" {
			tempIDs[m.TempID] = i
		}
		if !m.IsPending() {
			sigs[m.Signature()] = struct{}{}
		}
	}

	var res Result
	removed := make(map[int]bool)

	promote := func(i int, in Message) {
		target := &out[i]
		target.ID = in.ID
		if !in.Timestamp.IsZero() {
			target.Timestamp = in.Timestamp
		}
		target.State = StateConfirmed
		if in.ID != "" {
			ids[in.ID] = i
		}
		sigs[target.Signature()] = struct{}{}
		// a retry of a retry supersedes every errored attempt before it
		for prev := target.RetryOf; prev != ""; {
			j, ok := tempIDs[prev]
			if !ok || removed[j] || out[j].State != StateErrored {
				break
			}
			removed[j] = true
			prev = out[j].RetryOf
		}
		res.Promoted++
	}

	for _, in := range byState(incoming) {
		switch in.State {
		case StatePending:
			if in.TempID == "" {
				res.Dropped++
				continue
			}
			if _, ok := tempIDs[in.TempID]; ok {
				res.Dropped++
				continue
			}
			tempIDs[in.TempID] = len(out)
			out = append(out, in)
			res.Appended++
			continue
		case StateErrored:
			i, ok := tempIDs[in.TempID]
			if in.TempID != "" && ok && out[i].IsPending() {
				out[i].State = StateErrored
				res.Errored++
			} else {
				res.Dropped++
			}
			continue
		}

		if in.ID != "" {
			if _, ok := ids[in.ID]; ok {
				res.Dropped++
				continue
			}
			if i, ok := tempIDs[in.ID]; ok && out[i].ID == "" {
				promote(i, in)
				continue
			}
		}
		if in.TempID != "" {
			if i, ok := tempIDs[in.TempID]; ok && out[i].ID == "" {
				promote(i, in)
				continue
			}
		}
		if i, ok := pendingBySignature(out, removed, in.Signature()); ok {
			promote(i, in)
			continue
		}
		if _, ok := sigs[in.Signature()]; ok {
			res.Dropped++
			continue
		}

		in.State = StateConfirmed
		if in.ID != "" {
			ids[in.ID] = len(out)
		}
		if in.TempID != "" {
			tempIDs[in.TempID] = len(out)
		}
		sigs[in.Signature()] = struct{}{}
		out = append(out, in)
		res.Appended++
	}

	if len(removed) > 0 {
		kept := out[:0:0]
		for i, m := range out {
			if !removed[i] {
				kept = append(kept, m)
			}
		}
		out = kept
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	res.Messages = out
	return res
}

// byState orders a batch pending first, then errored, then confirmed, keeping
// the relative order within each group. A confirmed entry can then promote a
// pending one arriving in the same batch, so a repeated batch is a no-op.
func byState(incoming []Message) []Message {
	rank := func(m Message) int {
		switch m.State {
		case StatePending:
			return 0
		case StateErrored:
			return 1
		}
		return 2
	}
	sorted := true
	for i := 1; i < len(incoming); i++ {
		if rank(incoming[i]) < rank(incoming[i-1]) {
			sorted = false
			break
		}
	}
	if sorted {
		return incoming
	}
	out := make([]Message, len(incoming))
	copy(out, incoming)
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

// pendingBySignature returns the oldest pending entry with the given signature.
func pendingBySignature(messages []Message, removed map[int]bool, sig string) (int, bool) {
	found := -1
	for i, m := range messages {
		if !m.IsPending() || removed[i] || m.Signature() != sig {
			continue
		}
		if found < 0 || m.Timestamp.Before(messages[found].Timestamp) {
			found = i
		}
	}
	return found, found >= 0
}

// Dismiss drops the errored entry with the given TempID. Pending and
// confirmed entries are never removed this way.
func Dismiss(current []Message, tempID string) ([]Message, bool) {
	out := make([]Message, 0, len(current))
	found := false
	for _, m := range current {
		if tempID != "" && m.TempID == tempID && m.State == StateErrored {
			found = true
			continue
		}
		out = append(out, m)
	}
	return out, found
}
