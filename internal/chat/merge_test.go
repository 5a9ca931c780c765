package chat

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ana     = Sender{Name: "Ana", Email: "ana@x.com"}
	support = Sender{Name: "Support", IsAdmin: true}
	t0      = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

func confirmed(id, text string, s Sender, at time.Time) Message {
	return Message{ID: id, ConversationID: "c1", Text: text, Sender: s, Timestamp: at, State: StateConfirmed}
}

func pending(tempID, text string, s Sender, at time.Time) Message {
	return Message{TempID: tempID, ConversationID: "c1", Text: text, Sender: s, Timestamp: at, State: StatePending}
}

func TestMergePendingPromotion(t *testing.T) {
	state := Merge(nil, []Message{pending("tmp-1", "hi", ana, t0)}).Messages
	require.Len(t, state, 1)

	res := Merge(state, []Message{{
		ID:        "42",
		Text:      "hi",
		Sender:    Sender{Name: "Ana", IsAdmin: false},
		Timestamp: t0.Add(time.Second),
		State:     StateConfirmed,
	}})

	require.Len(t, res.Messages, 1)
	got := res.Messages[0]
	assert.Equal(t, "42", got.ID)
	assert.Equal(t, StateConfirmed, got.State)
	assert.Equal(t, "tmp-1", got.TempID, "temp id is kept as a join key")
	assert.Equal(t, t0.Add(time.Second), got.Timestamp)
	assert.Equal(t, 1, res.Promoted)
	assert.True(t, res.Changed())
}

func TestMergePromotesByEchoedTempID(t *testing.T) {
	state := []Message{
		pending("tmp-1", "same", ana, t0),
		pending("tmp-2", "same", ana, t0.Add(time.Millisecond)),
	}

	res := Merge(state, []Message{{ID: "9", TempID: "tmp-2", Text: "same", Sender: ana, Timestamp: t0.Add(time.Second), State: StateConfirmed}})

	require.Len(t, res.Messages, 2)
	for _, m := range res.Messages {
		switch m.TempID {
		case "tmp-1":
			assert.Equal(t, StatePending, m.State)
		case "tmp-2":
			assert.Equal(t, "9", m.ID)
			assert.Equal(t, StateConfirmed, m.State)
		}
	}
}

func TestMergePromotesWhenIDMatchesTempID(t *testing.T) {
	state := []Message{pending("abc", "yo", ana, t0)}
	res := Merge(state, []Message{confirmed("abc", "yo (edited)", ana, t0.Add(time.Second))})

	require.Len(t, res.Messages, 1)
	assert.Equal(t, "abc", res.Messages[0].ID)
	assert.Equal(t, StateConfirmed, res.Messages[0].State)
}

func TestMergeIsIdempotent(t *testing.T) {
	cases := map[string]struct {
		state []Message
		batch []Message
	}{
		"empty state": {
			batch: []Message{confirmed("1", "a", ana, t0), confirmed("2", "b", support, t0.Add(time.Second))},
		},
		"promotion": {
			state: []Message{pending("tmp-1", "hi", ana, t0)},
			batch: []Message{confirmed("42", "hi", ana, t0.Add(time.Second))},
		},
		"duplicate signatures in one batch": {
			batch: []Message{confirmed("1", "ok", support, t0), confirmed("2", "ok", support, t0.Add(time.Second))},
		},
		"pending insert": {
			state: []Message{confirmed("1", "a", ana, t0)},
			batch: []Message{pending("tmp-9", "b", ana, t0.Add(time.Minute))},
		},
		"errored marking": {
			state: []Message{pending("tmp-1", "hi", ana, t0)},
			batch: []Message{{TempID: "tmp-1", State: StateErrored}},
		},
		"out of order": {
			state: []Message{confirmed("3", "c", ana, t0.Add(3 * time.Second))},
			batch: []Message{confirmed("1", "a", support, t0.Add(time.Second)), confirmed("2", "b", ana, t0.Add(2*time.Second))},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			once := Merge(tc.state, tc.batch)
			twice := Merge(once.Messages, tc.batch)
			assert.Equal(t, once.Messages, twice.Messages)
			assert.False(t, twice.Changed())
		})
	}
}

func TestMergeKeepsTimestampOrder(t *testing.T) {
	state := []Message{
		confirmed("5", "e", ana, t0.Add(5*time.Second)),
		confirmed("1", "a", ana, t0.Add(1*time.Second)),
	}
	batch := []Message{
		confirmed("3", "c", support, t0.Add(3*time.Second)),
		pending("tmp", "z", ana, t0.Add(10*time.Second)),
		confirmed("2", "b", support, t0.Add(2*time.Second)),
		confirmed("4", "d", ana, t0.Add(4*time.Second)),
	}

	res := Merge(state, batch)

	require.Len(t, res.Messages, 6)
	assert.True(t, sort.SliceIsSorted(res.Messages, func(i, j int) bool {
		return res.Messages[i].Timestamp.Before(res.Messages[j].Timestamp)
	}))
}

func TestMergeNeverDuplicatesIDs(t *testing.T) {
	var state []Message
	batches := [][]Message{
		{confirmed("1", "a", ana, t0)},
		{confirmed("1", "a", ana, t0), confirmed("2", "b", support, t0.Add(time.Second))},
		{pending("tmp", "c", ana, t0.Add(2*time.Second))},
		{confirmed("3", "c", ana, t0.Add(3*time.Second)), confirmed("2", "b", support, t0.Add(time.Second))},
		{confirmed("3", "c", ana, t0.Add(3*time.Second))},
	}
	for _, b := range batches {
		state = Merge(state, b).Messages
	}

	seen := map[string]bool{}
	for _, m := range state {
		if m.ID == "" {
			continue
		}
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
	assert.Len(t, state, 3)
}

func TestMergeCrossChannelRedelivery(t *testing.T) {
	msg := confirmed("77", "hello from support", support, t0)

	// push delivers a batch of one, then the poll delta repeats it
	state := Merge(nil, []Message{msg}).Messages
	res := Merge(state, []Message{msg, confirmed("78", "next", support, t0.Add(time.Second))})

	require.Len(t, res.Messages, 2)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Appended)
}

func TestMergeSignatureCollapsesRedundantDelivery(t *testing.T) {
	state := []Message{confirmed("1", "ok", support, t0)}

	res := Merge(state, []Message{confirmed("push-1", "ok", support, t0)})

	assert.Len(t, res.Messages, 1)
	assert.False(t, res.Changed())
}

func TestMergePendingIsNeverDeduped(t *testing.T) {
	state := []Message{confirmed("1", "thanks", ana, t0)}

	res := Merge(state, []Message{pending("tmp-2", "thanks", ana, t0.Add(time.Minute))})

	assert.Len(t, res.Messages, 2)
	assert.Equal(t, 1, res.Appended)
}

func TestMergeErroredMarking(t *testing.T) {
	state := []Message{pending("tmp-1", "hi", ana, t0)}

	res := Merge(state, []Message{{TempID: "tmp-1", State: StateErrored}})

	require.Len(t, res.Messages, 1)
	assert.Equal(t, StateErrored, res.Messages[0].State)
	assert.Equal(t, 1, res.Errored)
	assert.False(t, res.Changed())

	// a confirmed entry cannot be flipped to errored
	state = []Message{confirmed("1", "x", ana, t0)}
	res = Merge(state, []Message{{TempID: "", State: StateErrored}})
	assert.Equal(t, StateConfirmed, res.Messages[0].State)
}

func TestMergeRetrySupersedesErrored(t *testing.T) {
	failed := pending("tmp-1", "hi", ana, t0)
	failed.State = StateErrored
	retry := pending("tmp-2", "hi", ana, t0.Add(time.Second))
	retry.RetryOf = "tmp-1"

	state := Merge([]Message{failed}, []Message{retry}).Messages
	require.Len(t, state, 2, "errored entry stays visible until the retry lands")

	res := Merge(state, []Message{confirmed("42", "hi", ana, t0.Add(2*time.Second))})

	require.Len(t, res.Messages, 1)
	assert.Equal(t, "42", res.Messages[0].ID)
	assert.Equal(t, "tmp-2", res.Messages[0].TempID)
	assert.Equal(t, StateConfirmed, res.Messages[0].State)
}

func TestMergeRetryChainSupersedesEveryAttempt(t *testing.T) {
	first := pending("tmp-1", "hi", ana, t0)
	first.State = StateErrored
	second := pending("tmp-2", "hi", ana, t0.Add(time.Second))
	second.RetryOf = "tmp-1"
	second.State = StateErrored
	third := pending("tmp-3", "hi", ana, t0.Add(2*time.Second))
	third.RetryOf = "tmp-2"
	unrelated := pending("tmp-0", "other", ana, t0.Add(-time.Second))
	unrelated.State = StateErrored

	state := Merge([]Message{unrelated, first, second}, []Message{third}).Messages
	require.Len(t, state, 4)

	confirm := confirmed("42", "hi", ana, t0.Add(3*time.Second))
	confirm.TempID = "tmp-3"
	res := Merge(state, []Message{confirm})

	require.Len(t, res.Messages, 2)
	assert.Equal(t, "tmp-0", res.Messages[0].TempID)
	assert.Equal(t, StateErrored, res.Messages[0].State)
	assert.Equal(t, "42", res.Messages[1].ID)
	assert.Equal(t, "tmp-3", res.Messages[1].TempID)
}

func TestMergeMixedBatchIsIdempotent(t *testing.T) {
	state := []Message{confirmed("1", "hi", ana, t0)}
	batch := []Message{
		confirmed("4", "hi", ana, t0.Add(2*time.Second)),
		pending("tmp-1", "hi", ana, t0.Add(time.Second)),
	}

	once := Merge(state, batch)
	twice := Merge(once.Messages, batch)

	require.Len(t, once.Messages, 2)
	assert.Equal(t, "4", once.Messages[1].ID, "the confirmed entry promotes the pending one from the same batch")
	assert.Equal(t, "tmp-1", once.Messages[1].TempID)
	assert.Equal(t, once.Messages, twice.Messages)
	assert.False(t, twice.Changed())
	assert.Equal(t, StateConfirmed, batch[0].State, "batch order is not rewritten in place")
	assert.Equal(t, "4", batch[0].ID)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	state := []Message{pending("tmp-1", "hi", ana, t0)}
	batch := []Message{confirmed("42", "hi", ana, t0.Add(time.Second))}

	_ = Merge(state, batch)

	assert.Equal(t, StatePending, state[0].State)
	assert.Empty(t, state[0].ID)
	assert.Equal(t, "42", batch[0].ID)
}

func TestDismissOnlyRemovesErrored(t *testing.T) {
	errored := pending("tmp-1", "a", ana, t0)
	errored.State = StateErrored
	state := []Message{errored, pending("tmp-2", "b", ana, t0), confirmed("1", "c", ana, t0)}

	out, ok := Dismiss(state, "tmp-1")
	assert.True(t, ok)
	assert.Len(t, out, 2)

	out, ok = Dismiss(out, "tmp-2")
	assert.False(t, ok)
	assert.Len(t, out, 2)
}

func TestLogConcurrentMergesKeepEveryMessage(t *testing.T) {
	log := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log.Merge(confirmed(fmt.Sprint(i), fmt.Sprintf("msg %d", i), support, t0.Add(time.Duration(i)*time.Second)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, log.Len())
}

func TestLogDismissAndFind(t *testing.T) {
	log := NewLog()
	log.Merge(pending("tmp-1", "hi", ana, t0))
	log.Merge(Message{TempID: "tmp-1", State: StateErrored})

	m, ok := log.Find("tmp-1")
	require.True(t, ok)
	assert.Equal(t, StateErrored, m.State)

	assert.True(t, log.Dismiss("tmp-1"))
	assert.Equal(t, 0, log.Len())

	log.Merge(confirmed("1", "x", ana, t0))
	log.Clear()
	assert.Empty(t, log.Snapshot())
}

func TestNewestConfirmed(t *testing.T) {
	assert.Equal(t, Epoch, NewestConfirmed(nil))
	msgs := []Message{
		confirmed("1", "a", ana, t0),
		pending("tmp", "b", ana, t0.Add(time.Hour)),
		confirmed("2", "c", ana, t0.Add(time.Minute)),
	}
	assert.Equal(t, t0.Add(time.Minute), NewestConfirmed(msgs))
}
