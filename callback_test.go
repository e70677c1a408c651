package strix

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, Call) error { return nil }

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind("at_commander_end")
	require.NoError(t, err)
	assert.Equal(t, AtSchedulerEnd, got)

	_, err = ParseKind("at_lunch")
	require.ErrorIs(t, err, ErrUnsupportedCallbackKind)
}

func TestCallbackAdd(t *testing.T) {
	cb := NewCallback()
	require.NoError(t, cb.Add(AtJobStart, Func(noop), Func(noop)))
	require.NoError(t, cb.AddNamed("at_commander_end", Func(noop)))

	assert.Len(t, cb.Entries(AtJobStart), 2)
	assert.True(t, cb.Has(AtSchedulerEnd))
	assert.False(t, cb.Has(AtException))
	assert.Nil(t, cb.Entries(Kind("nope")))

	require.ErrorIs(t, cb.Add(Kind("nope"), Func(noop)), ErrUnsupportedCallbackKind)
	require.ErrorIs(t, cb.AddNamed("nope", Func(noop)), ErrUnsupportedCallbackKind)
}

func TestMergeCallbacks(t *testing.T) {
	tag := func(name string) Entry {
		return Entry{Func: noop, Args: []any{name}}
	}
	a := NewCallback(With(AtJobEnd, tag("a1"), tag("a2")), With(AtTerminate, tag("a3")))
	b := NewCallback(With(AtJobEnd, tag("b1")))

	merged := MergeCallbacks(a, nil, b)

	var names []any
	for _, e := range merged.Entries(AtJobEnd) {
		names = append(names, e.Args[0])
	}
	assert.Equal(t, []any{"a1", "a2", "b1"}, names)
	assert.Len(t, merged.Entries(AtTerminate), 1)

	t.Run("sources are not modified", func(t *testing.T) {
		require.NoError(t, merged.Add(AtJobEnd, tag("m")))
		assert.Len(t, a.Entries(AtJobEnd), 2)
		assert.Len(t, b.Entries(AtJobEnd), 1)
	})

	t.Run("update with itself is ignored", func(t *testing.T) {
		before := len(merged.Entries(AtJobEnd))
		merged.Update(merged)
		assert.Len(t, merged.Entries(AtJobEnd), before)
	})
}

func TestCallbackWriteCredits(t *testing.T) {
	first := NewTaskNode(WithID("first"))
	second := NewTaskNode(WithID("second"))
	third := NewTaskNode(WithID("third"))

	t.Run("unlimited", func(t *testing.T) {
		cb := NewCallback()
		assert.True(t, cb.SetNode(first))
		assert.True(t, cb.SetNode(second))
		assert.Same(t, second, cb.Node())
		assert.False(t, cb.Locked())
	})

	t.Run("locks after credits run out", func(t *testing.T) {
		cb := NewCallback(AutoLockAfter(2))
		assert.True(t, cb.SetNode(first))
		assert.True(t, cb.SetNode(second))
		assert.True(t, cb.Locked())
		assert.False(t, cb.SetNode(third))
		assert.Same(t, second, cb.Node())
	})

	t.Run("construction with a node spends a credit", func(t *testing.T) {
		cb := NewCallback(ForNode(first), AutoLockAfter(1))
		assert.True(t, cb.Locked())
		assert.False(t, cb.SetNode(second))
		assert.Same(t, first, cb.Node())
	})

	t.Run("zero credits lock immediately", func(t *testing.T) {
		cb := NewCallback(AutoLockAfter(0))
		assert.True(t, cb.Locked())
		assert.False(t, cb.SetNode(first))
		assert.Nil(t, cb.Node())
	})

	t.Run("manual lock and unlock", func(t *testing.T) {
		cb := NewCallback()
		cb.Lock()
		assert.False(t, cb.SetNode(first))
		cb.Unlock()
		assert.True(t, cb.SetNode(first))
	})

	t.Run("negative credits are rejected", func(t *testing.T) {
		assert.Panics(t, func() { NewCallback(AutoLockAfter(-1)) })
	})
}

func TestCallbackInvoke(t *testing.T) {
	ctx := context.Background()
	node := NewTaskNode(WithID("n"))

	t.Run("passes arguments and the node when asked", func(t *testing.T) {
		var calls []Call
		record := func(_ context.Context, c Call) error {
			calls = append(calls, c)
			return nil
		}
		cb := NewCallback(ForNode(node), With(AtException,
			Entry{Func: record, Args: []any{1}, Kwargs: map[string]any{"k": "v"}},
			Entry{Func: record, InjectNode: true},
		))
		cause := errors.New("cause")

		require.NoError(t, cb.invoke(ctx, AtException, nil, cause))
		require.Len(t, calls, 2)
		assert.Equal(t, []any{1}, calls[0].Args)
		assert.Equal(t, "v", calls[0].Kwargs["k"])
		assert.Nil(t, calls[0].Node)
		assert.Same(t, node, calls[1].Node)
		assert.Equal(t, AtException, calls[1].Kind)
		assert.ErrorIs(t, calls[1].Err, cause)
	})

	t.Run("failures and panics are collected", func(t *testing.T) {
		var ran int
		cb := NewCallback(With(AtJobEnd,
			Func(func(context.Context, Call) error { return errors.New("first") }),
			Func(func(context.Context, Call) error { panic("second") }),
			Func(func(context.Context, Call) error { ran++; return nil }),
		))

		err := cb.invoke(ctx, AtJobEnd, node, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "first")
		assert.Contains(t, err.Error(), "panic: second")
		assert.Equal(t, 1, ran)
	})

	t.Run("panicking with an error keeps it", func(t *testing.T) {
		sentinel := errors.New("sentinel")
		cb := NewCallback(With(AtJobEnd, Func(func(context.Context, Call) error { panic(sentinel) })))
		err := cb.invoke(ctx, AtJobEnd, node, nil)
		require.ErrorIs(t, err, sentinel)
	})
}
