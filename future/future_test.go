package future

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencerMintsDistinctIDs(t *testing.T) {
	seq := NewSequencer("w1")
	seen := make(map[ID]struct{})
	for i := 0; i < 1000; i++ {
		id := seq.Next()
		assert.Equal(t, "w1", id.Worker)
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id minted: %v", id)
		seen[id] = struct{}{}
	}
}

func TestRootParentIsSentinel(t *testing.T) {
	p := RootParent("origin-1")
	assert.Equal(t, "origin-1", p.Worker)
	assert.True(t, p.IsSentinelRoot())
}

func TestFutureLifecycleDone(t *testing.T) {
	f := New(ID{Worker: "w1", Seq: 0}, RootParent("w1"), "square", []any{3}, nil)
	assert.Equal(t, Created, f.State())

	f.MarkEnqueued()
	assert.Equal(t, Enqueued, f.State())

	f.MarkRunning(nil)
	assert.Equal(t, Running, f.State())

	require.NoError(t, f.MarkDone(9))
	assert.Equal(t, Done, f.State())
	assert.True(t, f.IsTerminal())

	result, exc := f.Result()
	assert.Equal(t, 9, result)
	assert.Nil(t, exc)
}

func TestFutureLifecycleFailed(t *testing.T) {
	f := New(ID{Worker: "w1", Seq: 1}, RootParent("w1"), "boom", nil, nil)
	f.MarkRunning(nil)

	exc := NewFailure("boom", errors.New("kaboom"))
	require.NoError(t, f.MarkFailed(exc))
	assert.Equal(t, Failed, f.State())

	_, gotExc := f.Result()
	require.NotNil(t, gotExc)
	assert.Equal(t, "boom: kaboom", gotExc.Error())
}

func TestMarkDoneRequiresRunning(t *testing.T) {
	f := New(ID{Worker: "w1", Seq: 2}, RootParent("w1"), "noop", nil, nil)
	err := f.MarkDone(1)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestCallbacksRunOnceAfterTerminal(t *testing.T) {
	f := New(ID{Worker: "w1", Seq: 3}, RootParent("w1"), "noop", nil, nil)

	calls := 0
	f.AddCallback(func(*Future) { calls++ })
	f.AddCallback(func(*Future) { panic("callback exceptions are swallowed") })

	f.MarkRunning(nil)
	require.NoError(t, f.MarkDone(42))

	assert.Equal(t, 1, calls)

	// Registering after terminal runs immediately, still exactly once.
	f.AddCallback(func(*Future) { calls++ })
	assert.Equal(t, 2, calls)
}

func TestWaitIndexNullByDefault(t *testing.T) {
	f := New(ID{Worker: "w1", Seq: 4}, RootParent("w1"), "noop", nil, nil)
	_, ok := f.WaitIndex()
	assert.False(t, ok)

	idx := 2
	f.SetIndex(&idx)
	got, ok := f.WaitIndex()
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestWireRoundTrip(t *testing.T) {
	f := New(ID{Worker: "w1", Seq: 5}, RootParent("w1"), "square", []any{float64(4)}, nil)
	f.MarkRunning(nil)
	require.NoError(t, f.MarkDone(float64(16)))

	data, err := f.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, f.ParentID, got.ParentID)
	assert.Equal(t, Done, got.State())
	result, exc := got.Result()
	assert.Nil(t, exc)
	assert.Equal(t, float64(16), result)
}

func TestWireNeverCarriesContinuationOrCallbacks(t *testing.T) {
	f := New(ID{Worker: "w1", Seq: 6}, RootParent("w1"), "noop", nil, nil)
	f.AddCallback(func(*Future) {})
	w := f.ToWire()
	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "continuation")
	assert.NotContains(t, string(data), "callback")
}
