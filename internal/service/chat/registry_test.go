package chat_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/relay/internal/model/character"
	"github.com/zhouzirui/z-tavern/relay/internal/model/chat"
	chatservice "github.com/zhouzirui/z-tavern/relay/internal/service/chat"
)

func systemFactory(content string) chatservice.Factory {
	return func() (chat.Message, error) {
		return chat.SystemMessage(content), nil
	}
}

func newRegistry(t *testing.T, capacity int) *chatservice.Registry {
	t.Helper()
	r, err := chatservice.NewRegistry(chatservice.Options{Capacity: capacity})
	require.NoError(t, err)
	return r
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := newRegistry(t, 0)

	first, created, err := r.GetOrCreate("mira", systemFactory("prompt"), nil)
	require.NoError(t, err)
	require.True(t, created)

	calls := 0
	second, created, err := r.GetOrCreate("mira", func() (chat.Message, error) {
		calls++
		return chat.SystemMessage("other"), nil
	}, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Zero(t, calls, "factory must not run for an active session")

	snapshot, err := r.Snapshot("mira")
	require.NoError(t, err)
	assert.Equal(t, []chat.Message{chat.SystemMessage("prompt")}, snapshot)
}

func TestGetOrCreateFactoryFailureLeavesKeyAbsent(t *testing.T) {
	r := newRegistry(t, 0)

	_, created, err := r.GetOrCreate("ghost", func() (chat.Message, error) {
		return chat.Message{}, character.ErrNotFound
	}, nil)
	require.ErrorIs(t, err, character.ErrNotFound)
	assert.False(t, created)
	assert.Zero(t, r.Len())

	_, err = r.Snapshot("ghost")
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
}

func TestGetOrCreateRequiresKey(t *testing.T) {
	r := newRegistry(t, 0)
	_, _, err := r.GetOrCreate("", systemFactory("x"), nil)
	assert.ErrorIs(t, err, chatservice.ErrKeyRequired)
}

func TestInitRunsOnlyOnCreate(t *testing.T) {
	r := newRegistry(t, 0)
	runs := 0
	greet := func(s *chatservice.Session) {
		runs++
		s.Append(chat.AssistantMessage("hello"))
	}

	_, _, err := r.GetOrCreate("mira", systemFactory("prompt"), greet)
	require.NoError(t, err)
	_, _, err = r.GetOrCreate("mira", systemFactory("prompt"), greet)
	require.NoError(t, err)

	assert.Equal(t, 1, runs)
	snapshot, err := r.Snapshot("mira")
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)
}

func TestAppendPreservesOrder(t *testing.T) {
	r := newRegistry(t, 0)
	_, _, err := r.GetOrCreate("mira", systemFactory("prompt"), nil)
	require.NoError(t, err)

	const turns = 5
	for i := 0; i < turns; i++ {
		require.NoError(t, r.Append("mira", chat.UserMessage(fmt.Sprintf("u%d", i))))
		require.NoError(t, r.Append("mira", chat.AssistantMessage(fmt.Sprintf("a%d", i))))
	}

	snapshot, err := r.Snapshot("mira")
	require.NoError(t, err)
	require.Len(t, snapshot, 1+2*turns)
	assert.Equal(t, chat.RoleSystem, snapshot[0].Role)
	for i := 0; i < turns; i++ {
		assert.Equal(t, chat.UserMessage(fmt.Sprintf("u%d", i)), snapshot[1+2*i])
		assert.Equal(t, chat.AssistantMessage(fmt.Sprintf("a%d", i)), snapshot[2+2*i])
	}
}

func TestAppendUnknownSession(t *testing.T) {
	r := newRegistry(t, 0)
	err := r.Append("missing", chat.UserMessage("hi"))
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
}

func TestSnapshotIsCopy(t *testing.T) {
	r := newRegistry(t, 0)
	_, _, err := r.GetOrCreate("mira", systemFactory("prompt"), nil)
	require.NoError(t, err)

	snapshot, err := r.Snapshot("mira")
	require.NoError(t, err)
	snapshot[0].Content = "mutated"

	again, err := r.Snapshot("mira")
	require.NoError(t, err)
	assert.Equal(t, "prompt", again[0].Content)
}

func TestDoPropagatesError(t *testing.T) {
	r := newRegistry(t, 0)
	_, _, err := r.GetOrCreate("mira", systemFactory("prompt"), nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = r.Do("mira", func(s *chatservice.Session) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestDoSerializesConcurrentTurns(t *testing.T) {
	r := newRegistry(t, 0)
	_, _, err := r.GetOrCreate("mira", systemFactory("prompt"), nil)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Do("mira", func(s *chatservice.Session) error {
				// A turn appends its pair atomically.
				s.Append(chat.UserMessage(fmt.Sprint(i)), chat.AssistantMessage(fmt.Sprint(i)))
				return nil
			})
		}(i)
	}
	wg.Wait()

	snapshot, err := r.Snapshot("mira")
	require.NoError(t, err)
	require.Len(t, snapshot, 1+2*workers)
	for i := 1; i < len(snapshot); i += 2 {
		assert.Equal(t, chat.RoleUser, snapshot[i].Role)
		assert.Equal(t, chat.RoleAssistant, snapshot[i+1].Role)
		assert.Equal(t, snapshot[i].Content, snapshot[i+1].Content)
	}
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	r := newRegistry(t, 2)

	for _, key := range []string{"a", "b"} {
		_, _, err := r.GetOrCreate(key, systemFactory(key), nil)
		require.NoError(t, err)
	}
	// Touch "a" so "b" becomes the eviction candidate.
	_, err := r.Snapshot("a")
	require.NoError(t, err)

	_, _, err = r.GetOrCreate("c", systemFactory("c"), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	_, err = r.Snapshot("b")
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
	_, err = r.Snapshot("a")
	assert.NoError(t, err)
}

func TestEvictedSessionRejectsAppend(t *testing.T) {
	r := newRegistry(t, 1)
	_, _, err := r.GetOrCreate("a", systemFactory("a"), nil)
	require.NoError(t, err)
	_, _, err = r.GetOrCreate("b", systemFactory("b"), nil)
	require.NoError(t, err)

	err = r.Append("a", chat.UserMessage("late"))
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
}

func TestRemove(t *testing.T) {
	for _, capacity := range []int{0, 4} {
		r := newRegistry(t, capacity)
		_, _, err := r.GetOrCreate("a", systemFactory("a"), nil)
		require.NoError(t, err)

		assert.True(t, r.Remove("a"))
		assert.False(t, r.Remove("a"))
		assert.Zero(t, r.Len())

		_, created, err := r.GetOrCreate("a", systemFactory("a"), nil)
		require.NoError(t, err)
		assert.True(t, created)
	}
}

func TestNegativeCapacity(t *testing.T) {
	_, err := chatservice.NewRegistry(chatservice.Options{Capacity: -1})
	assert.Error(t, err)
}
