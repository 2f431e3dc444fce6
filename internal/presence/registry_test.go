package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddThenList(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Add("u1", "s1"))
	assert.True(t, r.Add("u2", "s2"))

	assert.Equal(t, []Entry{
		{UserID: "u1", ConnID: "s1"},
		{UserID: "u2", ConnID: "s2"},
	}, r.ListOnline())
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Add_FirstRegistrationWins(t *testing.T) {
	r := NewRegistry()

	require.True(t, r.Add("u1", "s1"))
	assert.False(t, r.Add("u1", "s2"), "second socket for same user is a no-op")

	assert.Equal(t, []Entry{{UserID: "u1", ConnID: "s1"}}, r.ListOnline())
}

func TestRegistry_Add_RejectsEmpty(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.Add("", "s1"))
	assert.False(t, r.Add("u1", ""))
	assert.Zero(t, r.Len())
}

func TestRegistry_AddThenRemove_NoGhosts(t *testing.T) {
	r := NewRegistry()
	r.Add("u1", "s1")
	r.Add("u2", "s2")

	removed := r.Remove("s1")

	assert.Equal(t, []Entry{{UserID: "u1", ConnID: "s1"}}, removed)
	assert.False(t, r.IsOnline("u1"))
	assert.True(t, r.IsOnline("u2"))
	for _, e := range r.ListOnline() {
		assert.NotEqual(t, "u1", e.UserID)
	}
}

func TestRegistry_Remove_NonOwnerSocket(t *testing.T) {
	r := NewRegistry()
	r.Add("u1", "s1")
	r.Add("u1", "s2") // no-op

	assert.Empty(t, r.Remove("s2"), "the non-owning tab holds no entry")
	assert.True(t, r.IsOnline("u1"))

	r.Remove("s1")
	assert.False(t, r.IsOnline("u1"))

	// After the owner is gone another socket can register the user again
	assert.True(t, r.Add("u1", "s2"))
}

func TestRegistry_Remove_Unknown(t *testing.T) {
	r := NewRegistry()
	r.Add("u1", "s1")

	assert.Empty(t, r.Remove("nope"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ListOnline_IsCopy(t *testing.T) {
	r := NewRegistry()
	r.Add("u1", "s1")

	list := r.ListOnline()
	list[0].UserID = "tampered"

	assert.True(t, r.IsOnline("u1"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Add(fmt.Sprintf("u%d", i), fmt.Sprintf("s%d", i))
			_ = r.ListOnline()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, r.Len())

	for i := 0; i < n; i += 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Remove(fmt.Sprintf("s%d", i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n/2, r.Len())
}
