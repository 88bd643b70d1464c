package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/sessionkeeper/session"
)

func TestStore(t *testing.T) {
	c := NewCategories()
	_, ok := c.Get("u1")
	assert.False(t, ok)

	items := []Category{{ID: "1", Name: "Salary", Kind: KindIncome}}
	c.Set("u1", items)
	items[0].Name = "mutated"

	got, ok := c.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "Salary", got[0].Name)

	got[0].Name = "mutated"
	again, _ := c.Get("u1")
	assert.Equal(t, "Salary", again[0].Name)

	c.Set("u2", nil)
	assert.Equal(t, 2, c.Len())
	c.Reset()
	assert.Zero(t, c.Len())
}

func TestInvalidateScopesToUser(t *testing.T) {
	c := NewCategories()
	c.Set("u1", []Category{{ID: "1"}})
	c.Set("u2", []Category{{ID: "2"}})

	c.Invalidate(context.Background(), &session.Session{ID: "s1", UserID: "u1"})

	_, ok := c.Get("u1")
	assert.False(t, ok)
	_, ok = c.Get("u2")
	assert.True(t, ok)
}
