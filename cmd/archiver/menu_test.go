package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blockedby/channel-archiver/internal/store"
)

func TestSortedPhonesStableOrder(t *testing.T) {
	sessions := map[string]*store.Session{
		"+7900":  {Username: "c"},
		"+1200":  {Username: "a"},
		"+49170": {Username: "b"},
	}

	want := []string{"+1200", "+49170", "+7900"}
	for i := 0; i < 10; i++ {
		assert.Equal(t, want, sortedPhones(sessions))
	}

	assert.Empty(t, sortedPhones(nil))
}
