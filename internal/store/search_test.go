package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchStore(t *testing.T) *Store {
	t.Helper()
	s := Load(filepath.Join(t.TempDir(), "archive.json"))
	msgs := s.ChannelMessages(100)

	date := func(day int) string {
		return FormatTime(time.Date(2025, 5, day, 10, 0, 0, 0, time.UTC))
	}
	msgs["1"] = &Message{ID: 1, Date: date(1), Text: "Project kickoff meeting", FromID: 42}
	msgs["2"] = &Message{ID: 2, Date: date(2), Text: "lunch photos", HasMedia: true, FromID: 42}
	msgs["3"] = &Message{ID: 3, Date: date(3), Text: "KICKOFF follow-up", FromID: 7}
	msgs["4"] = &Message{ID: 4, Date: date(4), Text: "great news",
		Reactions: []Reaction{{Emoticon: "🎉", Count: 2}}, FromID: 42}
	return s
}

func TestSearchTextCaseInsensitive(t *testing.T) {
	s := searchStore(t)

	out := s.SearchText(100, "kickoff")
	require.Len(t, out, 2)
	// oldest first
	assert.Equal(t, 1, out[0].ID)
	assert.Equal(t, 3, out[1].ID)

	assert.Empty(t, s.SearchText(100, "nonexistent"))
}

func TestSearchDateRange(t *testing.T) {
	s := searchStore(t)

	from := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 5, 3, 23, 59, 59, 0, time.UTC)
	out := s.SearchDateRange(100, from, to)
	require.Len(t, out, 2)
	assert.Equal(t, 2, out[0].ID)
	assert.Equal(t, 3, out[1].ID)
}

func TestMessageByID(t *testing.T) {
	s := searchStore(t)
	require.NotNil(t, s.MessageByID(100, 2))
	assert.Equal(t, "lunch photos", s.MessageByID(100, 2).Text)
	assert.Nil(t, s.MessageByID(100, 99))
}

func TestWithReactionsAndMedia(t *testing.T) {
	s := searchStore(t)

	reactions := s.WithReactions(100)
	require.Len(t, reactions, 1)
	assert.Equal(t, 4, reactions[0].ID)

	media := s.WithMedia(100)
	require.Len(t, media, 1)
	assert.Equal(t, 2, media[0].ID)
}

func TestLastMessagesByUser(t *testing.T) {
	s := searchStore(t)

	out := s.LastMessagesByUser(100, 42, 2)
	require.Len(t, out, 2)
	// newest first
	assert.Equal(t, 4, out[0].ID)
	assert.Equal(t, 2, out[1].ID)

	assert.Len(t, s.LastMessagesByUser(100, 42, 0), 3)
	assert.Empty(t, s.LastMessagesByUser(100, 999, 5))
}
