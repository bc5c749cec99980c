package store

import (
	"sort"
	"strings"
	"time"
)

// sortedByDate returns messages ordered oldest first, falling back to id
// order when dates are equal or unparseable.
func sortedByDate(msgs []*Message) []*Message {
	sort.Slice(msgs, func(i, j int) bool {
		ti, tj := ParseTime(msgs[i].Date), ParseTime(msgs[j].Date)
		if ti.Equal(tj) {
			return msgs[i].ID < msgs[j].ID
		}
		return ti.Before(tj)
	})
	return msgs
}

// SearchText returns messages whose text contains the query,
// case-insensitive.
func (s *Store) SearchText(channelID int64, query string) []*Message {
	query = strings.ToLower(query)
	var out []*Message
	for _, m := range s.snap.Messages[ChannelKey(channelID)] {
		if m.Text != "" && strings.Contains(strings.ToLower(m.Text), query) {
			out = append(out, m)
		}
	}
	return sortedByDate(out)
}

// SearchDateRange returns messages dated within [from, to].
func (s *Store) SearchDateRange(channelID int64, from, to time.Time) []*Message {
	var out []*Message
	for _, m := range s.snap.Messages[ChannelKey(channelID)] {
		d := ParseTime(m.Date)
		if d.IsZero() {
			continue
		}
		if !d.Before(from) && !d.After(to) {
			out = append(out, m)
		}
	}
	return sortedByDate(out)
}

// MessageByID looks up a single message.
func (s *Store) MessageByID(channelID int64, messageID int) *Message {
	return s.snap.Messages[ChannelKey(channelID)][MessageKey(messageID)]
}

// WithReactions returns messages carrying at least one reaction.
func (s *Store) WithReactions(channelID int64) []*Message {
	var out []*Message
	for _, m := range s.snap.Messages[ChannelKey(channelID)] {
		if len(m.Reactions) > 0 {
			out = append(out, m)
		}
	}
	return sortedByDate(out)
}

// WithMedia returns messages carrying a media attachment.
func (s *Store) WithMedia(channelID int64) []*Message {
	var out []*Message
	for _, m := range s.snap.Messages[ChannelKey(channelID)] {
		if m.HasMedia {
			out = append(out, m)
		}
	}
	return sortedByDate(out)
}

// LastMessagesByUser returns the newest n messages sent by a user, newest
// first.
func (s *Store) LastMessagesByUser(channelID int64, userID int64, n int) []*Message {
	var out []*Message
	for _, m := range s.snap.Messages[ChannelKey(channelID)] {
		if m.FromID == userID {
			out = append(out, m)
		}
	}
	sortedByDate(out)
	// newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
