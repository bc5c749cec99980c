package archiver

import (
	"context"
	"fmt"
	"time"

	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/store"
	"github.com/blockedby/channel-archiver/internal/telegram"
)

// ParticipantSource is the membership-listing slice of the telegram client.
type ParticipantSource interface {
	Participants(ctx context.Context, peer telegram.Peer) ([]telegram.Participant, error)
}

// ParticipantStats is the outcome report of one participant snapshot.
type ParticipantStats struct {
	Total   int
	New     int
	Updated int
}

// SnapshotParticipants fetches the full membership of a channel and upserts
// every member. first_seen survives the overwrite, last_seen moves to now.
func SnapshotParticipants(ctx context.Context, source ParticipantSource, st *store.Store, peer telegram.Peer) (*ParticipantStats, error) {
	log := logger.Get()

	members, err := source.Participants(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("fetch participants: %w", err)
	}

	now := store.FormatTime(time.Now())
	stats := &ParticipantStats{Total: len(members)}
	for _, m := range members {
		u := &store.User{
			ID:         m.ID,
			Username:   m.Username,
			FirstName:  m.FirstName,
			LastName:   m.LastName,
			Phone:      m.Phone,
			Bot:        m.Bot,
			Scam:       m.Scam,
			Fake:       m.Fake,
			Premium:    m.Premium,
			Verified:   m.Verified,
			Restricted: m.Restricted,
			LastSeen:   now,
		}
		if st.UpsertUser(peer.ID, u) {
			stats.New++
		} else {
			stats.Updated++
		}
	}

	if err := st.Save(); err != nil {
		return stats, fmt.Errorf("save snapshot: %w", err)
	}

	log.Info().
		Int64("channel_id", peer.ID).
		Int("total", stats.Total).
		Int("new", stats.New).
		Int("updated", stats.Updated).
		Msg("participant snapshot saved")
	return stats, nil
}
