package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/channel-archiver/internal/store"
	"github.com/blockedby/channel-archiver/internal/telegram"
)

// fakeHistory serves a fixed set of messages the way the remote history
// API does: newest first, bounded by [minID, maxID] and limit.
type fakeHistory struct {
	messages map[int]telegram.Message
	fetchErr error
	calls    int
}

func newFakeHistory(ids ...int) *fakeHistory {
	f := &fakeHistory{messages: make(map[int]telegram.Message)}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range ids {
		f.messages[id] = telegram.Message{
			ID:    id,
			Date:  base.Add(time.Duration(id) * time.Minute),
			Text:  fmt.Sprintf("message %d", id),
			Views: 10,
		}
	}
	return f
}

func (f *fakeHistory) sortedIDs() []int {
	ids := make([]int, 0, len(f.messages))
	for id := range f.messages {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	return ids
}

func (f *fakeHistory) NewestMessage(_ context.Context, _ telegram.Peer) (*telegram.Message, error) {
	ids := f.sortedIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	m := f.messages[ids[0]]
	return &m, nil
}

func (f *fakeHistory) OldestMessage(_ context.Context, _ telegram.Peer) (*telegram.Message, error) {
	ids := f.sortedIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	m := f.messages[ids[len(ids)-1]]
	return &m, nil
}

func (f *fakeHistory) MessagesBetween(_ context.Context, _ telegram.Peer, minID, maxID, limit int) ([]telegram.Message, error) {
	f.calls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []telegram.Message
	for _, id := range f.sortedIDs() {
		if id < minID || id > maxID {
			continue
		}
		out = append(out, f.messages[id])
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func testBackfiller(t *testing.T, src *fakeHistory) (*Backfiller, *store.Store) {
	t.Helper()
	st := store.Load(filepath.Join(t.TempDir(), "archive.json"))
	b := NewBackfiller(src, nil, st, t.TempDir())
	b.sleep = func(context.Context, time.Duration) error { return nil }
	return b, st
}

var testPeer = telegram.Peer{ID: 777, AccessHash: 42}

func TestResolveRangeFullChannel(t *testing.T) {
	b, _ := testBackfiller(t, newFakeHistory(100, 101, 102, 103, 104, 105))

	minID, maxID, err := b.resolveRange(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 100, minID)
	assert.Equal(t, 106, maxID)
}

func TestResolveRangeRecentCount(t *testing.T) {
	// ids 100..105, most recent 3 => exactly 103, 104, 105
	b, _ := testBackfiller(t, newFakeHistory(100, 101, 102, 103, 104, 105))

	minID, maxID, err := b.resolveRange(context.Background(), testPeer, BackfillOptions{RecentCount: 3})
	require.NoError(t, err)
	assert.Equal(t, 103, minID)
	assert.Equal(t, 106, maxID)
}

func TestResolveRangeRecentCountClamped(t *testing.T) {
	b, _ := testBackfiller(t, newFakeHistory(100, 101, 102))

	minID, maxID, err := b.resolveRange(context.Background(), testPeer, BackfillOptions{RecentCount: 50})
	require.NoError(t, err)
	assert.Equal(t, 100, minID)
	assert.Equal(t, 103, maxID)
}

func TestResolveRangeExplicitWinsOverRecent(t *testing.T) {
	b, _ := testBackfiller(t, newFakeHistory(100, 101, 102, 103, 104, 105))

	minID, maxID, err := b.resolveRange(context.Background(), testPeer, BackfillOptions{
		MinID: 101, MaxID: 104, RecentCount: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 101, minID)
	assert.Equal(t, 104, maxID)
}

func TestResolveRangeInvalid(t *testing.T) {
	b, _ := testBackfiller(t, newFakeHistory(100, 101, 102))

	_, _, err := b.resolveRange(context.Background(), testPeer, BackfillOptions{MinID: 50, MaxID: 40})
	assert.Error(t, err)
}

func TestResolveRangeEmptyChannel(t *testing.T) {
	b, _ := testBackfiller(t, newFakeHistory())

	_, _, err := b.resolveRange(context.Background(), testPeer, BackfillOptions{})
	assert.Error(t, err)
}

func TestRunSavesAllMessages(t *testing.T) {
	src := newFakeHistory(1, 2, 3, 5, 8)
	b, st := testBackfiller(t, src)

	stats, err := b.Run(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Processed)
	assert.Equal(t, 5, stats.Saved)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 0, stats.Skipped)

	messages := st.ChannelMessages(testPeer.ID)
	require.Len(t, messages, 5)
	assert.Equal(t, "message 5", messages["5"].Text)

	// final save happened on the way out
	_, statErr := os.Stat(st.Path())
	assert.NoError(t, statErr)
}

func TestRunSkipsUnchangedMessages(t *testing.T) {
	src := newFakeHistory(1, 2, 3)
	b, _ := testBackfiller(t, src)

	_, err := b.Run(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err)

	stats, err := b.Run(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Saved)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 3, stats.Skipped)
}

func TestRunUpdatesOnEngagementChange(t *testing.T) {
	src := newFakeHistory(1, 2, 3)
	b, st := testBackfiller(t, src)

	_, err := b.Run(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err)

	m := src.messages[2]
	m.Views = 99
	m.Forwards = 4
	src.messages[2] = m

	stats, err := b.Run(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 99, st.ChannelMessages(testPeer.ID)["2"].Views)
}

func TestRunEditAloneIsNotAnUpdate(t *testing.T) {
	src := newFakeHistory(1, 2)
	b, _ := testBackfiller(t, src)

	_, err := b.Run(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err)

	m := src.messages[1]
	m.Text = "edited text"
	m.EditDate = m.Date.Add(time.Hour)
	src.messages[1] = m

	stats, err := b.Run(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 2, stats.Skipped)
}

func TestRunReactionChangeIsAnUpdate(t *testing.T) {
	src := newFakeHistory(1, 2)
	b, st := testBackfiller(t, src)

	_, err := b.Run(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err)

	m := src.messages[2]
	m.Reactions = []telegram.Reaction{{Emoticon: "👍", Count: 7}}
	src.messages[2] = m

	stats, err := b.Run(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	require.Len(t, st.ChannelMessages(testPeer.ID)["2"].Reactions, 1)
	assert.Equal(t, 7, st.ChannelMessages(testPeer.ID)["2"].Reactions[0].Count)
}

func TestRunForceResave(t *testing.T) {
	src := newFakeHistory(1, 2)
	b, _ := testBackfiller(t, src)

	_, err := b.Run(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err)

	stats, err := b.Run(context.Background(), testPeer, BackfillOptions{ForceResave: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Saved)
	assert.Equal(t, 0, stats.Skipped)
}

func TestRunHonorsLimit(t *testing.T) {
	src := newFakeHistory(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	b, _ := testBackfiller(t, src)

	stats, err := b.Run(context.Background(), testPeer, BackfillOptions{Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Processed)
}

func TestRunBatchRetryBudget(t *testing.T) {
	src := newFakeHistory(1, 2, 3)
	src.fetchErr = fmt.Errorf("rpc unavailable")
	var slept []time.Duration

	b, st := testBackfiller(t, src)
	b.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	stats, err := b.Run(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err, "retry exhaustion is partial success, not an error")
	assert.True(t, stats.Partial)
	assert.Equal(t, MaxBatchRetries, stats.BatchRetries)
	assert.Equal(t, 0, stats.Processed)

	// each retry waited twice the batch delay
	require.Len(t, slept, MaxBatchRetries-1)
	for _, d := range slept {
		assert.Equal(t, 2*b.batchDelay, d)
	}

	// partial result still persisted
	_, statErr := os.Stat(st.Path())
	assert.NoError(t, statErr)
}

func TestRunPreservesMediaPathWhenDownloadDisabled(t *testing.T) {
	src := newFakeHistory(1)
	b, st := testBackfiller(t, src)

	messages := st.ChannelMessages(testPeer.ID)
	messages["1"] = &store.Message{ID: 1, Views: 10, MediaFilePath: "/media/old.jpg", Text: "message 1"}

	_, err := b.Run(context.Background(), testPeer, BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/media/old.jpg", messages["1"].MediaFilePath)
}

func TestMediaFilenameExtensionFromMime(t *testing.T) {
	date := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	msg := func(m telegram.Media) *telegram.Message {
		return &telegram.Message{ID: 7, Date: date, Media: &m}
	}

	assert.Equal(t, "media_7_20250501_100000.jpg", mediaFilename(msg(telegram.Media{IsPhoto: true})))
	assert.Equal(t, "media_7_20250501_100000.png", mediaFilename(msg(telegram.Media{MimeType: "image/png"})))
	assert.Equal(t, "media_7_20250501_100000.mov", mediaFilename(msg(telegram.Media{MimeType: "video/quicktime"})))
	assert.Equal(t, "media_7_20250501_100000.mp3", mediaFilename(msg(telegram.Media{MimeType: "audio/mpeg"})))
	assert.Equal(t, "media_7_20250501_100000.pdf", mediaFilename(msg(telegram.Media{MimeType: "application/pdf"})))
	assert.Equal(t, "media_7_20250501_100000.bin", mediaFilename(msg(telegram.Media{MimeType: "application/x-tg-sticker-unknown"})))

	assert.Equal(t, "video_7_20250501_100000.mp4", videoFilename(msg(telegram.Media{IsVideo: true, MimeType: "video/mp4"})))
	assert.Equal(t, "video_7_20250501_100000.webm", videoFilename(msg(telegram.Media{IsVideo: true, MimeType: "video/webm"})))
	assert.Equal(t, "video_7_20250501_100000_round.mp4", videoFilename(msg(telegram.Media{IsRound: true, MimeType: "video/mp4"})))
	// missing mime still lands on a playable default
	assert.Equal(t, "video_7_20250501_100000.mp4", videoFilename(msg(telegram.Media{IsVideo: true})))
}
