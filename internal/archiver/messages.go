package archiver

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/store"
	"github.com/blockedby/channel-archiver/internal/telegram"
)

// MessageSource is the slice of the telegram client the backfill consumes.
type MessageSource interface {
	NewestMessage(ctx context.Context, peer telegram.Peer) (*telegram.Message, error)
	OldestMessage(ctx context.Context, peer telegram.Peer) (*telegram.Message, error)
	MessagesBetween(ctx context.Context, peer telegram.Peer, minID, maxID, limit int) ([]telegram.Message, error)
}

// MediaSource opens transfer attempts for message attachments.
type MediaSource interface {
	DownloadMedia(ctx context.Context, media *telegram.Media, dest string, progress telegram.ProgressFunc) error
}

// BackfillOptions selects what slice of the channel to archive.
//
// An explicit MinID/MaxID pair wins over RecentCount; with neither set the
// whole channel is walked. MaxID is exclusive.
type BackfillOptions struct {
	MinID       int
	MaxID       int
	RecentCount int
	Limit       int // 0 = unbounded

	ForceResave   bool // overwrite records that already exist
	DownloadMedia bool
}

// BackfillStats is the outcome report of one backfill run.
type BackfillStats struct {
	Processed int
	Saved     int
	Updated   int
	Skipped   int
	Errors    int

	MediaDownloaded int
	MediaSkipped    int
	MediaErrors     int

	BatchRetries int
	Partial      bool // batch retry budget spent before the range was done
}

// Backfiller walks a channel's history newest-to-oldest, reconciling each
// message into the snapshot and optionally downloading attachments.
type Backfiller struct {
	source     MessageSource
	media      MediaSource
	store      *store.Store
	downloader *MediaDownloader
	mediaDir   string
	log        *logger.Logger

	batchSize    int
	batchDelay   time.Duration
	mediaDelay   time.Duration
	saveInterval time.Duration
	maxRetries   int

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewBackfiller creates a backfill engine writing media under mediaDir.
func NewBackfiller(source MessageSource, media MediaSource, st *store.Store, mediaDir string) *Backfiller {
	return &Backfiller{
		source:       source,
		media:        media,
		store:        st,
		downloader:   NewMediaDownloader(),
		mediaDir:     mediaDir,
		log:          logger.Get(),
		batchSize:    BatchSize,
		batchDelay:   BatchDelay,
		mediaDelay:   MediaDelay,
		saveInterval: SaveInterval,
		maxRetries:   MaxBatchRetries,
		sleep:        sleepCtx,
		now:          time.Now,
	}
}

// resolveRange turns options into the fetch window [minID, maxID).
func (b *Backfiller) resolveRange(ctx context.Context, peer telegram.Peer, opts BackfillOptions) (int, int, error) {
	newest, err := b.source.NewestMessage(ctx, peer)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve newest message: %w", err)
	}
	if newest == nil {
		return 0, 0, fmt.Errorf("channel has no messages")
	}
	oldest, err := b.source.OldestMessage(ctx, peer)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve oldest message: %w", err)
	}
	if oldest == nil {
		return 0, 0, fmt.Errorf("channel has no messages")
	}

	minID, maxID := oldest.ID, newest.ID+1
	switch {
	case opts.MinID > 0 || opts.MaxID > 0:
		if opts.MinID > 0 {
			minID = opts.MinID
		}
		if opts.MaxID > 0 {
			maxID = opts.MaxID
		}
	case opts.RecentCount > 0:
		if low := newest.ID - opts.RecentCount + 1; low > minID {
			minID = low
		}
	}

	if minID >= maxID {
		return 0, 0, fmt.Errorf("empty message range [%d, %d)", minID, maxID)
	}
	return minID, maxID, nil
}

// Run executes the backfill. Partial progress survives failures: the
// snapshot is checkpointed periodically and saved once more on every exit
// path.
func (b *Backfiller) Run(ctx context.Context, peer telegram.Peer, opts BackfillOptions) (*BackfillStats, error) {
	runID := uuid.NewString()
	stats := &BackfillStats{}

	minID, maxID, err := b.resolveRange(ctx, peer, opts)
	if err != nil {
		return stats, err
	}

	b.log.Info().
		Str("run_id", runID).
		Int64("channel_id", peer.ID).
		Int("min_id", minID).
		Int("max_id", maxID).
		Bool("download_media", opts.DownloadMedia).
		Msg("backfill started")

	defer func() {
		if err := b.store.Save(); err != nil {
			b.log.Error().Err(err).Msg("final snapshot save failed")
		}
	}()

	messages := b.store.ChannelMessages(peer.ID)
	cursor := maxID - 1
	lastSave := b.now()
	retries := 0

	for cursor >= minID {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		want := b.batchSize
		if opts.Limit > 0 {
			if remaining := opts.Limit - stats.Processed; remaining < want {
				want = remaining
			}
		}
		if want <= 0 {
			break
		}

		batch, err := b.source.MessagesBetween(ctx, peer, minID, cursor, want)
		if err != nil {
			retries++
			stats.BatchRetries++
			b.log.Warn().
				Str("run_id", runID).
				Int("cursor", cursor).
				Int("consecutive_failures", retries).
				Err(err).
				Msg("batch fetch failed")
			if retries >= b.maxRetries {
				stats.Partial = true
				b.log.Error().Str("run_id", runID).Msg("batch retry budget exhausted, stopping with partial results")
				break
			}
			if serr := b.sleep(ctx, 2*b.batchDelay); serr != nil {
				return stats, serr
			}
			continue
		}
		retries = 0

		if len(batch) == 0 {
			break
		}

		for i := range batch {
			msg := &batch[i]
			if err := b.processMessage(ctx, peer, msg, messages, opts, stats); err != nil {
				stats.Errors++
				b.log.Warn().
					Str("run_id", runID).
					Int("message_id", msg.ID).
					Err(err).
					Msg("message processing failed")
			}
			stats.Processed++
			if msg.ID < cursor {
				cursor = msg.ID
			}
		}
		cursor-- // page boundary: next batch starts below the oldest seen id

		if b.now().Sub(lastSave) > b.saveInterval {
			if err := b.store.Save(); err != nil {
				b.log.Error().Err(err).Msg("checkpoint save failed")
			} else {
				lastSave = b.now()
				b.log.Info().Str("run_id", runID).Int("processed", stats.Processed).Msg("checkpoint saved")
			}
		}

		if len(batch) == b.batchSize {
			if err := b.sleep(ctx, b.batchDelay); err != nil {
				return stats, err
			}
		}
	}

	b.log.Info().
		Str("run_id", runID).
		Int("processed", stats.Processed).
		Int("saved", stats.Saved).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).
		Int("media_downloaded", stats.MediaDownloaded).
		Bool("partial", stats.Partial).
		Msg("backfill finished")
	return stats, nil
}

// processMessage reconciles one remote message into the snapshot.
func (b *Backfiller) processMessage(ctx context.Context, peer telegram.Peer, msg *telegram.Message, messages map[string]*store.Message, opts BackfillOptions, stats *BackfillStats) error {
	key := store.MessageKey(msg.ID)
	existing := messages[key]
	record := b.toRecord(msg)

	if opts.DownloadMedia && msg.Media.Downloadable() {
		if err := b.acquireMedia(ctx, peer, msg, existing, record, opts.ForceResave, stats); err != nil {
			return err
		}
	} else if existing != nil {
		// media download disabled: keep whatever path is recorded
		record.MediaFilePath = existing.MediaFilePath
	}

	switch {
	case existing == nil || opts.ForceResave:
		messages[key] = record
		stats.Saved++
	case b.needsUpdate(existing, record):
		messages[key] = record
		stats.Updated++
	default:
		stats.Skipped++
	}
	return nil
}

// needsUpdate reports whether a stored record differs from the fresh one in
// a way worth rewriting. Edits without engagement changes are deliberately
// not a trigger: the edit refreshes text and edit_date, which ride along
// when engagement moves.
func (b *Backfiller) needsUpdate(existing, fresh *store.Message) bool {
	if existing.Views != fresh.Views || existing.Forwards != fresh.Forwards {
		return true
	}
	if existing.MediaFilePath != fresh.MediaFilePath {
		return true
	}
	if len(existing.Reactions) != len(fresh.Reactions) {
		return true
	}
	for i := range existing.Reactions {
		if existing.Reactions[i] != fresh.Reactions[i] {
			return true
		}
	}
	return false
}

// acquireMedia downloads the message's attachment unless an intact copy is
// already on disk, and fills record.MediaFilePath accordingly.
func (b *Backfiller) acquireMedia(ctx context.Context, peer telegram.Peer, msg *telegram.Message, existing, record *store.Message, force bool, stats *BackfillStats) error {
	if existing != nil && existing.MediaFilePath != "" && !force {
		if _, err := os.Stat(existing.MediaFilePath); err == nil {
			record.MediaFilePath = existing.MediaFilePath
			stats.MediaSkipped++
			return nil
		}
	}

	if err := os.MkdirAll(b.mediaDir, 0755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	dest := filepath.Join(b.mediaDir, mediaFilename(msg))

	res := b.downloader.Download(ctx, func(ctx context.Context, dest string, progress telegram.ProgressFunc) error {
		return b.media.DownloadMedia(ctx, msg.Media, dest, progress)
	}, dest, msg.Media.Size)

	if !res.Success {
		stats.MediaErrors++
		b.log.Warn().Int("message_id", msg.ID).Str("error", res.Error).Msg("media acquisition failed")
	} else {
		record.MediaFilePath = res.FilePath
		stats.MediaDownloaded++
		if msg.Media.IsVideo || msg.Media.IsRound {
			b.recordVideo(peer.ID, msg, res.FilePath)
		}
	}

	return b.sleep(ctx, b.mediaDelay)
}

// recordVideo writes the denormalized video record for a downloaded video
// attachment. This path always overwrites: the message backfill is the
// fresher source.
func (b *Backfiller) recordVideo(channelID int64, msg *telegram.Message, filePath string) {
	videos := b.store.ChannelVideos(channelID)
	var size int64
	if info, err := os.Stat(filePath); err == nil {
		size = info.Size()
	}
	videos[store.MessageKey(msg.ID)] = &store.Video{
		ID:           msg.ID,
		Date:         store.FormatTime(msg.Date),
		FromID:       msg.FromID,
		MediaType:    msg.Media.Type,
		FilePath:     filePath,
		DownloadDate: store.FormatTime(b.now()),
		FileSize:     size,
		Duration:     msg.Media.Duration,
		MimeType:     msg.Media.MimeType,
		Size:         msg.Media.Size,
	}
}

// toRecord converts a parsed remote message into its snapshot shape.
func (b *Backfiller) toRecord(msg *telegram.Message) *store.Message {
	rec := &store.Message{
		ID:      msg.ID,
		Date:    store.FormatTime(msg.Date),
		FromID:  msg.FromID,
		Text:    msg.Text,
		RawText: msg.RawText,
		Flags: store.MessageFlags{
			Out:           msg.Out,
			Mentioned:     msg.Mentioned,
			MediaUnread:   msg.MediaUnread,
			Silent:        msg.Silent,
			Post:          msg.Post,
			FromScheduled: msg.FromScheduled,
			Legacy:        msg.Legacy,
			EditHide:      msg.EditHide,
			Pinned:        msg.Pinned,
			NoForwards:    msg.Noforwards,
		},
		Views:      msg.Views,
		Forwards:   msg.Forwards,
		ReplyTo:    msg.ReplyTo,
		LastUpdate: store.FormatTime(b.now()),
	}
	if !msg.EditDate.IsZero() {
		rec.EditDate = store.FormatTime(msg.EditDate)
	}
	if msg.GroupedID != 0 {
		rec.GroupedID = strconv.FormatInt(msg.GroupedID, 10)
	}
	if msg.Media != nil {
		rec.HasMedia = true
		rec.MediaType = msg.Media.Type
	}
	for _, r := range msg.Reactions {
		rec.Reactions = append(rec.Reactions, store.Reaction{
			Emoticon:   r.Emoticon,
			DocumentID: r.DocumentID,
			Count:      r.Count,
			Chosen:     r.Chosen,
		})
	}
	return rec
}

// mediaFilename builds a collision-free media file name from the message id
// and timestamp.
func mediaFilename(msg *telegram.Message) string {
	return fmt.Sprintf("media_%d_%s%s", msg.ID, msg.Date.Format("20060102_150405"), mediaExt(msg.Media))
}

// mediaExt picks a file extension for an attachment from its declared MIME
// type. Common types resolve from a fixed table so names stay stable across
// platforms; anything else goes through the system MIME registry.
func mediaExt(media *telegram.Media) string {
	if media.IsPhoto {
		return ".jpg"
	}
	switch media.MimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "application/pdf":
		return ".pdf"
	}
	if exts, err := mime.ExtensionsByType(media.MimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
