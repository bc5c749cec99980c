package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/store"
	"github.com/blockedby/channel-archiver/internal/telegram"
)

// VideoSource is the filtered-search slice of the telegram client.
type VideoSource interface {
	VideoMessages(ctx context.Context, peer telegram.Peer, offsetID, limit int, roundOnly bool) ([]telegram.Message, error)
}

// VideoOptions selects what the video crawl covers.
type VideoOptions struct {
	Limit     int  // 0 = unbounded
	RoundOnly bool // round video clips only
}

// VideoStats is the outcome report of one video crawl.
type VideoStats struct {
	Processed  int
	Downloaded int
	Skipped    int
	Errors     int
}

// VideoBackfiller walks a channel's video messages through the server-side
// media filter, downloading each video that is not already intact on disk.
//
// Unlike the message backfill, this engine trusts an existing record whose
// file resolves on disk and never overwrites it.
type VideoBackfiller struct {
	source     VideoSource
	media      MediaSource
	store      *store.Store
	downloader *MediaDownloader
	mediaDir   string
	log        *logger.Logger

	batchSize    int
	mediaDelay   time.Duration
	saveInterval time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewVideoBackfiller creates a video crawl engine writing under mediaDir.
func NewVideoBackfiller(source VideoSource, media MediaSource, st *store.Store, mediaDir string) *VideoBackfiller {
	return &VideoBackfiller{
		source:       source,
		media:        media,
		store:        st,
		downloader:   NewMediaDownloader(),
		mediaDir:     mediaDir,
		log:          logger.Get(),
		batchSize:    BatchSize,
		mediaDelay:   MediaDelay,
		saveInterval: SaveInterval,
		sleep:        sleepCtx,
		now:          time.Now,
	}
}

// Run executes the video crawl. There is no batch retry tier here: a
// listing failure ends the run with whatever was archived so far.
func (v *VideoBackfiller) Run(ctx context.Context, peer telegram.Peer, opts VideoOptions) (*VideoStats, error) {
	runID := uuid.NewString()
	stats := &VideoStats{}

	v.log.Info().
		Str("run_id", runID).
		Int64("channel_id", peer.ID).
		Bool("round_only", opts.RoundOnly).
		Msg("video backfill started")

	defer func() {
		if err := v.store.Save(); err != nil {
			v.log.Error().Err(err).Msg("final snapshot save failed")
		}
	}()

	videos := v.store.ChannelVideos(peer.ID)
	offsetID := 0
	lastSave := v.now()

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		want := v.batchSize
		if opts.Limit > 0 {
			if remaining := opts.Limit - stats.Processed; remaining < want {
				want = remaining
			}
		}
		if want <= 0 {
			break
		}

		batch, err := v.source.VideoMessages(ctx, peer, offsetID, want, opts.RoundOnly)
		if err != nil {
			return stats, fmt.Errorf("list videos: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			msg := &batch[i]
			if msg.ID < offsetID || offsetID == 0 {
				offsetID = msg.ID
			}
			stats.Processed++

			if err := v.processVideo(ctx, msg, videos, stats); err != nil {
				stats.Errors++
				v.log.Warn().
					Str("run_id", runID).
					Int("message_id", msg.ID).
					Err(err).
					Msg("video processing failed")
			}

			if v.now().Sub(lastSave) > v.saveInterval {
				if err := v.store.Save(); err != nil {
					v.log.Error().Err(err).Msg("checkpoint save failed")
				} else {
					lastSave = v.now()
				}
			}

			if err := v.sleep(ctx, v.mediaDelay); err != nil {
				return stats, err
			}
		}
	}

	v.log.Info().
		Str("run_id", runID).
		Int("processed", stats.Processed).
		Int("downloaded", stats.Downloaded).
		Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).
		Msg("video backfill finished")
	return stats, nil
}

// processVideo downloads one video message unless its recorded file still
// resolves on disk.
func (v *VideoBackfiller) processVideo(ctx context.Context, msg *telegram.Message, videos map[string]*store.Video, stats *VideoStats) error {
	if !msg.Media.Downloadable() {
		return fmt.Errorf("video message %d has no transfer location", msg.ID)
	}

	key := store.MessageKey(msg.ID)
	if existing := videos[key]; existing != nil && existing.FilePath != "" {
		if _, err := os.Stat(existing.FilePath); err == nil {
			stats.Skipped++
			return nil
		}
	}

	if err := os.MkdirAll(v.mediaDir, 0755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	dest := filepath.Join(v.mediaDir, videoFilename(msg))

	res := v.downloader.Download(ctx, func(ctx context.Context, dest string, progress telegram.ProgressFunc) error {
		return v.media.DownloadMedia(ctx, msg.Media, dest, progress)
	}, dest, msg.Media.Size)
	if !res.Success {
		stats.Errors++
		v.log.Warn().Int("message_id", msg.ID).Str("error", res.Error).Msg("video download failed")
		return nil
	}

	var size int64
	if info, err := os.Stat(res.FilePath); err == nil {
		size = info.Size()
	}
	videos[key] = &store.Video{
		ID:           msg.ID,
		Date:         store.FormatTime(msg.Date),
		FromID:       msg.FromID,
		MediaType:    msg.Media.Type,
		FilePath:     res.FilePath,
		DownloadDate: store.FormatTime(v.now()),
		FileSize:     size,
		Duration:     msg.Media.Duration,
		MimeType:     msg.Media.MimeType,
		Size:         msg.Media.Size,
	}
	stats.Downloaded++
	return nil
}

func videoFilename(msg *telegram.Message) string {
	ext := mediaExt(msg.Media)
	if ext == ".bin" {
		ext = ".mp4"
	}
	if msg.Media.IsRound {
		ext = "_round" + ext
	}
	return fmt.Sprintf("video_%d_%s%s", msg.ID, msg.Date.Format("20060102_150405"), ext)
}
