package archiver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/telegram"
)

// Tuning constants for the crawl and transfer engines.
const (
	// BatchSize is the page size of history fetches.
	BatchSize = 100
	// BatchDelay is the pause after each full batch.
	BatchDelay = 2 * time.Second
	// SaveInterval bounds data loss on interruption: a checkpoint save
	// runs whenever this much time passed since the last one.
	SaveInterval = 300 * time.Second
	// MaxBatchRetries is how many consecutive batch fetch failures are
	// tolerated before the crawl gives up with partial results.
	MaxBatchRetries = 3

	// MediaTimeout is the wall-clock budget of a single transfer attempt.
	MediaTimeout = 120 * time.Second
	// MediaMaxRetries is the retry budget of one media item. Flood waits
	// do not consume it.
	MediaMaxRetries = 3
	// MediaRetryBase seeds the exponential backoff between retries.
	MediaRetryBase = 5 * time.Second
	// MediaDelay is the pause between consecutive media transfers.
	MediaDelay = 3 * time.Second

	// LargeFileThreshold switches progress reporting to the verbose mode.
	LargeFileThreshold = 10 << 20
	// SizeTolerance is how far the on-disk size may deviate from the
	// declared one before a warning is logged.
	SizeTolerance = 1 << 10
)

// TransferFunc runs one transfer attempt, writing the payload to dest.
type TransferFunc func(ctx context.Context, dest string, progress telegram.ProgressFunc) error

// DownloadResult is the outcome of one media item, all attempts included.
type DownloadResult struct {
	Success  bool
	FilePath string
	Error    string
}

// MediaDownloader drives media transfers: per-attempt timeout, bounded
// retries with exponential backoff, server-dictated flood-wait pauses and
// post-transfer verification. One instance is shared by the crawl engines.
type MediaDownloader struct {
	log *logger.Logger

	timeout    time.Duration
	maxRetries int
	retryBase  time.Duration

	// injected for tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewMediaDownloader creates a downloader with the default tuning.
func NewMediaDownloader() *MediaDownloader {
	return &MediaDownloader{
		log:        logger.Get(),
		timeout:    MediaTimeout,
		maxRetries: MediaMaxRetries,
		retryBase:  MediaRetryBase,
		sleep:      sleepCtx,
		jitter: func() float64 {
			return 0.75 + rand.Float64()*0.5
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryDelay returns the backoff before retry attempt n (1-based),
// without jitter.
func retryDelay(base time.Duration, attempt int) time.Duration {
	return base << (attempt - 1)
}

// Download runs transfer until it succeeds or the retry budget is spent.
// expectedSize of 0 means the size is unknown and verification only checks
// that the file is non-empty.
func (d *MediaDownloader) Download(ctx context.Context, transfer TransferFunc, dest string, expectedSize int64) DownloadResult {
	var lastErr string

	for attempt := 0; attempt <= d.maxRetries; {
		if attempt > 0 {
			delay := time.Duration(float64(retryDelay(d.retryBase, attempt)) * d.jitter())
			d.log.Info().
				Str("file", dest).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("retrying media download")
			if err := d.sleep(ctx, delay); err != nil {
				return DownloadResult{Error: err.Error()}
			}
		}

		err := d.attempt(ctx, transfer, dest, expectedSize)
		if err == nil {
			return DownloadResult{Success: true, FilePath: dest}
		}

		if wait, ok := telegram.FloodWait(err); ok {
			// Server-dictated pause. Waiting it out is compliance,
			// not a failed attempt, so the budget stays intact.
			d.log.Warn().
				Str("file", dest).
				Dur("wait", wait).
				Msg("flood wait during media download")
			if serr := d.sleep(ctx, wait); serr != nil {
				return DownloadResult{Error: serr.Error()}
			}
			continue
		}

		if ctx.Err() != nil {
			return DownloadResult{Error: ctx.Err().Error()}
		}

		if errors.Is(err, context.DeadlineExceeded) {
			lastErr = fmt.Sprintf("download timed out after %s", d.timeout)
		} else {
			lastErr = err.Error()
		}
		d.log.Warn().Str("file", dest).Str("error", lastErr).Msg("media download attempt failed")
		attempt++
	}

	d.log.Error().
		Str("file", dest).
		Int("attempts", d.maxRetries+1).
		Str("error", lastErr).
		Msg("media download failed, retry budget exhausted")
	return DownloadResult{Error: lastErr}
}

// attempt runs one bounded transfer and verifies the artifact.
func (d *MediaDownloader) attempt(ctx context.Context, transfer TransferFunc, dest string, expectedSize int64) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var progress telegram.ProgressFunc
	var reporter *ProgressReporter
	if expectedSize > LargeFileThreshold {
		reporter = NewProgressReporter(dest, expectedSize, time.Second)
		progress = reporter.Update
	}

	if err := transfer(attemptCtx, dest, progress); err != nil {
		removeEmptyArtifact(dest)
		return err
	}
	if reporter != nil {
		reporter.Done()
	}
	return d.verify(dest, expectedSize)
}

// verify checks the finished artifact. A size mismatch beyond tolerance is
// logged but not fatal: declared sizes are unreliable for some media.
func (d *MediaDownloader) verify(dest string, expectedSize int64) error {
	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("downloaded file missing: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(dest)
		return fmt.Errorf("downloaded file is empty")
	}
	if expectedSize > 0 {
		diff := info.Size() - expectedSize
		if diff < -SizeTolerance || diff > SizeTolerance {
			d.log.Warn().
				Str("file", dest).
				Int64("expected_bytes", expectedSize).
				Int64("actual_bytes", info.Size()).
				Msg("downloaded size differs from declared size")
		}
	}
	return nil
}

// removeEmptyArtifact deletes a zero-byte leftover so a truncated attempt
// is never mistaken for a finished download.
func removeEmptyArtifact(dest string) {
	if info, err := os.Stat(dest); err == nil && info.Size() == 0 {
		os.Remove(dest)
	}
}
