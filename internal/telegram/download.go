package telegram

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

// ProgressFunc receives the running byte count of a media transfer.
type ProgressFunc func(downloaded, total int64)

type progressWriter struct {
	w          io.Writer
	downloaded int64
	total      int64
	fn         ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.downloaded += int64(n)
	if p.fn != nil {
		p.fn(p.downloaded, p.total)
	}
	return n, err
}

// DownloadMedia streams one attachment to dest. The error is returned
// unwrapped enough for FloodWait inspection; pacing and retries belong to
// the caller.
func (c *Client) DownloadMedia(ctx context.Context, media *Media, dest string, progress ProgressFunc) error {
	if !media.Downloadable() {
		return fmt.Errorf("media has no transfer location")
	}
	api, err := c.API()
	if err != nil {
		return err
	}

	var loc tg.InputFileLocationClass
	if media.Photo != nil {
		loc = media.Photo
	} else {
		loc = media.Document
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	var w io.Writer = f
	if progress != nil {
		w = &progressWriter{w: f, total: media.Size, fn: progress}
	}

	if _, err := downloader.NewDownloader().Download(api, loc).Stream(ctx, w); err != nil {
		return fmt.Errorf("download media: %w", err)
	}
	return nil
}
