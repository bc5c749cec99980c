// Package export renders archived messages into plain text files, with
// optional AI image descriptions woven in.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/store"
	"github.com/blockedby/channel-archiver/internal/vision"
)

// Analyzer produces image descriptions. A nil Analyzer disables the
// analysis section.
type Analyzer interface {
	DescribeImage(ctx context.Context, imagePath string) vision.Result
	DescribeImageGroup(ctx context.Context, imagePaths []string) vision.Result
}

// Summary is the outcome report of one export run, also rendered into the
// summary file alongside the exported messages.
type Summary struct {
	RunID          string
	Exported       int
	Skipped        int // units beyond the requested limit
	Errors         int // units whose artifact could not be written
	Groups         int
	Analyzed       int
	AnalysisErrors int
	OutputDir      string
}

// Exporter writes per-message text files into a directory.
type Exporter struct {
	store    *store.Store
	analyzer Analyzer
	dir      string
	log      *logger.Logger
	now      func() time.Time
}

// New creates an exporter writing under dir.
func New(st *store.Store, analyzer Analyzer, dir string) *Exporter {
	return &Exporter{
		store:    st,
		analyzer: analyzer,
		dir:      dir,
		log:      logger.Get(),
		now:      time.Now,
	}
}

// unit is one export item: a single message or a whole media album.
// Albums share a grouped id and export as one file under the leader (the
// lowest message id of the album).
type unit struct {
	leader   *store.Message
	messages []*store.Message
}

// collectUnits folds a channel's messages into export units, ascending by
// leader id.
func (e *Exporter) collectUnits(channelID int64) []unit {
	byGroup := make(map[string][]*store.Message)
	var singles []*store.Message

	for _, m := range e.store.ChannelMessages(channelID) {
		if m.GroupedID != "" {
			byGroup[m.GroupedID] = append(byGroup[m.GroupedID], m)
		} else {
			singles = append(singles, m)
		}
	}

	var units []unit
	for _, msgs := range byGroup {
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
		units = append(units, unit{leader: msgs[0], messages: msgs})
	}
	for _, m := range singles {
		units = append(units, unit{leader: m, messages: []*store.Message{m}})
	}

	sort.Slice(units, func(i, j int) bool { return units[i].leader.ID < units[j].leader.ID })
	return units
}

// ExportMessages writes one text file per message (or media album) into
// the export directory, oldest first. limit of 0 exports everything.
func (e *Exporter) ExportMessages(ctx context.Context, channelID int64, limit int) (*Summary, error) {
	units := e.collectUnits(channelID)
	if len(units) == 0 {
		return nil, fmt.Errorf("no messages archived for channel %d", channelID)
	}
	skipped := 0
	if limit > 0 && len(units) > limit {
		skipped = len(units) - limit
		units = units[:limit]
	}

	outDir := filepath.Join(e.dir, fmt.Sprintf("channel_%d_%s", channelID, e.now().Format("20060102_150405")))
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	summary := &Summary{RunID: uuid.NewString(), OutputDir: outDir, Skipped: skipped}
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := e.exportUnit(ctx, outDir, u, summary); err != nil {
			summary.Errors++
			e.log.Warn().Int("message_id", u.leader.ID).Err(err).Msg("export failed for message")
			continue
		}
		summary.Exported++
		if len(u.messages) > 1 {
			summary.Groups++
		}
	}

	if err := e.writeSummary(outDir, channelID, summary); err != nil {
		return summary, err
	}
	e.log.Info().
		Str("run_id", summary.RunID).
		Int64("channel_id", channelID).
		Int("exported", summary.Exported).
		Int("analyzed", summary.Analyzed).
		Str("dir", outDir).
		Msg("export finished")
	return summary, nil
}

func (e *Exporter) exportUnit(ctx context.Context, outDir string, u unit, summary *Summary) error {
	var sb strings.Builder

	sb.WriteString("=== MESSAGE METADATA ===\n")
	fmt.Fprintf(&sb, "Message ID: %d\n", u.leader.ID)
	fmt.Fprintf(&sb, "Date: %s\n", u.leader.Date)
	if u.leader.EditDate != "" {
		fmt.Fprintf(&sb, "Edited: %s\n", u.leader.EditDate)
	}
	if u.leader.FromID != 0 {
		fmt.Fprintf(&sb, "From: %s\n", e.senderName(u.leader.FromID))
	}
	if len(u.messages) > 1 {
		fmt.Fprintf(&sb, "Album: %d images (messages %d-%d)\n",
			len(u.messages), u.messages[0].ID, u.messages[len(u.messages)-1].ID)
	}
	fmt.Fprintf(&sb, "Views: %d  Forwards: %d\n", u.leader.Views, u.leader.Forwards)

	if images := unitImages(u); len(images) > 0 && e.analyzer != nil {
		sb.WriteString("\n=== AI IMAGE ANALYSIS ===\n")
		res := e.analyzer.DescribeImageGroup(ctx, images)
		if res.Success {
			summary.Analyzed++
			sb.WriteString(res.Analysis + "\n")
		} else {
			summary.AnalysisErrors++
			fmt.Fprintf(&sb, "[analysis unavailable: %s]\n", res.Error)
		}
	}

	sb.WriteString("\n=== CONTENT ===\n")
	text := unitText(u)
	if text == "" {
		text = "[no text]"
	}
	sb.WriteString(text + "\n")

	if len(u.leader.Reactions) > 0 {
		sb.WriteString("\n=== REACTIONS ===\n")
		for _, r := range u.leader.Reactions {
			label := r.Emoticon
			if label == "" {
				label = fmt.Sprintf("custom:%d", r.DocumentID)
			}
			fmt.Fprintf(&sb, "%s x%d\n", label, r.Count)
		}
	}

	sb.WriteString("\n=== TECHNICAL ===\n")
	for _, m := range u.messages {
		if m.HasMedia {
			fmt.Fprintf(&sb, "Media (msg %d): %s", m.ID, m.MediaType)
			if m.MediaFilePath != "" {
				fmt.Fprintf(&sb, " -> %s", m.MediaFilePath)
			}
			sb.WriteString("\n")
		}
	}
	if u.leader.GroupedID != "" {
		fmt.Fprintf(&sb, "Grouped ID: %s\n", u.leader.GroupedID)
	}
	if u.leader.ReplyTo != 0 {
		fmt.Fprintf(&sb, "Reply to: %d\n", u.leader.ReplyTo)
	}
	if u.leader.Flags.Pinned {
		sb.WriteString("Pinned\n")
	}

	name := exportFilename(u.leader, unitText(u))
	return os.WriteFile(filepath.Join(outDir, name), []byte(sb.String()), 0644)
}

func (e *Exporter) writeSummary(outDir string, channelID int64, s *Summary) error {
	var sb strings.Builder
	sb.WriteString("Export summary\n")
	sb.WriteString("==============\n")
	fmt.Fprintf(&sb, "Channel: %d\n", channelID)
	fmt.Fprintf(&sb, "Run: %s\n", s.RunID)
	fmt.Fprintf(&sb, "Exported: %s\n", e.now().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Messages exported: %d\n", s.Exported)
	fmt.Fprintf(&sb, "Skipped: %d\n", s.Skipped)
	fmt.Fprintf(&sb, "Errors: %d\n", s.Errors)
	fmt.Fprintf(&sb, "Media albums: %d\n", s.Groups)
	fmt.Fprintf(&sb, "Images analyzed: %d\n", s.Analyzed)
	fmt.Fprintf(&sb, "Analysis failures: %d\n", s.AnalysisErrors)
	return os.WriteFile(filepath.Join(outDir, "_export_summary.txt"), []byte(sb.String()), 0644)
}

// ExportChannelText writes the whole channel into a single chronological
// text file and returns its path.
func (e *Exporter) ExportChannelText(channelID int64) (string, error) {
	var msgs []*store.Message
	for _, m := range e.store.ChannelMessages(channelID) {
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("no messages archived for channel %d", channelID)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })

	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(e.dir, fmt.Sprintf("channel_%d_full_%s.txt", channelID, e.now().Format("20060102_150405")))

	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[%s] #%d", m.Date, m.ID)
		if m.FromID != 0 {
			fmt.Fprintf(&sb, " %s", e.senderName(m.FromID))
		}
		sb.WriteString("\n")
		if m.Text != "" {
			sb.WriteString(m.Text + "\n")
		}
		if m.HasMedia {
			fmt.Fprintf(&sb, "[media: %s]\n", m.MediaType)
		}
		sb.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return "", fmt.Errorf("write channel export: %w", err)
	}
	return path, nil
}

// ExportUserMessages writes the newest n messages of one user into a text
// file and returns its path.
func (e *Exporter) ExportUserMessages(channelID, userID int64, n int) (string, error) {
	msgs := e.store.LastMessagesByUser(channelID, userID, n)
	if len(msgs) == 0 {
		return "", fmt.Errorf("no messages from user %d", userID)
	}

	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(e.dir, fmt.Sprintf("user_%d_messages.txt", userID))

	var sb strings.Builder
	fmt.Fprintf(&sb, "Last %d messages from %s\n\n", len(msgs), e.senderName(userID))
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[%s] #%d\n%s\n\n", m.Date, m.ID, m.Text)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return "", fmt.Errorf("write user export: %w", err)
	}
	return path, nil
}

// senderName resolves a user id to a readable name using the archived
// participant list, falling back to the bare id.
func (e *Exporter) senderName(userID int64) string {
	ch := e.store.ActiveChannel()
	if ch != nil {
		if u := e.store.ChannelUsers(ch.ID)[fmt.Sprintf("%d", userID)]; u != nil {
			if u.Username != "" {
				return "@" + u.Username
			}
			name := strings.TrimSpace(u.FirstName + " " + u.LastName)
			if name != "" {
				return name
			}
		}
	}
	return fmt.Sprintf("id:%d", userID)
}

// unitText returns the caption of an export unit: albums carry the text on
// one member only.
func unitText(u unit) string {
	for _, m := range u.messages {
		if m.Text != "" {
			return m.Text
		}
	}
	return ""
}

// unitImages collects the on-disk image files of a unit.
func unitImages(u unit) []string {
	var out []string
	for _, m := range u.messages {
		if m.MediaFilePath == "" {
			continue
		}
		switch strings.ToLower(filepath.Ext(m.MediaFilePath)) {
		case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		default:
			continue
		}
		if _, err := os.Stat(m.MediaFilePath); err == nil {
			out = append(out, m.MediaFilePath)
		}
	}
	return out
}

// exportFilename builds "msg_<id>_<date>_<preview>.txt" with a filesystem
// safe preview of the text.
func exportFilename(m *store.Message, text string) string {
	date := "unknown"
	if t := store.ParseTime(m.Date); !t.IsZero() {
		date = t.Format("20060102")
	}
	preview := sanitizePreview(text, 30)
	if preview == "" {
		return fmt.Sprintf("msg_%d_%s.txt", m.ID, date)
	}
	return fmt.Sprintf("msg_%d_%s_%s.txt", m.ID, date, preview)
}

// sanitizePreview keeps letters, digits and a few safe separators,
// replacing runs of anything else with a single underscore.
func sanitizePreview(text string, max int) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range text {
		if b.Len() >= max {
			break
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
