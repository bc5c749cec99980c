package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/channel-archiver/internal/store"
	"github.com/blockedby/channel-archiver/internal/vision"
)

const testChannel int64 = 555

type fakeAnalyzer struct {
	calls   [][]string
	failing bool
}

func (f *fakeAnalyzer) DescribeImage(_ context.Context, path string) vision.Result {
	return f.DescribeImageGroup(context.Background(), []string{path})
}

func (f *fakeAnalyzer) DescribeImageGroup(_ context.Context, paths []string) vision.Result {
	f.calls = append(f.calls, paths)
	if f.failing {
		return vision.Result{Error: "analysis failed: model overloaded"}
	}
	return vision.Result{Success: true, Analysis: fmt.Sprintf("description of %d image(s)", len(paths))}
}

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.Load(filepath.Join(t.TempDir(), "archive.json"))
	msgs := st.ChannelMessages(testChannel)

	date := func(day int) string {
		return store.FormatTime(time.Date(2025, 5, day, 10, 0, 0, 0, time.UTC))
	}
	msgs["1"] = &store.Message{ID: 1, Date: date(1), Text: "Hello, world!", Views: 5}
	msgs["2"] = &store.Message{ID: 2, Date: date(2), Text: "Album caption", GroupedID: "900", HasMedia: true, MediaType: "MessageMediaPhoto"}
	msgs["3"] = &store.Message{ID: 3, Date: date(2), GroupedID: "900", HasMedia: true, MediaType: "MessageMediaPhoto"}
	msgs["4"] = &store.Message{ID: 4, Date: date(3), Text: "Standalone with reactions",
		Reactions: []store.Reaction{{Emoticon: "🔥", Count: 3}}}
	return st
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestExportMessagesGroupsAlbums(t *testing.T) {
	st := seedStore(t)
	e := New(st, nil, t.TempDir())

	summary, err := e.ExportMessages(context.Background(), testChannel, 0)
	require.NoError(t, err)

	// 4 messages, but the album collapses into one unit
	assert.Equal(t, 3, summary.Exported)
	assert.Equal(t, 1, summary.Groups)

	names := listFiles(t, summary.OutputDir)
	require.Len(t, names, 4, "three message files plus the summary")
	assert.Contains(t, names, "_export_summary.txt")
	assert.Contains(t, names, "msg_1_20250501_Hello_world.txt")
	assert.Contains(t, names, "msg_2_20250502_Album_caption.txt")

	// album file is keyed by the leader and mentions both members
	data, err := os.ReadFile(filepath.Join(summary.OutputDir, "msg_2_20250502_Album_caption.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Album: 2 images (messages 2-3)")
	assert.Contains(t, string(data), "Album caption")
}

func TestExportMessagesAnalyzesImages(t *testing.T) {
	st := seedStore(t)
	mediaDir := t.TempDir()
	img1 := filepath.Join(mediaDir, "a.jpg")
	img2 := filepath.Join(mediaDir, "b.jpg")
	require.NoError(t, os.WriteFile(img1, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(img2, []byte("x"), 0644))
	st.ChannelMessages(testChannel)["2"].MediaFilePath = img1
	st.ChannelMessages(testChannel)["3"].MediaFilePath = img2

	analyzer := &fakeAnalyzer{}
	e := New(st, analyzer, t.TempDir())

	summary, err := e.ExportMessages(context.Background(), testChannel, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Analyzed)

	// the album analyzes as one call carrying both images
	require.Len(t, analyzer.calls, 1)
	assert.Equal(t, []string{img1, img2}, analyzer.calls[0])

	data, err := os.ReadFile(filepath.Join(summary.OutputDir, "msg_2_20250502_Album_caption.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "=== AI IMAGE ANALYSIS ===")
	assert.Contains(t, string(data), "description of 2 image(s)")
}

func TestExportMessagesAnalysisFailureEmbedded(t *testing.T) {
	st := seedStore(t)
	img := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(img, []byte("x"), 0644))
	st.ChannelMessages(testChannel)["2"].MediaFilePath = img

	analyzer := &fakeAnalyzer{failing: true}
	e := New(st, analyzer, t.TempDir())

	summary, err := e.ExportMessages(context.Background(), testChannel, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Analyzed)
	assert.Equal(t, 1, summary.AnalysisErrors)

	data, err := os.ReadFile(filepath.Join(summary.OutputDir, "msg_2_20250502_Album_caption.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[analysis unavailable: analysis failed: model overloaded]")
}

func TestExportMessagesLimit(t *testing.T) {
	st := seedStore(t)
	e := New(st, nil, t.TempDir())

	summary, err := e.ExportMessages(context.Background(), testChannel, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Exported)
	assert.Equal(t, 2, summary.Skipped, "4 messages fold into 3 units, limit keeps 1")

	// ascending order: the oldest unit exports first
	names := listFiles(t, summary.OutputDir)
	assert.Contains(t, names, "msg_1_20250501_Hello_world.txt")

	data, err := os.ReadFile(filepath.Join(summary.OutputDir, "_export_summary.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Skipped: 2")
}

func TestExportMessagesCountsWriteErrors(t *testing.T) {
	st := seedStore(t)
	e := New(st, nil, t.TempDir())
	e.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}

	// occupy the first unit's filename with a directory so its write fails
	outDir := filepath.Join(e.dir, fmt.Sprintf("channel_%d_20250601_120000", testChannel))
	require.NoError(t, os.MkdirAll(filepath.Join(outDir, "msg_1_20250501_Hello_world.txt"), 0755))

	summary, err := e.ExportMessages(context.Background(), testChannel, 0)
	require.NoError(t, err, "a failed unit is logged and counted, not fatal")
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 2, summary.Exported)

	data, err := os.ReadFile(filepath.Join(summary.OutputDir, "_export_summary.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Errors: 1")
	assert.Contains(t, string(data), "Skipped: 0")
}

func TestExportMessagesReactionsSection(t *testing.T) {
	st := seedStore(t)
	e := New(st, nil, t.TempDir())

	summary, err := e.ExportMessages(context.Background(), testChannel, 0)
	require.NoError(t, err)

	var reactFile string
	for _, n := range listFiles(t, summary.OutputDir) {
		if strings.HasPrefix(n, "msg_4_") {
			reactFile = n
		}
	}
	require.NotEmpty(t, reactFile)
	data, err := os.ReadFile(filepath.Join(summary.OutputDir, reactFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "=== REACTIONS ===")
	assert.Contains(t, string(data), "🔥 x3")
}

func TestExportMessagesEmptyChannel(t *testing.T) {
	st := store.Load(filepath.Join(t.TempDir(), "archive.json"))
	e := New(st, nil, t.TempDir())

	_, err := e.ExportMessages(context.Background(), testChannel, 0)
	assert.Error(t, err)
}

func TestExportChannelText(t *testing.T) {
	st := seedStore(t)
	e := New(st, nil, t.TempDir())

	path, err := e.ExportChannelText(testChannel)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Hello, world!")
	assert.Less(t, strings.Index(text, "#1"), strings.Index(text, "#4"), "chronological order")
}

func TestExportUserMessages(t *testing.T) {
	st := seedStore(t)
	st.ChannelMessages(testChannel)["1"].FromID = 42
	st.ChannelMessages(testChannel)["4"].FromID = 42

	e := New(st, nil, t.TempDir())
	path, err := e.ExportUserMessages(testChannel, 42, 10)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Hello, world!")
	assert.Contains(t, string(data), "Standalone with reactions")
}

func TestSanitizePreview(t *testing.T) {
	assert.Equal(t, "Hello_world", sanitizePreview("Hello, world!", 30))
	assert.Equal(t, "", sanitizePreview("!!! ???", 30))
	assert.Equal(t, "abc", sanitizePreview("abc", 30))
	long := sanitizePreview(strings.Repeat("a", 100), 30)
	assert.LessOrEqual(t, len(long), 30)
}
