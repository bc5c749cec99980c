package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"

	"github.com/blockedby/channel-archiver/internal/archiver"
	"github.com/blockedby/channel-archiver/internal/config"
	"github.com/blockedby/channel-archiver/internal/export"
	"github.com/blockedby/channel-archiver/internal/logger"
	"github.com/blockedby/channel-archiver/internal/store"
	"github.com/blockedby/channel-archiver/internal/telegram"
	"github.com/blockedby/channel-archiver/internal/vision"
)

// menu is the interactive terminal frontend. Prompts and results print to
// stdout; operational logging stays on the logger.
type menu struct {
	cfg     *config.Config
	st      *store.Store
	manager *telegram.Manager
	client  *telegram.Client
	reader  *bufio.Reader
	log     *logger.Logger
}

func newMenu(cfg *config.Config, st *store.Store, manager *telegram.Manager, client *telegram.Client) *menu {
	return &menu{
		cfg:     cfg,
		st:      st,
		manager: manager,
		client:  client,
		reader:  bufio.NewReader(os.Stdin),
		log:     logger.Get(),
	}
}

func (m *menu) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m.printHeader()
		fmt.Println("  1. login with phone")
		fmt.Println("  2. login with QR code")
		fmt.Println("  3. manage sessions")
		fmt.Println("  4. select channel")
		fmt.Println("  5. archive messages")
		fmt.Println("  6. download videos")
		fmt.Println("  7. save participants")
		fmt.Println("  8. search archive")
		fmt.Println("  9. export")
		fmt.Println(" 10. channel stats")
		fmt.Println("  0. exit")

		switch m.promptString("\nchoice: ") {
		case "1":
			m.loginPhone()
		case "2":
			m.loginQR(ctx)
		case "3":
			m.sessionsMenu()
		case "4":
			m.selectChannel(ctx)
		case "5":
			m.archiveMenu(ctx)
		case "6":
			m.videosMenu(ctx)
		case "7":
			m.saveParticipants(ctx)
		case "8":
			m.searchMenu()
		case "9":
			m.exportMenu(ctx)
		case "10":
			m.channelStats()
		case "0", "q", "exit":
			return
		}
	}
}

func (m *menu) printHeader() {
	fmt.Println("\n=== channel archiver ===")
	fmt.Printf("client: %s", m.manager.GetStatus())
	if phone, sess := m.st.ActiveSession(); sess != nil {
		fmt.Printf("  session: %s", phone)
	}
	if ch := m.st.ActiveChannel(); ch != nil {
		fmt.Printf("  channel: %s", ch.Title)
	}
	fmt.Println()
}

// --- prompt helpers ---

func (m *menu) promptString(label string) string {
	fmt.Print(label)
	line, _ := m.reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func (m *menu) promptInt(label string, fallback int) int {
	s := m.promptString(label)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		fmt.Println("not a number, using default")
		return fallback
	}
	return n
}

func (m *menu) promptYesNo(label string, fallback bool) bool {
	hint := "y/N"
	if fallback {
		hint = "Y/n"
	}
	switch strings.ToLower(m.promptString(fmt.Sprintf("%s [%s]: ", label, hint))) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return fallback
	}
}

// --- auth ---

func sessionFileFor(dataDir, label string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		default:
			return -1
		}
	}, label)
	if safe == "" {
		safe = "default"
	}
	return filepath.Join(dataDir, "sessions", "session_"+safe+".db")
}

func (m *menu) loginPhone() {
	phone := m.promptString("phone number (with country code): ")
	if phone == "" {
		return
	}
	sessionFile := sessionFileFor(m.cfg.DataDir, phone)
	if err := os.MkdirAll(filepath.Dir(sessionFile), 0755); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	fmt.Println("authenticating... (check telegram for the code)")
	if err := m.manager.LoginWithPhone(phone, sessionFile); err != nil {
		fmt.Printf("login failed: %v\n", err)
		return
	}
	m.recordLogin(phone, sessionFile)
}

func (m *menu) loginQR(ctx context.Context) {
	phone := m.promptString("label for this session (phone or name): ")
	if phone == "" {
		phone = "qr_" + time.Now().Format("20060102_150405")
	}
	sessionFile := sessionFileFor(m.cfg.DataDir, phone)
	if err := os.MkdirAll(filepath.Dir(sessionFile), 0755); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	fmt.Println("scan the QR code with telegram (settings -> devices -> link desktop device)")
	err := m.manager.StartQR(ctx, sessionFile, func(url string) {
		fmt.Println()
		qrterminal.GenerateWithConfig(url, qrterminal.Config{
			Level:     qrterminal.L,
			Writer:    os.Stdout,
			BlackChar: qrterminal.BLACK,
			WhiteChar: qrterminal.WHITE,
			QuietZone: 1,
		})
	})
	if err != nil {
		fmt.Printf("QR login failed: %v\n", err)
		return
	}
	m.recordLogin(phone, sessionFile)
}

func (m *menu) recordLogin(phone, sessionFile string) {
	var userID int64
	var username string
	if self, err := m.client.Self(); err == nil {
		userID = self.ID
		username = self.Username
	}
	m.st.UpsertSession(phone, sessionFile, userID, username)
	if err := m.st.Save(); err != nil {
		m.log.Error().Err(err).Msg("failed to save snapshot")
	}
	if username != "" {
		fmt.Printf("logged in as @%s\n", username)
	} else {
		fmt.Println("logged in")
	}
}

func (m *menu) sessionsMenu() {
	sessions := m.st.Snapshot().Sessions
	if len(sessions) == 0 {
		fmt.Println("no stored sessions")
		return
	}

	phones := sortedPhones(sessions)
	fmt.Println("\nstored sessions:")
	for i, phone := range phones {
		sess := sessions[phone]
		marker := " "
		if sess.Active {
			marker = "*"
		}
		fmt.Printf(" %s %d. %s", marker, i+1, phone)
		if sess.Username != "" {
			fmt.Printf(" (@%s)", sess.Username)
		}
		fmt.Printf("  last used: %s\n", sess.LastUsed)
	}
	fmt.Println("\n  s<n> switch to session n, d<n> delete session n, l logout, enter to go back")

	choice := m.promptString("choice: ")
	switch {
	case choice == "l":
		m.manager.Stop()
		m.st.Logout()
		fmt.Println("logged out")
	case strings.HasPrefix(choice, "s"):
		if idx, err := strconv.Atoi(choice[1:]); err == nil && idx >= 1 && idx <= len(phones) {
			phone := phones[idx-1]
			if err := m.manager.Init(sessions[phone].SessionFile); err != nil {
				fmt.Printf("error: %v\n", err)
				return
			}
			m.st.SetActiveSession(phone)
			fmt.Printf("switched to %s\n", phone)
		}
	case strings.HasPrefix(choice, "d"):
		if idx, err := strconv.Atoi(choice[1:]); err == nil && idx >= 1 && idx <= len(phones) {
			m.st.DeleteSession(phones[idx-1])
			fmt.Println("session deleted")
		}
	}
	if err := m.st.Save(); err != nil {
		m.log.Error().Err(err).Msg("failed to save snapshot")
	}
}

// sortedPhones orders session phones so the numbered choices stay stable
// across renders.
func sortedPhones(sessions map[string]*store.Session) []string {
	phones := make([]string, 0, len(sessions))
	for phone := range sessions {
		phones = append(phones, phone)
	}
	sort.Strings(phones)
	return phones
}

// --- channel selection ---

func (m *menu) requireClient() bool {
	if m.manager.GetStatus() != telegram.StatusReady {
		fmt.Println("not logged in (use option 1 or 2 first)")
		return false
	}
	return true
}

func (m *menu) requireChannel() (telegram.Peer, bool) {
	ch := m.st.ActiveChannel()
	if ch == nil {
		fmt.Println("no channel selected (use option 4 first)")
		return telegram.Peer{}, false
	}
	return telegram.Peer{ID: ch.ID, AccessHash: ch.AccessHash}, true
}

func (m *menu) selectChannel(ctx context.Context) {
	if !m.requireClient() {
		return
	}
	dialogs, err := m.client.ListDialogs(ctx)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if len(dialogs) == 0 {
		fmt.Println("no channels or groups found")
		return
	}

	fmt.Println("\nchannels and groups:")
	for i, d := range dialogs {
		kind := "group"
		if d.IsChannel {
			kind = "channel"
		}
		fmt.Printf(" %3d. %-40s %s, %d members\n", i+1, d.Title, kind, d.MemberCount)
	}

	idx := m.promptInt("select number: ", 0)
	if idx < 1 || idx > len(dialogs) {
		return
	}
	d := dialogs[idx-1]

	kind := store.KindGroup
	if d.IsChannel {
		kind = store.KindChannel
	}
	m.st.SetActiveChannel(&store.Channel{
		ID:          d.ID,
		AccessHash:  d.AccessHash,
		Title:       d.Title,
		Username:    d.Username,
		MemberCount: d.MemberCount,
		Kind:        kind,
	})
	if err := m.st.Save(); err != nil {
		m.log.Error().Err(err).Msg("failed to save snapshot")
	}
	fmt.Printf("active channel: %s\n", d.Title)
}

// --- archiving ---

func (m *menu) archiveMenu(ctx context.Context) {
	if !m.requireClient() {
		return
	}
	peer, ok := m.requireChannel()
	if !ok {
		return
	}

	fmt.Println("\n  1. archive new messages")
	fmt.Println("  2. re-archive everything (overwrite)")
	fmt.Println("  3. archive most recent N")
	fmt.Println("  4. archive id range")

	opts := archiver.BackfillOptions{}
	switch m.promptString("choice: ") {
	case "1":
	case "2":
		opts.ForceResave = true
	case "3":
		opts.RecentCount = m.promptInt("how many recent messages: ", 100)
	case "4":
		opts.MinID = m.promptInt("min message id: ", 0)
		opts.MaxID = m.promptInt("max message id (exclusive): ", 0)
	default:
		return
	}
	opts.DownloadMedia = m.promptYesNo("download media", false)
	opts.Limit = m.promptInt("limit (0 = no limit): ", 0)

	stats, err := archiver.NewBackfiller(m.client, m.client, m.st, m.cfg.MediaDir).Run(ctx, peer, opts)
	if err != nil {
		fmt.Printf("archive failed: %v\n", err)
		return
	}
	fmt.Printf("\nprocessed %d: %d new, %d updated, %d unchanged, %d errors\n",
		stats.Processed, stats.Saved, stats.Updated, stats.Skipped, stats.Errors)
	if opts.DownloadMedia {
		fmt.Printf("media: %d downloaded, %d already present, %d failed\n",
			stats.MediaDownloaded, stats.MediaSkipped, stats.MediaErrors)
	}
	if stats.Partial {
		fmt.Println("note: stopped early after repeated fetch failures, partial results saved")
	}
}

func (m *menu) videosMenu(ctx context.Context) {
	peer, ok := m.requireChannel()
	if !ok {
		return
	}

	fmt.Println("\n  1. download videos")
	fmt.Println("  2. list downloaded videos")
	switch m.promptString("choice: ") {
	case "2":
		m.listVideos(peer.ID)
		return
	case "1":
	default:
		return
	}

	if !m.requireClient() {
		return
	}
	opts := archiver.VideoOptions{
		RoundOnly: m.promptYesNo("round videos only", false),
		Limit:     m.promptInt("limit (0 = no limit): ", 0),
	}

	stats, err := archiver.NewVideoBackfiller(m.client, m.client, m.st, m.cfg.MediaDir).Run(ctx, peer, opts)
	if err != nil {
		fmt.Printf("video download failed: %v\n", err)
	}
	if stats != nil {
		fmt.Printf("\nvideos: %d downloaded, %d already present, %d errors\n",
			stats.Downloaded, stats.Skipped, stats.Errors)
	}
}

func (m *menu) listVideos(channelID int64) {
	videos := m.st.ChannelVideos(channelID)
	if len(videos) == 0 {
		fmt.Println("no videos downloaded yet")
		return
	}
	var ids []int
	for key := range videos {
		if id, err := strconv.Atoi(key); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	fmt.Printf("\n%d downloaded video(s):\n", len(ids))
	for _, id := range ids {
		v := videos[store.MessageKey(id)]
		fmt.Printf("  #%-8d %s  %6.1f MB  %5.0fs  %s\n",
			v.ID, v.Date, float64(v.FileSize)/(1024*1024), v.Duration, v.FilePath)
	}
}

func (m *menu) saveParticipants(ctx context.Context) {
	if !m.requireClient() {
		return
	}
	peer, ok := m.requireChannel()
	if !ok {
		return
	}

	stats, err := archiver.SnapshotParticipants(ctx, m.client, m.st, peer)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("participants: %d total, %d new, %d refreshed\n", stats.Total, stats.New, stats.Updated)
}

// --- search ---

func (m *menu) searchMenu() {
	ch := m.st.ActiveChannel()
	if ch == nil {
		fmt.Println("no channel selected")
		return
	}

	fmt.Println("\n  1. text search")
	fmt.Println("  2. date range")
	fmt.Println("  3. messages with reactions")
	fmt.Println("  4. messages with media")
	fmt.Println("  5. last messages by user")
	fmt.Println("  6. message by id")

	var results []*store.Message
	switch m.promptString("choice: ") {
	case "1":
		query := m.promptString("query: ")
		if query == "" {
			return
		}
		results = m.st.SearchText(ch.ID, query)
	case "2":
		from, err1 := time.Parse("2006-01-02", m.promptString("from (YYYY-MM-DD): "))
		to, err2 := time.Parse("2006-01-02", m.promptString("to (YYYY-MM-DD): "))
		if err1 != nil || err2 != nil {
			fmt.Println("invalid date")
			return
		}
		results = m.st.SearchDateRange(ch.ID, from, to.Add(24*time.Hour-time.Second))
	case "3":
		results = m.st.WithReactions(ch.ID)
	case "4":
		results = m.st.WithMedia(ch.ID)
	case "5":
		userID := int64(m.promptInt("user id: ", 0))
		n := m.promptInt("how many: ", 10)
		results = m.st.LastMessagesByUser(ch.ID, userID, n)
	case "6":
		id := m.promptInt("message id: ", 0)
		if msg := m.st.MessageByID(ch.ID, id); msg != nil {
			results = []*store.Message{msg}
		}
	default:
		return
	}

	if len(results) == 0 {
		fmt.Println("nothing found")
		return
	}
	fmt.Printf("\n%d result(s):\n", len(results))
	for _, msg := range results {
		preview := msg.Text
		if len(preview) > 80 {
			preview = preview[:80] + "..."
		}
		fmt.Printf("  #%-8d %s  %s\n", msg.ID, msg.Date, preview)
	}
}

// --- export ---

func (m *menu) exportMenu(ctx context.Context) {
	ch := m.st.ActiveChannel()
	if ch == nil {
		fmt.Println("no channel selected")
		return
	}

	var analyzer export.Analyzer
	if v := vision.New(m.cfg); v != nil {
		analyzer = v
	}
	exporter := export.New(m.st, analyzer, m.cfg.ExportDir)

	fmt.Println("\n  1. export messages to files (with image analysis)")
	fmt.Println("  2. export whole channel as one text file")
	fmt.Println("  3. export messages of one user")

	switch m.promptString("choice: ") {
	case "1":
		if analyzer == nil {
			fmt.Println("note: OPENROUTER_API_KEY not set, exporting without image analysis")
		}
		limit := m.promptInt("limit (0 = all): ", 0)
		summary, err := exporter.ExportMessages(ctx, ch.ID, limit)
		if err != nil {
			fmt.Printf("export failed: %v\n", err)
			return
		}
		fmt.Printf("exported %d message(s) (%d albums, %d images analyzed) to %s\n",
			summary.Exported, summary.Groups, summary.Analyzed, summary.OutputDir)
	case "2":
		path, err := exporter.ExportChannelText(ch.ID)
		if err != nil {
			fmt.Printf("export failed: %v\n", err)
			return
		}
		fmt.Printf("written to %s\n", path)
	case "3":
		userID := int64(m.promptInt("user id: ", 0))
		n := m.promptInt("how many messages: ", 50)
		path, err := exporter.ExportUserMessages(ch.ID, userID, n)
		if err != nil {
			fmt.Printf("export failed: %v\n", err)
			return
		}
		fmt.Printf("written to %s\n", path)
	}
}

func (m *menu) channelStats() {
	ch := m.st.ActiveChannel()
	if ch == nil {
		fmt.Println("no channel selected")
		return
	}
	stats := m.st.Stats(ch.ID)
	fmt.Printf("\n%s (%s, %d members)\n", ch.Title, ch.Kind, ch.MemberCount)
	fmt.Printf("  archived messages: %d\n", stats.Messages)
	fmt.Printf("  with media:        %d\n", stats.Media)
	fmt.Printf("  videos downloaded: %d\n", stats.Videos)
	fmt.Printf("  known users:       %d\n", stats.Users)
}
