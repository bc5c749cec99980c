// Package store persists the archive as a single JSON snapshot file.
//
// There are no transactions: Save rewrites the whole document. Engines
// mutate the in-memory snapshot directly and checkpoint through Save.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/blockedby/channel-archiver/internal/logger"
)

// Store owns the snapshot and its file path.
type Store struct {
	path string
	snap *Snapshot
	log  *logger.Logger
}

// Load reads the snapshot from path. A missing, unreadable or corrupt file
// yields an empty, correctly shaped snapshot rather than an error.
func Load(path string) *Store {
	log := logger.Get()
	s := &Store{path: path, log: log}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("store: unreadable snapshot, starting empty")
		}
		s.snap = NewSnapshot()
		return s
	}

	snap := NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("store: corrupt snapshot, starting empty")
		s.snap = NewSnapshot()
		return s
	}

	// older snapshots may miss top-level maps
	if snap.Users == nil {
		snap.Users = make(map[string]map[string]*User)
	}
	if snap.Sessions == nil {
		snap.Sessions = make(map[string]*Session)
	}
	if snap.Messages == nil {
		snap.Messages = make(map[string]map[string]*Message)
	}
	if snap.Videos == nil {
		snap.Videos = make(map[string]map[string]*Video)
	}

	s.snap = snap
	return s
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Snapshot returns the mutable in-memory snapshot.
func (s *Store) Snapshot() *Snapshot { return s.snap }

// Save writes the full snapshot to disk, replacing the previous file.
// The write goes through a temp file and rename to keep the window for a
// torn file as small as possible.
func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := json.MarshalIndent(s.snap, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ChannelKey renders a channel id the way the snapshot keys it.
func ChannelKey(channelID int64) string {
	return strconv.FormatInt(channelID, 10)
}

// MessageKey renders a message id the way the snapshot keys it.
func MessageKey(messageID int) string {
	return strconv.Itoa(messageID)
}

// ChannelMessages returns the message map for a channel, creating it if
// needed.
func (s *Store) ChannelMessages(channelID int64) map[string]*Message {
	key := ChannelKey(channelID)
	if s.snap.Messages[key] == nil {
		s.snap.Messages[key] = make(map[string]*Message)
	}
	return s.snap.Messages[key]
}

// ChannelUsers returns the user map for a channel, creating it if needed.
func (s *Store) ChannelUsers(channelID int64) map[string]*User {
	key := ChannelKey(channelID)
	if s.snap.Users[key] == nil {
		s.snap.Users[key] = make(map[string]*User)
	}
	return s.snap.Users[key]
}

// ChannelVideos returns the video map for a channel, creating it if needed.
func (s *Store) ChannelVideos(channelID int64) map[string]*Video {
	key := ChannelKey(channelID)
	if s.snap.Videos[key] == nil {
		s.snap.Videos[key] = make(map[string]*Video)
	}
	return s.snap.Videos[key]
}

// ActiveChannel returns the active channel pointer, or nil.
func (s *Store) ActiveChannel() *Channel {
	return s.snap.ActiveChannel
}

// SetActiveChannel sets the active channel pointer.
func (s *Store) SetActiveChannel(ch *Channel) {
	s.snap.ActiveChannel = ch
}

// UpsertUser applies full-overwrite semantics for a channel participant
// while preserving the original first_seen timestamp. Reports whether the
// user was new.
func (s *Store) UpsertUser(channelID int64, u *User) bool {
	users := s.ChannelUsers(channelID)
	key := strconv.FormatInt(u.ID, 10)

	if existing, ok := users[key]; ok {
		u.FirstSeen = existing.FirstSeen
		users[key] = u
		return false
	}
	if u.FirstSeen == "" {
		u.FirstSeen = FormatTime(time.Now())
	}
	users[key] = u
	return true
}

// UpsertSession creates or refreshes the session record for a phone.
func (s *Store) UpsertSession(phone, sessionFile string, userID int64, username string) *Session {
	now := FormatTime(time.Now())
	sess, ok := s.snap.Sessions[phone]
	if !ok {
		sess = &Session{SessionFile: sessionFile, CreatedAt: now}
		s.snap.Sessions[phone] = sess
	}
	sess.SessionFile = sessionFile
	sess.LastUsed = now
	sess.UserID = userID
	sess.Username = username
	s.snap.LastLogin = now
	s.SetActiveSession(phone)
	return sess
}

// SetActiveSession marks one session active and deactivates all others.
func (s *Store) SetActiveSession(phone string) {
	for p, sess := range s.snap.Sessions {
		sess.Active = p == phone
	}
}

// ActiveSession returns the active session and its phone, or "" and nil.
func (s *Store) ActiveSession() (string, *Session) {
	for p, sess := range s.snap.Sessions {
		if sess.Active {
			return p, sess
		}
	}
	return "", nil
}

// DeleteSession removes a session record. Used on explicit logout.
func (s *Store) DeleteSession(phone string) {
	delete(s.snap.Sessions, phone)
}

// Logout removes the active session record and clears the last-login mark
// and the active channel. Inactive sessions stay available for switching.
func (s *Store) Logout() {
	for phone, sess := range s.snap.Sessions {
		if sess.Active {
			delete(s.snap.Sessions, phone)
		}
	}
	s.snap.LastLogin = ""
	s.snap.ActiveChannel = nil
}

// ChannelStats summarizes what is archived for a channel.
type ChannelStats struct {
	Messages int
	Media    int
	Videos   int
	Users    int
}

// Stats counts archived records for a channel.
func (s *Store) Stats(channelID int64) ChannelStats {
	key := ChannelKey(channelID)
	st := ChannelStats{
		Messages: len(s.snap.Messages[key]),
		Users:    len(s.snap.Users[key]),
		Videos:   len(s.snap.Videos[key]),
	}
	for _, m := range s.snap.Messages[key] {
		if m.HasMedia {
			st.Media++
		}
	}
	return st
}
