package store

import "time"

// TimeLayout is the serialization format for all timestamps in the snapshot.
// The snapshot stores every timestamp as a string.
const TimeLayout = "2006-01-02 15:04:05-07:00"

// FormatTime renders a timestamp in the snapshot's string format.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ParseTime parses a snapshot timestamp. Returns the zero time on failure.
func ParseTime(s string) time.Time {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Channel kinds.
const (
	KindChannel = "Channel"
	KindGroup   = "Group"
)

// Session records one authenticated phone identity.
// Exactly one session may be active at a time.
type Session struct {
	SessionFile string `json:"session_file"`
	CreatedAt   string `json:"created_at"`
	LastUsed    string `json:"last_used"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username,omitempty"`
	Active      bool   `json:"active"`
}

// Channel is the active channel pointer and the dialog listing shape.
type Channel struct {
	ID          int64  `json:"id"`
	AccessHash  int64  `json:"access_hash,omitempty"`
	Title       string `json:"title"`
	Username    string `json:"username,omitempty"`
	MemberCount int    `json:"participants_count"`
	Kind        string `json:"type"` // Channel or Group
}

// User is a channel participant. FirstSeen is immutable once set; every
// other field is fully overwritten on each fetch.
type User struct {
	ID         int64  `json:"id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Bot        bool   `json:"bot"`
	Scam       bool   `json:"scam"`
	Fake       bool   `json:"fake"`
	Premium    bool   `json:"premium"`
	Verified   bool   `json:"verified"`
	Restricted bool   `json:"restricted"`
	FirstSeen  string `json:"first_seen"`
	LastSeen   string `json:"last_seen"`
}

// MessageFlags mirrors the boolean flags of a remote message.
type MessageFlags struct {
	Out           bool `json:"out"`
	Mentioned     bool `json:"mentioned"`
	MediaUnread   bool `json:"media_unread"`
	Silent        bool `json:"silent"`
	Post          bool `json:"post"`
	FromScheduled bool `json:"from_scheduled"`
	Legacy        bool `json:"legacy"`
	EditHide      bool `json:"edit_hide"`
	Pinned        bool `json:"pinned"`
	NoForwards    bool `json:"noforwards"`
}

// Reaction is one reaction aggregate on a message. Either Emoticon or
// DocumentID is set depending on whether the reaction is a custom emoji.
type Reaction struct {
	Emoticon   string `json:"emoticon,omitempty"`
	DocumentID int64  `json:"document_id,omitempty"`
	Count      int    `json:"count"`
	Chosen     bool   `json:"chosen,omitempty"`
}

// Message is one archived channel message.
// Message ids within a channel form an increasing integer sequence with
// gaps where messages were deleted.
type Message struct {
	ID            int          `json:"id"`
	Date          string       `json:"date"`
	EditDate      string       `json:"edit_date,omitempty"`
	FromID        int64        `json:"from_id,omitempty"`
	Text          string       `json:"text"`
	RawText       string       `json:"raw_text"`
	Flags         MessageFlags `json:"flags"`
	Views         int          `json:"views"`
	Forwards      int          `json:"forwards"`
	HasMedia      bool         `json:"has_media"`
	MediaType     string       `json:"media_type,omitempty"`
	MediaFilePath string       `json:"media_file_path,omitempty"`
	GroupedID     string       `json:"grouped_id,omitempty"`
	Reactions     []Reaction   `json:"reactions"`
	ReplyTo       int          `json:"reply_to,omitempty"`
	LastUpdate    string       `json:"last_update"`
}

// Video is a denormalized record for a video attachment, keyed by the id of
// the message that carried it.
type Video struct {
	ID           int     `json:"id"`
	Date         string  `json:"date"`
	FromID       int64   `json:"from_id,omitempty"`
	MediaType    string  `json:"media_type,omitempty"`
	FilePath     string  `json:"file_path,omitempty"`
	DownloadDate string  `json:"download_date,omitempty"`
	FileSize     int64   `json:"file_size,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	MimeType     string  `json:"mime_type,omitempty"`
	Size         int64   `json:"size,omitempty"`
}

// Snapshot is the full persisted state. Outer map keys are channel ids,
// inner map keys are message/user ids, both as decimal strings.
type Snapshot struct {
	Users         map[string]map[string]*User    `json:"users"`
	LastLogin     string                         `json:"last_login,omitempty"`
	Sessions      map[string]*Session            `json:"sessions"`
	ActiveChannel *Channel                       `json:"active_channel"`
	Messages      map[string]map[string]*Message `json:"messages"`
	Videos        map[string]map[string]*Video   `json:"videos"`
}

// NewSnapshot returns an empty, correctly shaped snapshot with all
// top-level mappings present.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Users:    make(map[string]map[string]*User),
		Sessions: make(map[string]*Session),
		Messages: make(map[string]map[string]*Message),
		Videos:   make(map[string]map[string]*Video),
	}
}
