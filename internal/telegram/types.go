package telegram

import (
	"time"

	"github.com/gotd/td/tg"
)

// Peer identifies a channel for API calls.
type Peer struct {
	ID         int64
	AccessHash int64
}

func (p Peer) inputPeer() *tg.InputPeerChannel {
	return &tg.InputPeerChannel{ChannelID: p.ID, AccessHash: p.AccessHash}
}

// Dialog is one entry of the dialog list, restricted to channels and groups.
type Dialog struct {
	ID          int64
	AccessHash  int64
	Title       string
	Username    string
	MemberCount int
	IsChannel   bool // broadcast channel
	IsGroup     bool // chat or megagroup
}

// Participant is a member of a channel or group.
type Participant struct {
	ID         int64
	Username   string
	FirstName  string
	LastName   string
	Phone      string
	Bot        bool
	Scam       bool
	Fake       bool
	Premium    bool
	Verified   bool
	Restricted bool
}

// Reaction is one reaction aggregate on a message.
type Reaction struct {
	Emoticon   string
	DocumentID int64
	Count      int
	Chosen     bool
}

// Media describes a message attachment with enough location data to
// download it. Exactly one of Photo or Document is set for downloadable
// media.
type Media struct {
	Type     string // remote media class name, e.g. MessageMediaDocument
	MimeType string
	Size     int64
	Duration float64
	IsPhoto  bool
	IsVideo  bool
	IsRound  bool

	Photo    *tg.InputPhotoFileLocation
	Document *tg.InputDocumentFileLocation
}

// Downloadable reports whether the attachment has a transfer location.
func (m *Media) Downloadable() bool {
	return m != nil && (m.Photo != nil || m.Document != nil)
}

// Message is the explicit schema mapping of a remote message. Optional
// remote fields map to zero values.
type Message struct {
	ID       int
	Date     time.Time
	EditDate time.Time // zero when never edited
	FromID   int64     // zero when the sender is hidden or a channel
	Text     string
	RawText  string

	Out           bool
	Mentioned     bool
	MediaUnread   bool
	Silent        bool
	Post          bool
	FromScheduled bool
	Legacy        bool
	EditHide      bool
	Pinned        bool
	Noforwards    bool

	Views     int
	Forwards  int
	GroupedID int64
	ReplyTo   int
	Reactions []Reaction
	Media     *Media
}
