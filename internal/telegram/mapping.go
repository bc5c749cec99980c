package telegram

import (
	"time"

	"github.com/gotd/td/tg"
)

// parseMessage converts a raw API message into the explicit Message schema.
// Service messages and empty slots map to nil.
func parseMessage(msg tg.MessageClass) *Message {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil
	}

	out := &Message{
		ID:            m.ID,
		Date:          time.Unix(int64(m.Date), 0),
		Text:          m.Message,
		RawText:       m.Message,
		Out:           m.Out,
		Mentioned:     m.Mentioned,
		MediaUnread:   m.MediaUnread,
		Silent:        m.Silent,
		Post:          m.Post,
		FromScheduled: m.FromScheduled,
		Legacy:        m.Legacy,
		EditHide:      m.EditHide,
		Pinned:        m.Pinned,
		Noforwards:    m.Noforwards,
	}

	if editDate, ok := m.GetEditDate(); ok {
		out.EditDate = time.Unix(int64(editDate), 0)
	}
	if from, ok := m.GetFromID(); ok {
		if u, ok := from.(*tg.PeerUser); ok {
			out.FromID = u.UserID
		}
	}
	if views, ok := m.GetViews(); ok {
		out.Views = views
	}
	if forwards, ok := m.GetForwards(); ok {
		out.Forwards = forwards
	}
	if grouped, ok := m.GetGroupedID(); ok {
		out.GroupedID = grouped
	}
	if replyTo, ok := m.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if id, ok := header.GetReplyToMsgID(); ok {
				out.ReplyTo = id
			}
		}
	}
	if reactions, ok := m.GetReactions(); ok {
		out.Reactions = parseReactions(reactions)
	}
	if media, ok := m.GetMedia(); ok {
		out.Media = parseMedia(media)
	}

	return out
}

// parseReactions maps reaction aggregates, skipping malformed entries
// rather than failing the whole message.
func parseReactions(reactions tg.MessageReactions) []Reaction {
	var out []Reaction
	for _, rc := range reactions.Results {
		r := Reaction{Count: rc.Count}
		if _, ok := rc.GetChosenOrder(); ok {
			r.Chosen = true
		}
		switch reaction := rc.Reaction.(type) {
		case *tg.ReactionEmoji:
			r.Emoticon = reaction.Emoticon
		case *tg.ReactionCustomEmoji:
			r.DocumentID = reaction.DocumentID
		default:
			continue
		}
		out = append(out, r)
	}
	return out
}

// parseMedia extracts the attachment descriptor and its transfer location.
func parseMedia(media tg.MessageMediaClass) *Media {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		out := &Media{Type: "MessageMediaPhoto", IsPhoto: true}
		photo, ok := m.GetPhoto()
		if !ok {
			return out
		}
		p, ok := photo.(*tg.Photo)
		if !ok {
			return out
		}
		thumb, size := largestPhotoSize(p.Sizes)
		if thumb != "" {
			out.Size = int64(size)
			out.Photo = &tg.InputPhotoFileLocation{
				ID:            p.ID,
				AccessHash:    p.AccessHash,
				FileReference: p.FileReference,
				ThumbSize:     thumb,
			}
		}
		return out

	case *tg.MessageMediaDocument:
		out := &Media{Type: "MessageMediaDocument"}
		doc, ok := m.GetDocument()
		if !ok {
			return out
		}
		d, ok := doc.(*tg.Document)
		if !ok {
			return out
		}
		out.MimeType = d.MimeType
		out.Size = d.Size
		for _, attr := range d.Attributes {
			if v, ok := attr.(*tg.DocumentAttributeVideo); ok {
				out.IsVideo = true
				out.IsRound = v.RoundMessage
				out.Duration = v.Duration
			}
		}
		out.Document = &tg.InputDocumentFileLocation{
			ID:            d.ID,
			AccessHash:    d.AccessHash,
			FileReference: d.FileReference,
		}
		return out

	default:
		// webpage previews, polls, geo etc. carry no downloadable payload
		return &Media{Type: media.TypeName()}
	}
}

// largestPhotoSize picks the thumb type with the most pixels so downloads
// fetch the full-resolution variant.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (string, int) {
	var thumb string
	var best int
	for _, s := range sizes {
		switch size := s.(type) {
		case *tg.PhotoSize:
			if size.Size > best {
				best = size.Size
				thumb = size.Type
			}
		case *tg.PhotoSizeProgressive:
			max := 0
			for _, b := range size.Sizes {
				if b > max {
					max = b
				}
			}
			if max > best {
				best = max
				thumb = size.Type
			}
		}
	}
	return thumb, best
}
