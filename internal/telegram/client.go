// Package telegram wraps the MTProto client with the operations the
// archiver needs: dialog listing, history paging, participant listing,
// filtered video search and media transfer.
package telegram

import (
	"context"
	"fmt"
	"sort"

	"github.com/gotd/td/tg"

	"github.com/blockedby/channel-archiver/internal/logger"
)

// Client provides rate-limited high-level telegram operations on top of
// the Manager's connected protocol client.
type Client struct {
	manager     *Manager
	rateLimiter *RateLimiter
	log         *logger.Logger
}

// NewClient creates a client wrapper. rps bounds the listing-call rate;
// FLOOD_WAIT responses tighten it further at runtime.
func NewClient(manager *Manager, rps float64) *Client {
	return &Client{
		manager:     manager,
		rateLimiter: NewRateLimiter(rps, 1),
		log:         logger.Get(),
	}
}

// Close stops the underlying client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, fmt.Errorf("telegram client not authorized")
	}
	return proto.API(), nil
}

// Self returns the authenticated user.
func (c *Client) Self() (*tg.User, error) {
	proto := c.manager.GetClient()
	if proto == nil || proto.Self == nil {
		return nil, fmt.Errorf("telegram client not authorized")
	}
	return proto.Self, nil
}

// noteFloodWait feeds a server-mandated pause back into the limiter.
func (c *Client) noteFloodWait(err error) {
	if wait, ok := FloodWait(err); ok {
		c.log.Warn().Dur("wait", wait).Msg("telegram: FLOOD_WAIT, pausing requests")
		c.rateLimiter.SetFloodWait(wait)
	}
}

// ListDialogs returns the channels and groups of the account's dialog
// list, largest first.
func (c *Client) ListDialogs(ctx context.Context) ([]Dialog, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		Limit:      100,
		OffsetPeer: &tg.InputPeerEmpty{},
	})
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("get dialogs: %w", err)
	}

	var chats []tg.ChatClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}

	var out []Dialog
	for _, chat := range chats {
		switch ch := chat.(type) {
		case *tg.Channel:
			dlg := Dialog{
				ID:         ch.ID,
				AccessHash: ch.AccessHash,
				Title:      ch.Title,
				IsChannel:  ch.Broadcast,
				IsGroup:    ch.Megagroup,
			}
			if username, ok := ch.GetUsername(); ok {
				dlg.Username = username
			}
			if count, ok := ch.GetParticipantsCount(); ok {
				dlg.MemberCount = count
			}
			out = append(out, dlg)
		case *tg.Chat:
			out = append(out, Dialog{
				ID:          ch.ID,
				Title:       ch.Title,
				MemberCount: ch.ParticipantsCount,
				IsGroup:     true,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].MemberCount > out[j].MemberCount })
	return out, nil
}

// NewestMessage returns the most recent message of a channel, or nil when
// the channel is empty.
func (c *Client) NewestMessage(ctx context.Context, peer Peer) (*Message, error) {
	msgs, err := c.history(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer.inputPeer(),
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// OldestMessage returns the first message of a channel, or nil when the
// channel is empty.
func (c *Client) OldestMessage(ctx context.Context, peer Peer) (*Message, error) {
	msgs, err := c.history(ctx, &tg.MessagesGetHistoryRequest{
		Peer:      peer.inputPeer(),
		OffsetID:  1,
		AddOffset: -1,
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// MessagesBetween fetches up to limit messages with id in [minID, maxID],
// newest first. limit is capped at the API maximum of 100.
func (c *Client) MessagesBetween(ctx context.Context, peer Peer, minID, maxID, limit int) ([]Message, error) {
	if limit > 100 {
		limit = 100 // telegram api limit
	}
	return c.history(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer.inputPeer(),
		MaxID: maxID + 1,
		MinID: minID - 1,
		Limit: limit,
	})
}

func (c *Client) history(ctx context.Context, req *tg.MessagesGetHistoryRequest) ([]Message, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	res, err := api.MessagesGetHistory(ctx, req)
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("get history: %w", err)
	}
	return extractMessages(res), nil
}

// VideoMessages fetches up to limit video messages older than offsetID,
// newest first. roundOnly restricts the search to round video clips.
func (c *Client) VideoMessages(ctx context.Context, peer Peer, offsetID, limit int, roundOnly bool) ([]Message, error) {
	if limit > 100 {
		limit = 100
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	var filter tg.MessagesFilterClass = &tg.InputMessagesFilterVideo{}
	if roundOnly {
		filter = &tg.InputMessagesFilterRoundVideo{}
	}

	res, err := api.MessagesSearch(ctx, &tg.MessagesSearchRequest{
		Peer:     peer.inputPeer(),
		Filter:   filter,
		OffsetID: offsetID,
		Limit:    limit,
	})
	if err != nil {
		c.noteFloodWait(err)
		return nil, fmt.Errorf("search videos: %w", err)
	}
	return extractMessages(res), nil
}

// Participants fetches the full membership list of a channel, paging
// through the API in blocks of 200.
func (c *Client) Participants(ctx context.Context, peer Peer) ([]Participant, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	const pageSize = 200
	var out []Participant

	for offset := 0; ; offset += pageSize {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		res, err := api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
			Channel: &tg.InputChannel{ChannelID: peer.ID, AccessHash: peer.AccessHash},
			Filter:  &tg.ChannelParticipantsRecent{},
			Offset:  offset,
			Limit:   pageSize,
		})
		if err != nil {
			c.noteFloodWait(err)
			return nil, fmt.Errorf("get participants: %w", err)
		}

		page, ok := res.(*tg.ChannelsChannelParticipants)
		if !ok {
			break // not modified
		}
		for _, u := range page.Users {
			user, ok := u.(*tg.User)
			if !ok {
				continue
			}
			out = append(out, parseParticipant(user))
		}
		if len(page.Participants) < pageSize {
			break
		}
	}

	return out, nil
}

func parseParticipant(u *tg.User) Participant {
	p := Participant{
		ID:         u.ID,
		Bot:        u.Bot,
		Scam:       u.Scam,
		Fake:       u.Fake,
		Premium:    u.Premium,
		Verified:   u.Verified,
		Restricted: u.Restricted,
	}
	if username, ok := u.GetUsername(); ok {
		p.Username = username
	}
	if firstName, ok := u.GetFirstName(); ok {
		p.FirstName = firstName
	}
	if lastName, ok := u.GetLastName(); ok {
		p.LastName = lastName
	}
	if phone, ok := u.GetPhone(); ok {
		p.Phone = phone
	}
	return p
}

// extractMessages converts an API message container to parsed messages.
func extractMessages(res tg.MessagesMessagesClass) []Message {
	var raw []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	}

	var out []Message
	for _, msg := range raw {
		if m := parseMessage(msg); m != nil {
			out = append(out, *m)
		}
	}
	return out
}
