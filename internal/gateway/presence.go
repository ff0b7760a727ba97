package gateway

import (
	"sync"

	"github.com/parley-chat/parley/internal/domain"
)

// Presence keeps the per-channel lists of currently typing usernames,
// most-recent-first, each username at most once.
type Presence struct {
	mu     sync.Mutex
	typing map[domain.ChannelID][]string
}

func NewPresence() *Presence {
	return &Presence{typing: make(map[domain.ChannelID][]string)}
}

// SetTyping records a typing start/stop and returns the updated list.
// Starting is duplicate-safe; stopping an absent username is a no-op.
func (p *Presence) SetTyping(channelID domain.ChannelID, username string, typing bool) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.typing[channelID]
	if typing {
		if !contains(list, username) {
			list = append([]string{username}, list...)
		}
	} else {
		list = remove(list, username)
	}
	if len(list) == 0 {
		delete(p.typing, channelID)
	} else {
		p.typing[channelID] = list
	}
	return snapshot(list)
}

// TypingUsers returns the current list for a channel.
func (p *Presence) TypingUsers(channelID domain.ChannelID) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot(p.typing[channelID])
}

// ClearUser drops the username from every channel's list (disconnect
// cleanup) and returns the channels that changed.
func (p *Presence) ClearUser(username string) []domain.ChannelID {
	p.mu.Lock()
	defer p.mu.Unlock()

	var changed []domain.ChannelID
	for channelID, list := range p.typing {
		if !contains(list, username) {
			continue
		}
		list = remove(list, username)
		if len(list) == 0 {
			delete(p.typing, channelID)
		} else {
			p.typing[channelID] = list
		}
		changed = append(changed, channelID)
	}
	return changed
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func snapshot(list []string) []string {
	out := make([]string, len(list))
	copy(out, list)
	return out
}
