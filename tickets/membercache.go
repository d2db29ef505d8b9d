package tickets

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const memberCacheTTL = 5 * time.Minute

type memberFetcher interface {
	GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
}

// MemberCache keeps the guild roster around for a few minutes so
// transcript rendering and the dashboard do not refetch it per request.
// The clock is a field so tests can move time without sleeping.
type MemberCache struct {
	fetch   memberFetcher
	guildID string
	now     func() time.Time

	mu        sync.Mutex
	members   []*discordgo.Member
	fetchedAt time.Time
}

func NewMemberCache(fetch memberFetcher, guildID string) *MemberCache {
	return &MemberCache{fetch: fetch, guildID: guildID, now: time.Now}
}

// Members returns the cached roster, refreshing when the cache is
// older than the TTL. A failed refresh falls back to the stale copy
// when one exists.
func (c *MemberCache) Members() ([]*discordgo.Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.members != nil && c.now().Sub(c.fetchedAt) < memberCacheTTL {
		return c.members, nil
	}

	members, err := c.fetch.GuildMembers(c.guildID, "", 1000)
	if err != nil {
		if c.members != nil {
			log.Printf("[Tickets] Member refresh failed, serving stale roster: %v", err)
			return c.members, nil
		}
		return nil, err
	}
	c.members = members
	c.fetchedAt = c.now()
	return members, nil
}

// Member returns the cached member with the given user id.
func (c *MemberCache) Member(userID string) (*discordgo.Member, error) {
	members, err := c.Members()
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.User != nil && m.User.ID == userID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("member %s not in roster", userID)
}

// DisplayName implements MemberLookup from the cached roster,
// preferring the server nickname over the account name.
func (c *MemberCache) DisplayName(userID string) (string, error) {
	m, err := c.Member(userID)
	if err != nil {
		return "", err
	}
	if m.Nick != "" {
		return m.Nick, nil
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName, nil
	}
	return m.User.Username, nil
}
