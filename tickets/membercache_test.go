package tickets

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMemberFetcher struct {
	calls   int
	members []*discordgo.Member
	err     error
}

func (f *fakeMemberFetcher) GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.members, nil
}

func member(id, username, nick string) *discordgo.Member {
	return &discordgo.Member{Nick: nick, User: &discordgo.User{ID: id, Username: username}}
}

func TestMemberCacheServesWithinTTL(t *testing.T) {
	fetcher := &fakeMemberFetcher{members: []*discordgo.Member{member("1", "alice", "")}}
	cache := NewMemberCache(fetcher, "guild")

	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.Members()
	require.NoError(t, err)
	_, err = cache.Members()
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)

	// Advance past the TTL without sleeping.
	now = now.Add(memberCacheTTL + time.Second)
	_, err = cache.Members()
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestMemberCacheStaleFallback(t *testing.T) {
	fetcher := &fakeMemberFetcher{members: []*discordgo.Member{member("1", "alice", "")}}
	cache := NewMemberCache(fetcher, "guild")

	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.Members()
	require.NoError(t, err)

	now = now.Add(memberCacheTTL + time.Second)
	fetcher.err = errors.New("gateway down")

	members, err := cache.Members()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].User.Username)
}

func TestMemberCacheErrorWithoutCache(t *testing.T) {
	fetcher := &fakeMemberFetcher{err: errors.New("gateway down")}
	cache := NewMemberCache(fetcher, "guild")

	_, err := cache.Members()
	assert.Error(t, err)
}

func TestDisplayNamePrefersNick(t *testing.T) {
	fetcher := &fakeMemberFetcher{members: []*discordgo.Member{
		member("1", "alice", "Ally"),
		member("2", "bob", ""),
	}}
	cache := NewMemberCache(fetcher, "guild")

	name, err := cache.DisplayName("1")
	require.NoError(t, err)
	assert.Equal(t, "Ally", name)

	name, err = cache.DisplayName("2")
	require.NoError(t, err)
	assert.Equal(t, "bob", name)

	_, err = cache.DisplayName("3")
	assert.Error(t, err)
}
