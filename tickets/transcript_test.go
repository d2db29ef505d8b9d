package tickets

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-bot/storage"
)

type fakeFetcher struct {
	msgs []*discordgo.Message
	err  error
}

func (f *fakeFetcher) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs, nil
}

func msgAt(id, author, content string, ts time.Time) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		Content:   content,
		Timestamp: ts,
		Author:    &discordgo.User{ID: "a-" + id, Username: author},
	}
}

func testTicket() *storage.Ticket {
	return &storage.Ticket{ID: 7, ThreadID: "thread-7", UserID: "owner", Product: "Webserver", Topic: "Downtime"}
}

func TestGenerateOrdersOldestFirst(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// The gateway returns newest first.
	fetcher := &fakeFetcher{msgs: []*discordgo.Message{
		msgAt("3", "carol", "third", base.Add(2*time.Minute)),
		msgAt("2", "bob", "second", base.Add(time.Minute)),
		msgAt("1", "alice", "first", base),
	}}

	res := NewGenerator(fetcher, fakeLookup{}, nil).Generate(testTicket())

	require.Len(t, res.Records, 3)
	for i := 1; i < len(res.Records); i++ {
		assert.False(t, res.Records[i].Timestamp.Before(res.Records[i-1].Timestamp),
			"records must be non-decreasing by timestamp")
	}
	assert.Equal(t, "first", res.Records[0].Content)
	assert.Equal(t, "third", res.Records[2].Content)
}

func TestGenerateResolvesMentionsEverywhere(t *testing.T) {
	m := msgAt("1", "alice", "thanks <@42>", time.Now())
	m.Embeds = []*discordgo.MessageEmbed{{
		Description: "handled by <@42>",
		Fields:      []*discordgo.MessageEmbedField{{Name: "Who", Value: "<@42> again"}},
	}}
	fetcher := &fakeFetcher{msgs: []*discordgo.Message{m}}

	res := NewGenerator(fetcher, fakeLookup{"42": "supporter"}, nil).Generate(testTicket())

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, "thanks @supporter", rec.Content)
	require.Len(t, rec.Embeds, 1)
	assert.Equal(t, "handled by @supporter", rec.Embeds[0].Description)
	assert.Equal(t, "@supporter again", rec.Embeds[0].Fields[0].Value)
}

func TestGenerateContainerFallbackForEmptyContent(t *testing.T) {
	m := msgAt("1", "bot", "", time.Now())
	m.Components = []discordgo.MessageComponent{
		discordgo.Container{Components: []discordgo.MessageComponent{
			discordgo.TextDisplay{Content: "welcome aboard"},
		}},
	}
	fetcher := &fakeFetcher{msgs: []*discordgo.Message{m}}

	res := NewGenerator(fetcher, fakeLookup{}, nil).Generate(testTicket())

	require.Len(t, res.Records, 1)
	assert.Equal(t, "welcome aboard", res.Records[0].Content)
	assert.NotEmpty(t, res.Records[0].Components, "raw container subtree must be persisted")
}

func TestGenerateDegradedOnFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("thread gone")}

	res := NewGenerator(fetcher, fakeLookup{}, nil).Generate(testTicket())

	require.Len(t, res.Records, 1)
	assert.Contains(t, res.Records[0].Content, "thread gone")
	assert.Contains(t, res.HTML, "Ticket #7")
	assert.NotEmpty(t, res.Text)
}

func TestGenerateRendersAllFormats(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{msgs: []*discordgo.Message{
		msgAt("1", "alice", "hello world", base),
	}}

	res := NewGenerator(fetcher, fakeLookup{}, nil).Generate(testTicket())

	assert.Contains(t, res.HTML, "<!DOCTYPE html>")
	assert.Contains(t, res.HTML, "hello world")
	assert.Contains(t, res.HTML, "alice")
	assert.Contains(t, res.Text, "[2026-08-01 12:00:00] alice: hello world")
}

func TestGenerateKeepsAttachmentURLWithoutArchiver(t *testing.T) {
	m := msgAt("1", "alice", "see file", time.Now())
	m.Attachments = []*discordgo.MessageAttachment{{
		Filename:    "crash.log",
		URL:         "https://cdn.example/crash.log",
		ContentType: "text/plain",
	}}
	fetcher := &fakeFetcher{msgs: []*discordgo.Message{m}}

	res := NewGenerator(fetcher, fakeLookup{}, nil).Generate(testTicket())

	require.Len(t, res.Records, 1)
	require.Len(t, res.Records[0].Attachments, 1)
	att := res.Records[0].Attachments[0]
	assert.Equal(t, "crash.log", att.Name)
	assert.Equal(t, "https://cdn.example/crash.log", att.URL)
	assert.Empty(t, att.LocalPath)
}
