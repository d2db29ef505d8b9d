package tickets

import (
	"encoding/json"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"ticket-bot/storage"
)

// fetchLimit bounds transcript size. Threads longer than this lose
// their oldest messages, an accepted trade-off.
const fetchLimit = 100

type messageFetcher interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// MessageAuthor identifies who wrote a transcript message.
type MessageAuthor struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedRecord struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      string       `json:"footer,omitempty"`
	Color       int          `json:"color,omitempty"`
}

type AttachmentRecord struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	LocalPath   string `json:"local_path,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// MessageRecord is one entry of the transcript JSON. Records are
// immutable once written.
type MessageRecord struct {
	ID          string             `json:"id"`
	Author      MessageAuthor      `json:"author"`
	Content     string             `json:"content"`
	Components  json.RawMessage    `json:"components,omitempty"`
	Embeds      []EmbedRecord      `json:"embeds,omitempty"`
	Attachments []AttachmentRecord `json:"attachments,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Result is the three-way rendering of one ticket thread.
type Result struct {
	HTML    string
	Records []MessageRecord
	Text    string
}

// Generator turns a ticket's thread history into a transcript.
type Generator struct {
	fetch   messageFetcher
	lookup  MemberLookup
	archive *Archiver
}

func NewGenerator(fetch messageFetcher, lookup MemberLookup, archive *Archiver) *Generator {
	return &Generator{fetch: fetch, lookup: lookup, archive: archive}
}

// Generate renders the ticket's thread. It never returns an error:
// only a failed history fetch degrades the whole result, and that
// comes back as a single-entry error transcript. Every other failure
// is per-message best effort.
func (g *Generator) Generate(t *storage.Ticket) *Result {
	msgs, err := g.fetch.ChannelMessages(t.ThreadID, fetchLimit, "", "", "")
	if err != nil {
		log.Printf("[Tickets] Transcript fetch for ticket #%d failed: %v", t.ID, err)
		return g.degraded(t, err)
	}

	// The API hands back newest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	names := ResolveMentions(collectFragments(msgs), g.lookup)

	var (
		records []MessageRecord
		htmlB   strings.Builder
		textB   strings.Builder
	)
	htmlB.WriteString(htmlHeader(t))

	for _, m := range msgs {
		if m == nil || m.Author == nil {
			continue
		}
		rec := g.renderMessage(t, m, names)
		records = append(records, rec)
		appendHTMLMessage(&htmlB, rec, names)
		appendTextMessage(&textB, rec)
	}

	htmlB.WriteString(htmlFooter())

	return &Result{HTML: htmlB.String(), Records: records, Text: textB.String()}
}

func (g *Generator) degraded(t *storage.Ticket, err error) *Result {
	rec := MessageRecord{
		ID:        "0",
		Author:    MessageAuthor{Username: "System", Bot: true},
		Content:   fmt.Sprintf("Transcript generation failed: %v", err),
		Timestamp: time.Now().UTC(),
	}
	var htmlB strings.Builder
	htmlB.WriteString(htmlHeader(t))
	appendHTMLMessage(&htmlB, rec, nil)
	htmlB.WriteString(htmlFooter())
	return &Result{
		HTML:    htmlB.String(),
		Records: []MessageRecord{rec},
		Text:    rec.Content + "\n",
	}
}

// collectFragments gathers every piece of text that can carry a
// mention so resolution runs once over the whole batch.
func collectFragments(msgs []*discordgo.Message) []string {
	var frags []string
	for _, m := range msgs {
		if m == nil {
			continue
		}
		frags = append(frags, m.Content)
		for _, e := range m.Embeds {
			frags = append(frags, e.Description)
			for _, f := range e.Fields {
				frags = append(frags, f.Value)
			}
		}
	}
	return frags
}

func (g *Generator) renderMessage(t *storage.Ticket, m *discordgo.Message, names map[string]string) MessageRecord {
	rec := MessageRecord{
		ID: m.ID,
		Author: MessageAuthor{
			ID:            m.Author.ID,
			Username:      m.Author.Username,
			Discriminator: m.Author.Discriminator,
			Avatar:        m.Author.AvatarURL("64"),
			Bot:           m.Author.Bot,
		},
		Content:   SubstituteMentions(m.Content, names),
		Timestamp: m.Timestamp,
	}

	if container, raw := FirstContainer(m.Components); container != nil {
		rec.Components = raw
		if strings.TrimSpace(rec.Content) == "" {
			rec.Content = strings.TrimSpace(FlattenText(container, names))
		}
	}

	for _, e := range m.Embeds {
		embed := EmbedRecord{
			Title:       e.Title,
			Description: SubstituteMentions(e.Description, names),
			Color:       e.Color,
		}
		if e.Footer != nil {
			embed.Footer = e.Footer.Text
		}
		for _, f := range e.Fields {
			if f == nil {
				continue
			}
			embed.Fields = append(embed.Fields, EmbedField{
				Name:   f.Name,
				Value:  SubstituteMentions(f.Value, names),
				Inline: f.Inline,
			})
		}
		rec.Embeds = append(rec.Embeds, embed)
	}

	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		att := AttachmentRecord{Name: a.Filename, URL: a.URL, ContentType: a.ContentType}
		if g.archive != nil {
			local, err := g.archive.Save(t.ID, a.Filename, a.URL)
			if err != nil {
				log.Printf("[Tickets] Attachment %s of ticket #%d not archived: %v", a.Filename, t.ID, err)
			} else {
				att.LocalPath = local
			}
		}
		rec.Attachments = append(rec.Attachments, att)
	}

	return rec
}

func htmlHeader(t *storage.Ticket) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Ticket #%d</title>
<style>
body { background: #313338; color: #dbdee1; font-family: "gg sans", "Helvetica Neue", Helvetica, Arial, sans-serif; margin: 0; padding: 24px; }
h1 { color: #f2f3f5; font-size: 20px; border-bottom: 1px solid #3f4147; padding-bottom: 12px; }
.message { padding: 8px 0; display: flex; }
.avatar { width: 40px; height: 40px; border-radius: 50%%; margin-right: 16px; }
.body { flex: 1; }
.author { color: #f2f3f5; font-weight: 600; }
.author.bot::after { content: "BOT"; background: #5865f2; color: #fff; font-size: 10px; border-radius: 3px; padding: 1px 4px; margin-left: 6px; vertical-align: middle; }
.timestamp { color: #949ba4; font-size: 12px; margin-left: 8px; }
.content { margin-top: 2px; white-space: pre-wrap; }
.embed { border-left: 4px solid #5865f2; background: #2b2d31; border-radius: 4px; padding: 8px 12px; margin-top: 6px; max-width: 520px; }
.embed .title { font-weight: 600; color: #f2f3f5; }
.embed .field-name { font-weight: 600; color: #f2f3f5; margin-top: 6px; }
.embed .footer { color: #949ba4; font-size: 12px; margin-top: 6px; }
.attachment a { color: #00a8fc; }
.component-block { border: 1px solid #3f4147; border-radius: 4px; padding: 8px; margin-top: 6px; }
.component-button { display: inline-block; background: #4e5058; color: #fff; border-radius: 3px; padding: 2px 10px; margin: 2px 4px 0 0; font-size: 13px; }
</style>
</head>
<body>
<h1>Ticket #%d &mdash; %s / %s</h1>
`, t.ID, t.ID, html.EscapeString(t.Product), html.EscapeString(t.Topic))
}

func htmlFooter() string {
	return "</body>\n</html>\n"
}

func appendHTMLMessage(b *strings.Builder, rec MessageRecord, names map[string]string) {
	b.WriteString(`<div class="message">`)
	if rec.Author.Avatar != "" {
		b.WriteString(`<img class="avatar" src="` + html.EscapeString(rec.Author.Avatar) + `" alt="">`)
	}
	b.WriteString(`<div class="body">`)

	authorClass := "author"
	if rec.Author.Bot {
		authorClass += " bot"
	}
	b.WriteString(`<span class="` + authorClass + `">` + html.EscapeString(rec.Author.Username) + `</span>`)
	b.WriteString(`<span class="timestamp">` + rec.Timestamp.UTC().Format("2006-01-02 15:04:05") + `</span>`)

	if rec.Content != "" {
		b.WriteString(`<div class="content">` + strings.ReplaceAll(html.EscapeString(rec.Content), "\n", "<br>") + `</div>`)
	}

	if len(rec.Components) > 0 {
		var node ComponentNode
		if err := json.Unmarshal(rec.Components, &node); err == nil {
			b.WriteString(FlattenHTML(&node, names))
		}
	}

	for _, e := range rec.Embeds {
		b.WriteString(`<div class="embed">`)
		if e.Title != "" {
			b.WriteString(`<div class="title">` + html.EscapeString(e.Title) + `</div>`)
		}
		if e.Description != "" {
			b.WriteString(`<div>` + strings.ReplaceAll(html.EscapeString(e.Description), "\n", "<br>") + `</div>`)
		}
		for _, f := range e.Fields {
			b.WriteString(`<div class="field-name">` + html.EscapeString(f.Name) + `</div>`)
			b.WriteString(`<div>` + strings.ReplaceAll(html.EscapeString(f.Value), "\n", "<br>") + `</div>`)
		}
		if e.Footer != "" {
			b.WriteString(`<div class="footer">` + html.EscapeString(e.Footer) + `</div>`)
		}
		b.WriteString(`</div>`)
	}

	for _, a := range rec.Attachments {
		href := a.LocalPath
		if href == "" {
			href = a.URL
		}
		b.WriteString(`<div class="attachment">📎 <a href="` + html.EscapeString(href) + `">` + html.EscapeString(a.Name) + `</a></div>`)
	}

	b.WriteString(`</div></div>` + "\n")
}

func appendTextMessage(b *strings.Builder, rec MessageRecord) {
	b.WriteString("[" + rec.Timestamp.UTC().Format("2006-01-02 15:04:05") + "] ")
	b.WriteString(rec.Author.Username + ": " + rec.Content + "\n")
	for _, e := range rec.Embeds {
		if e.Title != "" {
			b.WriteString("  [Embed] " + e.Title + "\n")
		}
		if e.Description != "" {
			b.WriteString("  " + e.Description + "\n")
		}
		for _, f := range e.Fields {
			b.WriteString("  " + f.Name + ": " + f.Value + "\n")
		}
	}
	for _, a := range rec.Attachments {
		b.WriteString("  [Attachment] " + a.Name + "\n")
	}
}
