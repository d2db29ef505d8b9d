package tickets

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"ticket-bot/config"
	"ticket-bot/events"
	"ticket-bot/lang"
	"ticket-bot/storage"
)

const (
	threadAutoArchiveMinutes = 10080
	closeGraceDelay          = 5 * time.Second
)

var (
	// ErrMaintenance rejects ticket creation while the maintenance
	// setting is active.
	ErrMaintenance = errors.New("maintenance mode is active")
	// ErrEmptyName rejects renames to a blank thread name.
	ErrEmptyName = errors.New("thread name must not be empty")
	// ErrAlreadyClosed rejects a close of a ticket that is closed
	// already. Re-running the close would emit a second lifecycle
	// event, DM the owner again and overwrite the stored transcript
	// from a thread the owner has left.
	ErrAlreadyClosed = errors.New("ticket is already closed")
)

// ErrTicketExists is returned when a user who already has an open
// ticket tries to open another one.
type ErrTicketExists struct {
	ThreadID string
}

func (e *ErrTicketExists) Error() string {
	return fmt.Sprintf("user already has an open ticket in thread %s", e.ThreadID)
}

// discordAPI is the slice of the gateway session the manager actually
// touches. *discordgo.Session satisfies it; tests use a fake.
type discordAPI interface {
	ThreadStartComplex(channelID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ThreadMemberAdd(threadID, memberID string, options ...discordgo.RequestOption) error
	ThreadMemberRemove(threadID, memberID string, options ...discordgo.RequestOption) error
	ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
}

// Manager owns the ticket lifecycle: thread handling, row mutations,
// transcripts, notifications and lifecycle events.
type Manager struct {
	api     discordAPI
	cfg     *config.Config
	cache   *MemberCache
	archive *Archiver
	gen     *Generator
	sink    events.Sink

	grace time.Duration

	mu       sync.Mutex
	deferred map[int64]*DeferredTask
}

func NewManager(api discordAPI, cfg *config.Config, sink events.Sink) *Manager {
	if sink == nil {
		sink = events.Discard{}
	}
	m := &Manager{
		api:      api,
		cfg:      cfg,
		cache:    NewMemberCache(api, cfg.Discord.GuildID),
		archive:  NewArchiver(cfg.Dashboard.UploadDir),
		sink:     sink,
		grace:    closeGraceDelay,
		deferred: make(map[int64]*DeferredTask),
	}
	m.gen = NewGenerator(api, m, m.archive)
	return m
}

// Members exposes the cached guild roster for the dashboard.
func (m *Manager) Members() ([]*discordgo.Member, error) {
	return m.cache.Members()
}

// Member returns a single member from the cached roster.
func (m *Manager) Member(userID string) (*discordgo.Member, error) {
	return m.cache.Member(userID)
}

// DisplayName resolves through the roster cache first and falls back
// to a direct user fetch for people who already left the guild.
func (m *Manager) DisplayName(userID string) (string, error) {
	if name, err := m.cache.DisplayName(userID); err == nil {
		return name, nil
	}
	u, err := m.api.User(userID)
	if err != nil {
		return "", err
	}
	if u.GlobalName != "" {
		return u.GlobalName, nil
	}
	return u.Username, nil
}

// RefreshPresence re-applies the bot_* settings to the gateway.
func (m *Manager) RefreshPresence() {
	RefreshPresence(m.api)
}

func (m *Manager) emit(action string, ticketID int64) {
	m.sink.Publish(events.Event{Action: action, TicketID: ticketID})
}

// Open creates a ticket for the user: private thread, membership, row
// insert, lifecycle event and welcome message. The maintenance flag
// and the one-open-ticket rule are checked first; the database's
// uniqueness constraint backstops the latter against races.
func (m *Manager) Open(userID, username, product, topic, details string) (*storage.Ticket, error) {
	if v, err := storage.DB.Setting("maintenance"); err == nil && v == "true" {
		return nil, ErrMaintenance
	}

	if existing, err := storage.DB.OpenTicketByUser(userID); err == nil {
		return nil, &ErrTicketExists{ThreadID: existing.ThreadID}
	}

	name := "ticket-" + username
	thread, err := m.api.ThreadStartComplex(m.cfg.Discord.PanelChannel, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: threadAutoArchiveMinutes,
		Type:                discordgo.ChannelTypeGuildPrivateThread,
		Invitable:           false,
	})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	if err := m.api.ThreadMemberAdd(thread.ID, userID); err != nil {
		log.Printf("[Tickets] Could not add %s to thread %s: %v", userID, thread.ID, err)
	}

	t := &storage.Ticket{
		ThreadID:        thread.ID,
		UserID:          userID,
		Product:         product,
		Topic:           topic,
		Details:         details,
		ParentChannelID: m.cfg.Discord.PanelChannel,
		ThreadName:      name,
	}
	if err := storage.DB.CreateTicket(t); err != nil {
		if _, derr := m.api.ChannelDelete(thread.ID); derr != nil {
			log.Printf("[Tickets] Orphan thread %s not deleted: %v", thread.ID, derr)
		}
		if errors.Is(err, storage.ErrDuplicateOpen) {
			if existing, lerr := storage.DB.OpenTicketByUser(userID); lerr == nil {
				return nil, &ErrTicketExists{ThreadID: existing.ThreadID}
			}
			return nil, &ErrTicketExists{}
		}
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	m.emit(events.ActionCreated, t.ID)
	m.postWelcome(t, username)

	log.Printf("[Tickets] Opened ticket #%d for %s (thread %s)", t.ID, username, thread.ID)
	return t, nil
}

func (m *Manager) postWelcome(t *storage.Ticket, username string) {
	created := t.CreatedAt.Format("02.01.2006 15:04")
	rich := containerMessage(0x5865F2,
		discordgo.TextDisplay{Content: lang.T("welcome.title", "name", username)},
		discordgo.TextDisplay{Content: lang.T("welcome.body",
			"user", t.UserID,
			"product", t.Product,
			"topic", t.Topic,
			"details", t.Details,
			"time", created,
		)},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    lang.T("close.button"),
				Style:    discordgo.DangerButton,
				CustomID: "close_ticket",
			},
		}},
	)
	plain := lang.T("welcome.fallback",
		"product", t.Product,
		"topic", t.Topic,
		"details", t.Details,
	)
	m.sendRich(t.ThreadID, rich, plain)
}

// CloseByThread closes the ticket backed by the given thread. It is
// the entry point for the in-thread close button; storage.ErrNotFound
// means the channel is not a ticket thread.
func (m *Manager) CloseByThread(threadID string) (*storage.Ticket, error) {
	t, err := storage.DB.TicketByThread(threadID)
	if err != nil {
		return nil, err
	}
	return t, m.Close(t)
}

// Close renders and persists the transcript, emits the closed event,
// notifies owner and archive channel best effort, flips the row to
// closed and schedules the delayed thread lock.
func (m *Manager) Close(t *storage.Ticket) error {
	if t.Status == storage.StatusClosed {
		return ErrAlreadyClosed
	}

	res := m.gen.Generate(t)

	recordsJSON, err := json.Marshal(res.Records)
	if err != nil {
		recordsJSON = []byte("[]")
	}
	if err := storage.DB.SaveTranscript(&storage.Transcript{
		TicketID: t.ID,
		HTML:     res.HTML,
		JSON:     string(recordsJSON),
		Text:     res.Text,
	}); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}

	m.emit(events.ActionClosed, t.ID)
	m.dmOwner(t)
	m.postArchiveSummary(t)

	closedAt := time.Now().UTC()
	if err := storage.DB.CloseTicket(t.ID, closedAt); err != nil {
		return fmt.Errorf("mark closed: %w", err)
	}
	t.Status = storage.StatusClosed
	t.ClosedAt = &closedAt

	m.scheduleArchive(t)
	log.Printf("[Tickets] Closed ticket #%d (thread %s)", t.ID, t.ThreadID)
	return nil
}

func (m *Manager) dmOwner(t *storage.Ticket) {
	dm, err := m.api.UserChannelCreate(t.UserID)
	if err != nil {
		log.Printf("[Tickets] No DM channel for %s: %v", t.UserID, err)
		return
	}

	url := m.transcriptURL(t.ID)
	id := fmt.Sprintf("%d", t.ID)

	ratingRow := discordgo.ActionsRow{}
	for n := 1; n <= 5; n++ {
		ratingRow.Components = append(ratingRow.Components, discordgo.Button{
			Label:    fmt.Sprintf("%d ⭐", n),
			Style:    discordgo.SecondaryButton,
			CustomID: fmt.Sprintf("rate_ticket:%d:%d", t.ID, n),
		})
	}

	rich := containerMessage(0xED4245,
		discordgo.TextDisplay{Content: "## " + lang.T("close.dm.title")},
		discordgo.TextDisplay{Content: lang.T("close.dm.body", "id", id)},
		discordgo.TextDisplay{Content: lang.T("close.dm.link", "url", url)},
		ratingRow,
	)
	plain := lang.T("close.dm.body", "id", id) + "\n" + url
	m.sendRich(dm.ID, rich, plain)
}

func (m *Manager) postArchiveSummary(t *storage.Ticket) {
	if m.cfg.Discord.ArchiveChannel == "" {
		return
	}

	url := m.transcriptURL(t.ID)
	rich := containerMessage(0x2B2D31,
		discordgo.TextDisplay{Content: "## " + lang.T("archive.title", "id", fmt.Sprintf("%d", t.ID))},
		discordgo.TextDisplay{Content: fmt.Sprintf("**%s:** <@%s>\n**%s:** %s\n**%s:** %s",
			lang.T("archive.user"), t.UserID,
			lang.T("archive.product"), t.Product,
			lang.T("archive.topic"), t.Topic,
		)},
		discordgo.TextDisplay{Content: lang.T("archive.link") + ": " + lang.T("archive.link_text", "url", url)},
	)
	plain := lang.T("archive.title", "id", fmt.Sprintf("%d", t.ID)) + "\n" + url
	m.sendRich(m.cfg.Discord.ArchiveChannel, rich, plain)
}

func (m *Manager) scheduleArchive(t *storage.Ticket) {
	threadID, userID, ticketID := t.ThreadID, t.UserID, t.ID

	m.mu.Lock()
	defer m.mu.Unlock()
	if old := m.deferred[ticketID]; old != nil {
		old.Cancel()
	}
	var task *DeferredTask
	task = Defer(m.grace, fmt.Sprintf("archive-ticket-%d", ticketID), func() error {
		// A fired task drops its own registration so the map does
		// not grow with every closed ticket. Only remove it when the
		// entry is still ours; a reopen+close may have replaced it.
		defer func() {
			m.mu.Lock()
			if m.deferred[ticketID] == task {
				delete(m.deferred, ticketID)
			}
			m.mu.Unlock()
		}()
		if err := m.api.ThreadMemberRemove(threadID, userID); err != nil {
			log.Printf("[Tickets] Could not remove %s from thread %s: %v", userID, threadID, err)
		}
		archived, locked := true, true
		_, err := m.api.ChannelEditComplex(threadID, &discordgo.ChannelEdit{Archived: &archived, Locked: &locked})
		return err
	})
	m.deferred[ticketID] = task
}

func (m *Manager) cancelDeferred(ticketID int64) {
	m.mu.Lock()
	if task := m.deferred[ticketID]; task != nil {
		task.Cancel()
		delete(m.deferred, ticketID)
	}
	m.mu.Unlock()
}

// Reopen flips a closed ticket back to open. The original thread is
// unarchived when it still exists; otherwise a replacement thread is
// created and the row is repointed at it.
func (m *Manager) Reopen(ticketID int64, adminID string) (*storage.Ticket, error) {
	t, err := storage.DB.TicketByID(ticketID)
	if err != nil {
		return nil, err
	}
	m.cancelDeferred(t.ID)

	archived, locked := false, false
	if _, err := m.api.ChannelEditComplex(t.ThreadID, &discordgo.ChannelEdit{Archived: &archived, Locked: &locked}); err != nil {
		log.Printf("[Tickets] Thread %s gone, creating replacement: %v", t.ThreadID, err)

		parent := t.ParentChannelID
		if parent == "" {
			parent = m.cfg.Discord.PanelChannel
		}
		name := t.ThreadName
		if name == "" {
			name = fmt.Sprintf("ticket-%d", t.ID)
		}
		thread, terr := m.api.ThreadStartComplex(parent, &discordgo.ThreadStart{
			Name:                name,
			AutoArchiveDuration: threadAutoArchiveMinutes,
			Type:                discordgo.ChannelTypeGuildPrivateThread,
			Invitable:           false,
		})
		if terr != nil {
			return nil, fmt.Errorf("replacement thread: %w", terr)
		}
		if uerr := storage.DB.UpdateThreadID(t.ID, thread.ID); uerr != nil {
			return nil, fmt.Errorf("repoint thread: %w", uerr)
		}
		t.ThreadID = thread.ID
	}

	if err := m.api.ThreadMemberAdd(t.ThreadID, t.UserID); err != nil {
		log.Printf("[Tickets] Could not re-add %s to thread %s: %v", t.UserID, t.ThreadID, err)
	}

	if err := storage.DB.ReopenTicket(t.ID); err != nil {
		if errors.Is(err, storage.ErrDuplicateOpen) {
			return nil, &ErrTicketExists{}
		}
		return nil, fmt.Errorf("reopen ticket: %w", err)
	}
	t.Status = storage.StatusOpen
	t.ClosedAt = nil

	url := m.transcriptURL(t.ID)
	rich := containerMessage(0x57F287,
		discordgo.TextDisplay{Content: lang.T("reopen.title")},
		discordgo.TextDisplay{Content: lang.T("reopen.body", "user", t.UserID, "admin", adminID, "url", url)},
	)
	m.sendRich(t.ThreadID, rich, lang.T("reopen.fallback", "admin", adminID))

	m.emit(events.ActionReopen, t.ID)
	log.Printf("[Tickets] Reopened ticket #%d (thread %s)", t.ID, t.ThreadID)
	return t, nil
}

// Assign sets the responsible supporter. An empty supporterID clears
// the assignment. Notification failure never rolls the change back.
func (m *Manager) Assign(ticketID int64, supporterID string) error {
	t, err := storage.DB.TicketByID(ticketID)
	if err != nil {
		return err
	}
	if err := storage.DB.AssignTicket(t.ID, supporterID); err != nil {
		return err
	}

	if supporterID == "" {
		rich := containerMessage(0xFEE75C,
			discordgo.TextDisplay{Content: "## " + lang.T("unassign.title")},
			discordgo.TextDisplay{Content: lang.T("unassign.body")},
		)
		m.sendRich(t.ThreadID, rich, lang.T("unassign.title"))
	} else {
		if err := m.api.ThreadMemberAdd(t.ThreadID, supporterID); err != nil {
			log.Printf("[Tickets] Could not add supporter %s to thread %s: %v", supporterID, t.ThreadID, err)
		}
		now := time.Now().Format("02.01.2006 15:04")
		rich := containerMessage(0x57F287,
			discordgo.TextDisplay{Content: "## " + lang.T("assign.title")},
			discordgo.TextDisplay{Content: lang.T("assign.body", "supporter", supporterID, "time", now)},
		)
		m.sendRich(t.ThreadID, rich, lang.T("assign.fallback", "supporter", supporterID))
	}

	m.emit(events.ActionUpdated, t.ID)
	return nil
}

// AddSupporter appends to the supporter list, keeping order and
// skipping duplicates.
func (m *Manager) AddSupporter(ticketID int64, supporterID string) error {
	t, err := storage.DB.TicketByID(ticketID)
	if err != nil {
		return err
	}
	for _, s := range t.Supporters {
		if s == supporterID {
			return nil
		}
	}
	supporters := append(t.Supporters, supporterID)
	if err := storage.DB.SetSupporters(t.ID, supporters); err != nil {
		return err
	}

	if err := m.api.ThreadMemberAdd(t.ThreadID, supporterID); err != nil {
		log.Printf("[Tickets] Could not add supporter %s to thread %s: %v", supporterID, t.ThreadID, err)
	}
	rich := containerMessage(0x5865F2,
		discordgo.TextDisplay{Content: "## " + lang.T("supporter.title")},
		discordgo.TextDisplay{Content: lang.T("supporter.body", "supporter", supporterID)},
	)
	m.sendRich(t.ThreadID, rich, lang.T("supporter.body", "supporter", supporterID))

	m.emit(events.ActionUpdated, t.ID)
	return nil
}

// Rename changes the thread display name. Blank names are rejected.
func (m *Manager) Rename(ticketID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	t, err := storage.DB.TicketByID(ticketID)
	if err != nil {
		return err
	}
	if _, err := m.api.ChannelEditComplex(t.ThreadID, &discordgo.ChannelEdit{Name: name}); err != nil {
		log.Printf("[Tickets] Thread %s rename failed: %v", t.ThreadID, err)
	}
	if err := storage.DB.SetThreadName(t.ID, name); err != nil {
		return err
	}
	m.emit(events.ActionUpdated, t.ID)
	return nil
}

// SetTags replaces the tag list.
func (m *Manager) SetTags(ticketID int64, tags []string) error {
	if _, err := storage.DB.TicketByID(ticketID); err != nil {
		return err
	}
	if err := storage.DB.SetTags(ticketID, tags); err != nil {
		return err
	}
	m.emit(events.ActionUpdated, ticketID)
	return nil
}

// Rate stores the owner's satisfaction rating.
func (m *Manager) Rate(ticketID int64, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating must be 1-5, got %d", rating)
	}
	return storage.DB.SetRating(ticketID, rating, comment)
}

// Delete hard-removes a ticket: thread (best effort), transcript and
// row.
func (m *Manager) Delete(ticketID int64) error {
	t, err := storage.DB.TicketByID(ticketID)
	if err != nil {
		return err
	}
	m.cancelDeferred(t.ID)

	if _, err := m.api.ChannelDelete(t.ThreadID); err != nil {
		log.Printf("[Tickets] Thread %s not deleted: %v", t.ThreadID, err)
	}
	if err := storage.DB.DeleteTicket(t.ID); err != nil {
		return err
	}
	m.emit(events.ActionDeleted, t.ID)
	log.Printf("[Tickets] Deleted ticket #%d", t.ID)
	return nil
}

// LiveTranscript renders the thread as it is right now, bypassing any
// stored transcript.
func (m *Manager) LiveTranscript(ticketID int64) (*Result, error) {
	t, err := storage.DB.TicketByID(ticketID)
	if err != nil {
		return nil, err
	}
	return m.gen.Generate(t), nil
}

func (m *Manager) transcriptURL(ticketID int64) string {
	base := strings.TrimRight(m.cfg.Discord.DashboardURL, "/")
	return fmt.Sprintf("%s/tickets/%d", base, ticketID)
}

// sendRich tries the components-v2 form first and falls back to plain
// text when the gateway rejects it.
func (m *Manager) sendRich(channelID string, rich *discordgo.MessageSend, plain string) {
	if _, err := m.api.ChannelMessageSendComplex(channelID, rich); err != nil {
		log.Printf("[Tickets] Rich message to %s failed, using fallback: %v", channelID, err)
		if _, err := m.api.ChannelMessageSend(channelID, plain); err != nil {
			log.Printf("[Tickets] Fallback message to %s failed: %v", channelID, err)
		}
	}
}

func containerMessage(accent int, components ...discordgo.MessageComponent) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Flags: discordgo.MessageFlagsIsComponentsV2,
		Components: []discordgo.MessageComponent{
			discordgo.Container{
				AccentColor: &accent,
				Components:  components,
			},
		},
	}
}
