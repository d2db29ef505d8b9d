package tickets

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-bot/config"
	"ticket-bot/events"
	"ticket-bot/storage"
)

// fakeAPI implements discordAPI in memory.
type fakeAPI struct {
	mu        sync.Mutex
	threadSeq int

	history map[string][]*discordgo.Message

	sentTo         []string
	plainSentTo    []string
	dmCreates      []string
	memberAdds     []string
	memberRemoves  []string
	edits          []string
	deletedThreads []string

	failDM   bool
	failRich bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{history: make(map[string][]*discordgo.Message)}
}

func (f *fakeAPI) ThreadStartComplex(channelID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadSeq++
	return &discordgo.Channel{ID: fmt.Sprintf("thread-%d", f.threadSeq), Name: data.Name, ParentID: channelID}, nil
}

func (f *fakeAPI) ThreadMemberAdd(threadID, memberID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberAdds = append(f.memberAdds, threadID+":"+memberID)
	return nil
}

func (f *fakeAPI) ThreadMemberRemove(threadID, memberID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberRemoves = append(f.memberRemoves, threadID+":"+memberID)
	return nil
}

func (f *fakeAPI) ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeAPI) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedThreads = append(f.deletedThreads, channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeAPI) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[channelID], nil
}

func (f *fakeAPI) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plainSentTo = append(f.plainSentTo, channelID)
	return &discordgo.Message{}, nil
}

func (f *fakeAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRich {
		return nil, errors.New("rich rejected")
	}
	f.sentTo = append(f.sentTo, channelID)
	return &discordgo.Message{}, nil
}

func (f *fakeAPI) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDM {
		return nil, errors.New("cannot DM this user")
	}
	f.dmCreates = append(f.dmCreates, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeAPI) GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	return []*discordgo.Member{
		{User: &discordgo.User{ID: "owner", Username: "owner"}},
	}, nil
}

func (f *fakeAPI) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	return &discordgo.User{ID: userID, Username: "user-" + userID}, nil
}

func (f *fakeAPI) UpdateStatusComplex(usd discordgo.UpdateStatusData) error { return nil }

func (f *fakeAPI) removeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.memberRemoves)
}

func (f *fakeAPI) dmCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dmCreates)
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

func setupManager(t *testing.T) (*Manager, *fakeAPI, *recordingSink) {
	t.Helper()

	db := &storage.SQLiteStore{Path: filepath.Join(t.TempDir(), "test.db")}
	require.NoError(t, db.Init())
	storage.DB = db
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Discord.GuildID = "guild"
	cfg.Discord.PanelChannel = "panel"
	cfg.Discord.ArchiveChannel = "archive"
	cfg.Discord.DashboardURL = "http://localhost:3003"
	cfg.Dashboard.UploadDir = t.TempDir()

	api := newFakeAPI()
	sink := &recordingSink{}
	m := NewManager(api, cfg, sink)
	m.grace = 20 * time.Millisecond
	return m, api, sink
}

func TestOpenCreatesTicket(t *testing.T) {
	m, api, sink := setupManager(t)

	ticket, err := m.Open("owner", "alice", "Webserver", "Downtime", "500 errors since noon")
	require.NoError(t, err)

	assert.Equal(t, "thread-1", ticket.ThreadID)
	assert.Equal(t, storage.StatusOpen, ticket.Status)
	assert.Equal(t, "Webserver", ticket.Product)

	stored, err := storage.DB.TicketByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "thread-1", stored.ThreadID)

	assert.Contains(t, api.memberAdds, "thread-1:owner")
	assert.Equal(t, []string{events.ActionCreated}, sink.actions())
}

func TestOpenRejectsSecondOpenTicket(t *testing.T) {
	m, _, _ := setupManager(t)

	first, err := m.Open("owner", "alice", "A", "B", "C")
	require.NoError(t, err)

	_, err = m.Open("owner", "alice", "X", "Y", "Z")
	var exists *ErrTicketExists
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, first.ThreadID, exists.ThreadID)

	all, err := storage.DB.Tickets()
	require.NoError(t, err)
	assert.Len(t, all, 1, "no second row may be inserted")
}

func TestOpenMaintenanceGate(t *testing.T) {
	m, _, _ := setupManager(t)
	require.NoError(t, storage.DB.SetSetting("maintenance", "true"))

	_, err := m.Open("owner", "alice", "A", "B", "C")
	assert.ErrorIs(t, err, ErrMaintenance)
}

func TestCloseProducesTranscriptAndFlipsStatus(t *testing.T) {
	m, api, sink := setupManager(t)

	ticket, err := m.Open("owner", "alice", "Webserver", "Downtime", "details")
	require.NoError(t, err)

	api.mu.Lock()
	api.history[ticket.ThreadID] = []*discordgo.Message{
		msgAt("1", "alice", "my server is down", time.Now().UTC()),
	}
	api.mu.Unlock()

	closed, err := m.CloseByThread(ticket.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	tr, err := storage.DB.TranscriptByTicket(ticket.ID)
	require.NoError(t, err)
	assert.Contains(t, tr.HTML, "my server is down")
	assert.Contains(t, tr.Text, "my server is down")

	assert.Contains(t, sink.actions(), events.ActionClosed)

	// The deferred grace task removes the owner and locks the thread.
	assert.Eventually(t, func() bool { return api.removeCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestCloseUnknownThread(t *testing.T) {
	m, _, _ := setupManager(t)

	_, err := m.CloseByThread("not-a-ticket-thread")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCloseRejectsClosedTicket(t *testing.T) {
	m, api, sink := setupManager(t)

	ticket, err := m.Open("owner", "alice", "A", "B", "C")
	require.NoError(t, err)

	_, err = m.CloseByThread(ticket.ThreadID)
	require.NoError(t, err)

	stored, err := storage.DB.TicketByID(ticket.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Close(stored), ErrAlreadyClosed)

	// The second attempt must have no side effects: no extra lifecycle
	// event, no second DM to the owner.
	closedEvents := 0
	for _, a := range sink.actions() {
		if a == events.ActionClosed {
			closedEvents++
		}
	}
	assert.Equal(t, 1, closedEvents)
	assert.Equal(t, 1, api.dmCount())
}

func TestCloseDropsDeferredEntryAfterFire(t *testing.T) {
	m, api, _ := setupManager(t)

	ticket, err := m.Open("owner", "alice", "A", "B", "C")
	require.NoError(t, err)
	_, err = m.CloseByThread(ticket.ThreadID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return api.removeCount() == 1 }, time.Second, 10*time.Millisecond)

	// Once the grace task has run its registration is gone, otherwise
	// the map would keep one entry per closed ticket forever.
	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.deferred) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCloseToleratesBlockedDMs(t *testing.T) {
	m, api, _ := setupManager(t)
	api.failDM = true

	ticket, err := m.Open("owner", "alice", "A", "B", "C")
	require.NoError(t, err)

	_, err = m.CloseByThread(ticket.ThreadID)
	require.NoError(t, err)

	stored, err := storage.DB.TicketByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusClosed, stored.Status)

	tr, err := storage.DB.TranscriptByTicket(ticket.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, tr.HTML)
}

func TestRichSendFallsBackToPlain(t *testing.T) {
	m, api, _ := setupManager(t)
	api.failRich = true

	_, err := m.Open("owner", "alice", "A", "B", "C")
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Contains(t, api.plainSentTo, "thread-1", "welcome must fall back to plain text")
}

func TestLifecycleRoundTrip(t *testing.T) {
	m, _, _ := setupManager(t)

	ticket, err := m.Open("owner", "alice", "A", "B", "C")
	require.NoError(t, err)

	_, err = m.CloseByThread(ticket.ThreadID)
	require.NoError(t, err)

	reopened, err := m.Reopen(ticket.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusOpen, reopened.Status)
	assert.NotEmpty(t, reopened.ThreadID)
	assert.Nil(t, reopened.ClosedAt)

	// The transcript from the close survives the reopen.
	tr, err := storage.DB.TranscriptByTicket(ticket.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, tr.HTML)
}

func TestReopenCancelsDeferredLock(t *testing.T) {
	m, api, _ := setupManager(t)
	m.grace = 200 * time.Millisecond

	ticket, err := m.Open("owner", "alice", "A", "B", "C")
	require.NoError(t, err)
	_, err = m.CloseByThread(ticket.ThreadID)
	require.NoError(t, err)

	_, err = m.Reopen(ticket.ID, "admin")
	require.NoError(t, err)

	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, api.removeCount(), "reopen must cancel the pending lock task")
}

func TestAssignAndSupporters(t *testing.T) {
	m, api, _ := setupManager(t)

	ticket, err := m.Open("owner", "alice", "A", "B", "C")
	require.NoError(t, err)

	require.NoError(t, m.Assign(ticket.ID, "supporter-1"))
	stored, err := storage.DB.TicketByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "supporter-1", stored.AssignedTo)
	assert.Contains(t, api.memberAdds, ticket.ThreadID+":supporter-1")

	require.NoError(t, m.AddSupporter(ticket.ID, "supporter-2"))
	require.NoError(t, m.AddSupporter(ticket.ID, "supporter-2"), "duplicate add is a no-op")
	stored, err = storage.DB.TicketByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"supporter-2"}, stored.Supporters)

	require.NoError(t, m.Assign(ticket.ID, ""), "unassign clears the field")
	stored, err = storage.DB.TicketByID(ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.AssignedTo)
}

func TestRenameRejectsBlank(t *testing.T) {
	m, _, _ := setupManager(t)

	ticket, err := m.Open("owner", "alice", "A", "B", "C")
	require.NoError(t, err)

	assert.ErrorIs(t, m.Rename(ticket.ID, "   "), ErrEmptyName)

	require.NoError(t, m.Rename(ticket.ID, "billing-issue"))
	stored, err := storage.DB.TicketByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "billing-issue", stored.ThreadName)
}

func TestDeleteRemovesEverything(t *testing.T) {
	m, api, _ := setupManager(t)

	ticket, err := m.Open("owner", "alice", "A", "B", "C")
	require.NoError(t, err)
	_, err = m.CloseByThread(ticket.ThreadID)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ticket.ID))

	_, err = storage.DB.TicketByID(ticket.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = storage.DB.TranscriptByTicket(ticket.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Contains(t, api.deletedThreads, ticket.ThreadID)
}

func TestRateBounds(t *testing.T) {
	m, _, _ := setupManager(t)

	ticket, err := m.Open("owner", "alice", "A", "B", "C")
	require.NoError(t, err)

	assert.Error(t, m.Rate(ticket.ID, 0, ""))
	assert.Error(t, m.Rate(ticket.ID, 6, ""))
	require.NoError(t, m.Rate(ticket.ID, 5, "great"))

	stored, err := storage.DB.TicketByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Rating)
	assert.Equal(t, "great", stored.RatingComment)
}
