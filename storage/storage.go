package storage

import (
	"errors"
	"fmt"
	"time"

	"ticket-bot/config"
)

var DB Store

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateOpen is returned when inserting a ticket would violate
	// the one-open-ticket-per-user constraint.
	ErrDuplicateOpen = errors.New("user already has an open ticket")
)

// Ticket is one support request, backed by a private discussion thread.
type Ticket struct {
	ID              int64      `json:"id" bson:"id"`
	ThreadID        string     `json:"channel_id" bson:"channel_id"`
	UserID          string     `json:"user_id" bson:"user_id"`
	Status          string     `json:"status" bson:"status"`
	Product         string     `json:"product" bson:"product"`
	Topic           string     `json:"topic" bson:"topic"`
	Details         string     `json:"issue_details" bson:"issue_details"`
	ParentChannelID string     `json:"parent_channel_id" bson:"parent_channel_id"`
	AssignedTo      string     `json:"assigned_to" bson:"assigned_to"`
	Supporters      []string   `json:"supporters" bson:"supporters"`
	Tags            []string   `json:"tags" bson:"tags"`
	ThreadName      string     `json:"thread_name" bson:"thread_name"`
	Rating          int        `json:"rating" bson:"rating"`
	RatingComment   string     `json:"rating_comment" bson:"rating_comment"`
	CreatedAt       time.Time  `json:"created_at" bson:"created_at"`
	ClosedAt        *time.Time `json:"closed_at" bson:"closed_at"`
}

const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Transcript is the durable rendering of a closed ticket, one row per
// ticket, overwritten if regenerated.
type Transcript struct {
	TicketID  int64     `json:"ticket_id" bson:"ticket_id"`
	HTML      string    `json:"html_content" bson:"html_content"`
	JSON      string    `json:"json_content" bson:"json_content"`
	Text      string    `json:"text_content" bson:"text_content"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type Stats struct {
	Total       int `json:"total"`
	Open        int `json:"open"`
	ClosedToday int `json:"closedToday"`
}

// Default bot settings, seeded lazily on init.
var defaultSettings = map[string]string{
	"maintenance":       "false",
	"bot_status":        "online",
	"bot_activity":      "Support Tickets 🎫",
	"bot_activity_type": "PLAYING",
}

type Store interface {
	Init() error
	Close() error

	// CreateTicket inserts t with status open and fills t.ID and
	// t.CreatedAt. Returns ErrDuplicateOpen if the user already has an
	// open ticket (enforced by a uniqueness constraint, not just the
	// caller's read-first check).
	CreateTicket(t *Ticket) error
	TicketByID(id int64) (*Ticket, error)
	TicketByThread(threadID string) (*Ticket, error)
	OpenTicketByUser(userID string) (*Ticket, error)
	Tickets() ([]Ticket, error)
	TicketsByUser(userID string) ([]Ticket, error)

	CloseTicket(id int64, closedAt time.Time) error
	ReopenTicket(id int64) error
	UpdateThreadID(id int64, threadID string) error
	AssignTicket(id int64, supporterID string) error
	SetSupporters(id int64, supporters []string) error
	SetTags(id int64, tags []string) error
	SetThreadName(id int64, name string) error
	SetRating(id int64, rating int, comment string) error

	// DeleteTicket removes the ticket row and its transcript.
	DeleteTicket(id int64) error

	SaveTranscript(tr *Transcript) error
	TranscriptByTicket(ticketID int64) (*Transcript, error)

	Setting(key string) (string, error)
	SetSetting(key, value string) error
	Settings() (map[string]string, error)

	Stats() (Stats, error)
}

func InitDB(cfg *config.DatabaseConfig) error {
	switch cfg.Driver {
	case "sqlite":
		db := &SQLiteStore{Path: cfg.SQLite.Path}
		if err := db.Init(); err != nil {
			return err
		}
		DB = db
		return nil

	case "mongodb":
		db := &MongoStore{URI: cfg.MongoDB.URI, DBName: cfg.MongoDB.Database}
		if err := db.Init(); err != nil {
			return err
		}
		DB = db
		return nil

	default:
		return fmt.Errorf("unsupported database driver: %s (use \"sqlite\" or \"mongodb\")", cfg.Driver)
	}
}
