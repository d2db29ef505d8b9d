package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type MongoStore struct {
	URI    string
	DBName string

	client      *mongo.Client
	tickets     *mongo.Collection
	transcripts *mongo.Collection
	settings    *mongo.Collection
	counters    *mongo.Collection
}

func (m *MongoStore) Init() error {
	if m.URI == "" || m.DBName == "" {
		return fmt.Errorf("database.mongodb.uri and database.mongodb.database must be set to use driver=mongodb")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(m.URI))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	m.client = client

	db := client.Database(m.DBName)
	m.tickets = db.Collection("tickets")
	m.transcripts = db.Collection("transcripts")
	m.settings = db.Collection("bot_settings")
	m.counters = db.Collection("counters")

	m.tickets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	m.tickets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "channel_id", Value: 1}},
	})
	// Partial unique index: the one-open-ticket-per-user backstop.
	m.tickets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).
			SetPartialFilterExpression(bson.M{"status": StatusOpen}),
	})
	m.transcripts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "ticket_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	m.settings.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	for key, value := range defaultSettings {
		m.settings.UpdateOne(ctx,
			bson.M{"key": key},
			bson.M{"$setOnInsert": bson.M{"key": key, "value": value}},
			options.UpdateOne().SetUpsert(true),
		)
	}

	log.Printf("[DB] MongoDB initialised (%s/%s)", m.URI, m.DBName)
	return nil
}

func (m *MongoStore) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (m *MongoStore) nextTicketID(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "tickets"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (m *MongoStore) CreateTicket(t *Ticket) error {
	ctx, cancel := opCtx()
	defer cancel()

	id, err := m.nextTicketID(ctx)
	if err != nil {
		return err
	}
	t.ID = id
	t.Status = StatusOpen
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	if _, err := m.tickets.InsertOne(ctx, t); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateOpen
		}
		return err
	}
	return nil
}

func (m *MongoStore) findTicket(filter bson.M) (*Ticket, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var t Ticket
	err := m.tickets.FindOne(ctx, filter).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (m *MongoStore) TicketByID(id int64) (*Ticket, error) {
	return m.findTicket(bson.M{"id": id})
}

func (m *MongoStore) TicketByThread(threadID string) (*Ticket, error) {
	return m.findTicket(bson.M{"channel_id": threadID})
}

func (m *MongoStore) OpenTicketByUser(userID string) (*Ticket, error) {
	return m.findTicket(bson.M{"user_id": userID, "status": StatusOpen})
}

func (m *MongoStore) findTickets(filter bson.M) ([]Ticket, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cursor, err := m.tickets.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "id", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var tickets []Ticket
	return tickets, cursor.All(ctx, &tickets)
}

func (m *MongoStore) Tickets() ([]Ticket, error) {
	return m.findTickets(bson.M{})
}

func (m *MongoStore) TicketsByUser(userID string) ([]Ticket, error) {
	return m.findTickets(bson.M{"user_id": userID})
}

func (m *MongoStore) updateTicket(id int64, update bson.M) error {
	ctx, cancel := opCtx()
	defer cancel()

	res, err := m.tickets.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateOpen
		}
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) CloseTicket(id int64, closedAt time.Time) error {
	return m.updateTicket(id, bson.M{"$set": bson.M{"status": StatusClosed, "closed_at": closedAt.UTC()}})
}

func (m *MongoStore) ReopenTicket(id int64) error {
	return m.updateTicket(id, bson.M{"$set": bson.M{"status": StatusOpen, "closed_at": nil}})
}

func (m *MongoStore) UpdateThreadID(id int64, threadID string) error {
	return m.updateTicket(id, bson.M{"$set": bson.M{"channel_id": threadID}})
}

func (m *MongoStore) AssignTicket(id int64, supporterID string) error {
	return m.updateTicket(id, bson.M{"$set": bson.M{"assigned_to": supporterID}})
}

func (m *MongoStore) SetSupporters(id int64, supporters []string) error {
	return m.updateTicket(id, bson.M{"$set": bson.M{"supporters": supporters}})
}

func (m *MongoStore) SetTags(id int64, tags []string) error {
	return m.updateTicket(id, bson.M{"$set": bson.M{"tags": tags}})
}

func (m *MongoStore) SetThreadName(id int64, name string) error {
	return m.updateTicket(id, bson.M{"$set": bson.M{"thread_name": name}})
}

func (m *MongoStore) SetRating(id int64, rating int, comment string) error {
	return m.updateTicket(id, bson.M{"$set": bson.M{"rating": rating, "rating_comment": comment}})
}

func (m *MongoStore) DeleteTicket(id int64) error {
	ctx, cancel := opCtx()
	defer cancel()

	if _, err := m.transcripts.DeleteOne(ctx, bson.M{"ticket_id": id}); err != nil {
		return err
	}
	_, err := m.tickets.DeleteOne(ctx, bson.M{"id": id})
	return err
}

func (m *MongoStore) SaveTranscript(tr *Transcript) error {
	ctx, cancel := opCtx()
	defer cancel()

	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	_, err := m.transcripts.ReplaceOne(ctx,
		bson.M{"ticket_id": tr.TicketID},
		tr,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (m *MongoStore) TranscriptByTicket(ticketID int64) (*Transcript, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var tr Transcript
	err := m.transcripts.FindOne(ctx, bson.M{"ticket_id": ticketID}).Decode(&tr)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func (m *MongoStore) Setting(key string) (string, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var doc struct {
		Value string `bson:"value"`
	}
	err := m.settings.FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", ErrNotFound
	}
	return doc.Value, err
}

func (m *MongoStore) SetSetting(key, value string) error {
	ctx, cancel := opCtx()
	defer cancel()

	_, err := m.settings.UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"key": key, "value": value}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (m *MongoStore) Settings() (map[string]string, error) {
	ctx, cancel := opCtx()
	defer cancel()

	cursor, err := m.settings.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	settings := make(map[string]string)
	for cursor.Next(ctx) {
		var doc struct {
			Key   string `bson:"key"`
			Value string `bson:"value"`
		}
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		settings[doc.Key] = doc.Value
	}
	return settings, cursor.Err()
}

func (m *MongoStore) Stats() (Stats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var st Stats
	total, err := m.tickets.CountDocuments(ctx, bson.M{})
	if err != nil {
		return st, err
	}
	open, err := m.tickets.CountDocuments(ctx, bson.M{"status": StatusOpen})
	if err != nil {
		return st, err
	}
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	closedToday, err := m.tickets.CountDocuments(ctx, bson.M{
		"status":    StatusClosed,
		"closed_at": bson.M{"$gte": dayStart},
	})
	if err != nil {
		return st, err
	}
	st.Total = int(total)
	st.Open = int(open)
	st.ClosedToday = int(closedToday)
	return st, nil
}
