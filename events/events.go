package events

// Event is one ticket lifecycle notification. Consumers use it to
// refresh their view of the ticket list, not as a data carrier.
type Event struct {
	Action   string `json:"action"`
	TicketID int64  `json:"ticketId"`
}

const (
	ActionCreated = "created"
	ActionClosed  = "closed"
	ActionReopen  = "reopened"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// Sink receives lifecycle events. Implementations log their own
// failures; publishing never reports back to the lifecycle path.
type Sink interface {
	Publish(e Event)
}

// Multi fans one event out to several sinks.
type Multi []Sink

func (m Multi) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

// Discard drops everything. Used when no sink is configured.
type Discard struct{}

func (Discard) Publish(Event) {}
