package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type captureSink struct {
	got []Event
}

func (c *captureSink) Publish(e Event) { c.got = append(c.got, e) }

func TestMultiFansOut(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}

	sinks := Multi{a, b, nil}
	sinks.Publish(Event{Action: ActionCreated, TicketID: 7})

	assert.Equal(t, []Event{{Action: ActionCreated, TicketID: 7}}, a.got)
	assert.Equal(t, []Event{{Action: ActionCreated, TicketID: 7}}, b.got)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard{}.Publish(Event{Action: ActionDeleted, TicketID: 1})
	})
}
