package tickets

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeLookup map[string]string

func (f fakeLookup) DisplayName(userID string) (string, error) {
	if name, ok := f[userID]; ok {
		return name, nil
	}
	return "", errors.New("unknown member")
}

func TestResolveMentionsCollectsAcrossFragments(t *testing.T) {
	lookup := fakeLookup{"1": "alice", "2": "bob"}
	names := ResolveMentions([]string{"hi <@1>", "and <@!2> again <@1>"}, lookup)

	assert.Equal(t, map[string]string{"1": "alice", "2": "bob"}, names)
}

func TestResolveMentionsIsolatesFailures(t *testing.T) {
	lookup := fakeLookup{"2": "bob"}
	names := ResolveMentions([]string{"<@1> <@2> <@3>"}, lookup)

	assert.Equal(t, map[string]string{"2": "bob"}, names)
}

func TestSubstituteMentions(t *testing.T) {
	names := map[string]string{"1": "alice"}

	assert.Equal(t, "hi @alice!", SubstituteMentions("hi <@1>!", names))
	assert.Equal(t, "hi @alice!", SubstituteMentions("hi <@!1>!", names))
}

func TestSubstituteMentionsNoMentionsUnchanged(t *testing.T) {
	in := "plain text with <#123> and <@> but no user mention"
	assert.Equal(t, in, SubstituteMentions(in, map[string]string{"1": "alice"}))
}

func TestSubstituteMentionsUnresolvedByteIdentical(t *testing.T) {
	in := "ping <@42> and <@!42>"
	assert.Equal(t, in, SubstituteMentions(in, nil))
}
