package tickets

import "regexp"

var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// MemberLookup resolves a user id to a display name.
type MemberLookup interface {
	DisplayName(userID string) (string, error)
}

// ResolveMentions scans every fragment for user mentions and resolves
// each distinct id exactly once, returning an id to display-name map.
// Ids that fail to resolve are left out of the map so the original
// mention text survives rendering untouched.
func ResolveMentions(fragments []string, lookup MemberLookup) map[string]string {
	seen := make(map[string]bool)
	var ids []string
	for _, frag := range fragments {
		for _, match := range mentionPattern.FindAllStringSubmatch(frag, -1) {
			id := match[1]
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	names := make(map[string]string, len(ids))
	for _, id := range ids {
		name, err := lookup.DisplayName(id)
		if err != nil {
			continue
		}
		names[id] = name
	}
	return names
}

// SubstituteMentions rewrites resolved mentions as "@name". Mentions
// without an entry in names pass through byte-identical.
func SubstituteMentions(s string, names map[string]string) string {
	return mentionPattern.ReplaceAllStringFunc(s, func(m string) string {
		id := mentionPattern.FindStringSubmatch(m)[1]
		if name, ok := names[id]; ok {
			return "@" + name
		}
		return m
	})
}
