package tickets

import (
	"encoding/json"
	"html"
	"strings"
)

// Component type markers as they appear on the wire.
const (
	componentButton      = 2
	componentSection     = 9
	componentTextDisplay = 10
	componentContainer   = 17
)

// ComponentNode is the decoded shape of one rich-message component.
// The field set is the union over containers, sections, text displays
// and buttons; unknown node types still keep their children so nothing
// nested inside them is dropped.
type ComponentNode struct {
	Type       int             `json:"type"`
	Content    string          `json:"content,omitempty"`
	Label      string          `json:"label,omitempty"`
	Accessory  *ComponentNode  `json:"accessory,omitempty"`
	Components []ComponentNode `json:"components,omitempty"`
}

// FirstContainer decodes a message's component list and returns the
// first top-level container together with its raw JSON form. The raw
// form is the unmodified wire element, not a re-marshal of the decoded
// node, so fields outside the modeled set (accent colors, media,
// spacing) survive into the persisted transcript for re-rendering.
func FirstContainer(components interface{}) (*ComponentNode, json.RawMessage) {
	data, err := json.Marshal(components)
	if err != nil {
		return nil, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, nil
	}
	for _, elem := range elems {
		var head struct {
			Type int `json:"type"`
		}
		if err := json.Unmarshal(elem, &head); err != nil || head.Type != componentContainer {
			continue
		}
		var node ComponentNode
		if err := json.Unmarshal(elem, &node); err != nil {
			return nil, nil
		}
		return &node, elem
	}
	return nil, nil
}

// FlattenText walks the tree and concatenates all textual content,
// one line per piece. Button labels show up as bracketed annotations.
func FlattenText(node *ComponentNode, names map[string]string) string {
	var b strings.Builder
	flattenText(node, names, &b)
	return b.String()
}

func flattenText(node *ComponentNode, names map[string]string, b *strings.Builder) {
	if node == nil {
		return
	}
	for i := range node.Components {
		flattenText(&node.Components[i], names, b)
	}
	if node.Content != "" {
		b.WriteString(SubstituteMentions(node.Content, names))
		b.WriteString("\n")
	}
	if node.Label != "" {
		b.WriteString("[" + node.Label + "]\n")
	}
	if node.Accessory != nil && node.Accessory.Label != "" {
		b.WriteString("[" + node.Accessory.Label + "]\n")
	}
}

// FlattenHTML renders the tree as nested HTML. Child lists become
// bordered blocks so the nesting stays visible in the transcript.
func FlattenHTML(node *ComponentNode, names map[string]string) string {
	var b strings.Builder
	flattenHTML(node, names, &b)
	return b.String()
}

func flattenHTML(node *ComponentNode, names map[string]string, b *strings.Builder) {
	if node == nil {
		return
	}
	if len(node.Components) > 0 {
		b.WriteString(`<div class="component-block">`)
		for i := range node.Components {
			flattenHTML(&node.Components[i], names, b)
		}
		b.WriteString(`</div>`)
	}
	if node.Content != "" {
		text := html.EscapeString(SubstituteMentions(node.Content, names))
		b.WriteString(`<p>` + strings.ReplaceAll(text, "\n", "<br>") + `</p>`)
	}
	if node.Label != "" {
		b.WriteString(`<span class="component-button">` + html.EscapeString(node.Label) + `</span>`)
	}
	if node.Accessory != nil && node.Accessory.Label != "" {
		b.WriteString(`<span class="component-button">` + html.EscapeString(node.Accessory.Label) + `</span>`)
	}
}
