package lang

import (
	"log"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	mu       sync.RWMutex
	messages map[string]string
)

// Load reads a yaml string table of the form
//
//	active_language: de
//	de: { key: text, ... }
//	en: { key: text, ... }
//
// Missing files leave an empty table; T falls back to {key} markers so
// the bot stays usable even without translations.
func Load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[lang] Could not read %s: %v — using empty translations", path, err)
		setMessages(map[string]string{})
		return
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		log.Fatalf("[lang] Failed to parse %s: %v", path, err)
	}

	active := "en"
	if v, ok := raw["active_language"].(string); ok && v != "" {
		active = v
	}

	block, ok := raw[active].(map[string]interface{})
	if !ok {
		log.Printf("[lang] Language %q not found in %s — falling back to \"en\"", active, path)
		block, ok = raw["en"].(map[string]interface{})
		if !ok {
			log.Printf("[lang] Fallback \"en\" also missing — using empty translations")
			setMessages(map[string]string{})
			return
		}
		active = "en"
	}

	m := make(map[string]string, len(block))
	for k, v := range block {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}
	setMessages(m)
	log.Printf("[lang] Loaded language %q (%d keys)", active, len(m))
}

func setMessages(m map[string]string) {
	mu.Lock()
	messages = m
	mu.Unlock()
}

// T returns the string for key with {placeholder} pairs substituted.
// Unknown keys render as {key} so they are visible in chat rather than
// silently blank.
func T(key string, pairs ...string) string {
	mu.RLock()
	s, ok := messages[key]
	mu.RUnlock()

	if !ok {
		return "{" + key + "}"
	}
	for j := 0; j+1 < len(pairs); j += 2 {
		s = strings.ReplaceAll(s, "{"+pairs[j]+"}", pairs[j+1])
	}
	return s
}
