package lang

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLangFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadActiveLanguage(t *testing.T) {
	path := writeLangFile(t, `
active_language: de
de:
  greet: "Hallo {name}!"
en:
  greet: "Hello {name}!"
`)
	Load(path)

	assert.Equal(t, "Hallo Welt!", T("greet", "name", "Welt"))
}

func TestLoadFallsBackToEnglish(t *testing.T) {
	path := writeLangFile(t, `
active_language: fr
en:
  greet: "Hello!"
`)
	Load(path)

	assert.Equal(t, "Hello!", T("greet"))
}

func TestUnknownKeyRendersMarker(t *testing.T) {
	Load(writeLangFile(t, "en:\n  known: \"yes\"\n"))

	assert.Equal(t, "{missing.key}", T("missing.key"))
}

func TestMissingFileLeavesEmptyTable(t *testing.T) {
	Load(filepath.Join(t.TempDir(), "nope.yml"))

	assert.Equal(t, "{any}", T("any"))
}

func TestMultiplePlaceholders(t *testing.T) {
	Load(writeLangFile(t, "en:\n  msg: \"{a} and {b} and {a}\"\n"))

	assert.Equal(t, "1 and 2 and 1", T("msg", "a", "1", "b", "2"))
}
