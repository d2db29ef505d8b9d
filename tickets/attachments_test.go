package tickets

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiverSavesAndSanitizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file body"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	a := NewArchiver(dir)

	got, err := a.Save(42, "weird name (1)!.log", srv.URL+"/file")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/tickets/42/weird_name__1__.log", got)

	data, err := os.ReadFile(filepath.Join(dir, "tickets", "42", "weird_name__1__.log"))
	require.NoError(t, err)
	assert.Equal(t, "file body", string(data))
}

func TestArchiverReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewArchiver(t.TempDir())
	_, err := a.Save(1, "x.txt", srv.URL+"/gone")
	assert.Error(t, err)
}

func TestArchiverReportsConnectionFailure(t *testing.T) {
	a := NewArchiver(t.TempDir())
	_, err := a.Save(1, "x.txt", "http://127.0.0.1:1/nope")
	assert.Error(t, err)
}
