package tickets

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9.\-]`)

// Archiver downloads message attachments into the local upload
// directory so transcripts keep working after the CDN links expire.
type Archiver struct {
	BaseDir string
	Client  *http.Client
}

func NewArchiver(baseDir string) *Archiver {
	return &Archiver{
		BaseDir: baseDir,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Save downloads url into BaseDir/tickets/<ticketID>/ under a
// sanitized filename and returns the web path the dashboard serves it
// from.
func (a *Archiver) Save(ticketID int64, name, url string) (string, error) {
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	safe := unsafeFilenameChars.ReplaceAllString(name, "_")
	if safe == "" {
		safe = "attachment"
	}
	id := strconv.FormatInt(ticketID, 10)

	dir := filepath.Join(a.BaseDir, "tickets", id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	f, err := os.Create(filepath.Join(dir, safe))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", err
	}

	return "/uploads/tickets/" + id + "/" + safe, nil
}
