package voice

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// GenerateTTS fetches spoken audio for text from the Google Translate
// TTS endpoint and writes it to dest. Used to seed the announcement
// file when none is shipped with the deployment.
func GenerateTTS(text, lang, dest string) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", lang)
	q.Set("q", text)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get("https://translate.google.com/translate_tts?" + q.Encode())
	if err != nil {
		return fmt.Errorf("tts fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tts fetch: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	return nil
}
