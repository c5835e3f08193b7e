package extractor

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var fetchClient = &http.Client{Timeout: time.Second * 30}

// FetchToFile downloads the resource at url into dst. Used for the optional
// thumbnail/preview fallback and for subtitle imports; callers decide whether
// a failure is fatal.
func FetchToFile(url string, dst string) error {
	resp, err := fetchClient.Get(url)
	if err != nil {
		return fmt.Errorf("fetch of '%s' failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch of '%s' failed with status %d", url, resp.StatusCode)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}

	return out.Close()
}
