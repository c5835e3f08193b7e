// Remote media metadata extraction, delegated to an external yt-dlp binary.
// The resolver treats a wholesale extraction failure as fatal for the import;
// the thumbnail fetch helper below is the only optional piece.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/naiad-media/naiad/pkg/logger"
)

var (
	log = logger.Get("Extractor")

	// ErrCannotFetchRemote wraps any failure to pull metadata for a remote
	// URL, surfaced synchronously to the import caller.
	ErrCannotFetchRemote = errors.New("cannot fetch remote information")
)

type (
	Config struct {
		// BinaryPath locates the yt-dlp (or compatible) executable.
		BinaryPath string `yaml:"binary_path" env:"EXTRACTOR_BIN" env-default:"yt-dlp"`
	}

	Subtitle struct {
		Language string
		URL      string
	}

	// RemoteInfo is everything the extractor learned about a remote media
	// URL. Fields the remote did not declare are left at their zero value;
	// the resolver merges them under explicit request fields and above hard
	// defaults.
	RemoteInfo struct {
		Name         string
		Description  string
		Category     *int
		Licence      *int
		Language     *string
		NSFW         bool
		Tags         []string
		ThumbnailURL string
		Subtitles    []Subtitle
		FileExt      string
	}

	// Extractor resolves a remote URL into RemoteInfo, or fails wholesale.
	Extractor interface {
		Extract(ctx context.Context, targetURL string) (*RemoteInfo, error)
	}

	ytdlExtractor struct {
		config Config
	}

	// ytdlOutput mirrors the subset of `yt-dlp --dump-json` output we
	// consume.
	ytdlOutput struct {
		Title       string                       `json:"title"`
		Description string                       `json:"description"`
		Ext         string                       `json:"ext"`
		Thumbnail   string                       `json:"thumbnail"`
		Tags        []string                     `json:"tags"`
		AgeLimit    int                          `json:"age_limit"`
		Language    string                       `json:"language"`
		Subtitles   map[string][]ytdlSubtitleAlt `json:"subtitles"`
	}

	ytdlSubtitleAlt struct {
		URL string `json:"url"`
		Ext string `json:"ext"`
	}
)

func New(config Config) Extractor {
	return &ytdlExtractor{config: config}
}

func (ext *ytdlExtractor) Extract(ctx context.Context, targetURL string) (*RemoteInfo, error) {
	cmd := exec.CommandContext(ctx, ext.config.BinaryPath, "--dump-json", "--no-playlist", targetURL)
	stdout, err := cmd.Output()
	if err != nil {
		log.Warnf("Extractor run against %s failed: %s\n", targetURL, err.Error())
		return nil, fmt.Errorf("%w: %s", ErrCannotFetchRemote, err.Error())
	}

	var output ytdlOutput
	if err := json.Unmarshal(stdout, &output); err != nil {
		return nil, fmt.Errorf("%w: malformed extractor output: %s", ErrCannotFetchRemote, err.Error())
	}

	info := RemoteInfo{
		Name:         output.Title,
		Description:  output.Description,
		NSFW:         output.AgeLimit >= 18,
		Tags:         output.Tags,
		ThumbnailURL: output.Thumbnail,
		FileExt:      output.Ext,
	}
	if output.Language != "" {
		lang := output.Language
		info.Language = &lang
	}

	info.Subtitles = collectSubtitles(output.Subtitles)

	return &info, nil
}

// collectSubtitles picks one alternative per language: the vtt rendition when
// the remote offers one, the first listed otherwise.
func collectSubtitles(declared map[string][]ytdlSubtitleAlt) []Subtitle {
	var subtitles []Subtitle
	for language, alternatives := range declared {
		if len(alternatives) == 0 {
			continue
		}

		chosen := alternatives[0]
		for _, alt := range alternatives {
			if alt.Ext == "vtt" {
				chosen = alt
				break
			}
		}

		subtitles = append(subtitles, Subtitle{Language: language, URL: chosen.URL})
	}

	return subtitles
}
