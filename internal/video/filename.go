package video

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateFilename derives the canonical on-disk filename for a rendition of
// the given video. It is a pure function of its three inputs: the same video
// identity, resolution and extension always yield the same name, which keeps
// file moves idempotent across retried transactions.
func GenerateFilename(videoID uuid.UUID, resolution int, extension string) string {
	ext := strings.TrimPrefix(extension, ".")
	return fmt.Sprintf("%s-%d.%s", videoID, resolution, ext)
}

// GenerateTorrentFilename derives the canonical name for the torrent artifact
// describing a rendition. Deterministic for the same reasons as GenerateFilename.
func GenerateTorrentFilename(videoID uuid.UUID, resolution int) string {
	return fmt.Sprintf("%s-%d.torrent", videoID, resolution)
}
