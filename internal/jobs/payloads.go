package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type JobType string

const (
	TypeTranscode     JobType = "video-transcode"
	TypeImportTorrent JobType = "video-import-torrent"
	TypeImportMagnet  JobType = "video-import-magnet"
	TypeImportURL     JobType = "video-import-url"
)

type (
	// Envelope is the wire form of a queued job: a generated handle, the
	// payload variant discriminator, and the serialised payload itself.
	Envelope struct {
		ID      uuid.UUID       `json:"id"`
		Type    JobType         `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	// TranscodePayload instructs the external transcoding worker to produce
	// renditions for a freshly uploaded video.
	TranscodePayload struct {
		VideoID uuid.UUID `json:"video_id"`
		IsNew   bool      `json:"is_new"`
	}

	// ImportTorrentPayload carries the stored torrent container name; the
	// worker re-reads the container from canonical storage.
	ImportTorrentPayload struct {
		ImportID    uuid.UUID `json:"import_id"`
		TorrentName string    `json:"torrent_name"`
	}

	// ImportMagnetPayload carries the raw magnet URI.
	ImportMagnetPayload struct {
		ImportID  uuid.UUID `json:"import_id"`
		MagnetURI string    `json:"magnet_uri"`
	}

	// ImportURLPayload carries the remote target plus the container
	// extension the extractor inferred, so the worker can name the
	// downloaded file without re-probing the remote.
	ImportURLPayload struct {
		ImportID  uuid.UUID `json:"import_id"`
		TargetURL string    `json:"target_url"`
		FileExt   string    `json:"file_ext"`
	}
)

func newEnvelope(jobType JobType, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialise %s payload: %w", jobType, err)
	}

	return &Envelope{ID: uuid.New(), Type: jobType, Payload: raw}, nil
}
