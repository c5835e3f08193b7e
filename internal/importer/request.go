package importer

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/moderation"
	"github.com/naiad-media/naiad/internal/video"
)

// SourceKind is the tagged variant describing where an import pulls its
// media from. Every switch over it must be exhaustive: adding a kind means
// adding an arm at resolution time AND at job-payload construction time.
type SourceKind int

const (
	SourceTorrentFile SourceKind = iota + 1
	SourceMagnetURI
	SourceRemoteURL
)

var (
	// ErrAmbiguousSource is raised when a request names zero or multiple
	// sources; nothing is created in that case.
	ErrAmbiguousSource = errors.New("exactly one of torrent file, magnet URI or target URL must be provided")
)

type (
	// Request carries one import ask: exactly one source, the target
	// channel, and any explicit descriptor fields. Explicit fields beat
	// extractor-provided values, which beat hard defaults.
	Request struct {
		ChannelID uuid.UUID `validate:"required"`
		Requester moderation.Requester

		// Source variant: exactly one must be set.
		TorrentFilePath     string
		TorrentOriginalName string
		MagnetURI           string
		TargetURL           string `validate:"omitempty,url"`

		Name                  *string `validate:"omitempty,min=1,max=120"`
		Description           *string
		Category              *int
		Licence               *int
		Language              *string
		NSFW                  *bool
		Privacy               *video.Privacy
		WaitTranscoding       *bool
		CommentsEnabled       *bool
		DownloadEnabled       *bool
		Support               *string
		OriginallyPublishedAt *time.Time
		Tags                  []string `validate:"max=5,dive,min=1,max=30"`

		// Optional uploaded thumbnail artifacts, already on local disk.
		ThumbnailPath string
		PreviewPath   string
	}
)

// sourceKind asserts the mutual-exclusivity invariant and returns the single
// declared source.
func (request *Request) sourceKind() (SourceKind, error) {
	declared := 0
	var kind SourceKind
	if request.TorrentFilePath != "" {
		declared++
		kind = SourceTorrentFile
	}
	if request.MagnetURI != "" {
		declared++
		kind = SourceMagnetURI
	}
	if request.TargetURL != "" {
		declared++
		kind = SourceRemoteURL
	}

	if declared != 1 {
		return 0, ErrAmbiguousSource
	}

	return kind, nil
}

func (request *Request) validate(validate *validator.Validate) error {
	if _, err := request.sourceKind(); err != nil {
		return err
	}

	return validate.Struct(request)
}
