// The artifact pipeline derives everything a media file needs before it can
// be committed to the catalog: technical metadata (resolution, frame rate,
// duration), and the miniature/preview thumbnail pair.
package artifact

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/video"
	"github.com/naiad-media/naiad/pkg/logger"
)

var log = logger.Get("Artifacts")

type (
	// TechnicalMetadata is the probed description of a single media file.
	// AudioOnly media carries the sentinel resolution and no frame rate.
	TechnicalMetadata struct {
		AudioOnly  bool
		Resolution int
		FPS        *int
		Duration   int
		Raw        []byte
	}

	// ThumbnailSource describes one thumbnail slot request: an optional
	// uploaded file, and a fallback generator invoked when no upload is
	// present. The generator is caller-supplied; the upload path uses
	// "derive a frame from the media" while the remote import path uses
	// "fetch from the extractor-provided URL" - FallbackOrigin records
	// which of the two produced the artifact.
	ThumbnailSource struct {
		Kind           video.ThumbnailKind
		UploadedPath   string
		Fallback       func() (string, error)
		FallbackOrigin video.ThumbnailOrigin
	}

	Pipeline struct {
		prober Prober
	}
)

func NewPipeline(prober Prober) *Pipeline {
	return &Pipeline{prober: prober}
}

// ComputeTechnicalMetadata probes the file at the given path. A probe failure
// is fatal for the file: without resolution the canonical filename cannot be
// generated.
func (pipeline *Pipeline) ComputeTechnicalMetadata(path string) (*TechnicalMetadata, error) {
	metadata, err := pipeline.prober.Probe(path)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to serialise probe output for '%s': %w", path, err)
	}

	output := TechnicalMetadata{Raw: raw}
	output.Duration = parseDurationSeconds(metadata.GetFormat().GetDuration())

	for _, stream := range metadata.GetStreams() {
		if stream.GetCodecType() != "video" {
			continue
		}

		output.Resolution = stream.GetHeight()
		if fps := parseFrameRate(stream.GetAvgFrameRate()); fps != nil {
			output.FPS = fps
		}

		return &output, nil
	}

	// No video stream at all: this is audio-only media, which is recorded
	// with a fixed sentinel resolution and no frame rate.
	output.AudioOnly = true
	output.Resolution = video.AudioOnlyResolution
	output.FPS = nil

	return &output, nil
}

// BuildThumbnails resolves each requested slot, preferring the uploaded file
// and falling back to the slots generator. A fallback failure leaves that
// slot empty; it never aborts the caller.
func (pipeline *Pipeline) BuildThumbnails(videoID uuid.UUID, sources []ThumbnailSource) []*video.Thumbnail {
	results := make([]*video.Thumbnail, 0, len(sources))
	for _, source := range sources {
		if thumb := resolveThumbnailSlot(videoID, source); thumb != nil {
			results = append(results, thumb)
		}
	}

	return results
}

func resolveThumbnailSlot(videoID uuid.UUID, source ThumbnailSource) *video.Thumbnail {
	if source.UploadedPath != "" {
		return &video.Thumbnail{
			ID:      uuid.New(),
			VideoID: videoID,
			Kind:    source.Kind,
			Origin:  video.ThumbnailOriginUploaded,
			Path:    source.UploadedPath,
		}
	}

	if source.Fallback == nil {
		return nil
	}

	path, err := source.Fallback()
	if err != nil {
		log.Warnf("Thumbnail fallback for slot %d failed (slot left empty): %s\n", source.Kind, err.Error())
		return nil
	}

	origin := source.FallbackOrigin
	if origin == 0 {
		origin = video.ThumbnailOriginGenerated
	}

	return &video.Thumbnail{
		ID:                     uuid.New(),
		VideoID:                videoID,
		Kind:                   source.Kind,
		Origin:                 origin,
		Path:                   path,
		AutomaticallyGenerated: true,
	}
}

// parseFrameRate converts an ffprobe rational frame rate ("30000/1001") to
// a rounded integer FPS. Nil is returned for malformed or zero rates.
func parseFrameRate(rate string) *int {
	numerator, denominator, found := strings.Cut(rate, "/")
	if !found {
		return nil
	}

	num, errN := strconv.ParseFloat(numerator, 64)
	den, errD := strconv.ParseFloat(denominator, 64)
	if errN != nil || errD != nil || den == 0 || num == 0 {
		return nil
	}

	fps := int(num/den + 0.5)
	return &fps
}

func parseDurationSeconds(duration string) int {
	seconds, err := strconv.ParseFloat(duration, 64)
	if err != nil {
		return 0
	}

	return int(seconds)
}
