package artifact

import (
	"fmt"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
)

// Prober abstracts ffprobe so the pipeline can be exercised without media
// files on disk.
type Prober interface {
	Probe(path string) (transcoder.Metadata, error)
}

type FfprobeProber struct {
	FfmpegBinPath  string
	FfprobeBinPath string
}

func (p *FfprobeProber) Probe(path string) (transcoder.Metadata, error) {
	metadata, err := ffmpeg.New(p.config()).Input(path).GetMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to extract file metadata information using ffprobe: %s", err.Error())
	}

	return metadata, nil
}

// GrabFrame captures a single still from src one second in, writing it to
// dst. Used as the generated-thumbnail fallback when no artwork was uploaded.
func (p *FfprobeProber) GrabFrame(src string, dst string) error {
	seekTime := "00:00:01"
	frames := 1
	opts := ffmpeg.Options{SeekTime: &seekTime, Vframes: &frames}

	progress, err := ffmpeg.New(p.config()).Input(src).Output(dst).Start(opts)
	if err != nil {
		return fmt.Errorf("failed to capture thumbnail frame from %s: %s", src, err.Error())
	}

	for range progress {
	}

	return nil
}

func (p *FfprobeProber) config() *ffmpeg.Config {
	return &ffmpeg.Config{
		FfmpegBinPath:  p.FfmpegBinPath,
		FfprobeBinPath: p.FfprobeBinPath,
	}
}
