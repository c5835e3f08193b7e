package internal

import (
	"fmt"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
	"github.com/naiad-media/naiad/internal/database"
	"github.com/naiad-media/naiad/internal/extractor"
	"github.com/naiad-media/naiad/internal/importer"
	"github.com/naiad-media/naiad/internal/ingest"
	"github.com/naiad-media/naiad/internal/jobs"
	"github.com/naiad-media/naiad/internal/moderation"
	"github.com/naiad-media/naiad/internal/storage"
	"github.com/naiad-media/naiad/internal/views"
)

// NaiadConfig is the user supplied configuration, loaded from a YAML file
// with environment variable overrides.
type NaiadConfig struct {
	Database   database.DatabaseConfig `yaml:"database" env-required:"true"`
	Jobs       jobs.Config             `yaml:"jobs"`
	Views      views.Config            `yaml:"views"`
	Storage    storage.Paths           `yaml:"storage"`
	Extractor  extractor.Config        `yaml:"extractor"`
	Moderation moderation.Config       `yaml:"moderation"`
	Ingest     ingest.Config           `yaml:"ingest"`
	Import     importer.Config         `yaml:"import"`

	// Trackers are announce URLs embedded in every generated torrent.
	Trackers []string `yaml:"trackers" env:"TRACKERS"`

	FfmpegBinPath  string `yaml:"ffmpeg_bin" env:"FFMPEG_BIN" env-default:"ffmpeg"`
	FfprobeBinPath string `yaml:"ffprobe_bin" env:"FFPROBE_BIN" env-default:"ffprobe"`
}

// LoadFromFile reads the YAML config at the provided path in to this struct.
func (config *NaiadConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration: %s", err.Error())
	}

	return nil
}

// DefaultConfigPath is where the config file is searched for when the user
// does not name one explicitly.
func DefaultConfigPath() string {
	home, err := homedir.Dir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user home dir: %s", err))
	}

	return filepath.Join(home, ".config", "naiad", "config.yaml")
}
