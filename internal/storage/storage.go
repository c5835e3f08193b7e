// Storage owns the canonical on-disk layout for media artifacts: video
// renditions, torrent files, thumbnails/previews and captions. All moves into
// the canonical tree are overwrite-safe so a retried transaction can repeat
// them without error.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/naiad-media/naiad/pkg/logger"
)

var log = logger.Get("Storage")

type Paths struct {
	Videos     string `yaml:"videos" env:"STORAGE_VIDEOS" env-default:"storage/videos"`
	Torrents   string `yaml:"torrents" env:"STORAGE_TORRENTS" env-default:"storage/torrents"`
	Thumbnails string `yaml:"thumbnails" env:"STORAGE_THUMBNAILS" env-default:"storage/thumbnails"`
	Previews   string `yaml:"previews" env:"STORAGE_PREVIEWS" env-default:"storage/previews"`
	Captions   string `yaml:"captions" env:"STORAGE_CAPTIONS" env-default:"storage/captions"`
}

type Store struct {
	paths Paths
}

// New ensures each canonical directory exists before returning the store.
func New(paths Paths) (*Store, error) {
	for _, dir := range []string{paths.Videos, paths.Torrents, paths.Thumbnails, paths.Previews, paths.Captions} {
		if err := os.MkdirAll(dir, os.ModeDir|os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create storage directory '%s': %w", dir, err)
		}
	}

	return &Store{paths: paths}, nil
}

func (store *Store) VideoPath(filename string) string     { return filepath.Join(store.paths.Videos, filename) }
func (store *Store) TorrentPath(filename string) string   { return filepath.Join(store.paths.Torrents, filename) }
func (store *Store) ThumbnailPath(filename string) string { return filepath.Join(store.paths.Thumbnails, filename) }
func (store *Store) PreviewPath(filename string) string   { return filepath.Join(store.paths.Previews, filename) }
func (store *Store) CaptionPath(filename string) string   { return filepath.Join(store.paths.Captions, filename) }

// SecureName returns a random hex name carrying the extension of the input
// filename. Used to strip caller-controlled names from uploads before any
// parsing happens.
func SecureName(originalName string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf) + filepath.Ext(originalName), nil
}

// Move relocates src to dst, replacing any existing file at dst. A plain
// rename is attempted first; if src and dst live on different devices the
// file is copied and the source removed afterwards.
//
// Repeating the same move (same src content, same dst) is safe, which the
// ingest transaction retry relies upon.
func (store *Store) Move(src string, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		if _, dstErr := os.Stat(dst); dstErr == nil {
			// Already moved by a previous attempt.
			return nil
		}

		return fmt.Errorf("failed to move '%s' to '%s': source does not exist", src, dst)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	log.Debugf("Rename of %s -> %s failed, falling back to copy\n", src, dst)
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("failed to move '%s' to '%s': %w", src, dst, err)
	}

	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		log.Warnf("Failed to remove source file %s after copy: %s\n", src, err.Error())
	}

	return nil
}

// Discard removes a file, tolerating it already being gone.
func (store *Store) Discard(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

func copyFile(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dst)
}
