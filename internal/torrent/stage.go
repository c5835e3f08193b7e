// The torrent stage runs after a video and its file record have committed,
// producing the content-addressed torrent artifact (and info-hash) for the
// rendition. Hashing a large file takes long enough that the file record may
// be deleted concurrently; the stage guards against writing to a vanished
// record by reloading it after the artifact is built.
package torrent

import (
	"errors"
	"fmt"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/database"
	"github.com/naiad-media/naiad/internal/video"
	"github.com/naiad-media/naiad/pkg/logger"
)

var log = logger.Get("TorrentStage")

const pieceLength = 256 * 1024

type (
	// FileStore is the slice of the video store the stage depends upon.
	FileStore interface {
		GetVideoFile(db database.Queryable, fileID uuid.UUID) (*video.VideoFile, error)
		SetFileTorrent(db database.Queryable, fileID uuid.UUID, infoHash string, torrentFilename string) error
	}

	ArtifactStore interface {
		VideoPath(filename string) string
		TorrentPath(filename string) string
		Discard(path string) error
	}

	Stage struct {
		db        database.Manager
		files     FileStore
		artifacts ArtifactStore
		trackers  []string
	}
)

func NewStage(db database.Manager, files FileStore, artifacts ArtifactStore, trackers []string) *Stage {
	return &Stage{db: db, files: files, artifacts: artifacts, trackers: trackers}
}

// CreateTorrent builds the torrent artifact for the given rendition and, if
// the file record still exists once hashing completes, persists the info-hash
// and torrent filename onto the RELOADED record. If the record was removed in
// the meantime the artifact is discarded and no write occurs.
func (stage *Stage) CreateTorrent(v *video.Video, file *video.VideoFile) error {
	sourcePath := stage.artifacts.VideoPath(video.GenerateFilename(v.ID, file.Resolution, file.Extension))
	torrentName := video.GenerateTorrentFilename(v.ID, file.Resolution)
	torrentPath := stage.artifacts.TorrentPath(torrentName)

	infoHash, err := stage.buildArtifact(v, sourcePath, torrentPath)
	if err != nil {
		return fmt.Errorf("failed to build torrent artifact for %s: %w", file.ID, err)
	}

	// The hashing above may have taken a long time. Reload the file record:
	// if it has been deleted, the freshly built artifact must be discarded
	// rather than attached to a record that no longer exists.
	reloaded, err := stage.files.GetVideoFile(stage.db.GetSqlxDb(), file.ID)
	if err != nil {
		if errors.Is(err, video.ErrVideoFileNotFound) {
			log.Infof("File record %s removed during torrent creation; discarding artifact %s\n", file.ID, torrentName)
			return stage.artifacts.Discard(torrentPath)
		}

		return err
	}

	if err := stage.files.SetFileTorrent(stage.db.GetSqlxDb(), reloaded.ID, infoHash, torrentName); err != nil {
		return fmt.Errorf("failed to persist info-hash for file %s: %w", reloaded.ID, err)
	}

	log.Emit(logger.SUCCESS, "Torrent artifact %s created (info-hash %s)\n", torrentName, infoHash)
	return nil
}

// buildArtifact hashes the source file into a metainfo container, writes it
// to the torrent path and returns the hex info-hash.
func (stage *Stage) buildArtifact(v *video.Video, sourcePath string, torrentPath string) (string, error) {
	info := metainfo.Info{PieceLength: pieceLength}
	if err := info.BuildFromFilePath(sourcePath); err != nil {
		return "", fmt.Errorf("failed to hash '%s': %w", sourcePath, err)
	}
	info.Name = v.Name

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return "", err
	}

	mi := metainfo.MetaInfo{
		InfoBytes: infoBytes,
		Comment:   v.Name,
	}
	for _, tracker := range stage.trackers {
		mi.AnnounceList = append(mi.AnnounceList, []string{tracker})
	}

	if err := writeMetaInfo(&mi, torrentPath); err != nil {
		return "", err
	}

	return mi.HashInfoBytes().HexString(), nil
}
