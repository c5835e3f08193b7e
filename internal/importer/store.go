package importer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/database"
)

type (
	ImportState int

	// Import is the persisted record of one import job: exactly one of
	// MagnetURI, TorrentName or TargetURL is set, enforced both here and by
	// a database check constraint.
	Import struct {
		ID          uuid.UUID   `db:"id"`
		VideoID     uuid.UUID   `db:"video_id"`
		MagnetURI   *string     `db:"magnet_uri"`
		TorrentName *string     `db:"torrent_name"`
		TargetURL   *string     `db:"target_url"`
		State       ImportState `db:"state"`
		Error       *string     `db:"error"`
		CreatedAt   time.Time   `db:"created_at"`
		UpdatedAt   time.Time   `db:"updated_at"`
	}

	Store struct{}
)

const (
	ImportPending ImportState = iota + 1
	ImportDownloading
	ImportProcessed
	ImportFailed
)

func NewStore() *Store {
	return &Store{}
}

func (store *Store) SaveImport(db database.Queryable, imp *Import) error {
	_, err := db.NamedExec(`
		INSERT INTO video_imports(id, video_id, magnet_uri, torrent_name, target_url, state, error, created_at, updated_at)
		VALUES(:id, :video_id, :magnet_uri, :torrent_name, :target_url, :state, :error, current_timestamp, current_timestamp)
	`, imp)
	if err != nil {
		return fmt.Errorf("failed to insert import record for video %s: %w", imp.VideoID, err)
	}

	return nil
}

// SetImportState transitions an import record, recording the failure cause
// when one is supplied.
func (store *Store) SetImportState(db database.Queryable, importID uuid.UUID, state ImportState, cause *string) error {
	_, err := db.Exec(`
		UPDATE video_imports SET state=$2, error=$3, updated_at=current_timestamp WHERE id=$1
	`, importID, state, cause)
	return err
}
