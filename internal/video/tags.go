package video

import (
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/naiad-media/naiad/internal/database"
)

type Tag struct {
	ID    uuid.UUID `db:"id"`
	Label string    `db:"label"`
}

// UpsertTags ensures a tag row exists for every label provided, and returns
// the full set of matching rows (existing and newly created).
func (store *Store) UpsertTags(db database.Queryable, labels []string) ([]Tag, error) {
	if len(labels) == 0 {
		return nil, nil
	}

	rows := make([]Tag, len(labels))
	for k, label := range labels {
		rows[k] = Tag{ID: uuid.New(), Label: label}
	}

	if _, err := db.NamedExec(`
		INSERT INTO tags(id, label)
		VALUES(:id, :label)
		ON CONFLICT(label) DO NOTHING
	`, rows); err != nil {
		return nil, err
	}

	var results []Tag
	query, args, err := sqlx.In(`SELECT * FROM tags WHERE label IN (?)`, labels)
	if err != nil {
		return nil, err
	}

	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	return results, nil
}

// SaveVideoTagAssociations replaces the tag associations for a given video
// with the provided set.
//
// NB: every tag must already have a row in the tags table (see UpsertTags).
func (store *Store) SaveVideoTagAssociations(db database.Queryable, videoID uuid.UUID, tags []Tag) error {
	if _, err := db.Exec(`DELETE FROM video_tags WHERE video_id=$1`, videoID); err != nil {
		return err
	}

	if len(tags) == 0 {
		return nil
	}

	type tagAssoc struct {
		ID      uuid.UUID `db:"id"`
		VideoID uuid.UUID `db:"video_id"`
		TagID   uuid.UUID `db:"tag_id"`
	}
	tagAssocs := make([]tagAssoc, len(tags))
	for k, v := range tags {
		tagAssocs[k] = tagAssoc{uuid.New(), videoID, v.ID}
	}

	_, err := db.NamedExec(`
		INSERT INTO video_tags(id, video_id, tag_id)
		VALUES(:id, :video_id, :tag_id)
		ON CONFLICT(video_id, tag_id) DO NOTHING
	`, tagAssocs)

	return err
}
