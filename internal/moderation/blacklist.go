// Moderation policy applied at ingestion time. The auto-blacklist pass may
// flag newly created or imported content as needing review; it never blocks
// the write that triggered it.
package moderation

import (
	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/database"
	"github.com/naiad-media/naiad/internal/video"
	"github.com/naiad-media/naiad/pkg/logger"
)

var log = logger.Get("Moderation")

type (
	Config struct {
		// AutoBlacklistNewVideos flags every locally created video for
		// review before it federates.
		AutoBlacklistNewVideos bool `yaml:"auto_blacklist_new" env:"MODERATION_AUTO_BLACKLIST_NEW" env-default:"false"`
		// AutoBlacklistRemoteImports flags content pulled from external
		// sources (torrents, magnets, remote URLs).
		AutoBlacklistRemoteImports bool `yaml:"auto_blacklist_imports" env:"MODERATION_AUTO_BLACKLIST_IMPORTS" env-default:"false"`
	}

	// Requester identifies who asked for the ingestion; trusted requesters
	// bypass the auto-blacklist entirely.
	Requester struct {
		ID      uuid.UUID
		Trusted bool
	}

	BlacklistEntry struct {
		ID          uuid.UUID `db:"id"`
		VideoID     uuid.UUID `db:"video_id"`
		Reason      string    `db:"reason"`
		Unfederated bool      `db:"unfederated"`
	}

	Policy struct {
		config Config
	}
)

func NewPolicy(config Config) *Policy {
	return &Policy{config: config}
}

// AutoBlacklistIfNeeded evaluates the policy for a just-persisted video and,
// when it applies, inserts a blacklist flag inside the callers transaction.
// The video row itself is never touched: flagging is review metadata, not a
// veto.
func (policy *Policy) AutoBlacklistIfNeeded(db database.Queryable, v *video.Video, requester Requester, isRemote bool, isNew bool) (bool, error) {
	if !isNew || requester.Trusted {
		return false, nil
	}

	var reason string
	switch {
	case isRemote && policy.config.AutoBlacklistRemoteImports:
		reason = "auto-blacklisted: imported from an external source"
	case !isRemote && policy.config.AutoBlacklistNewVideos:
		reason = "auto-blacklisted: new video pending review"
	default:
		return false, nil
	}

	entry := BlacklistEntry{
		ID:          uuid.New(),
		VideoID:     v.ID,
		Reason:      reason,
		Unfederated: false,
	}
	if _, err := db.NamedExec(`
		INSERT INTO video_blacklist(id, video_id, reason, unfederated, created_at)
		VALUES(:id, :video_id, :reason, :unfederated, current_timestamp)
		ON CONFLICT(video_id) DO NOTHING
	`, entry); err != nil {
		return false, err
	}

	log.Infof("Video %s flagged for review (%s)\n", v.ID, reason)
	return true, nil
}
