package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/signage/internal/model"
)

type playlistItemRow struct {
	model.PlaylistItem
	PageName       string         `db:"page_name"`
	PageKind       string         `db:"page_kind"`
	RuntimeSeconds float64        `db:"runtime_seconds"`
	Data           types.JSONText `db:"data"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// GetPlaylist loads the playlist with its items ordered by position, each with its page.
func (s *pgStore) GetPlaylist(ctx context.Context, id int) (model.Playlist, error) {
	var p model.Playlist
	if err := s.db.GetContext(ctx, &p, `SELECT id, name FROM playlists WHERE id = $1;`, id); err != nil {
		log.Error().Err(err).Int("playlist_id", id).Msg("GetPlaylist failed")
		return model.Playlist{}, notFound(err)
	}

	var rows []playlistItemRow
	err := s.db.SelectContext(ctx, &rows, `
	SELECT pi.id, pi.playlist_id, pi.page_id, pi.position, pi.enabled,
	       pg.name AS page_name, pg.kind AS page_kind, pg.runtime_seconds, pg.data, pg.updated_at
	  FROM playlist_items pi
	  JOIN pages pg ON pg.id = pi.page_id
	 WHERE pi.playlist_id = $1
	 ORDER BY pi.position, pi.id;`, id)
	if err != nil {
		log.Error().Err(err).Int("playlist_id", id).Msg("GetPlaylist: items failed")
		return model.Playlist{}, err
	}

	p.Items = make([]model.PlaylistItem, 0, len(rows))
	for _, r := range rows {
		item := r.PlaylistItem
		item.Page = &model.Page{
			ID:             r.PageID,
			Name:           r.PageName,
			Kind:           r.PageKind,
			RuntimeSeconds: r.RuntimeSeconds,
			Data:           r.Data,
			UpdatedAt:      r.UpdatedAt,
		}
		p.Items = append(p.Items, item)
	}
	return p, nil
}
