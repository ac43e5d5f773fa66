package db

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/signage/internal/model"
)

func (s *pgStore) GetDisplay(ctx context.Context, id string) (model.Display, error) {
	var d model.Display
	err := s.db.GetContext(ctx, &d, `
	SELECT d.id, d.name, d.hostname, d.schedule_id, d.power_id, d.enabled, d.key,
	       COALESCE(r.scale, 1.0)::float8 AS scale, d.connected, d.config
	  FROM displays d
	  LEFT JOIN resolutions r ON r.id = d.resolution_id
	 WHERE d.id = $1;`, id)
	if err != nil {
		log.Error().Err(err).Str("display_id", id).Msg("GetDisplay failed")
		return model.Display{}, notFound(err)
	}
	return d, nil
}

// SetDisplayKey stores key unless the display already has one. It reports whether
// the key was stored.
func (s *pgStore) SetDisplayKey(ctx context.Context, id string, key []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE displays SET key = $2 WHERE id = $1 AND key IS NULL;`, id, key)
	if err != nil {
		log.Error().Err(err).Str("display_id", id).Msg("SetDisplayKey failed")
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetDisplayConnected records the connection time, nil clears it.
func (s *pgStore) SetDisplayConnected(ctx context.Context, id string, at *time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE displays SET connected = $2 WHERE id = $1;`, id, at)
	if err != nil {
		log.Error().Err(err).Str("display_id", id).Msg("SetDisplayConnected failed")
	}
	return err
}

func (s *pgStore) SetDisplayConfig(ctx context.Context, id string, config []byte) error {
	_, err := s.db.ExecContext(ctx, `UPDATE displays SET config = $2::jsonb WHERE id = $1;`, id, string(config))
	if err != nil {
		log.Error().Err(err).Str("display_id", id).Msg("SetDisplayConfig failed")
	}
	return err
}
