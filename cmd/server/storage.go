package main

import (
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/signage/internal/config"
	"github.com/Nixie-Tech-LLC/signage/internal/storage"
)

// InitStorage selects and returns the backend media URLs are resolved against.
func InitStorage(cfg *config.Config) storage.Storage {
	s := cfg.Spaces
	if s.Enabled {
		spacesStorage, err := storage.NewSpacesStorage(
			s.Endpoint,
			s.Region,
			s.Bucket,
			s.CDNURL,
			s.AccessKey,
			s.SecretKey,
			s.PresignTTL,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize Spaces storage")
		}
		log.Info().Str("bucket", s.Bucket).Str("cdn", s.CDNURL).Msg("using Spaces storage")
		return spacesStorage
	}

	log.Info().Str("prefix", cfg.Content.MediaRoot).Msg("using local media URLs")
	return storage.NewLocalStorage(cfg.Content.MediaRoot)
}
