package content

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/signage/internal/model"
	"github.com/Nixie-Tech-LLC/signage/internal/storage"
)

// PlaylistMessage is what a frontend receives whenever its playlist changes.
type PlaylistMessage struct {
	ID    int   `json:"id"`
	Pages []any `json:"pages"`
}

// PlaylistStore loads a playlist together with its items and their pages.
type PlaylistStore interface {
	GetPlaylist(ctx context.Context, id int) (model.Playlist, error)
}

type Renderer struct {
	store   PlaylistStore
	storage storage.Storage
	sources Sources
}

func NewRenderer(store PlaylistStore, st storage.Storage, sources Sources) *Renderer {
	return &Renderer{store: store, storage: st, sources: sources}
}

// Playlist renders the enabled pages of a playlist in order. Pages that cannot be
// rendered are left out.
func (r *Renderer) Playlist(ctx context.Context, id int) (*PlaylistMessage, error) {
	p, err := r.store.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}

	items := append([]model.PlaylistItem(nil), p.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Position < items[j].Position })

	msg := &PlaylistMessage{ID: p.ID, Pages: make([]any, 0, len(items))}
	for _, item := range items {
		if !item.Enabled || item.Page == nil {
			continue
		}
		page, err := r.Page(ctx, *item.Page)
		if err != nil {
			log.Warn().Err(err).Int("playlist_id", id).Int("page_id", item.PageID).Msg("skipping unavailable page")
			continue
		}
		msg.Pages = append(msg.Pages, page)
	}
	return msg, nil
}
