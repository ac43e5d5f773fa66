package model

type Playlist struct {
	ID    int            `db:"id"           json:"id"`
	Name  string         `db:"name"         json:"name"`
	Items []PlaylistItem `db:"-"            json:"items,omitempty"`
}

type PlaylistItem struct {
	ID         int   `db:"id"           json:"id"`
	PlaylistID int   `db:"playlist_id"  json:"playlist_id"`
	PageID     int   `db:"page_id"      json:"page_id"`
	Position   int   `db:"position"     json:"position"`
	Enabled    bool  `db:"enabled"      json:"enabled"`
	Page       *Page `db:"-"            json:"page,omitempty"`
}
