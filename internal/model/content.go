package model

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Page is the stored form of a playlist page. Kind selects the variant and Data
// carries the variant specific fields as JSON.
type Page struct {
	ID             int            `db:"id"              json:"id"`
	Name           string         `db:"name"            json:"name"`
	Kind           string         `db:"kind"            json:"kind"`
	RuntimeSeconds float64        `db:"runtime_seconds" json:"runtime_seconds"`
	Data           types.JSONText `db:"data"            json:"data"`
	UpdatedAt      time.Time      `db:"updated_at"      json:"updated_at"`
}

const DefaultRuntime = 20 * time.Second

func (p Page) Runtime() time.Duration {
	if p.RuntimeSeconds <= 0 {
		return DefaultRuntime
	}
	return time.Duration(p.RuntimeSeconds * float64(time.Second))
}
