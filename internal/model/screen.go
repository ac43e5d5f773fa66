package model

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Display represents one physical signage device.
type Display struct {
	ID         string             `db:"id"          json:"id"`
	Name       string             `db:"name"        json:"name"`
	Hostname   string             `db:"hostname"    json:"hostname"`
	ScheduleID *int               `db:"schedule_id" json:"schedule_id"`
	PowerID    *int               `db:"power_id"    json:"power_id"`
	Enabled    bool               `db:"enabled"     json:"enabled"`
	Key        []byte             `db:"key"         json:"-"`
	Scale      float64            `db:"scale"       json:"scale"`
	Connected  *time.Time         `db:"connected"   json:"connected"`
	Config     types.NullJSONText `db:"config"      json:"config"`
}
