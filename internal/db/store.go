// exposes a Store interface that is passed to the scheduler, the display sessions and the API
package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Nixie-Tech-LLC/signage/internal/model"
)

type Store interface {
	// schedule functions
	GetSchedule(ctx context.Context, id int) (model.Schedule, error)
	ListScheduleIDs(ctx context.Context) ([]int, error)
	ListScheduleItems(ctx context.Context, scheduleID int) ([]model.ScheduleItem, error)
	ReplaceScheduleItems(ctx context.Context, scheduleID int, items []model.ScheduleItem) error
	AddScheduleItem(ctx context.Context, item model.ScheduleItem) (model.ScheduleItem, error)
	DeleteExpiredScheduleItems(ctx context.Context, before time.Time) (int64, error)

	// power functions
	GetPower(ctx context.Context, id int) (model.Power, error)
	ListPowerIDs(ctx context.Context) ([]int, error)
	ReplacePowerItems(ctx context.Context, powerID int, items []model.PowerItem) error

	// playlist functions
	GetPlaylist(ctx context.Context, id int) (model.Playlist, error)

	// display functions
	GetDisplay(ctx context.Context, id string) (model.Display, error)
	SetDisplayKey(ctx context.Context, id string, key []byte) (bool, error)
	SetDisplayConnected(ctx context.Context, id string, at *time.Time) error
	SetDisplayConfig(ctx context.Context, id string, config []byte) error
}

type pgStore struct {
	db *sqlx.DB
}

// compile-time check that pgStore implements Store
var _ Store = (*pgStore)(nil)

func NewStore(db *sqlx.DB) Store {
	return &pgStore{db: db}
}
