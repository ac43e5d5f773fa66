package model

import "fmt"

type Power struct {
	ID    int         `db:"id" json:"id"`
	Name  string      `db:"name" json:"name"`
	Items []PowerItem `db:"-" json:"items,omitempty"`
}

func (p Power) Channel() string {
	return PowerChannel(p.ID)
}

func PowerChannel(id int) string {
	return fmt.Sprintf("power.%d", id)
}

type PowerItem struct {
	ID          int       `db:"id" json:"id"`
	PowerID     int       `db:"power_id" json:"power_id"`
	On          TimeOfDay `db:"on_time" json:"on" validate:"gte=0"`
	Off         TimeOfDay `db:"off_time" json:"off" validate:"gtfield=On"`
	Recurrences string    `db:"recurrences" json:"recurrences"`
}

func (i PowerItem) String() string {
	return fmt.Sprintf("power %d (%s - %s)", i.PowerID, i.On, i.Off)
}
