package models

import (
	"time"
)

// RouteTableRecord persists the active route/cluster table as a whole JSON
// document. The table is replaced atomically in memory; the newest record is
// reloaded on process start.
type RouteTableRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Document  string    `json:"document" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}
