// Package model defines the entities of the trade store, its error taxonomy
// and the gorm models and connections used by the sql mirror.
package model

import (
	"time"
)

type Model struct {
	Status    int8      `json:"status" gorm:"omitempty; not null; type:tinyint; default:1;"`
	CreatedAt time.Time `json:"createdAt" gorm:"omitempty; not null;"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"omitempty; not null;"`
}
