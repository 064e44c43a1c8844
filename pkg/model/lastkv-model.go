package model

// Lastkv model
//
// Checkpoints of the sql mirror, one row per followed log. Val is the last
// log id written to the database, so a restarted mirror skips what it already
// applied.
type Lastkv struct {
	ID int64 `json:"id" gorm:"omitempty; primaryKey;"`

	App string `json:"app" gorm:"omitempty; not null; default:''; type:varchar(64); uniqueIndex:idx_app_key;"` // e.g. mirror
	Key string `json:"key" gorm:"omitempty; not null; default:''; type:varchar(64); uniqueIndex:idx_app_key;"` // e.g. saved_log_id_trades_2019_09
	Val int64  `json:"val" gorm:"omitempty; not null; default:0;"`

	Model
}

const (
	LASTKV_APP_MIRROR     = "mirror"
	LASTKV_K_SAVED_LOG_ID = "saved_log_id_" // this+log name
)
