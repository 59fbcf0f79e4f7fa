package entity

import "time"

// Setting is one key/value row of the settings table.
type Setting struct {
	ID        string    `db:"id" json:"id"`
	Category  string    `db:"category" json:"category,omitempty"`
	Value     string    `db:"value" json:"value"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func NewSetting(id, category, value string) *Setting {
	return &Setting{ID: id, Category: category, Value: value}
}
