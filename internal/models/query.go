package models

import (
	"time"

	"gorm.io/datatypes"
)

const DefaultTotalsLabel = "TOTAL"

// SqlQuery is a reusable SQL statement bound to one source connection.
// SQLText may carry :name placeholders and {sysdate±N} date macros.
type SqlQuery struct {
	ID                uint                        `gorm:"primaryKey" json:"id"`
	Name              string                      `gorm:"not null;size:200" json:"name"`
	DatabaseID        uint                        `gorm:"not null;index" json:"database_id"`
	Database          DatabaseConnection          `gorm:"foreignKey:DatabaseID" json:"database,omitempty"`
	SQLText           string                      `gorm:"type:text;not null" json:"sql_text"`
	EnableTotals      bool                        `gorm:"default:false" json:"enable_totals"`
	TotalColumns      datatypes.JSONSlice[string] `json:"total_columns"`
	TotalsLabelColumn string                      `gorm:"size:200" json:"totals_label_column,omitempty"`
	TotalsLabel       string                      `gorm:"size:100" json:"totals_label,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

// Label returns the text written in the label column of the totals row.
func (q SqlQuery) Label() string {
	if q.TotalsLabel == "" {
		return DefaultTotalsLabel
	}
	return q.TotalsLabel
}
