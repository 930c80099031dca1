package models

import (
	"time"
)

type Periodicity string

const (
	PeriodicityDaily   Periodicity = "daily"
	PeriodicityWeekly  Periodicity = "weekly"
	PeriodicityMonthly Periodicity = "monthly"
)

// ScheduleSpec is either a one-off instant (ExecuteAt) or a recurring rule.
type ScheduleSpec struct {
	ExecuteAt *time.Time  `json:"execute_at,omitempty"`
	Periodic  bool        `gorm:"default:false" json:"is_periodic"`
	Type      Periodicity `gorm:"size:10" json:"periodic_type,omitempty"`
	Time      string      `gorm:"size:5" json:"periodic_time,omitempty"` // HH:MM
	Weekday   string      `gorm:"size:3" json:"periodic_weekday,omitempty"`
	Monthday  int         `json:"periodic_monthday,omitempty"`
}

// IsZero reports whether no schedule has been configured.
func (s ScheduleSpec) IsZero() bool {
	return s.ExecuteAt == nil && !s.Periodic && s.Type == "" && s.Time == ""
}

type Report struct {
	ID             uint                   `gorm:"primaryKey" json:"id"`
	Code           string                 `gorm:"uniqueIndex;size:32;not null" json:"code"`
	Name           string                 `gorm:"not null;size:200" json:"name"`
	Subject        string                 `gorm:"size:255" json:"subject"`
	Message        string                 `gorm:"type:text" json:"message"`
	Schedule       ScheduleSpec           `gorm:"embedded;embeddedPrefix:schedule_" json:"schedule"`
	LastExecutedAt *time.Time             `json:"last_executed_at"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Queries        []ReportQuery          `gorm:"foreignKey:ReportID" json:"queries,omitempty"`
	Parameters     []ReportQueryParameter `gorm:"foreignKey:ReportID" json:"parameters,omitempty"`
	Emails         []ReportEmail          `gorm:"foreignKey:ReportID" json:"emails,omitempty"`
}

// ReportQuery associates a query with a report; Position fixes execution
// and sheet order.
type ReportQuery struct {
	ReportID uint     `gorm:"primaryKey;autoIncrement:false" json:"report_id"`
	QueryID  uint     `gorm:"primaryKey;autoIncrement:false" json:"query_id"`
	Position int      `gorm:"not null;default:0" json:"position"`
	Query    SqlQuery `gorm:"foreignKey:QueryID" json:"query"`
}

// ReportQueryParameter supplies the value bound to one :name placeholder of
// one query, scoped to one report.
type ReportQueryParameter struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	ReportID uint   `gorm:"not null;uniqueIndex:idx_report_query_param" json:"report_id"`
	QueryID  uint   `gorm:"not null;uniqueIndex:idx_report_query_param" json:"query_id"`
	Name     string `gorm:"not null;size:100;uniqueIndex:idx_report_query_param" json:"name"`
	Value    string `gorm:"type:text" json:"value"`
}

type RecipientType string

const (
	RecipientTo RecipientType = "to"
	RecipientCC RecipientType = "cc"
)

type ReportEmail struct {
	ID       uint          `gorm:"primaryKey" json:"id"`
	ReportID uint          `gorm:"not null;uniqueIndex:idx_report_email" json:"report_id"`
	Email    string        `gorm:"not null;size:254;uniqueIndex:idx_report_email" json:"email"`
	Type     RecipientType `gorm:"not null;size:2;uniqueIndex:idx_report_email" json:"type"`
}

// Recipients splits the report's emails into TO and CC lists.
func (r *Report) Recipients() (to, cc []string) {
	for _, e := range r.Emails {
		switch e.Type {
		case RecipientTo:
			to = append(to, e.Email)
		case RecipientCC:
			cc = append(cc, e.Email)
		}
	}
	return to, cc
}

// ParamsFor returns the report-scoped parameter values of one query.
func (r *Report) ParamsFor(queryID uint) map[string]string {
	params := make(map[string]string)
	for _, p := range r.Parameters {
		if p.QueryID == queryID {
			params[p.Name] = p.Value
		}
	}
	return params
}
