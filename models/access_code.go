package models

import (
	"time"
)

// AccessCode is an issued course credential. Rows are written once and never
// updated or deleted.
type AccessCode struct {
	Code            string    `gorm:"type:varchar(64);primaryKey" json:"code"`
	Email           string    `gorm:"type:varchar(320);not null;index" json:"email"`
	Name            string    `gorm:"type:varchar(256)" json:"name"`
	CourseID        string    `gorm:"type:varchar(64);not null" json:"course_id"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	SourceSessionID string    `gorm:"type:varchar(255);index" json:"session_id"`
	SourceEventID   string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"event_id"`
}

// UnreconciledEvent is a paid checkout that could not be turned into an access
// code automatically and needs an operator.
type UnreconciledEvent struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	EventID   string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"event_id"`
	SessionID string    `gorm:"type:varchar(255)" json:"session_id"`
	Email     string    `gorm:"type:varchar(320)" json:"email"`
	Name      string    `gorm:"type:varchar(256)" json:"name"`
	CourseID  string    `gorm:"type:varchar(64)" json:"course_id"`
	Reason    string    `gorm:"type:varchar(64);not null" json:"reason"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// Reconciliation reasons.
const (
	ReasonMissingCourseID = "missing_course_id"
	ReasonUnknownCourseID = "unknown_course_id"
)

// AccessCodeIssuedEvent is published to SNS after a code is stored so the
// notification service can email it to the buyer.
type AccessCodeIssuedEvent struct {
	EventType  string    `json:"event_type"`
	Code       string    `json:"code"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	CourseID   string    `json:"course_id"`
	CourseName string    `json:"course_name"`
	SessionID  string    `json:"session_id"`
	Timestamp  time.Time `json:"timestamp"`
}
