package models

import "time"

// FlushRecord is the audit trail of one terminal flush cycle.
// Tags is a JSON array; Trigger is one of count, now, command, schedule;
// Status is succeeded or exhausted.
type FlushRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	AttemptID string `gorm:"size:36;uniqueIndex"`
	GroupName string `gorm:"size:64;not null;index"`
	Tags      string `gorm:"type:text"`
	Priority  int    `gorm:"default:0"`
	Trigger   string `gorm:"size:16"`
	Status    string `gorm:"size:16;not null;index"`
	Attempts  int
	Payloads  int
	LastError string `gorm:"type:text"`
	CreatedAt time.Time
}
