package models

import "time"

// GroupLock is a cross-process lease serializing flushes within one group.
type GroupLock struct {
	GroupName     string `gorm:"primaryKey;size:64"`
	Holder        string `gorm:"size:64;not null"`
	AcquiredAt    time.Time
	LastHeartbeat time.Time `gorm:"index"`
}
