package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Submission is a classified, approved wall entry written by the upstream
// pipeline. run-tag reads it by tag and stages it in its group.
type Submission struct {
	Tag        int64   `gorm:"primaryKey;autoIncrement:false"`
	SenderID   string  `gorm:"size:32;not null"`
	ReceiverID string  `gorm:"size:32;not null"`
	GroupName  string  `gorm:"size:64;not null;index"`
	Comment    *string `gorm:"type:text"`
	Flags      string  `gorm:"type:text"` // JSON classification flags, at least {"needpriv": ...}
	CreatedAt  time.Time
}

// StagingRow is a Submission waiting in its group's staging table.
// Rows live in per-group tables named by StagingTable.
type StagingRow struct {
	Tag        int64   `gorm:"primaryKey;autoIncrement:false"`
	SenderID   string  `gorm:"size:32;not null"`
	ReceiverID string  `gorm:"size:32;not null"`
	Comment    *string `gorm:"type:text"`
	Flags      string  `gorm:"type:text"`
	GroupName  string  `gorm:"size:64;not null"`
	CreatedAt  time.Time
}

// StagingTable returns the staging table name for a group.
func StagingTable(group string) string {
	return "staging_" + group
}

// StagingRowFrom copies a Submission into its staged form.
func StagingRowFrom(s Submission) StagingRow {
	return StagingRow{
		Tag:        s.Tag,
		SenderID:   s.SenderID,
		ReceiverID: s.ReceiverID,
		Comment:    s.Comment,
		Flags:      s.Flags,
		GroupName:  s.GroupName,
	}
}

// CommentText returns the operator comment or "".
func (r StagingRow) CommentText() string {
	if r.Comment == nil {
		return ""
	}
	return *r.Comment
}

// NeedPriv reports whether the sender asked for anonymity. Unparseable
// flags are treated as anonymous so a bad blob never leaks a mention.
func (r StagingRow) NeedPriv() bool {
	f, err := ParseFlags(r.Flags)
	if err != nil {
		return true
	}
	return f.NeedPriv
}

// Flags is the decoded classification blob. The upstream classifier
// writes needpriv either as a JSON bool or as the string "true"/"false".
type Flags struct {
	NeedPriv bool
	Extra    map[string]json.RawMessage
}

// ParseFlags decodes a classification blob. An empty blob is valid and
// yields zero Flags.
func ParseFlags(raw string) (Flags, error) {
	var f Flags
	if raw == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(raw), &f.Extra); err != nil {
		return f, fmt.Errorf("models: parse flags: %w", err)
	}
	v, ok := f.Extra["needpriv"]
	if !ok {
		return f, nil
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		f.NeedPriv = b
		return f, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return f, fmt.Errorf("models: parse flags: needpriv: %w", err)
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return f, fmt.Errorf("models: parse flags: needpriv %q: %w", s, err)
	}
	f.NeedPriv = b
	return f, nil
}

// EncodeFlags builds a minimal classification blob.
func EncodeFlags(needPriv bool) string {
	data, _ := json.Marshal(map[string]bool{"needpriv": needPriv})
	return string(data)
}
