package staging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gfhdhytghd/oqqwall/internal/models"
)

// RecordFlush appends a terminal flush cycle to the audit table.
func (s *Store) RecordFlush(ctx context.Context, rec models.FlushRecord) error {
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return &StagingError{Group: rec.GroupName, Op: "record flush", Err: err}
	}
	return nil
}

// History returns group's most recent flush records, newest first. A
// non-positive limit returns all of them.
func (s *Store) History(ctx context.Context, group string, limit int) ([]models.FlushRecord, error) {
	q := s.db.WithContext(ctx).Where("group_name = ?", group).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	recs := []models.FlushRecord{}
	if err := q.Find(&recs).Error; err != nil {
		return nil, &StagingError{Group: group, Op: "history", Err: err}
	}
	return recs, nil
}

// EncodeTags renders tags as the JSON array stored in FlushRecord.Tags.
func EncodeTags(tags []int64) string {
	if tags == nil {
		tags = []int64{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

// DecodeTags parses FlushRecord.Tags.
func DecodeTags(raw string) ([]int64, error) {
	var tags []int64
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("staging: decode tags: %w", err)
	}
	return tags, nil
}
