// Package staging is the durable per-group queue of approved submissions
// waiting to be flushed as a combined post.
package staging

import (
	"context"
	"errors"
	"fmt"

	"github.com/gfhdhytghd/oqqwall/internal/db"
	"github.com/gfhdhytghd/oqqwall/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrGroupNotProvisioned means the group's staging table does not exist.
	ErrGroupNotProvisioned = errors.New("group not provisioned")
	// ErrTagConflict means the tag is already staged in another group.
	ErrTagConflict = errors.New("tag already staged")
	// ErrSubmissionNotFound means no classified submission exists for a tag.
	ErrSubmissionNotFound = errors.New("submission not found")
)

// StagingError reports a storage failure for one group. It is fatal for
// the invocation and is never retried internally.
type StagingError struct {
	Group string
	Op    string
	Err   error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging: %s %s: %v", e.Op, e.Group, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// Store reads and writes staging tables. groups lists every configured
// group so Enqueue can keep a tag in at most one staging table.
type Store struct {
	db     *gorm.DB
	groups []string
}

// NewStore creates a Store over db for the given groups.
func NewStore(gdb *gorm.DB, groups []string) *Store {
	return &Store{db: gdb, groups: append([]string(nil), groups...)}
}

// DB exposes the underlying handle for components sharing the store's
// database (locks, audit records).
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) table(ctx context.Context, group string) *gorm.DB {
	return s.db.WithContext(ctx).Table(models.StagingTable(group))
}

func (s *Store) requireTable(group, op string) error {
	if !db.HasStagingTable(s.db, group) {
		return &StagingError{Group: group, Op: op, Err: ErrGroupNotProvisioned}
	}
	return nil
}

// Enqueue inserts a StagingRow for sub into group's staging table.
// Re-enqueueing a tag already staged in the same group is a no-op.
func (s *Store) Enqueue(ctx context.Context, group string, sub models.Submission) error {
	if err := s.requireTable(group, "enqueue"); err != nil {
		return err
	}
	for _, other := range s.groups {
		if other == group || !db.HasStagingTable(s.db, other) {
			continue
		}
		var n int64
		if err := s.table(ctx, other).Where("tag = ?", sub.Tag).Count(&n).Error; err != nil {
			return &StagingError{Group: other, Op: "enqueue", Err: err}
		}
		if n > 0 {
			return &StagingError{Group: group, Op: "enqueue",
				Err: fmt.Errorf("%w: tag %d is staged in %s", ErrTagConflict, sub.Tag, other)}
		}
	}

	row := models.StagingRowFrom(sub)
	row.GroupName = group
	var n int64
	if err := s.table(ctx, group).Where("tag = ?", sub.Tag).Count(&n).Error; err != nil {
		return &StagingError{Group: group, Op: "enqueue", Err: err}
	}
	if n > 0 {
		return nil
	}
	if err := s.table(ctx, group).Create(&row).Error; err != nil {
		return &StagingError{Group: group, Op: "enqueue", Err: err}
	}
	return nil
}

// ListStaged returns group's staged rows in tag order. An empty group
// yields an empty, non-nil slice.
func (s *Store) ListStaged(ctx context.Context, group string) ([]models.StagingRow, error) {
	if err := s.requireTable(group, "list"); err != nil {
		return nil, err
	}
	rows := []models.StagingRow{}
	if err := s.table(ctx, group).Order("tag ASC").Find(&rows).Error; err != nil {
		return nil, &StagingError{Group: group, Op: "list", Err: err}
	}
	return rows, nil
}

// Count returns the number of staged rows in group.
func (s *Store) Count(ctx context.Context, group string) (int64, error) {
	if err := s.requireTable(group, "count"); err != nil {
		return 0, err
	}
	var n int64
	if err := s.table(ctx, group).Count(&n).Error; err != nil {
		return 0, &StagingError{Group: group, Op: "count", Err: err}
	}
	return n, nil
}

// Remove deletes exactly tags from group in one transaction. Tags that are
// not staged are ignored.
func (s *Store) Remove(ctx context.Context, group string, tags []int64) error {
	if err := s.requireTable(group, "remove"); err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(models.StagingTable(group)).Where("tag IN ?", tags).
			Delete(&models.StagingRow{}).Error
	})
	if err != nil {
		return &StagingError{Group: group, Op: "remove", Err: err}
	}
	return nil
}

// Submission loads the classified submission for tag from the upstream
// inbox table.
func (s *Store) Submission(ctx context.Context, tag int64) (models.Submission, error) {
	var sub models.Submission
	err := s.db.WithContext(ctx).Where("tag = ?", tag).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sub, &StagingError{Op: "load submission", Group: fmt.Sprintf("tag %d", tag), Err: ErrSubmissionNotFound}
	}
	if err != nil {
		return sub, &StagingError{Op: "load submission", Group: fmt.Sprintf("tag %d", tag), Err: err}
	}
	return sub, nil
}

// PutSubmission records a classified submission (upstream hook).
func (s *Store) PutSubmission(ctx context.Context, sub models.Submission) error {
	if sub.GroupName == "" {
		return fmt.Errorf("staging: put submission %d: group is required", sub.Tag)
	}
	if err := s.db.WithContext(ctx).Save(&sub).Error; err != nil {
		return fmt.Errorf("staging: put submission %d: %w", sub.Tag, err)
	}
	return nil
}
