package staging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gfhdhytghd/oqqwall/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultLeaseTimeout is the duration after which a lease whose heartbeat
// stopped is considered abandoned and can be reclaimed.
const DefaultLeaseTimeout = 90 * time.Second

// DefaultPollInterval is how often a waiting Lock retries the lease.
const DefaultPollInterval = 100 * time.Millisecond

// Locker serializes work within one group across goroutines (in-process
// mutex) and across processes (a lease row in group_locks). Different
// groups never block each other.
type Locker struct {
	db      *gorm.DB
	holder  string
	timeout time.Duration
	poll    time.Duration

	mu     sync.Mutex
	groups map[string]*sync.Mutex
}

// NewLocker creates a Locker. A non-positive timeout uses DefaultLeaseTimeout.
func NewLocker(gdb *gorm.DB, timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = DefaultLeaseTimeout
	}
	return &Locker{
		db:      gdb,
		holder:  uuid.NewString(),
		timeout: timeout,
		poll:    DefaultPollInterval,
		groups:  make(map[string]*sync.Mutex),
	}
}

func (l *Locker) groupMutex(group string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.groups[group]
	if !ok {
		m = &sync.Mutex{}
		l.groups[group] = m
	}
	return m
}

// Lock blocks until group's lock is held or ctx is done. The returned
// unlock func releases both the lease and the in-process mutex.
func (l *Locker) Lock(ctx context.Context, group string) (func(), error) {
	m := l.groupMutex(group)
	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-ctx.Done():
		// Release the mutex once the pending Lock goes through.
		go func() {
			<-acquired
			m.Unlock()
		}()
		return nil, fmt.Errorf("staging: lock %s: %w", group, ctx.Err())
	}

	for {
		ok, err := l.tryLease(ctx, group)
		if err != nil {
			m.Unlock()
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			m.Unlock()
			return nil, fmt.Errorf("staging: lock %s: %w", group, ctx.Err())
		case <-time.After(l.poll):
		}
	}

	hbCtx, stop := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.heartbeat(hbCtx, group)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			wg.Wait()
			l.db.Where("group_name = ? AND holder = ?", group, l.holder).Delete(&models.GroupLock{})
			m.Unlock()
		})
	}, nil
}

// tryLease expires a stale lease for group and then attempts to insert ours.
func (l *Locker) tryLease(ctx context.Context, group string) (bool, error) {
	acquired := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cutoff := time.Now().Add(-l.timeout)
		if err := tx.Where("group_name = ? AND last_heartbeat < ?", group, cutoff).
			Delete(&models.GroupLock{}).Error; err != nil {
			return fmt.Errorf("expire stale lease: %w", err)
		}

		now := time.Now()
		lease := models.GroupLock{
			GroupName:     group,
			Holder:        l.holder,
			AcquiredAt:    now,
			LastHeartbeat: now,
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&lease)
		if result.Error != nil {
			return fmt.Errorf("create lease: %w", result.Error)
		}
		acquired = result.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("staging: lock %s: %w", group, err)
	}
	return acquired, nil
}

func (l *Locker) heartbeat(ctx context.Context, group string) {
	ticker := time.NewTicker(l.timeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.db.Model(&models.GroupLock{}).
				Where("group_name = ? AND holder = ?", group, l.holder).
				Update("last_heartbeat", time.Now())
		}
	}
}
