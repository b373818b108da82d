// Package newsfeed records first publications and fans them out to
// configured webhooks. A chart enters the feed exactly once, the first time
// it becomes public; later unpublish/republish cycles are invisible here.
package newsfeed

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PageSize is the number of feed entries per page.
const PageSize = 20

// FeedEntry is one first-publication announcement.
type FeedEntry struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	ChartName   string    `gorm:"column:chart_name;size:64;not null;uniqueIndex:idx_feed_chart" json:"name"`
	Title       string    `gorm:"column:title;size:200;not null" json:"title"`
	Artists     string    `gorm:"column:artists;size:200;not null" json:"artists"`
	Author      string    `gorm:"column:author;size:200;not null" json:"author"`
	Rating      int       `gorm:"column:rating;not null" json:"rating"`
	CoverURL    string    `gorm:"column:cover_url;size:300;not null" json:"coverUrl"`
	PublishedAt time.Time `gorm:"column:published_at;not null;index:idx_feed_published" json:"publishedAt"`
}

// TableName provides the explicit table binding for GORM.
func (FeedEntry) TableName() string {
	return "feed_entries"
}

// Store persists and lists feed entries.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStore wraps the database handle.
func NewStore(db *gorm.DB, clock func() time.Time) (*Store, error) {
	if db == nil {
		return nil, errors.New("newsfeed: database handle is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: db, clock: clock}, nil
}

// Record inserts the entry, silently ignoring a chart that was already
// announced. The unique index on chart_name makes the once-only guarantee
// durable, not merely in-process.
func (s *Store) Record(ctx context.Context, entry FeedEntry) error {
	if entry.PublishedAt.IsZero() {
		entry.PublishedAt = s.clock().UTC()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chart_name"}},
			DoNothing: true,
		}).
		Create(&entry).Error
}

// List returns one page of the feed, newest first, plus the total count.
func (s *Store) List(ctx context.Context, page int) ([]FeedEntry, int64, error) {
	if page < 0 {
		page = 0
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&FeedEntry{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []FeedEntry
	err := s.db.WithContext(ctx).
		Order("published_at DESC").
		Limit(PageSize).
		Offset(page * PageSize).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
