package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("database handle is required")

// Repository is the durable catalog store, the single point of truth for
// chart and background records.
type Repository struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewRepository wraps the database handle.
func NewRepository(db *gorm.DB, clock func() time.Time) (*Repository, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &Repository{db: db, clock: clock}, nil
}

// ChartUpdate carries the merge-only edit payload. Nil fields retain their
// prior values; records are never mutated by direct field assignment.
type ChartUpdate struct {
	Title         *LocalizedText
	Artists       *LocalizedText
	Author        *LocalizedText
	Description   *LocalizedText
	Rating        *int
	DifficultyTag *LocalizedText

	IsPublic      *bool
	FileOpen      *bool
	Derivative    *Derivative
	Collaboration *Collaboration
	PrivateShare  *PrivateShare

	Data          *AssetRef
	Cover         *AssetRef
	BGM           *AssetRef
	Preview       *AssetRef
	OriginalChart *AssetRef

	// BackgroundImage and BackgroundThumbnail refresh the owned background
	// record when a new cover was transcoded.
	BackgroundImage     *AssetRef
	BackgroundThumbnail *AssetRef
}

// UpdateResult reports the merged record and whether this update was the
// chart's first ever publication.
type UpdateResult struct {
	Chart        *ChartRecord
	FirstPublish bool
}

// CreateChart persists the chart and its owned background atomically.
func (r *Repository) CreateChart(ctx context.Context, chart *ChartRecord, background *BackgroundRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(chart).Error; err != nil {
			return err
		}
		if background != nil {
			if err := tx.Create(background).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChart loads one chart by name.
func (r *Repository) GetChart(ctx context.Context, name string) (*ChartRecord, error) {
	var chart ChartRecord
	err := r.db.WithContext(ctx).Where("name = ?", name).Take(&chart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &chart, nil
}

// GetBackground loads one background by name.
func (r *Repository) GetBackground(ctx context.Context, name string) (*BackgroundRecord, error) {
	var background BackgroundRecord
	err := r.db.WithContext(ctx).Where("name = ?", name).Take(&background).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &background, nil
}

// ListCharts returns every chart ordered by upload time, newest first. Used
// to seed the serving mirror at startup.
func (r *Repository) ListCharts(ctx context.Context) ([]ChartRecord, error) {
	var charts []ChartRecord
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&charts).Error; err != nil {
		return nil, err
	}
	return charts, nil
}

// UpdateChart merges the supplied fields into the stored record. The merge
// honors the publication invariants: WasPublicBefore only transitions
// false to true, and the first publish is reported exactly once. Clearing
// FileOpen drops the original-file URL.
func (r *Repository) UpdateChart(ctx context.Context, name string, update ChartUpdate) (UpdateResult, error) {
	var result UpdateResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chart ChartRecord
		err := tx.Where("name = ?", name).Take(&chart).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err != nil {
			return err
		}

		applyUpdate(&chart, update, &result)
		chart.Version++

		if err := tx.Save(&chart).Error; err != nil {
			return err
		}

		if (update.BackgroundImage != nil || update.BackgroundThumbnail != nil) && chart.BackgroundName != "" {
			var background BackgroundRecord
			err := tx.Where("name = ?", chart.BackgroundName).Take(&background).Error
			if err == nil {
				if update.BackgroundImage != nil {
					background.Image = *update.BackgroundImage
				}
				if update.BackgroundThumbnail != nil {
					background.Thumbnail = *update.BackgroundThumbnail
				}
				if err := tx.Save(&background).Error; err != nil {
					return err
				}
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		result.Chart = &chart
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	return result, nil
}

func applyUpdate(chart *ChartRecord, update ChartUpdate, result *UpdateResult) {
	if update.Title != nil {
		chart.Title = *update.Title
	}
	if update.Artists != nil {
		chart.Artists = *update.Artists
	}
	if update.Author != nil {
		chart.Author = *update.Author
	}
	if update.Description != nil {
		chart.Description = *update.Description
	}
	if update.Rating != nil {
		chart.Rating = *update.Rating
	}
	if update.DifficultyTag != nil {
		replaced := false
		for i := range chart.Tags {
			if chart.Tags[i].Icon != IconHeart {
				chart.Tags[i].Title = *update.DifficultyTag
				replaced = true
				break
			}
		}
		if !replaced {
			chart.Tags = append([]Tag{{Title: *update.DifficultyTag}}, chart.Tags...)
		}
	}

	if update.IsPublic != nil {
		newPublic := *update.IsPublic
		if newPublic && !chart.Meta.WasPublicBefore {
			chart.Meta.WasPublicBefore = true
			result.FirstPublish = true
		}
		chart.Meta.IsPublic = newPublic
	}
	if update.FileOpen != nil {
		chart.Meta.FileOpen = *update.FileOpen
		if !chart.Meta.FileOpen {
			chart.Meta.OriginalURL = ""
		}
	}
	if update.Derivative != nil {
		chart.Meta.Derivative = *update.Derivative
	}
	if update.Collaboration != nil {
		chart.Meta.Collaboration = *update.Collaboration
	}
	if update.PrivateShare != nil {
		chart.Meta.PrivateShare = *update.PrivateShare
	}

	if update.Data != nil {
		chart.Data = *update.Data
	}
	if update.Cover != nil {
		chart.Cover = *update.Cover
	}
	if update.BGM != nil {
		chart.BGM = *update.BGM
	}
	if update.Preview != nil {
		chart.Preview = *update.Preview
	}
	if update.OriginalChart != nil {
		chart.OriginalChart = *update.OriginalChart
		if chart.Meta.FileOpen {
			chart.Meta.OriginalURL = update.OriginalChart.URL
		}
	}
}

// DeleteChart removes the chart and its owned background atomically,
// returning both so the caller can release their blobs.
func (r *Repository) DeleteChart(ctx context.Context, name string) (*ChartRecord, *BackgroundRecord, error) {
	var chart ChartRecord
	var background *BackgroundRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("name = ?", name).Take(&chart).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err != nil {
			return err
		}

		if chart.BackgroundName != "" {
			var bg BackgroundRecord
			err := tx.Where("name = ?", chart.BackgroundName).Take(&bg).Error
			if err == nil {
				background = &bg
				if err := tx.Delete(&BackgroundRecord{}, "name = ?", chart.BackgroundName).Error; err != nil {
					return err
				}
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		if err := tx.Delete(&Event{}, "chart_name = ?", name).Error; err != nil {
			return err
		}
		return tx.Delete(&ChartRecord{}, "name = ?", name).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &chart, background, nil
}

// UpsertEvent binds (or rebinds) the featured window for a chart.
func (r *Repository) UpsertEvent(ctx context.Context, event *Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.clock().UTC()
	}
	return r.db.WithContext(ctx).Save(event).Error
}

// DeleteEvent removes the featured window for a chart, if any.
func (r *Repository) DeleteEvent(ctx context.Context, chartName string) error {
	return r.db.WithContext(ctx).Delete(&Event{}, "chart_name = ?", chartName).Error
}

// ActiveEvents returns every event whose window contains now.
func (r *Repository) ActiveEvents(ctx context.Context, now time.Time) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).
		Where("start_date <= ? AND end_date >= ?", now, now).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
