package newsfeed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chartfall-net/chartfall/backend/internal/catalog"
)

// Publisher bridges catalog publications into the feed and the webhooks.
// It implements catalog.Announcer.
type Publisher struct {
	store    *Store
	notifier Notifier
	logger   *zap.Logger
}

// NewPublisher wires the feed store and notifier.
func NewPublisher(store *Store, notifier Notifier, logger *zap.Logger) *Publisher {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{store: store, notifier: notifier, logger: logger}
}

// ChartPublished records the first publication and fans it out. The feed is
// advisory: failures are logged, never surfaced, so a broken feed cannot
// fail a publish.
func (p *Publisher) ChartPublished(ctx context.Context, chart *catalog.ChartRecord) {
	entry := FeedEntry{
		ChartName:   chart.Name,
		Title:       chart.Title.Preferred(),
		Artists:     chart.Artists.Preferred(),
		Author:      chart.Author.Preferred(),
		Rating:      chart.Rating,
		CoverURL:    chart.Cover.URL,
		PublishedAt: time.Now().UTC(),
	}
	if err := p.store.Record(ctx, entry); err != nil {
		p.logger.Warn("feed entry not recorded", zap.String("chart", chart.Name), zap.Error(err))
		return
	}

	announcement := Announcement{
		Name:        entry.ChartName,
		Title:       entry.Title,
		Artists:     entry.Artists,
		Author:      entry.Author,
		Rating:      entry.Rating,
		CoverURL:    entry.CoverURL,
		PublishedAt: entry.PublishedAt,
	}
	if err := p.notifier.Announce(ctx, announcement); err != nil {
		p.logger.Warn("announcement fan-out failed", zap.String("chart", chart.Name), zap.Error(err))
	}
}
