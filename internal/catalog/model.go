// Package catalog implements the chart catalog engine: the durable
// repository, the in-process serving mirror and its formatted-view cache,
// visibility resolution, and the faceted search engine.
package catalog

import (
	"time"
)

// LocalizedText is a language-keyed text pair. Uploads currently fill both
// locales with the same value; imports may differ.
type LocalizedText struct {
	EN string `json:"en"`
	JA string `json:"ja"`
}

// Preferred returns the Japanese value when present, else the English one.
func (t LocalizedText) Preferred() string {
	if t.JA != "" {
		return t.JA
	}
	return t.EN
}

// Text builds a LocalizedText with both locales set to value.
func Text(value string) LocalizedText {
	return LocalizedText{EN: value, JA: value}
}

// Tag is a display tag. Tag zero is the difficulty tag; a tag with
// IconHeart encodes the like count as textual state.
type Tag struct {
	Title LocalizedText `json:"title"`
	Icon  string        `json:"icon,omitempty"`
}

// IconHeart marks the like-count tag.
const IconHeart = "heart"

// AssetRef references a stored blob: the content-store identifier plus the
// repository path it is served from. Never inline bytes.
type AssetRef struct {
	Hash string `json:"hash"`
	URL  string `json:"url"`
}

// Zero reports whether the reference is unset.
func (r AssetRef) Zero() bool {
	return r.Hash == "" && r.URL == ""
}

// Derivative marks a chart as derived from another chart.
type Derivative struct {
	IsDerivative bool   `json:"isDerivative"`
	SourceName   string `json:"sourceName,omitempty"`
}

// Collaboration lists the handles credited as co-authors. Members grant
// private visibility and edit rights, not delete rights.
type Collaboration struct {
	Enabled bool    `json:"iscollaboration"`
	Members []int64 `json:"members,omitempty"`
}

// PrivateShare is an allow-list of viewer handles.
type PrivateShare struct {
	Enabled bool    `json:"isPrivateShare"`
	Viewers []int64 `json:"users,omitempty"`
}

// Anonymous publishes the chart under an alias. OriginalHandle stays
// recoverable only by the resolver, never by the presentation layer.
type Anonymous struct {
	Enabled        bool   `json:"isAnonymous"`
	Alias          string `json:"anonymousHandle,omitempty"`
	OriginalHandle int64  `json:"originalHandle,omitempty"`
}

// Meta is the visibility and provenance block of a chart.
type Meta struct {
	IsPublic bool `json:"isPublic"`
	// WasPublicBefore is monotonic: once true it never becomes false. It
	// gates the single first-publish notification.
	WasPublicBefore bool          `json:"wasPublicBefore"`
	Derivative      Derivative    `json:"derivative"`
	FileOpen        bool          `json:"fileOpen"`
	OriginalURL     string        `json:"originalUrl,omitempty"`
	Collaboration   Collaboration `json:"collaboration"`
	PrivateShare    PrivateShare  `json:"privateShare"`
	Anonymous       Anonymous     `json:"anonymous"`
}

// ChartRecord is the catalog's source-of-truth row for one chart. Name is
// opaque, globally unique, and never reused. Fields mutate only through the
// repository's update operation.
type ChartRecord struct {
	Name        string        `gorm:"column:name;primaryKey;size:64;not null" json:"name"`
	Rating      int           `gorm:"column:rating;not null" json:"rating"`
	Version     int           `gorm:"column:version;not null;default:1" json:"version"`
	Title       LocalizedText `gorm:"column:title;serializer:json" json:"title"`
	Artists     LocalizedText `gorm:"column:artists;serializer:json" json:"artists"`
	Author      LocalizedText `gorm:"column:author;serializer:json" json:"author"`
	Description LocalizedText `gorm:"column:description;serializer:json" json:"description"`
	Tags        []Tag         `gorm:"column:tags;serializer:json" json:"tags"`
	Engine      string        `gorm:"column:engine;size:64;not null" json:"engine"`

	Cover         AssetRef `gorm:"column:cover;serializer:json" json:"cover"`
	BGM           AssetRef `gorm:"column:bgm;serializer:json" json:"bgm"`
	Preview       AssetRef `gorm:"column:preview;serializer:json" json:"preview"`
	Data          AssetRef `gorm:"column:data;serializer:json" json:"data"`
	OriginalChart AssetRef `gorm:"column:original_chart;serializer:json" json:"originalChart,omitempty"`

	// BackgroundName keys the BackgroundRecord owned 1:1 by this chart.
	BackgroundName string `gorm:"column:background_name;size:96;not null;default:''" json:"backgroundName"`

	Meta      Meta      `gorm:"column:meta;serializer:json" json:"meta"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_charts_created" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (ChartRecord) TableName() string {
	return "charts"
}

// DifficultyTag returns the difficulty tag title, empty when absent.
func (c *ChartRecord) DifficultyTag() LocalizedText {
	for _, tag := range c.Tags {
		if tag.Icon != IconHeart {
			return tag.Title
		}
	}
	return LocalizedText{}
}

// BackgroundRecord is the visual asset owned by exactly one chart. Viewers
// never create one directly; ingestion derives it from the cover.
type BackgroundRecord struct {
	Name          string        `gorm:"column:name;primaryKey;size:96;not null" json:"name"`
	Version       int           `gorm:"column:version;not null;default:2" json:"version"`
	Title         LocalizedText `gorm:"column:title;serializer:json" json:"title"`
	Subtitle      LocalizedText `gorm:"column:subtitle;serializer:json" json:"subtitle"`
	Author        LocalizedText `gorm:"column:author;serializer:json" json:"author"`
	Description   LocalizedText `gorm:"column:description;serializer:json" json:"description"`
	Tags          []Tag         `gorm:"column:tags;serializer:json" json:"tags"`
	Thumbnail     AssetRef      `gorm:"column:thumbnail;serializer:json" json:"thumbnail"`
	Data          AssetRef      `gorm:"column:data;serializer:json" json:"data"`
	Image         AssetRef      `gorm:"column:image;serializer:json" json:"image"`
	Configuration AssetRef      `gorm:"column:configuration;serializer:json" json:"configuration"`
	CreatedAt     time.Time     `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (BackgroundRecord) TableName() string {
	return "backgrounds"
}

// Event binds a chart to a featured window. While now is inside
// [StartDate, EndDate] the chart is surfaced in the featured section
// regardless of its ordinary visibility. At most one event per chart.
type Event struct {
	ChartName string    `gorm:"column:chart_name;primaryKey;size:64;not null" json:"chartName"`
	StartDate time.Time `gorm:"column:start_date;not null" json:"startDate"`
	EndDate   time.Time `gorm:"column:end_date;not null" json:"endDate"`
	CreatedBy string    `gorm:"column:created_by;size:190;not null;default:'admin'" json:"createdBy"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// Active reports whether now falls inside the event window, inclusive.
func (e Event) Active(now time.Time) bool {
	return !now.Before(e.StartDate) && !now.After(e.EndDate)
}
