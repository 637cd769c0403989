package counters

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// DocumentName identifies one of the singleton analytics documents.
type DocumentName string

const (
	// DocumentViews holds the site-wide scalar counters.
	DocumentViews DocumentName = "views"
	// DocumentPages holds one record per non-product page slug.
	DocumentPages DocumentName = "pages"
	// DocumentProducts holds one record per product identifier.
	DocumentProducts DocumentName = "products"
	// DocumentTraffic holds one record per canonical traffic date.
	DocumentTraffic DocumentName = "traffic"
)

// String returns the stored document name.
func (name DocumentName) String() string {
	return string(name)
}

const maxKeyLength = 190

var (
	// ErrInvalidSlug indicates that a page or product key is empty or exceeds storage bounds.
	ErrInvalidSlug = errors.New("counters: invalid slug")
	// ErrInvalidDelta indicates a zero realtime delta.
	ErrInvalidDelta = errors.New("counters: invalid realtime delta")
	// ErrContention indicates that an aggregate write kept losing its version race.
	ErrContention = errors.New("counters: contention retry budget exhausted")
)

// Slug is a validated page slug or product identifier. Matching is exact; the
// key is stored as given.
type Slug string

// NewSlug rejects blank or oversized keys and returns rawInput unchanged.
func NewSlug(rawInput string) (Slug, error) {
	if strings.TrimSpace(rawInput) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSlug)
	}
	if len(rawInput) > maxKeyLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSlug, maxKeyLength)
	}
	return Slug(rawInput), nil
}

// String returns the underlying key.
func (slug Slug) String() string {
	return string(slug)
}

// ViewsCounter is the singleton row carrying the site-wide counters. Every
// column is only ever changed through a single relative UPDATE statement.
type ViewsCounter struct {
	Name             string `gorm:"column:name;primaryKey;size:32;not null" json:"-"`
	Views            int64  `gorm:"column:views;not null;default:0" json:"views"`
	UniqueViews      int64  `gorm:"column:unique_views;not null;default:0" json:"unique_views"`
	RealtimeViews    int64  `gorm:"column:realtime_views;not null;default:0" json:"realtime_views"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0" json:"updated_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (ViewsCounter) TableName() string {
	return "analytics_views"
}

// AggregateDocument stores one array-valued analytics document. Version is
// bumped by exactly one on every committed write and acts as the commit token
// for the optimistic read-modify-write cycle.
type AggregateDocument struct {
	Name             string         `gorm:"column:name;primaryKey;size:32;not null"`
	Version          int64          `gorm:"column:version;not null;default:0"`
	Payload          datatypes.JSON `gorm:"column:payload;not null"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (AggregateDocument) TableName() string {
	return "analytics_documents"
}

// Models lists every table owned by the counter store.
func Models() []any {
	return []any{&ViewsCounter{}, &AggregateDocument{}}
}

// TrafficUpdate selects which daily counters a traffic event increments.
type TrafficUpdate struct {
	PageView    bool
	ProductView bool
	Enquiries   int64
}

func (update TrafficUpdate) empty() bool {
	return !update.PageView && !update.ProductView && update.Enquiries <= 0
}

// Snapshot is a point-in-time read of all four documents.
type Snapshot struct {
	Views    ViewsCounter    `json:"views"`
	Pages    []PageRecord    `json:"pages"`
	Products []ProductRecord `json:"products"`
	Traffic  []TrafficRecord `json:"traffic"`
}
