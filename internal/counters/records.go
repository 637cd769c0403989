package counters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PageRecord is the per-slug entry of the pages document.
type PageRecord struct {
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Views       int64     `json:"views"`
	UniqueViews int64     `json:"unique_views"`
	LastViewed  time.Time `json:"last_viewed"`
}

// ProductRecord is the per-product entry of the products document.
type ProductRecord struct {
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Views       int64     `json:"views"`
	UniqueViews int64     `json:"unique_views"`
	Enquiries   int64     `json:"enquiries"`
	LastViewed  time.Time `json:"last_viewed"`
}

// TrafficRecord is the per-day entry of the traffic document.
type TrafficRecord struct {
	Date         string `json:"date"`
	Views        int64  `json:"views"`
	ProductViews int64  `json:"product_views"`
	Enquiries    int64  `json:"enquiries"`
}

// record is implemented by every array element type. sanitized clamps drifted
// values, merged folds a duplicate entry for the same key into the receiver.
type record[R any] interface {
	key() string
	sanitized() R
	merged(other R) R
}

func (r PageRecord) key() string { return r.Slug }

func (r PageRecord) sanitized() PageRecord {
	r.Views = nonNegative(r.Views)
	r.UniqueViews = min(nonNegative(r.UniqueViews), r.Views)
	return r
}

func (r PageRecord) merged(other PageRecord) PageRecord {
	r.Views += other.Views
	r.UniqueViews += other.UniqueViews
	if other.LastViewed.After(r.LastViewed) {
		r.LastViewed = other.LastViewed
	}
	return r
}

func (r ProductRecord) key() string { return r.Slug }

func (r ProductRecord) sanitized() ProductRecord {
	r.Views = nonNegative(r.Views)
	r.UniqueViews = min(nonNegative(r.UniqueViews), r.Views)
	r.Enquiries = nonNegative(r.Enquiries)
	return r
}

func (r ProductRecord) merged(other ProductRecord) ProductRecord {
	r.Views += other.Views
	r.UniqueViews += other.UniqueViews
	r.Enquiries += other.Enquiries
	if other.LastViewed.After(r.LastViewed) {
		r.LastViewed = other.LastViewed
	}
	return r
}

// UnmarshalJSON also accepts the legacy "enqueries" spelling written by the
// first version of the site.
func (r *ProductRecord) UnmarshalJSON(data []byte) error {
	type plain ProductRecord
	var decoded struct {
		plain
		LegacyEnquiries int64 `json:"enqueries"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*r = ProductRecord(decoded.plain)
	r.Enquiries += decoded.LegacyEnquiries
	return nil
}

func (r TrafficRecord) key() string { return r.Date }

func (r TrafficRecord) sanitized() TrafficRecord {
	r.Views = nonNegative(r.Views)
	r.ProductViews = nonNegative(r.ProductViews)
	r.Enquiries = nonNegative(r.Enquiries)
	return r
}

func (r TrafficRecord) merged(other TrafficRecord) TrafficRecord {
	r.Views += other.Views
	r.ProductViews += other.ProductViews
	r.Enquiries += other.Enquiries
	return r
}

// UnmarshalJSON also accepts the legacy "enqueries" spelling.
func (r *TrafficRecord) UnmarshalJSON(data []byte) error {
	type plain TrafficRecord
	var decoded struct {
		plain
		LegacyEnquiries int64 `json:"enqueries"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*r = TrafficRecord(decoded.plain)
	r.Enquiries += decoded.LegacyEnquiries
	return nil
}

func nonNegative(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}

// aggregate is the decoded array of one document plus a key index. Record
// order is preserved so that an unchanged entry round-trips in place.
type aggregate[R record[R]] struct {
	records []R
	index   map[string]int
}

func newAggregate[R record[R]](capacity int) *aggregate[R] {
	return &aggregate[R]{
		records: make([]R, 0, capacity),
		index:   make(map[string]int, capacity),
	}
}

// decodeAggregate parses a stored payload. A blank payload or JSON null is an
// empty document, entries without a key are dropped, and duplicate keys are
// folded into the first occurrence.
func decodeAggregate[R record[R]](payload []byte) (*aggregate[R], error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return newAggregate[R](0), nil
	}

	var decoded []R
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, fmt.Errorf("decode aggregate payload: %w", err)
	}

	result := newAggregate[R](len(decoded))
	for _, entry := range decoded {
		if strings.TrimSpace(entry.key()) == "" {
			continue
		}
		entry = entry.sanitized()
		if position, ok := result.index[entry.key()]; ok {
			result.records[position] = result.records[position].merged(entry).sanitized()
			continue
		}
		result.add(entry)
	}
	return result, nil
}

func (a *aggregate[R]) find(key string) (*R, bool) {
	position, ok := a.index[key]
	if !ok {
		return nil, false
	}
	return &a.records[position], true
}

func (a *aggregate[R]) add(entry R) {
	a.index[entry.key()] = len(a.records)
	a.records = append(a.records, entry)
}

func (a *aggregate[R]) len() int {
	return len(a.records)
}

func (a *aggregate[R]) encode() ([]byte, error) {
	return json.Marshal(a.records)
}

func (a *aggregate[R]) snapshot() []R {
	copied := make([]R, len(a.records))
	copy(copied, a.records)
	return copied
}

// NormalizePayload re-encodes a stored aggregate payload in the current
// layout: legacy field names are rewritten, duplicates folded and drifted
// counters clamped. The views document has no payload and is rejected.
func NormalizePayload(name DocumentName, payload []byte) ([]byte, error) {
	switch name {
	case DocumentPages:
		return normalize[PageRecord](payload)
	case DocumentProducts:
		return normalize[ProductRecord](payload)
	case DocumentTraffic:
		return normalize[TrafficRecord](payload)
	default:
		return nil, fmt.Errorf("counters: %q is not an aggregate document", name)
	}
}

func normalize[R record[R]](payload []byte) ([]byte, error) {
	decoded, err := decodeAggregate[R](payload)
	if err != nil {
		return nil, err
	}
	return decoded.encode()
}

// AggregateDocuments lists the array-valued documents.
func AggregateDocuments() []DocumentName {
	return []DocumentName{DocumentPages, DocumentProducts, DocumentTraffic}
}
