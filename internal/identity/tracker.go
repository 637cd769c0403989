// Package identity decides whether a visit is the first one from a browser,
// for the whole site, for a page slug, or for a product.
package identity

const (
	keySiteVisited   = "prempushp_site_visited"
	keyPagePrefix    = "prempushp_page_"
	keyProductPrefix = "prempushp_product_"
)

// FlagStore persists boolean visit flags for one browser.
type FlagStore interface {
	// Available reports whether the store can read and write flags.
	Available() bool
	Has(key string) bool
	Set(key string)
}

// Tracker answers first-visit questions against a FlagStore. Every check sets
// its flag, so only the first call for a key returns true.
type Tracker struct {
	flags FlagStore
}

// NewTracker binds a tracker to the provided flag store. A nil store behaves
// like an unavailable one.
func NewTracker(flags FlagStore) *Tracker {
	return &Tracker{flags: flags}
}

// IsFirstSiteVisitEver reports whether this browser has never visited the site.
func (tracker *Tracker) IsFirstSiteVisitEver() bool {
	return tracker.checkAndSet(keySiteVisited)
}

// IsFirstPageVisit reports whether this browser has never viewed the page slug.
func (tracker *Tracker) IsFirstPageVisit(slug string) bool {
	return tracker.checkAndSet(PageKey(slug))
}

// IsFirstProductVisit reports whether this browser has never viewed the product.
func (tracker *Tracker) IsFirstProductVisit(productID string) bool {
	return tracker.checkAndSet(ProductKey(productID))
}

// PageKey returns the flag name used for a page slug.
func PageKey(slug string) string {
	return keyPagePrefix + slug
}

// ProductKey returns the flag name used for a product identifier.
func ProductKey(productID string) string {
	return keyProductPrefix + productID
}

// checkAndSet treats an unavailable store as "already seen", so it never
// reports a first visit.
func (tracker *Tracker) checkAndSet(key string) bool {
	if tracker == nil || tracker.flags == nil || !tracker.flags.Available() {
		return false
	}
	if tracker.flags.Has(key) {
		return false
	}
	tracker.flags.Set(key)
	return true
}
