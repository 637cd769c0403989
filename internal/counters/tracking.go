package counters

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TrackPageView records a view of a non-product page. The first view of a
// slug creates its record; later views update that record in place.
func (service *Service) TrackPageView(ctx context.Context, slug, title string, isUnique bool) error {
	key, err := NewSlug(slug)
	if err != nil {
		service.logError(opTrackPageView, reasonInvalidSlug, err)
		return newServiceError(opTrackPageView, reasonInvalidSlug, err)
	}

	return transact(ctx, service, opTrackPageView, DocumentPages, func(pages *aggregate[PageRecord], now time.Time) bool {
		if existing, ok := pages.find(key.String()); ok {
			existing.Views++
			if isUnique {
				existing.UniqueViews++
			}
			existing.LastViewed = now
			return true
		}
		pages.add(PageRecord{
			Slug:        key.String(),
			Title:       title,
			Views:       1,
			UniqueViews: countIf(isUnique),
			LastViewed:  now,
		})
		return true
	})
}

// TrackProductView records a view of a product page.
func (service *Service) TrackProductView(ctx context.Context, slug, name, category string, isUnique bool) error {
	key, err := NewSlug(slug)
	if err != nil {
		service.logError(opTrackProductView, reasonInvalidSlug, err)
		return newServiceError(opTrackProductView, reasonInvalidSlug, err)
	}

	return transact(ctx, service, opTrackProductView, DocumentProducts, func(products *aggregate[ProductRecord], now time.Time) bool {
		if existing, ok := products.find(key.String()); ok {
			existing.Views++
			if isUnique {
				existing.UniqueViews++
			}
			existing.LastViewed = now
			return true
		}
		products.add(ProductRecord{
			Slug:        key.String(),
			Name:        name,
			Category:    category,
			Views:       1,
			UniqueViews: countIf(isUnique),
			Enquiries:   0,
			LastViewed:  now,
		})
		return true
	})
}

// TrackProductEnquiry counts an enquiry against an already-viewed product and
// then counts it in today's traffic. An enquiry for a product without a
// record leaves the products document untouched; the traffic count still
// happens. The two documents are written independently.
func (service *Service) TrackProductEnquiry(ctx context.Context, slug string) error {
	key, err := NewSlug(slug)
	if err != nil {
		service.logError(opTrackProductEnquiry, reasonInvalidSlug, err)
		return newServiceError(opTrackProductEnquiry, reasonInvalidSlug, err)
	}

	found := false
	err = transact(ctx, service, opTrackProductEnquiry, DocumentProducts, func(products *aggregate[ProductRecord], _ time.Time) bool {
		existing, ok := products.find(key.String())
		found = ok
		if !ok {
			return false
		}
		existing.Enquiries++
		return true
	})
	if err != nil {
		return err
	}
	if !found {
		service.loggerOrDefault().Debug("enquiry for product without record",
			zap.String("operation", opTrackProductEnquiry),
			zap.String("slug", key.String()))
	}

	return service.TrackTraffic(ctx, TrafficUpdate{Enquiries: 1})
}

// TrackTraffic increments today's traffic record, keyed by the canonical
// traffic date of the service clock.
func (service *Service) TrackTraffic(ctx context.Context, update TrafficUpdate) error {
	if update.empty() {
		return nil
	}

	return transact(ctx, service, opTrackTraffic, DocumentTraffic, func(traffic *aggregate[TrafficRecord], now time.Time) bool {
		date := TrafficDate(now)
		if existing, ok := traffic.find(date); ok {
			if update.PageView {
				existing.Views++
			}
			if update.ProductView {
				existing.ProductViews++
			}
			if update.Enquiries > 0 {
				existing.Enquiries += update.Enquiries
			}
			return true
		}
		traffic.add(TrafficRecord{
			Date:         date,
			Views:        countIf(update.PageView),
			ProductViews: countIf(update.ProductView),
			Enquiries:    nonNegative(update.Enquiries),
		})
		return true
	})
}

func countIf(condition bool) int64 {
	if condition {
		return 1
	}
	return 0
}
