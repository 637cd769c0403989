package counters

import "time"

const (
	trafficDateLayout    = "2006-01-02"
	trafficOffsetSeconds = 5*60*60 + 30*60
)

// trafficZone is the business day used for traffic records, independent of
// the visitor's own zone.
var trafficZone = time.FixedZone("IST", trafficOffsetSeconds)

// TrafficDate returns the canonical YYYY-MM-DD traffic key for an instant.
func TrafficDate(instant time.Time) string {
	return instant.In(trafficZone).Format(trafficDateLayout)
}
