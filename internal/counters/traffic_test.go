package counters

import (
	"testing"
	"time"
)

func TestTrafficDateUsesBusinessDay(t *testing.T) {
	newYork := time.FixedZone("EST", -5*60*60)
	testCases := []struct {
		name    string
		instant time.Time
		want    string
	}{
		{
			name:    "evening-utc-rolls-over",
			instant: time.Date(2024, time.January, 15, 19, 0, 0, 0, time.UTC),
			want:    "2024-01-16",
		},
		{
			name:    "just-before-midnight-ist",
			instant: time.Date(2024, time.January, 15, 18, 29, 59, 0, time.UTC),
			want:    "2024-01-15",
		},
		{
			name:    "midnight-ist",
			instant: time.Date(2024, time.January, 15, 18, 30, 0, 0, time.UTC),
			want:    "2024-01-16",
		},
		{
			name:    "caller-zone-ignored",
			instant: time.Date(2024, time.January, 15, 14, 0, 0, 0, newYork),
			want:    "2024-01-16",
		},
		{
			name:    "year-boundary",
			instant: time.Date(2023, time.December, 31, 20, 0, 0, 0, time.UTC),
			want:    "2024-01-01",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := TrafficDate(testCase.instant); got != testCase.want {
				t.Fatalf("TrafficDate(%s) = %s, want %s", testCase.instant.Format(time.RFC3339), got, testCase.want)
			}
		})
	}
}
