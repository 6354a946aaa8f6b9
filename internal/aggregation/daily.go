package aggregation

import (
	"sort"
	"time"

	"github.com/smukkama/plant-monitor/internal/protocol"
)

// Outlier is a raw value outside the IQR bounds of its metric's series.
type Outlier struct {
	Timestamp time.Time
	Value     float64
}

// DailySummary holds the statistics of one non-empty day-bucket.
type DailySummary struct {
	Date     time.Time // local midnight of the bucket
	Means    map[protocol.Metric]float64
	Counts   map[protocol.Metric]int
	Outliers map[protocol.Metric][]Outlier
	Warnings []string
}

// Mean returns the day's mean for m, if any value of m was present.
func (s DailySummary) Mean(m protocol.Metric) (float64, bool) {
	v, ok := s.Means[m]
	return v, ok
}

// DailyAggregator resamples a reading series into calendar days.
type DailyAggregator struct {
	loc *time.Location
}

// NewDailyAggregator creates a new daily aggregator. Day boundaries are local
// midnight in loc for the whole run.
func NewDailyAggregator(loc *time.Location) *DailyAggregator {
	if loc == nil {
		loc = time.Local
	}
	return &DailyAggregator{loc: loc}
}

// DayOf truncates t to the start of its calendar day.
func (d *DailyAggregator) DayOf(t time.Time) time.Time {
	lt := t.In(d.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, d.loc)
}

type bucket struct {
	date   time.Time
	sums   map[protocol.Metric]float64
	counts map[protocol.Metric]int
}

// Aggregate builds one summary per calendar day that has at least one reading,
// in ascending date order. Means use every present raw value; outliers are
// computed over the whole unbucketed series per metric and reported on the
// day they occurred, never removed from the mean.
func (d *DailyAggregator) Aggregate(readings []protocol.Reading) []DailySummary {
	buckets := make(map[string]*bucket)

	for _, r := range readings {
		day := d.DayOf(r.Timestamp)
		key := day.Format("2006-01-02")
		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				date:   day,
				sums:   make(map[protocol.Metric]float64),
				counts: make(map[protocol.Metric]int),
			}
			buckets[key] = b
		}
		for _, m := range protocol.Metrics {
			if v, ok := r.Value(m); ok {
				b.sums[m] += v
				b.counts[m]++
			}
		}
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	summaries := make([]DailySummary, 0, len(keys))
	index := make(map[string]int, len(keys))
	for _, k := range keys {
		b := buckets[k]
		s := DailySummary{
			Date:     b.date,
			Means:    make(map[protocol.Metric]float64),
			Counts:   make(map[protocol.Metric]int),
			Outliers: make(map[protocol.Metric][]Outlier),
		}
		for m, n := range b.counts {
			s.Means[m] = b.sums[m] / float64(n)
			s.Counts[m] = n
		}
		index[k] = len(summaries)
		summaries = append(summaries, s)
	}

	for _, m := range protocol.Metrics {
		_, outliers, ok := DetectOutliers(readings, m)
		if !ok {
			continue
		}
		for _, o := range outliers {
			i := index[d.DayOf(o.Timestamp).Format("2006-01-02")]
			summaries[i].Outliers[m] = append(summaries[i].Outliers[m], o)
		}
	}

	return summaries
}
