// Package model defines the display-side values produced from view data.
package model

import "time"

// TVQ is one sample of a tag: time, value, quality.
type TVQ struct {
	Timestamp string `json:"timestamp"`       // calendar string, "" when absent or unrepresentable
	Value     any    `json:"value"`           // Go scalar, nil when the variant is empty
	Quality   int32  `json:"quality"`         // OPC style quality code
	Err       string `json:"error,omitempty"` // why Timestamp is empty despite a wire value
}

// TagValue is the current value of one tag.
type TagValue struct {
	TagItemID string `json:"tag_item_id"`
	TVQ
}

// Series maps tag names to their samples in server order.
type Series map[string][]TVQ

// LiveUpdate is one message of a live data subscription.
type LiveUpdate struct {
	TagName string `json:"tag_name"`
	TVQs    []TVQ  `json:"tvqs"`
}

// Quality filters accepted by current value queries.
type Quality string

const (
	QualityAny    Quality = "any"
	QualityNonBad Quality = "non_bad"
	QualityGood   Quality = "good"
)

// RawQuery selects raw history for a set of tags in one view.
type RawQuery struct {
	View         string
	Tags         []string
	Start        string // calendar string
	End          string // calendar string
	MaxPerTag    int32  // 0 means DefaultMaxPerTag
	ReturnBounds bool
}

// DefaultMaxPerTag is the per tag point cap used when a caller sets none.
const DefaultMaxPerTag int32 = 10000

// TagProperty is one property of a tag as reported by tag info.
type TagProperty struct {
	Name        string `json:"prop_name"`
	Value       string `json:"prop_value"`
	DataType    string `json:"data_type"`
	Description string `json:"prop_description"`
}

// TagInfo describes one tag.
type TagInfo struct {
	TagItemID  string        `json:"tag_item_id"`
	ItemType   int32         `json:"item_type"`
	Flags      int32         `json:"flags"`
	Properties []TagProperty `json:"properties"`
}

// DataContext is the stored time range of a tag and its newest value as text.
type DataContext struct {
	TagItemID           string `json:"tag_item_id"`
	OldestTimestamp     string `json:"oldest_timestamp,omitempty"`
	LatestTimestamp     string `json:"latest_timestamp,omitempty"`
	LatestValueDataType string `json:"latest_value_data_type"`
	LatestValue         string `json:"latest_value"`
	LatestQuality       int32  `json:"latest_quality"`
	Err                 string `json:"error,omitempty"`
}

// Aggregate is a processing function the service offers.
type Aggregate struct {
	Name        string `json:"aggregate_name"`
	Description string `json:"aggregate_description,omitempty"`
}

// DefaultAggregate is used when a query names none.
const DefaultAggregate = "TimeAverage"

// AggregateQuery selects processed history: one value per Interval from
// Start to End for each tag.
type AggregateQuery struct {
	View      string
	Tags      []string
	Start     string // calendar string
	End       string // calendar string
	Interval  time.Duration
	Aggregate string // "" means DefaultAggregate
}

// StatisticsQuery selects summary statistics of one tag.
type StatisticsQuery struct {
	View               string
	Tag                string
	Start              string // calendar string
	End                string // calendar string
	Interval           time.Duration
	Aggregate          string // "" means DefaultAggregate
	IncludeStdDev      bool
	IncludePercentiles bool
}

// Statistics summarizes one tag over a window.
type Statistics struct {
	TotalSamples int64   `json:"total_samples"`
	ValidSamples int64   `json:"valid_samples"`
	Sum          float64 `json:"sum"`
	Mean         float64 `json:"mean"`
	Minimum      float64 `json:"minimum"`
	Maximum      float64 `json:"maximum"`
	StandardDev  float64 `json:"standard_dev"`
	Percent25    float64 `json:"percent_25"`
	Percent50    float64 `json:"percent_50"`
	Percent75    float64 `json:"percent_75"`
}
