// Package convert maps between display values (calendar strings, Go scalars)
// and Canary Views wire messages.
package convert

import (
	"fmt"
	"time"

	"github.com/huntermatuse/crowsong/internal/errs"
	"github.com/huntermatuse/crowsong/internal/isotime"
	"github.com/huntermatuse/crowsong/internal/model"
	"github.com/huntermatuse/crowsong/internal/viewsapi"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// --- helpers ---

// ts renders a wire timestamp. Absent timestamps give "", values outside the
// calendar domain give "" plus the reason.
func ts(m protoreflect.Message) (string, string) {
	sec, nanos, ok := viewsapi.Timestamp(m)
	if !ok {
		return "", ""
	}
	s, err := isotime.Encode(sec, nanos)
	if err != nil {
		return "", err.Error()
	}
	return s, ""
}

// --- Variant ---

// FromProtoVariant unwraps the set member of a Variant, nil when none is set.
func FromProtoVariant(m protoreflect.Message) any {
	if m == nil || !m.IsValid() {
		return nil
	}
	fd := m.WhichOneof(m.Descriptor().Oneofs().ByName("kind"))
	if fd == nil {
		return nil
	}
	v := m.Get(fd)
	// The narrow integer members travel as 32 bit varints.
	switch fd.Name() {
	case "int8":
		return int8(v.Int())
	case "int16":
		return int16(v.Int())
	case "uint8":
		return uint8(v.Uint())
	case "uint16":
		return uint16(v.Uint())
	}
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return v.Bool()
	case protoreflect.Int32Kind:
		return int32(v.Int())
	case protoreflect.Int64Kind:
		return v.Int()
	case protoreflect.Uint32Kind:
		return uint32(v.Uint())
	case protoreflect.Uint64Kind:
		return v.Uint()
	case protoreflect.FloatKind:
		return float32(v.Float())
	case protoreflect.DoubleKind:
		return v.Float()
	case protoreflect.StringKind:
		return v.String()
	case protoreflect.BytesKind:
		return append([]byte(nil), v.Bytes()...)
	default:
		return nil
	}
}

// --- TVQ ---

// FromProtoTVQ converts a GrpcTvq message.
func FromProtoTVQ(m protoreflect.Message) model.TVQ {
	pm := m.Interface()
	stamp, reason := ts(viewsapi.GetMessage(pm, "timestamp"))
	return model.TVQ{
		Timestamp: stamp,
		Value:     FromProtoVariant(viewsapi.GetMessage(pm, "value")),
		Quality:   viewsapi.GetInt32(pm, "quality"),
		Err:       reason,
	}
}

func tvqs(m proto.Message, field string) []model.TVQ {
	list := viewsapi.Messages(m, field)
	out := make([]model.TVQ, len(list))
	for i, t := range list {
		out[i] = FromProtoTVQ(t)
	}
	return out
}

// --- Raw data ---

type window struct {
	startSec, endSec     int64
	startNanos, endNanos int32
}

func decodeWindow(start, end string) (window, error) {
	var w window
	var err error
	if w.startSec, w.startNanos, err = isotime.Decode(start); err != nil {
		return w, fmt.Errorf("start time: %w", err)
	}
	if w.endSec, w.endNanos, err = isotime.Decode(end); err != nil {
		return w, fmt.Errorf("end time: %w", err)
	}
	return w, nil
}

func (w window) set(m proto.Message) {
	viewsapi.SetTimestamp(m, "start_time", w.startSec, w.startNanos)
	viewsapi.SetTimestamp(m, "end_time", w.endSec, w.endNanos)
}

// ToProtoRawDataRequest builds a GetRawDataRequest. Start and End are
// calendar strings; every tag gets the same window.
func ToProtoRawDataRequest(q model.RawQuery) (proto.Message, error) {
	w, err := decodeWindow(q.Start, q.End)
	if err != nil {
		return nil, err
	}
	limit := q.MaxPerTag
	if limit == 0 {
		limit = model.DefaultMaxPerTag
	}

	req := viewsapi.New("GetRawDataRequest")
	viewsapi.SetString(req, "view", q.View)
	viewsapi.SetInt32(req, "max_count_per_tag", limit)
	viewsapi.SetBool(req, "return_bounds", q.ReturnBounds)
	for _, name := range q.Tags {
		tr := viewsapi.New("RawTagRequest")
		viewsapi.SetString(tr, "tag_name", name)
		w.set(tr)
		viewsapi.AppendMessage(req, "requests", tr)
	}
	return req, nil
}

// FromProtoRawData groups a GetRawDataResponse by tag name. Repeated tags
// are concatenated in response order.
func FromProtoRawData(resp proto.Message) model.Series {
	return series(resp, "raw_data")
}

func series(resp proto.Message, field string) model.Series {
	out := model.Series{}
	for _, d := range viewsapi.Messages(resp, field) {
		dm := d.Interface()
		name := viewsapi.GetString(dm, "tag_name")
		out[name] = append(out[name], tvqs(dm, "tvqs")...)
	}
	return out
}

// --- Aggregates ---

func aggregateName(name string) string {
	if name == "" {
		return model.DefaultAggregate
	}
	return name
}

func checkInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("interval %s: %w", d, errs.ErrInvalidQuery)
	}
	return nil
}

// FromProtoAggregates converts a GetAggregateListResponse.
func FromProtoAggregates(resp proto.Message) []model.Aggregate {
	list := viewsapi.Messages(resp, "aggregates")
	out := make([]model.Aggregate, len(list))
	for i, a := range list {
		pm := a.Interface()
		out[i] = model.Aggregate{
			Name:        viewsapi.GetString(pm, "aggregate_name"),
			Description: viewsapi.GetString(pm, "aggregate_description"),
		}
	}
	return out
}

// ToProtoAggregateDataRequest builds a GetAggregateDataRequest. Every tag
// gets the same aggregate; the interval must be positive.
func ToProtoAggregateDataRequest(q model.AggregateQuery) (proto.Message, error) {
	w, err := decodeWindow(q.Start, q.End)
	if err != nil {
		return nil, err
	}
	if err := checkInterval(q.Interval); err != nil {
		return nil, err
	}
	req := viewsapi.New("GetAggregateDataRequest")
	viewsapi.SetString(req, "view", q.View)
	w.set(req)
	viewsapi.SetDuration(req, "interval", q.Interval)
	for _, name := range q.Tags {
		tr := viewsapi.New("AggregateTagRequest")
		viewsapi.SetString(tr, "tag_name", name)
		viewsapi.SetString(tr, "aggregate_name", aggregateName(q.Aggregate))
		viewsapi.AppendMessage(req, "requests", tr)
	}
	return req, nil
}

// FromProtoAggregateData groups a GetAggregateDataResponse by tag name.
func FromProtoAggregateData(resp proto.Message) model.Series {
	return series(resp, "aggregated_data")
}

// ToProtoTagStatisticsRequest builds a GetTagStatisticsRequest.
func ToProtoTagStatisticsRequest(q model.StatisticsQuery) (proto.Message, error) {
	w, err := decodeWindow(q.Start, q.End)
	if err != nil {
		return nil, err
	}
	if err := checkInterval(q.Interval); err != nil {
		return nil, err
	}
	req := viewsapi.New("GetTagStatisticsRequest")
	viewsapi.SetString(req, "view_name", q.View)
	viewsapi.SetString(req, "tag_id", q.Tag)
	w.set(req)
	viewsapi.SetDuration(req, "interval", q.Interval)
	viewsapi.SetString(req, "aggregate_name", aggregateName(q.Aggregate))
	viewsapi.SetBool(req, "include_std_dev", q.IncludeStdDev)
	viewsapi.SetBool(req, "include_percentiles", q.IncludePercentiles)
	return req, nil
}

// FromProtoStatistics converts a GetTagStatisticsResponse.
func FromProtoStatistics(resp proto.Message) model.Statistics {
	return model.Statistics{
		TotalSamples: viewsapi.GetInt64(resp, "total_samples"),
		ValidSamples: viewsapi.GetInt64(resp, "valid_samples"),
		Sum:          viewsapi.GetFloat64(resp, "sum"),
		Mean:         viewsapi.GetFloat64(resp, "mean"),
		Minimum:      viewsapi.GetFloat64(resp, "minimum"),
		Maximum:      viewsapi.GetFloat64(resp, "maximum"),
		StandardDev:  viewsapi.GetFloat64(resp, "standard_dev"),
		Percent25:    viewsapi.GetFloat64(resp, "percent_25"),
		Percent50:    viewsapi.GetFloat64(resp, "percent_50"),
		Percent75:    viewsapi.GetFloat64(resp, "percent_75"),
	}
}

// --- Catalog details ---

// FromProtoDatasetInfo pairs property names with values. Unpaired entries
// are dropped.
func FromProtoDatasetInfo(resp proto.Message) map[string]string {
	names := viewsapi.Strings(resp, "prop_name")
	values := viewsapi.Strings(resp, "prop_value")
	out := make(map[string]string, len(names))
	for i := 0; i < len(names) && i < len(values); i++ {
		out[names[i]] = values[i]
	}
	return out
}

// FromProtoTagInfos converts a GetTagInfoResponse.
func FromProtoTagInfos(resp proto.Message) []model.TagInfo {
	list := viewsapi.Messages(resp, "tag_infos")
	out := make([]model.TagInfo, len(list))
	for i, ti := range list {
		pm := ti.Interface()
		props := viewsapi.Messages(pm, "tag_properties")
		info := model.TagInfo{
			TagItemID:  viewsapi.GetString(pm, "tag_item_id"),
			ItemType:   viewsapi.GetInt32(pm, "item_type"),
			Flags:      viewsapi.GetInt32(pm, "flags"),
			Properties: make([]model.TagProperty, len(props)),
		}
		for j, p := range props {
			pp := p.Interface()
			info.Properties[j] = model.TagProperty{
				Name:        viewsapi.GetString(pp, "prop_name"),
				Value:       viewsapi.GetString(pp, "prop_value"),
				DataType:    viewsapi.GetString(pp, "data_type"),
				Description: viewsapi.GetString(pp, "prop_description"),
			}
		}
		out[i] = info
	}
	return out
}

// FromProtoDataContexts converts a GetTagDataContextResponse. A timestamp
// outside the calendar domain is left empty and its reason recorded.
func FromProtoDataContexts(resp proto.Message) []model.DataContext {
	list := viewsapi.Messages(resp, "contexts")
	out := make([]model.DataContext, len(list))
	for i, c := range list {
		pm := c.Interface()
		oldest, r1 := ts(viewsapi.GetMessage(pm, "oldest_timestamp"))
		latest, r2 := ts(viewsapi.GetMessage(pm, "latest_timestamp"))
		reason := r1
		if reason == "" {
			reason = r2
		}
		out[i] = model.DataContext{
			TagItemID:           viewsapi.GetString(pm, "tag_item_id"),
			OldestTimestamp:     oldest,
			LatestTimestamp:     latest,
			LatestValueDataType: viewsapi.GetString(pm, "latest_value_data_type"),
			LatestValue:         viewsapi.GetString(pm, "latest_value"),
			LatestQuality:       viewsapi.GetInt32(pm, "latest_quailty"),
			Err:                 reason,
		}
	}
	return out
}

// --- Current values ---

// ToProtoQuality maps a quality filter name. Unknown names mean any.
func ToProtoQuality(q model.Quality) int32 {
	switch q {
	case model.QualityNonBad:
		return viewsapi.QualityNonBad
	case model.QualityGood:
		return viewsapi.QualityGood
	default:
		return viewsapi.QualityAny
	}
}

// ToProtoCurrentValueRequest builds a GetTagCurrentValueRequest.
func ToProtoCurrentValueRequest(view string, tags []string, q model.Quality) proto.Message {
	req := viewsapi.New("GetTagCurrentValueRequest")
	viewsapi.SetString(req, "view", view)
	viewsapi.AppendStrings(req, "tag_names", tags...)
	viewsapi.SetInt32(req, "quality", ToProtoQuality(q))
	return req
}

// FromProtoTagValues converts a GetTagCurrentValueResponse.
func FromProtoTagValues(resp proto.Message) []model.TagValue {
	list := viewsapi.Messages(resp, "tag_values")
	out := make([]model.TagValue, len(list))
	for i, tv := range list {
		pm := tv.Interface()
		stamp, reason := ts(viewsapi.GetMessage(pm, "timestamp"))
		out[i] = model.TagValue{
			TagItemID: viewsapi.GetString(pm, "tag_item_id"),
			TVQ: model.TVQ{
				Timestamp: stamp,
				Value:     FromProtoVariant(viewsapi.GetMessage(pm, "value")),
				Quality:   viewsapi.GetInt32(pm, "quality"),
				Err:       reason,
			},
		}
	}
	return out
}

// --- Live data ---

// FromProtoLiveUpdate converts one SubscribeToLiveDataResponse.
func FromProtoLiveUpdate(resp proto.Message) model.LiveUpdate {
	return model.LiveUpdate{
		TagName: viewsapi.GetString(resp, "tag_name"),
		TVQs:    tvqs(resp, "tvqs"),
	}
}
