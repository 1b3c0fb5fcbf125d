package mockviews

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/huntermatuse/crowsong/internal/viewsapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

type aggregateFunc func(b bucket) (any, bool)

// maxBuckets bounds the intervals one aggregate request may ask for per tag.
const maxBuckets = 100000

// aggregates offered by the mock, in listing order.
var aggregates = []struct {
	name, description string
	fn                aggregateFunc
}{
	{"TimeAverage", "time weighted average of the non-bad samples", timeAverage},
	{"Average", "arithmetic mean of the non-bad samples", average},
	{"Minimum", "smallest non-bad sample", minimum},
	{"Maximum", "largest non-bad sample", maximum},
	{"Count", "number of non-bad samples", count},
}

func aggregateByName(name string) (aggregateFunc, error) {
	for _, a := range aggregates {
		if a.name == name {
			return a.fn, nil
		}
	}
	return nil, status.Errorf(codes.InvalidArgument, "unknown aggregate %q", name)
}

// instant is a point in time in seconds.
func instant(sec int64, nanos int32) float64 { return float64(sec) + float64(nanos)/1e9 }

// numeric widens v to float64; ok is false for non numeric values.
func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// bucket holds the points of one interval [at, end).
type bucket struct {
	at     time.Time
	end    float64
	points []Point
}

// usable returns the numeric value of points that are not bad, with the
// time each value holds until the next point or the end of the bucket.
func (b bucket) usable() (values, holds []float64) {
	for i, p := range b.points {
		v, ok := numeric(p.Value)
		if !ok || p.Quality < QualityUncertain {
			continue
		}
		until := b.end
		if i+1 < len(b.points) {
			until = instant(b.points[i+1].Seconds, b.points[i+1].Nanos)
		}
		values = append(values, v)
		holds = append(holds, until-instant(p.Seconds, p.Nanos))
	}
	return values, holds
}

func timeAverage(b bucket) (any, bool) {
	values, holds := b.usable()
	if len(values) == 0 {
		return nil, false
	}
	var sum, weight float64
	for i, v := range values {
		sum += v * holds[i]
		weight += holds[i]
	}
	if weight == 0 {
		return average(b)
	}
	return sum / weight, true
}

func average(b bucket) (any, bool) {
	values, _ := b.usable()
	if len(values) == 0 {
		return nil, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}

func minimum(b bucket) (any, bool) {
	values, _ := b.usable()
	if len(values) == 0 {
		return nil, false
	}
	out := values[0]
	for _, v := range values[1:] {
		out = math.Min(out, v)
	}
	return out, true
}

func maximum(b bucket) (any, bool) {
	values, _ := b.usable()
	if len(values) == 0 {
		return nil, false
	}
	out := values[0]
	for _, v := range values[1:] {
		out = math.Max(out, v)
	}
	return out, true
}

func count(b bucket) (any, bool) {
	values, _ := b.usable()
	return int64(len(values)), true
}

// historyWindow reads start_time, end_time and interval of a processed
// history request.
func historyWindow(req proto.Message) (startSec int64, startNanos int32, endSec int64, endNanos int32, interval time.Duration, err error) {
	var ok bool
	if startSec, startNanos, ok = viewsapi.Timestamp(viewsapi.GetMessage(req, "start_time")); !ok {
		return 0, 0, 0, 0, 0, status.Error(codes.InvalidArgument, "start_time required")
	}
	if endSec, endNanos, ok = viewsapi.Timestamp(viewsapi.GetMessage(req, "end_time")); !ok {
		return 0, 0, 0, 0, 0, status.Error(codes.InvalidArgument, "end_time required")
	}
	if interval, ok = viewsapi.Duration(viewsapi.GetMessage(req, "interval")); !ok || interval <= 0 {
		return 0, 0, 0, 0, 0, status.Error(codes.InvalidArgument, "positive interval required")
	}
	return startSec, startNanos, endSec, endNanos, interval, nil
}

// buckets cuts the tag's history into intervals from start to end. The last
// bucket may be shorter.
func (t *Tag) buckets(startSec int64, startNanos int32, endSec int64, endNanos int32, interval time.Duration) []bucket {
	var out []bucket
	end := time.Unix(endSec, int64(endNanos))
	for from := time.Unix(startSec, int64(startNanos)); from.Before(end); from = from.Add(interval) {
		to := from.Add(interval)
		if to.After(end) {
			to = end
		}
		out = append(out, bucket{
			at:     from,
			end:    instant(to.Unix(), int32(to.Nanosecond())),
			points: t.span(from.Unix(), int32(from.Nanosecond()), to.Unix(), int32(to.Nanosecond()), false, 0),
		})
	}
	return out
}

func (s *Server) aggregateList(context.Context, proto.Message) (proto.Message, error) {
	resp := viewsapi.New("GetAggregateListResponse")
	for _, a := range aggregates {
		info := viewsapi.New("AggregateInfo")
		viewsapi.SetString(info, "aggregate_name", a.name)
		viewsapi.SetString(info, "aggregate_description", a.description)
		viewsapi.AppendMessage(resp, "aggregates", info)
	}
	return resp, nil
}

// aggregateData answers one value per interval and tag, stamped at the start
// of the interval. Intervals without usable samples carry bad quality.
func (s *Server) aggregateData(_ context.Context, req proto.Message) (proto.Message, error) {
	startSec, startNanos, endSec, endNanos, interval, err := historyWindow(req)
	if err != nil {
		return nil, err
	}
	if float64(endSec-startSec)/interval.Seconds() > maxBuckets {
		return nil, status.Errorf(codes.InvalidArgument, "more than %d intervals requested", maxBuckets)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.catalog.view(viewsapi.GetString(req, "view"))
	if err != nil {
		return nil, err
	}

	resp := viewsapi.New("GetAggregateDataResponse")
	for _, r := range viewsapi.Messages(req, "requests") {
		tr := r.Interface()
		t, err := v.tag(viewsapi.GetString(tr, "tag_name"))
		if err != nil {
			return nil, err
		}
		fn, err := aggregateByName(viewsapi.GetString(tr, "aggregate_name"))
		if err != nil {
			return nil, err
		}
		data := viewsapi.New("AggregateTagData")
		viewsapi.SetString(data, "tag_name", t.Name)
		for _, b := range t.buckets(startSec, startNanos, endSec, endNanos, interval) {
			p := Point{Seconds: b.at.Unix(), Nanos: int32(b.at.Nanosecond()), Quality: QualityBad}
			if val, ok := fn(b); ok {
				p.Value, p.Quality = val, QualityGood
			}
			viewsapi.AppendMessage(data, "tvqs", tvq(p))
		}
		viewsapi.AppendMessage(resp, "aggregated_data", data)
	}
	return resp, nil
}

// tagStatistics summarizes the raw samples of one tag in [start, end).
func (s *Server) tagStatistics(_ context.Context, req proto.Message) (proto.Message, error) {
	startSec, startNanos, endSec, endNanos, _, err := historyWindow(req)
	if err != nil {
		return nil, err
	}
	if _, err := aggregateByName(viewsapi.GetString(req, "aggregate_name")); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.catalog.view(viewsapi.GetString(req, "view_name"))
	if err != nil {
		return nil, err
	}
	t, err := v.tag(viewsapi.GetString(req, "tag_id"))
	if err != nil {
		return nil, err
	}

	b := bucket{points: t.span(startSec, startNanos, endSec, endNanos, false, 0)}
	values, _ := b.usable()
	st := summarize(values, viewsapi.GetBool(req, "include_std_dev"), viewsapi.GetBool(req, "include_percentiles"))

	resp := viewsapi.New("GetTagStatisticsResponse")
	viewsapi.SetValue(resp, "total_samples", protoreflect.ValueOfInt64(int64(len(b.points))))
	viewsapi.SetValue(resp, "valid_samples", protoreflect.ValueOfInt64(int64(len(values))))
	for name, x := range st {
		viewsapi.SetValue(resp, name, protoreflect.ValueOfFloat64(x))
	}
	return resp, nil
}

// summarize computes the floating point statistics fields keyed by their
// wire names. Percentiles interpolate linearly between ranks.
func summarize(values []float64, stdDev, percentiles bool) map[string]float64 {
	out := map[string]float64{}
	if len(values) == 0 {
		return out
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))
	out["sum"], out["mean"] = sum, mean
	out["minimum"], out["maximum"] = sorted[0], sorted[len(sorted)-1]

	if stdDev {
		var sq float64
		for _, v := range sorted {
			sq += (v - mean) * (v - mean)
		}
		out["standard_dev"] = math.Sqrt(sq / float64(len(sorted)))
	}
	if percentiles {
		for _, pc := range []int{25, 50, 75} {
			out[fmt.Sprintf("percent_%d", pc)] = percentile(sorted, float64(pc)/100)
		}
	}
	return out
}

func percentile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}
