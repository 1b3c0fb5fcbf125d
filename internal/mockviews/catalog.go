package mockviews

import (
	"fmt"
	"sort"

	"github.com/huntermatuse/crowsong/internal/errs"
	"github.com/huntermatuse/crowsong/internal/viewsapi"
)

// OPC style quality codes.
const (
	QualityGood      int32 = 192
	QualityUncertain int32 = 64
	QualityBad       int32 = 0
)

// Point is one historical sample.
type Point struct {
	Seconds int64
	Nanos   int32
	Value   any
	Quality int32
}

func (p Point) before(sec int64, nanos int32) bool {
	return p.Seconds < sec || (p.Seconds == sec && p.Nanos < nanos)
}

type Tag struct {
	Name        string
	Description string
	Units       string
	Points      []Point // ascending by time
}

type DataSet struct {
	Name   string
	Hidden bool
	Tags   []Tag
}

type View struct {
	Name     string
	DataSets []DataSet
}

// Catalog is the data a mock server answers from.
type Catalog struct {
	Version string
	Views   []View
}

// DemoStart is the first sample time of DemoCatalog, 2024-01-15T10:30:00Z.
const DemoStart int64 = 1705314600

// DemoCatalog returns a small plant with one minute samples.
func DemoCatalog() Catalog {
	series := func(n int, value func(i int) any, quality func(i int) int32) []Point {
		out := make([]Point, n)
		for i := range out {
			out[i] = Point{Seconds: DemoStart + int64(i)*60, Value: value(i), Quality: quality(i)}
		}
		return out
	}
	good := func(int) int32 { return QualityGood }

	return Catalog{
		Version: "mockviews 23.1.0",
		Views: []View{
			{Name: "Localhost", DataSets: []DataSet{
				{Name: "Plant", Tags: []Tag{
					{Name: "Plant.Temperature", Description: "Reactor temperature", Units: "degC", Points: series(10,
						func(i int) any { return 20.5 + float64(i)/2 },
						func(i int) int32 {
							if i == 4 {
								return QualityBad
							}
							return QualityGood
						})},
					{Name: "Plant.Pressure", Description: "Header pressure", Units: "kPa", Points: series(10,
						func(i int) any { return float32(101.3) },
						func(i int) int32 {
							if i%3 == 0 {
								return QualityUncertain
							}
							return QualityGood
						})},
					{Name: "Plant.Running", Points: series(10, func(i int) any { return i%2 == 0 }, good)},
					{Name: "Plant.Count", Points: series(10, func(i int) any { return int64(i * 100) }, good)},
					{Name: "Plant.Mode", Points: series(10, func(int) any { return "auto" }, good)},
				}},
				{Name: "Diagnostics", Hidden: true, Tags: []Tag{
					{Name: "Diagnostics.Uptime", Points: series(3, func(i int) any { return uint32(i) }, good)},
				}},
			}},
			{Name: "Archive", DataSets: []DataSet{
				{Name: "Legacy", Tags: []Tag{
					{Name: "Legacy.Flow", Points: series(2, func(i int) any { return int32(i) }, good)},
				}},
			}},
		},
	}
}

func (c *Catalog) view(name string) (*View, error) {
	for i := range c.Views {
		if c.Views[i].Name == name {
			return &c.Views[i], nil
		}
	}
	return nil, fmt.Errorf("view %q: %w", name, errs.ErrNotFound)
}

func (c *Catalog) viewNames() []string {
	out := make([]string, len(c.Views))
	for i, v := range c.Views {
		out[i] = v.Name
	}
	return out
}

func (v *View) dataSetNames(includeHidden bool) []string {
	var out []string
	for _, ds := range v.DataSets {
		if ds.Hidden && !includeHidden {
			continue
		}
		out = append(out, ds.Name)
	}
	return out
}

func (v *View) dataSet(name string) (*DataSet, error) {
	for i := range v.DataSets {
		if v.DataSets[i].Name == name {
			return &v.DataSets[i], nil
		}
	}
	return nil, fmt.Errorf("dataset %q: %w", name, errs.ErrNotFound)
}

func (v *View) tag(name string) (*Tag, error) {
	for i := range v.DataSets {
		for j := range v.DataSets[i].Tags {
			if v.DataSets[i].Tags[j].Name == name {
				return &v.DataSets[i].Tags[j], nil
			}
		}
	}
	return nil, fmt.Errorf("tag %q: %w", name, errs.ErrNotFound)
}

// tagNames pages through the dataset's tags. maxCount <= 0 means no limit.
func (ds *DataSet) tagNames(offset, maxCount int32) []string {
	names := make([]string, len(ds.Tags))
	for i, t := range ds.Tags {
		names[i] = t.Name
	}
	if offset < 0 || int(offset) >= len(names) {
		return nil
	}
	names = names[offset:]
	if maxCount > 0 && int(maxCount) < len(names) {
		names = names[:maxCount]
	}
	return names
}

// span selects the points in [start, end). With bounds the last point before
// start and the first point at or after end are included too. limit <= 0
// means no limit.
func (t *Tag) span(startSec int64, startNanos int32, endSec int64, endNanos int32, bounds bool, limit int32) []Point {
	lo := sort.Search(len(t.Points), func(i int) bool { return !t.Points[i].before(startSec, startNanos) })
	hi := sort.Search(len(t.Points), func(i int) bool { return !t.Points[i].before(endSec, endNanos) })
	if bounds {
		if lo > 0 {
			lo--
		}
		if hi < len(t.Points) {
			hi++
		}
	}
	if hi < lo {
		hi = lo
	}
	out := t.Points[lo:hi]
	if limit > 0 && int(limit) < len(out) {
		out = out[:limit]
	}
	return append([]Point(nil), out...)
}

func (t *Tag) oldest() (Point, bool) {
	if len(t.Points) == 0 {
		return Point{}, false
	}
	return t.Points[0], true
}

func (t *Tag) latest() (Point, bool) {
	if len(t.Points) == 0 {
		return Point{}, false
	}
	return t.Points[len(t.Points)-1], true
}

// passes reports whether quality q satisfies the filter of GetTagCurrentValue.
func passes(filter, q int32) bool {
	switch filter {
	case viewsapi.QualityNonBad:
		return q >= QualityUncertain
	case viewsapi.QualityGood:
		return q >= QualityGood
	default:
		return true
	}
}

// dataTypeName names the Variant member v travels in.
func dataTypeName(v any) string {
	switch v.(type) {
	case bool:
		return "bool"
	case int8:
		return "int8"
	case int16:
		return "int16"
	case int32:
		return "int32"
	case int64:
		return "int64"
	case uint8:
		return "uint8"
	case uint16:
		return "uint16"
	case uint32:
		return "uint32"
	case uint64:
		return "uint64"
	case float32:
		return "float"
	case float64:
		return "double"
	case string:
		return "string"
	case []byte:
		return "decimal"
	default:
		return ""
	}
}

type property struct {
	name, value, dataType, description string
}

// properties returns the tag info properties of t in a fixed order.
func (t *Tag) properties() []property {
	var out []property
	if t.Description != "" {
		out = append(out, property{"Description", t.Description, "string", "tag description"})
	}
	if t.Units != "" {
		out = append(out, property{"EngUnits", t.Units, "string", "engineering units"})
	}
	if p, ok := t.latest(); ok {
		out = append(out, property{"DataType", dataTypeName(p.Value), "string", "value type"})
	}
	return out
}
