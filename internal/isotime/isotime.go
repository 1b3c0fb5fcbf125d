// Package isotime converts between epoch timestamps and UTC calendar strings
// of the form YYYY-MM-DDThh:mm:ss[.fffffffff]Z.
//
// The calendar math is done by hand on the proleptic Gregorian calendar so that
// Encode and Decode share exactly one leap-year rule. Only UTC is supported and
// leap seconds do not exist.
package isotime

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/huntermatuse/crowsong/internal/errs"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	secondsPerDay  = 86400
	epochYear      = 1970
	maxYear        = 9999
	maxNanos       = 999_999_999
	fractionDigits = 9

	// MaxSeconds is 9999-12-31T23:59:59Z, the last instant with a four digit year.
	MaxSeconds int64 = 253402300799
)

// IsLeap reports whether year is a leap year: divisible by 4 and not by 100,
// unless also divisible by 400.
func IsLeap(year int64) bool {
	return (year%4 == 0 && year%100 != 0) || year%400 == 0
}

func daysInYear(year int64) int64 {
	if IsLeap(year) {
		return 366
	}
	return 365
}

func monthDays(year int64) [12]int64 {
	feb := int64(28)
	if IsLeap(year) {
		feb = 29
	}
	return [12]int64{31, feb, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
}

// Encode formats seconds since the epoch plus sub-second nanos as a calendar
// string. The fraction is written only when nanos > 0.
//
// Negative seconds and instants past MaxSeconds are outside the calendar
// domain and yield an error wrapping errs.ErrOutOfRange.
func Encode(seconds int64, nanos int32) (string, error) {
	if nanos < 0 || nanos > maxNanos {
		return "", fmt.Errorf("%w: nanos %d not in [0, %d]", errs.ErrOutOfRange, nanos, maxNanos)
	}
	if seconds < 0 {
		return "", fmt.Errorf("%w: %ds%dns is before the epoch", errs.ErrOutOfRange, seconds, nanos)
	}
	if seconds > MaxSeconds {
		return "", fmt.Errorf("%w: %ds is past year %d", errs.ErrOutOfRange, seconds, maxYear)
	}

	days, rem := seconds/secondsPerDay, seconds%secondsPerDay
	hour, minute, sec := rem/3600, rem%3600/60, rem%60

	year := int64(epochYear)
	for days >= daysInYear(year) {
		days -= daysInYear(year)
		year++
	}
	month := 0
	for i, n := range monthDays(year) {
		if days < n {
			month = i
			break
		}
		days -= n
	}
	day := days + 1

	if nanos > 0 {
		return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%09dZ",
			year, month+1, day, hour, minute, sec, nanos), nil
	}
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ",
		year, month+1, day, hour, minute, sec), nil
}

// Decode parses "YYYY-MM-DDThh:mm:ss[.fraction][Z]" or "YYYY-MM-DD hh:mm:ss"
// into seconds since the epoch and nanos. Missing time components default to
// zero; the fraction may have any number of digits and is padded or truncated
// to nanoseconds. Date fields never default.
func Decode(text string) (int64, int32, error) {
	s := strings.TrimRight(strings.TrimSpace(text), "Z")

	datePart, timePart := s, ""
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		datePart, timePart = s[:i], s[i+1:]
	} else if i := strings.IndexByte(s, ' '); i >= 0 {
		datePart, timePart = s[:i], s[i+1:]
	}

	dateFields := strings.Split(datePart, "-")
	if len(dateFields) != 3 {
		return 0, 0, fmt.Errorf("%w: invalid date: %q", errs.ErrParse, datePart)
	}
	year, err := parseField("year", dateFields[0])
	if err != nil {
		return 0, 0, err
	}
	month, err := parseField("month", dateFields[1])
	if err != nil {
		return 0, 0, err
	}
	day, err := parseField("day", dateFields[2])
	if err != nil {
		return 0, 0, err
	}
	if year < epochYear || year > maxYear {
		return 0, 0, fmt.Errorf("%w: year %d not in [%d, %d]", errs.ErrOutOfRange, year, epochYear, maxYear)
	}
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: invalid month: %q", errs.ErrParse, dateFields[1])
	}
	lengths := monthDays(year)
	if day < 1 || day > lengths[month-1] {
		return 0, 0, fmt.Errorf("%w: invalid day: %q (%04d-%02d has %d days)",
			errs.ErrParse, dateFields[2], year, month, lengths[month-1])
	}

	var nanos int32
	if i := strings.IndexByte(timePart, '.'); i >= 0 {
		nanos, err = parseFraction(timePart[i+1:])
		if err != nil {
			return 0, 0, err
		}
		timePart = timePart[:i]
	}
	clock, err := parseClock(timePart)
	if err != nil {
		return 0, 0, err
	}

	var days int64
	for y := int64(epochYear); y < year; y++ {
		days += daysInYear(y)
	}
	for m := int64(0); m < month-1; m++ {
		days += lengths[m]
	}
	days += day - 1

	return days*secondsPerDay + clock[0]*3600 + clock[1]*60 + clock[2], nanos, nil
}

func parseField(name, v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s: %q", errs.ErrParse, name, v)
	}
	return n, nil
}

// parseClock reads up to three colon separated components; absent ones are zero.
func parseClock(v string) ([3]int64, error) {
	var out [3]int64
	if v == "" {
		return out, nil
	}
	parts := strings.Split(v, ":")
	if len(parts) > 3 {
		return out, fmt.Errorf("%w: invalid time: %q", errs.ErrParse, v)
	}
	names := [3]string{"hour", "minute", "second"}
	limits := [3]int64{23, 59, 59}
	for i, p := range parts {
		n, err := parseField(names[i], p)
		if err != nil {
			return out, err
		}
		if n < 0 || n > limits[i] {
			return out, fmt.Errorf("%w: invalid %s: %q", errs.ErrParse, names[i], p)
		}
		out[i] = n
	}
	return out, nil
}

func parseFraction(v string) (int32, error) {
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return 0, fmt.Errorf("%w: invalid nanos: %q", errs.ErrParse, v)
		}
	}
	if len(v) > fractionDigits {
		v = v[:fractionDigits]
	}
	v += strings.Repeat("0", fractionDigits-len(v))
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid nanos: %q", errs.ErrParse, v)
	}
	return int32(n), nil
}

// Format renders a protobuf timestamp. A nil timestamp renders as "".
func Format(ts *timestamppb.Timestamp) (string, error) {
	if ts == nil {
		return "", nil
	}
	return Encode(ts.GetSeconds(), ts.GetNanos())
}

// Parse decodes a calendar string into a protobuf timestamp.
func Parse(text string) (*timestamppb.Timestamp, error) {
	sec, nanos, err := Decode(text)
	if err != nil {
		return nil, err
	}
	return &timestamppb.Timestamp{Seconds: sec, Nanos: nanos}, nil
}
