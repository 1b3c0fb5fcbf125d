package isotime

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/huntermatuse/crowsong/internal/errs"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func TestIsLeap(t *testing.T) {
	t.Parallel()

	cases := map[int64]bool{
		1970: false, 1972: true, 1900: false, 2000: true,
		2023: false, 2024: true, 2100: false, 2400: true,
	}
	for y, want := range cases {
		if got := IsLeap(y); got != want {
			t.Fatalf("IsLeap(%d)=%v, want %v", y, got, want)
		}
	}
}

func TestIsLeap_AgreesWithYearLengths(t *testing.T) {
	t.Parallel()

	// Both directions derive year and month lengths from IsLeap; check them
	// against stdlib for every year in range.
	for y := int64(1970); y <= 2400; y++ {
		start := time.Date(int(y), 1, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(int(y)+1, 1, 1, 0, 0, 0, 0, time.UTC)
		want := int64(end.Sub(start).Hours() / 24)
		if got := daysInYear(y); got != want {
			t.Fatalf("daysInYear(%d)=%d, want %d", y, got, want)
		}
		feb := time.Date(int(y), 3, 0, 0, 0, 0, 0, time.UTC).Day()
		if got := monthDays(y)[1]; got != int64(feb) {
			t.Fatalf("february %d has %d days, want %d", y, got, feb)
		}

		s := time.Date(int(y), 12, 31, 0, 0, 0, 0, time.UTC).Unix()
		enc, err := Encode(s, 0)
		require.NoError(t, err)
		sec, _, err := Decode(enc)
		require.NoError(t, err)
		if sec != s {
			t.Fatalf("year %d: decode(encode(%d))=%d", y, s, sec)
		}
	}
}

func TestEncode_KnownInstant(t *testing.T) {
	t.Parallel()

	got, err := Encode(1705314600, 0)
	require.NoError(t, err)
	require.Equal(t, "2024-01-15T10:30:00Z", got)

	sec, nanos, err := Decode(got)
	require.NoError(t, err)
	require.Equal(t, int64(1705314600), sec)
	require.Equal(t, int32(0), nanos)

	got, err = Encode(1705315800, 0)
	require.NoError(t, err)
	require.Equal(t, "2024-01-15T10:50:00Z", got)
}

func TestEncode_Epoch(t *testing.T) {
	t.Parallel()

	got, err := Encode(0, 0)
	require.NoError(t, err)
	require.Equal(t, "1970-01-01T00:00:00Z", got)

	got, err = Encode(MaxSeconds, maxNanos)
	require.NoError(t, err)
	require.Equal(t, "9999-12-31T23:59:59.999999999Z", got)
}

func TestEncode_FractionSuppression(t *testing.T) {
	t.Parallel()

	whole, err := Encode(1705315800, 0)
	require.NoError(t, err)
	if strings.Contains(whole, ".") {
		t.Fatalf("nanos=0 must not emit a fraction: %s", whole)
	}

	small, err := Encode(1705315800, 5)
	require.NoError(t, err)
	if !strings.HasSuffix(small, ".000000005Z") {
		t.Fatalf("nanos=5 should end with .000000005Z, got %s", small)
	}
}

func TestEncode_MatchesStdlib(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 5000; i++ {
		sec := r.Int64N(MaxSeconds + 1)
		nanos := int32(r.IntN(maxNanos + 1))
		if i%3 == 0 {
			nanos = 0
		}
		got, err := Encode(sec, nanos)
		require.NoError(t, err)

		layout := "2006-01-02T15:04:05Z"
		if nanos > 0 {
			layout = "2006-01-02T15:04:05.000000000Z"
		}
		want := time.Unix(sec, int64(nanos)).UTC().Format(layout)
		if got != want {
			t.Fatalf("Encode(%d, %d)=%s, want %s", sec, nanos, got, want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 5000; i++ {
		sec := r.Int64N(MaxSeconds + 1)
		nanos := int32(r.IntN(maxNanos + 1))
		s, err := Encode(sec, nanos)
		require.NoError(t, err)
		gotSec, gotNanos, err := Decode(s)
		require.NoError(t, err, s)
		if gotSec != sec || gotNanos != nanos {
			t.Fatalf("roundtrip %d.%09d -> %s -> %d.%09d", sec, nanos, s, gotSec, gotNanos)
		}
	}
}

func TestEncode_OutOfDomain(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		sec   int64
		nanos int32
	}{
		{-1, 0},
		{-86400, 500},
		{MaxSeconds + 1, 0},
		{0, -1},
		{0, maxNanos + 1},
	} {
		s, err := Encode(tc.sec, tc.nanos)
		if !errors.Is(err, errs.ErrOutOfRange) {
			t.Fatalf("Encode(%d, %d) = %q, %v; want ErrOutOfRange", tc.sec, tc.nanos, s, err)
		}
		if s != "" {
			t.Fatalf("out of domain must not produce a date, got %q", s)
		}
	}
}

func TestDecode_SeparatorTolerance(t *testing.T) {
	t.Parallel()

	a, an, err := Decode("2024-01-15T10:30:00Z")
	require.NoError(t, err)
	b, bn, err := Decode("2024-01-15 10:30:00")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, an, bn)
	require.Equal(t, int64(1705314600), a)
}

func TestDecode_Variants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in    string
		sec   int64
		nanos int32
	}{
		{"2024-01-15", 1705276800, 0},
		{"2024-01-15T10", 1705312800, 0},
		{"2024-01-15T10:30", 1705314600, 0},
		{"  2024-01-15T10:30:00Z  ", 1705314600, 0},
		{"2024-01-15T10:30:00.5Z", 1705314600, 500_000_000},
		{"2024-01-15T10:30:00.123456789123Z", 1705314600, 123_456_789},
		{"2024-01-15T10:30:00.000000005", 1705314600, 5},
		{"2024-02-29T00:00:00Z", 1709164800, 0},
		{"1970-01-01T00:00:00Z", 0, 0},
	}
	for _, tc := range cases {
		sec, nanos, err := Decode(tc.in)
		if err != nil {
			t.Fatalf("Decode(%q): %v", tc.in, err)
		}
		if sec != tc.sec || nanos != tc.nanos {
			t.Fatalf("Decode(%q)=%d.%d, want %d.%d", tc.in, sec, nanos, tc.sec, tc.nanos)
		}
	}
}

func TestDecode_LeapDay(t *testing.T) {
	t.Parallel()

	sec, nanos, err := Decode("2024-02-29T00:00:00Z")
	require.NoError(t, err)
	s, err := Encode(sec, nanos)
	require.NoError(t, err)
	require.Equal(t, "2024-02-29T00:00:00Z", s)

	_, _, err = Decode("2023-02-29T00:00:00Z")
	require.ErrorIs(t, err, errs.ErrParse)
	require.Contains(t, err.Error(), "invalid day")
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"2024-01":                "invalid date",
		"2024-01-15-01":          "invalid date",
		"abcd-01-15":             "invalid year",
		"2024-ab-15":             "invalid month",
		"2024-01-xx":             "invalid day",
		"2024-13-01":             "invalid month",
		"2024-00-01":             "invalid month",
		"2024-04-31":             "invalid day",
		"2024-01-15Tab:00:00":    "invalid hour",
		"2024-01-15T10:zz:00":    "invalid minute",
		"2024-01-15T10:30:qq":    "invalid second",
		"2024-01-15T24:00:00":    "invalid hour",
		"2024-01-15T10:30:00:00": "invalid time",
		"2024-01-15T10:30:00.1x": "invalid nanos",
		"":                       "invalid date",
	}
	for in, want := range cases {
		_, _, err := Decode(in)
		if !errors.Is(err, errs.ErrParse) {
			t.Fatalf("Decode(%q): want ErrParse, got %v", in, err)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Decode(%q): error %q should mention %q", in, err, want)
		}
	}
}

func TestDecode_BeforeEpoch(t *testing.T) {
	t.Parallel()

	_, _, err := Decode("1969-12-31T23:59:59Z")
	require.ErrorIs(t, err, errs.ErrOutOfRange)
}

func TestFormatParse_Proto(t *testing.T) {
	t.Parallel()

	s, err := Format(nil)
	require.NoError(t, err)
	require.Empty(t, s)

	ts, err := Parse("2024-01-15T10:30:00.25Z")
	require.NoError(t, err)
	require.Equal(t, int64(1705314600), ts.GetSeconds())
	require.Equal(t, int32(250_000_000), ts.GetNanos())

	s, err = Format(ts)
	require.NoError(t, err)
	require.Equal(t, "2024-01-15T10:30:00.250000000Z", s)

	_, err = Format(&timestamppb.Timestamp{Seconds: -5})
	require.ErrorIs(t, err, errs.ErrOutOfRange)
}
