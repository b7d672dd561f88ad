package cli

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFormatProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatPercent produces correct format", prop.ForAll(
		func(value float64) bool {
			formatted := FormatPercent(value)

			if !strings.HasSuffix(formatted, "%") {
				t.Logf("Expected %% suffix for %f, got %s", value, formatted)
				return false
			}
			if value > 0 && !strings.HasPrefix(formatted, "+") {
				t.Logf("Expected + prefix for positive %f, got %s", value, formatted)
				return false
			}
			return true
		},
		gen.Float64Range(-100, 100),
	))

	properties.Property("FormatReturn preserves value", prop.ForAll(
		func(r float64) bool {
			formatted := FormatReturn(r)
			parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimPrefix(formatted, "+"), "%"), 64)
			if err != nil {
				t.Logf("Unparseable %s: %v", formatted, err)
				return false
			}
			return math.Abs(parsed-r*100) <= 0.005+1e-9
		},
		gen.Float64Range(-1, 3),
	))

	properties.Property("TruncateString respects max length", prop.ForAll(
		func(s string, maxLen int) bool {
			out := TruncateString(s, maxLen)
			if len(s) <= maxLen {
				return out == s
			}
			return len(out) == maxLen
		},
		gen.AlphaString(),
		gen.IntRange(0, 40),
	))

	properties.Property("colored text has its plain visible width", prop.ForAll(
		func(s string, r float64) bool {
			o := &Output{writer: &bytes.Buffer{}, colorEnabled: true}
			return visibleLen(o.Green(s)) == len([]rune(s)) &&
				stripANSI(o.Return(r)) == FormatReturn(r)
		},
		gen.AlphaString(),
		gen.Float64Range(-1, 1),
	))

	properties.TestingRun(t)
}

func TestFormatPercentExamples(t *testing.T) {
	testCases := []struct {
		value    float64
		expected string
	}{
		{0, "0.00%"},
		{1.5, "+1.50%"},
		{-2.5, "-2.50%"},
		{100, "+100.00%"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := FormatPercent(tc.value); got != tc.expected {
				t.Errorf("FormatPercent(%f) = %s, want %s", tc.value, got, tc.expected)
			}
		})
	}
}

func TestFormatExamples(t *testing.T) {
	if got := FormatReturn(-0.1); got != "-10.00%" {
		t.Errorf("FormatReturn(-0.1) = %s", got)
	}
	if got := FormatIndices([5]int{6, 10, 14, 18, 20}); got != "6-10-14-18-20" {
		t.Errorf("FormatIndices = %s", got)
	}
	if got := FormatDuration(1500 * time.Millisecond); got != "1.5s" {
		t.Errorf("FormatDuration = %s", got)
	}
	if got := FormatDate(time.Time{}, ""); got != "-" {
		t.Errorf("FormatDate(zero) = %s", got)
	}
	if got := FormatPrice(95); got != "95.00" {
		t.Errorf("FormatPrice(95) = %s", got)
	}
}

func TestTableRender(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{writer: &buf}

	table := NewTable(o, "KIND", "RETURN")
	table.AddRow("HS", "+24.21%")
	table.AddRow("IHS", "-1.00%")
	table.Render()

	want := "KIND  RETURN\n----  -------\nHS    +24.21%\nIHS   -1.00%\n"
	if buf.String() != want {
		t.Errorf("table output:\n%q\nwant:\n%q", buf.String(), want)
	}
}
