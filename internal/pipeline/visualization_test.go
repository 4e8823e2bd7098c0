package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splunk-chatops/dispatcher/internal/models"
)

func TestClassifyResultEmptyRowsIsTable(t *testing.T) {
	result := ClassifyResult([]string{"a"}, []string{"a"}, nil, "search index=main")

	assert.Equal(t, models.VisualizationTable, result.Visualization)
	assert.Equal(t, 0, result.RowCount)
}

func TestClassifyResultTimechart(t *testing.T) {
	fields := []string{"_time", "count"}
	rows := [][]any{
		{float64(1700000000), float64(5)},
		{float64(1700003600), float64(8)},
		{float64(1700007200), float64(3)},
	}

	result := ClassifyResult(fields, fields, rows, "search | timechart span=15m count")

	assert.Equal(t, models.VisualizationTimechart, result.Visualization)
	assert.True(t, result.IsTimeSeries)
	assert.Equal(t, []string{"count"}, result.Series)
	require.Len(t, result.ChartData, 3)
	// Chronological order preserved.
	assert.Equal(t, float64(5), result.ChartData[0]["count"])
	assert.Equal(t, float64(3), result.ChartData[2]["count"])
}

// Every non-internal, non-time field is a plotted series, not just the
// first one.
func TestClassifyResultTimechartMultiSeries(t *testing.T) {
	fields := []string{"_time", "requests", "errors"}
	rows := [][]any{
		{float64(1700000000), float64(100), float64(4)},
		{float64(1700003600), float64(120), float64(7)},
	}

	result := ClassifyResult(fields, fields, rows, "search | timechart count")

	assert.Equal(t, []string{"requests", "errors"}, result.Series)
	assert.Equal(t, "requests", result.ValueField)
	require.Len(t, result.ChartData, 2)
	assert.Equal(t, float64(100), result.ChartData[0]["requests"])
	assert.Equal(t, float64(4), result.ChartData[0]["errors"])
}

func TestClassifyResultSingleValue(t *testing.T) {
	result := ClassifyResult([]string{"count"}, []string{"count"}, [][]any{{"42"}}, "search | stats count")

	assert.Equal(t, models.VisualizationSingleValue, result.Visualization)
	require.Len(t, result.ChartData, 1)
	assert.Equal(t, float64(42), result.ChartData[0]["value"])
}

// Pie vs bar switch: 3 categories -> pie, 7 -> bar.
func TestClassifyResultPieVsBar(t *testing.T) {
	fields := []string{"status", "count"}

	rows3 := [][]any{{"ok", "10"}, {"warn", "5"}, {"err", "2"}}
	pie := ClassifyResult(fields, fields, rows3, "search | stats count by status")
	assert.Equal(t, models.VisualizationCategorical, pie.Visualization)
	assert.Equal(t, "pie", pie.PieOrBar)
	assert.Equal(t, []string{"count"}, pie.Series)

	rows7 := make([][]any, 7)
	for i := range rows7 {
		rows7[i] = []any{"s", "1"}
	}
	bar := ClassifyResult(fields, fields, rows7, "search | stats count by status")
	assert.Equal(t, "bar", bar.PieOrBar)
}

// Missing or unparseable values coerce to 0, never panic.
func TestClassifyResultValueCoercion(t *testing.T) {
	fields := []string{"status", "count"}
	rows := [][]any{{"ok", "10"}, {"warn", nil}, {"err", "not-a-number"}}

	result := ClassifyResult(fields, fields, rows, "search | stats count by status")

	require.Len(t, result.ChartData, 3)
	assert.Equal(t, float64(10), result.ChartData[0]["value"])
	assert.Equal(t, float64(0), result.ChartData[1]["value"])
	assert.Equal(t, float64(0), result.ChartData[2]["value"])
}

// Identical inputs produce identical classification (pure function).
func TestClassifyResultDeterministic(t *testing.T) {
	fields := []string{"status", "count"}
	rows := [][]any{{"ok", "10"}, {"warn", "5"}}

	a := ClassifyResult(fields, fields, rows, "search | stats count by status")
	b := ClassifyResult(fields, fields, rows, "search | stats count by status")
	assert.Equal(t, a, b)
}

func TestClassifyResultInternalFieldsExcluded(t *testing.T) {
	fields := []string{"_time", "_raw", "count"}
	rows := [][]any{{float64(1700000000), "raw line", float64(7)}}

	result := ClassifyResult(fields, fields, rows, "timechart count")

	require.Len(t, result.ChartData, 1)
	assert.Contains(t, result.ChartData[0], "count")
	assert.NotContains(t, result.ChartData[0], "_raw")
	assert.Contains(t, result.ChartData[0], "time")
}

func TestResolveSpanFromQuery(t *testing.T) {
	span := ResolveSpan("search | timechart span=15m count", nil, nil)
	assert.Equal(t, 15*time.Minute, span)

	span = ResolveSpan("search | timechart span=2h count", nil, nil)
	assert.Equal(t, 2*time.Hour, span)

	span = ResolveSpan("search | timechart span=1w count", nil, nil)
	assert.Equal(t, 7*24*time.Hour, span)
}

func TestResolveSpanFromField(t *testing.T) {
	span := ResolveSpan("search count", "30m", nil)
	assert.Equal(t, 30*time.Minute, span)
}

func TestResolveSpanFromMeanDelta(t *testing.T) {
	times := []time.Time{
		time.Unix(0, 0),
		time.Unix(3600, 0),
		time.Unix(7200, 0),
	}
	span := ResolveSpan("search count", nil, times)
	assert.Equal(t, time.Hour, span)
}

// Unparseable span defaults to 15 minutes.
func TestResolveSpanDefault(t *testing.T) {
	assert.Equal(t, 15*time.Minute, ResolveSpan("search count", "garbage", nil))
	assert.Equal(t, 15*time.Minute, ResolveSpan("", nil, nil))
}

func TestParseTime(t *testing.T) {
	got, ok := ParseTime(float64(1700000000))
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), got.Unix())

	got, ok = ParseTime("1700000000")
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), got.Unix())

	got, ok = ParseTime("2024-11-21T10:00:00Z")
	require.True(t, ok)
	assert.Equal(t, 2024, got.Year())

	_, ok = ParseTime("not a time")
	assert.False(t, ok)

	_, ok = ParseTime(nil)
	assert.False(t, ok)
}

func TestFormatLabelBySpan(t *testing.T) {
	ts := time.Date(2024, 11, 21, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		span time.Duration
		want string
	}{
		{15 * time.Minute, "2:30 PM"},
		{90 * time.Minute, "2:30 PM"},
		{4 * time.Hour, "2 PM"},
		{36 * time.Hour, "Thu 2 PM"},
		{3 * 24 * time.Hour, "11/21"},
		{2 * 7 * 24 * time.Hour, "11/21"},
		{60 * 24 * time.Hour, "11/2024"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatLabel(ts, tt.span, time.UTC), "span %v", tt.span)
	}
}

// Formatting the same value twice yields the same string.
func TestFormatLabelIdempotent(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	first := FormatLabel(ts, 15*time.Minute, time.UTC)
	second := FormatLabel(ts, 15*time.Minute, time.UTC)
	assert.Equal(t, first, second)
}

// Nil location falls back to UTC, never a crash.
func TestFormatLabelNilLocation(t *testing.T) {
	ts := time.Date(2024, 11, 21, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "12:00 AM", FormatLabel(ts, 10*time.Minute, nil))
}

func TestFormatName(t *testing.T) {
	assert.Equal(t, "H:MM AM/PM", FormatName(15*time.Minute))
	assert.Equal(t, "H:MM AM/PM", FormatName(90*time.Minute))
	assert.Equal(t, "H AM/PM", FormatName(4*time.Hour))
	assert.Equal(t, "Day H AM/PM", FormatName(36*time.Hour))
	assert.Equal(t, "MM/DD", FormatName(3*24*time.Hour))
	assert.Equal(t, "MM/YYYY", FormatName(45*24*time.Hour))
}
