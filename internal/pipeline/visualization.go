// Visualization classification and time bucketing: a pure function of
// (rows, fields, query text) that decides how an analytics result
// should be rendered. Internal fields (prefix `_`) are excluded from
// display, except `_time` which is recognized as the time axis.
package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/splunk-chatops/dispatcher/internal/models"
)

var singleValueStatsRE = regexp.MustCompile(`stats\s+(count|sum|avg|max|min)`)

// timeFieldNames are the field names recognized as carrying a time
// value, matched case-insensitively.
var timeFieldNames = map[string]bool{"_time": true, "time": true, "timestamp": true, "date": true}

func isInternalField(field string) bool {
	return strings.HasPrefix(field, "_") && field != "_time"
}

func isTimeField(field string) bool {
	return timeFieldNames[strings.ToLower(field)]
}

// fieldIndex maps a field name to its column position, -1 if absent.
func fieldIndex(fields []string, name string) int {
	for i, f := range fields {
		if f == name {
			return i
		}
	}
	return -1
}

// cellAt returns row[idx] or nil if idx is out of range.
func cellAt(row []any, idx int) any {
	if idx < 0 || idx >= len(row) {
		return nil
	}
	return row[idx]
}

// toFloat coerces v to a float64, defaulting to 0 for nil, missing,
// or unparseable values.
func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// ClassifyResult decides the visualization for an analytics result,
// populating a models.AnalyticsResult from the raw (columns, rows,
// fields, query) shape an Analytics adapter call returns.
func ClassifyResult(columns, fields []string, rows [][]any, query string) models.AnalyticsResult {
	result := models.AnalyticsResult{
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
		Fields:   fields,
	}

	if len(rows) == 0 {
		result.Visualization = models.VisualizationTable
		return result
	}

	lower := strings.ToLower(query)

	hasTimeField := false
	for _, f := range fields {
		if isTimeField(f) {
			hasTimeField = true
			break
		}
	}

	switch {
	case strings.Contains(lower, "timechart") || hasTimeField:
		classifyTimechart(&result, fields, rows)
	case singleValueStatsRE.MatchString(lower) && !strings.Contains(lower, "by") &&
		len(rows) == 1 && len(nonInternal(fields)) <= 2:
		classifySingleValue(&result, fields, rows)
	case strings.Contains(lower, "stats") && strings.Contains(lower, "by"):
		classifyCategorical(&result, fields, rows)
	default:
		result.Visualization = models.VisualizationTable
	}

	return result
}

func nonInternal(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !isInternalField(f) {
			out = append(out, f)
		}
	}
	return out
}

func classifyTimechart(result *models.AnalyticsResult, fields []string, rows [][]any) {
	result.Visualization = models.VisualizationTimechart
	result.IsTimeSeries = true

	timeField := ""
	for _, f := range fields {
		if isTimeField(f) {
			timeField = f
			break
		}
	}
	var valueFields []string
	for _, f := range fields {
		if !isTimeField(f) && !isInternalField(f) {
			valueFields = append(valueFields, f)
		}
	}

	timeIdx := fieldIndex(fields, timeField)
	chartData := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		point := map[string]any{}
		if timeField != "" {
			point["time"] = fmt.Sprintf("%v", cellAt(row, timeIdx))
		}
		for _, f := range valueFields {
			point[f] = cellAt(row, fieldIndex(fields, f))
		}
		chartData = append(chartData, point)
	}

	result.ChartData = chartData
	result.CategoryField = timeField
	result.Series = valueFields
	if len(valueFields) > 0 {
		result.ValueField = valueFields[0]
	}
}

func classifySingleValue(result *models.AnalyticsResult, fields []string, rows [][]any) {
	result.Visualization = models.VisualizationSingleValue
	valueField := ""
	if len(fields) > 0 {
		valueField = fields[0]
	}
	result.ValueField = valueField
	result.ChartData = []map[string]any{
		{"value": toFloat(cellAt(rows[0], fieldIndex(fields, valueField)))},
	}
}

func classifyCategorical(result *models.AnalyticsResult, fields []string, rows [][]any) {
	result.Visualization = models.VisualizationCategorical

	numCategories := len(rows)
	if numCategories <= 5 {
		result.PieOrBar = "pie"
	} else {
		result.PieOrBar = "bar"
	}

	categoryField, valueField := "category", "value"
	if len(fields) > 0 {
		categoryField = fields[0]
	}
	if len(fields) > 1 {
		valueField = fields[1]
		result.Series = nonInternal(fields[1:])
	}
	result.CategoryField = categoryField
	result.ValueField = valueField

	catIdx, valIdx := fieldIndex(fields, categoryField), fieldIndex(fields, valueField)
	chartData := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		chartData = append(chartData, map[string]any{
			"name":  fmt.Sprintf("%v", cellAt(row, catIdx)),
			"value": toFloat(cellAt(row, valIdx)),
		})
	}
	result.ChartData = chartData
}

// spanRE matches a query's explicit span=<n><unit> clause, e.g.
// "span=15m".
var spanRE = regexp.MustCompile(`span=(\d+)([smhdw])`)

// ResolveSpan determines the bucket span for a time-series result: the
// query's explicit span=, else a _span field in results, else the mean
// delta between consecutive time values, else the 15-minute default.
// times must already be parsed (see ParseTime) and in the order the
// adapter produced them.
func ResolveSpan(query string, spanField any, times []time.Time) time.Duration {
	if m := spanRE.FindStringSubmatch(strings.ToLower(query)); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			if d, ok := unitDuration(n, m[2]); ok {
				return d
			}
		}
	}

	if spanField != nil {
		if d, ok := parseSpanField(spanField); ok {
			return d
		}
	}

	if len(times) >= 2 {
		total := times[len(times)-1].Sub(times[0])
		mean := total / time.Duration(len(times)-1)
		if mean > 0 {
			return mean
		}
	}

	return 15 * time.Minute
}

func unitDuration(n int, unit string) (time.Duration, bool) {
	switch unit {
	case "s":
		return time.Duration(n) * time.Second, true
	case "m":
		return time.Duration(n) * time.Minute, true
	case "h":
		return time.Duration(n) * time.Hour, true
	case "d":
		return time.Duration(n) * 24 * time.Hour, true
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour, true
	}
	return 0, false
}

func parseSpanField(v any) (time.Duration, bool) {
	s := strings.ToLower(fmt.Sprintf("%v", v))
	if m := spanRE.FindStringSubmatch("span=" + s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return unitDuration(n, m[2])
		}
	}
	return 0, false
}

// ParseTime interprets v as epoch seconds UTC when numeric, else parses
// it as ISO-8601. An unparseable value returns the zero Time and false.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0).UTC(), true
	case int64:
		return time.Unix(t, 0).UTC(), true
	case int:
		return time.Unix(int64(t), 0).UTC(), true
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return time.Unix(int64(f), 0).UTC(), true
		}
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	default:
		return time.Time{}, false
	}
}

// FormatLabel renders t in loc (UTC if loc is nil) using the label
// format selected from span:
//   - <1h → "H:MM AM/PM"
//   - 1h–<1d → "H AM/PM" (or "H:MM AM/PM" when span<2h)
//   - 1d–<1w → "MM/DD" (or "Day H AM/PM", e.g. "Thu 2 PM", when span<2d)
//   - 1w–<1mo → "MM/DD"
//   - >=1mo → "MM/YYYY"
func FormatLabel(t time.Time, span time.Duration, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)

	const day = 24 * time.Hour
	const week = 7 * day
	const month = 30 * day

	switch {
	case span < time.Hour:
		return formatHourMinute(t)
	case span < day:
		if span < 2*time.Hour {
			return formatHourMinute(t)
		}
		return formatHourOnly(t)
	case span < week:
		if span < 2*day {
			return t.Format("Mon 3 PM")
		}
		return t.Format("01/02")
	case span < month:
		return t.Format("01/02")
	default:
		return t.Format("01/2006")
	}
}

// FormatName returns the descriptor of the label format FormatLabel
// selects for span, carried alongside chart data so clients know how the
// x-axis labels were rendered.
func FormatName(span time.Duration) string {
	const day = 24 * time.Hour
	const week = 7 * day
	const month = 30 * day

	switch {
	case span < time.Hour:
		return "H:MM AM/PM"
	case span < day:
		if span < 2*time.Hour {
			return "H:MM AM/PM"
		}
		return "H AM/PM"
	case span < week:
		if span < 2*day {
			return "Day H AM/PM"
		}
		return "MM/DD"
	case span < month:
		return "MM/DD"
	default:
		return "MM/YYYY"
	}
}

func formatHourMinute(t time.Time) string {
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	ampm := "AM"
	if t.Hour() >= 12 {
		ampm = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", hour, t.Minute(), ampm)
}

func formatHourOnly(t time.Time) string {
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	ampm := "AM"
	if t.Hour() >= 12 {
		ampm = "PM"
	}
	return fmt.Sprintf("%d %s", hour, ampm)
}
