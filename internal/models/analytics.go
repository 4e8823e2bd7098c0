package models

import "time"

// VisualizationKind is the closed set the Visualization Classifier may
// return for an analytics result.
type VisualizationKind string

const (
	VisualizationTimechart   VisualizationKind = "timechart"
	VisualizationSingleValue VisualizationKind = "single_value"
	VisualizationCategorical VisualizationKind = "categorical"
	VisualizationTable       VisualizationKind = "table"
)

// AnalyticsResult is the formatted outcome of an executed analytics query,
// ready for client display and visualization classification.
type AnalyticsResult struct {
	Columns        []string          `json:"columns"`
	Rows           [][]any           `json:"rows"`
	RowCount       int               `json:"row_count"`
	Fields         []string          `json:"fields"`
	Preview        bool              `json:"preview"`
	Visualization  VisualizationKind `json:"visualization"`
	ChartData      []map[string]any  `json:"chart_data,omitempty"`
	IsTimeSeries   bool              `json:"is_time_series"`
	CategoryField  string            `json:"category_field,omitempty"`
	ValueField     string            `json:"value_field,omitempty"`
	Series         []string          `json:"series,omitempty"` // every plotted value field, in column order
	PieOrBar       string            `json:"pie_or_bar,omitempty"` // "pie" | "bar", only set when Visualization==categorical
	TimeFormat     string            `json:"time_format,omitempty"`
	CachedResultID string            `json:"cached_result_id,omitempty"`
}

// CachedQueryResult is content-addressed by Fingerprint(query, earliest,
// latest); a row is updated in place on re-execution, never duplicated
// for the same fingerprint+user pair.
type CachedQueryResult struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Fingerprint string          `json:"fingerprint"`
	Query       string          `json:"query"`
	Earliest    string          `json:"earliest,omitempty"`
	Latest      string          `json:"latest,omitempty"`
	Result      AnalyticsResult `json:"result"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
