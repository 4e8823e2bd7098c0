package pipeline

import "strings"

// Intent is the closed set of user-message classifications the
// classify stage can produce.
type Intent string

const (
	IntentAnalyticsQuery Intent = "analytics_query"
	IntentVisualization  Intent = "visualization"
	IntentCode           Intent = "code"
	IntentChat           Intent = "chat"
)

// intentGroups is the closed keyword-group cascade, checked in
// tie-break order analytics_query > visualization > code > chat. The
// groups decide whether a message is "about" analytics, charts, or
// code.
var intentGroups = []struct {
	intent   Intent
	keywords []string
}{
	{IntentAnalyticsQuery, []string{"splunk", "spl query", "index=", "stats count", "timechart", "analytics query", "run query"}},
	{IntentVisualization, []string{"chart", "graph", "visualization", "plot", "bar chart", "line chart", "pie chart", "show chart", "create chart", "visualize data"}},
	{IntentCode, []string{"show sql", "sql query", "select from", "create table", "insert into", "show code", "code example", "python code", "javascript code", "example code"}},
}

// ClassifyIntent derives an intent tag from message using the closed set
// of keyword groups, first match wins by the fixed tie-break order above;
// a message matching none of them classifies as chat.
func ClassifyIntent(message string) Intent {
	lower := strings.ToLower(message)
	for _, g := range intentGroups {
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				return g.intent
			}
		}
	}
	return IntentChat
}
