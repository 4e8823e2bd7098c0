package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    Intent
	}{
		{"splunk keyword", "run this splunk search for me", IntentAnalyticsQuery},
		{"index clause", "what does index=main look like today", IntentAnalyticsQuery},
		{"chart request", "show chart of weekly numbers", IntentVisualization},
		{"pie chart", "can you draw a pie chart", IntentVisualization},
		{"sql", "show sql for the user table", IntentCode},
		{"python", "give me a python code sample", IntentCode},
		{"plain chat", "how are you today", IntentChat},
		{"empty", "", IntentChat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyIntent(tt.message))
		})
	}
}

// A message matching several groups resolves by the fixed tie-break
// order analytics_query > visualization > code > chat.
func TestClassifyIntentTieBreak(t *testing.T) {
	assert.Equal(t, IntentAnalyticsQuery, ClassifyIntent("timechart the errors as a bar chart"))
	assert.Equal(t, IntentVisualization, ClassifyIntent("plot the output of this python code"))
}

func TestClassifyIntentCaseInsensitive(t *testing.T) {
	assert.Equal(t, IntentAnalyticsQuery, ClassifyIntent("TIMECHART count by host"))
}
