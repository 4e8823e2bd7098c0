// Mock response path: a pure function of (user text, lowered text)
// returning (content, blocks). Content rules are an ordered cascade,
// first match wins; block rules are independent, so several may each
// contribute a block. Deliberately deterministic — no random choice
// among phrasings — so the same input always renders the same demo
// response.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/splunk-chatops/dispatcher/internal/models"
)

// MockRespond runs the ordered mock cascade over message, returning the
// assistant content and the blocks the cascade's independent rules
// contribute. Multiple rules may each append a block; the content rules
// are first-match-wins.
func MockRespond(message string) (string, []models.Block) {
	lower := strings.ToLower(strings.TrimSpace(message))
	return mockResponseText(message, lower), mockBlocks(message, lower)
}

func containsAny(s string, candidates ...string) bool {
	for _, c := range candidates {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func mockResponseText(message, lower string) string {
	switch {
	case containsAny(lower, "hi", "hello", "hey", "greetings", "good morning", "good afternoon", "good evening"):
		return "Hello! 👋 I'm your AI assistant. How can I help you today?"

	case containsAny(lower, "help", "what can you do", "capabilities"):
		return "I can help you with various tasks:\n\n" +
			"📊 **Data & Analytics**\n" +
			"- Generate charts and visualizations\n" +
			"- Analyze data and provide insights\n" +
			"- Process and transform data\n\n" +
			"💬 **Conversation**\n" +
			"- Answer questions\n" +
			"- Provide explanations\n" +
			"- Assist with problem-solving\n\n" +
			"🔧 **Tools & Features**\n" +
			"- Create async jobs for long-running tasks\n" +
			"- Generate reports and summaries\n" +
			"- Much more!\n\n" +
			"What would you like to try first?"

	case containsAny(lower, "chart", "graph", "visualization", "plot"):
		return "Here's a sample chart visualization for you! 📊"

	case strings.Contains(message, "?"):
		return fmt.Sprintf(
			"That's a great question! Let me help you with that. Based on what you're asking about %q, I'd suggest exploring this topic further. Would you like me to provide more details?",
			truncate(message, 40))

	default:
		return fmt.Sprintf(
			"I understand you're talking about %q. That's interesting! How can I help you with this?",
			truncate(message, 50))
	}
}

func mockBlocks(message, lower string) []models.Block {
	var blocks []models.Block

	if containsAny(lower, "show sql", "sql query", "select from", "create table", "insert into") {
		blocks = append(blocks,
			models.CodeBlock(
				"SELECT\n  user_id,\n  username,\n  email,\n  created_at,\n  last_login\nFROM users\nWHERE active = true\nORDER BY created_at DESC\nLIMIT 100;",
				"sql", "SQL Query Example"),
			models.TableBlock(
				[]string{"user_id", "username", "email", "created_at", "last_login"},
				[][]any{
					{"1", "john_doe", "john@example.com", "2024-01-15 10:30:00", "2024-11-20 14:22:00"},
					{"2", "jane_smith", "jane@example.com", "2024-01-16 11:00:00", "2024-11-21 09:15:00"},
					{"3", "bob_wilson", "bob@example.com", "2024-01-17 12:30:00", "2024-11-19 16:45:00"},
				}),
		)
	}

	if containsAny(lower, "splunk", "spl query", "index=", "stats count", "timechart") {
		blocks = append(blocks, models.QueryBlock(
			"index=cfs_digital_profilecore_hec_105961 \n| stats count by status\n| sort -count",
			"spl", "Splunk Query: Status Counts", true))
	}

	if containsAny(lower, "chart", "graph", "visualization", "plot", "timechart", "bar chart", "line chart", "show chart", "create chart", "visualize data") {
		blocks = append(blocks, mockChartBlock(lower))
	}

	if containsAny(lower, "show code", "code example", "python code", "javascript code", "example code") {
		blocks = append(blocks, models.CodeBlock(
			"def process_data(data):\n    \"\"\"Process and analyze data.\"\"\"\n    results = []\n    for item in data:\n        if item['status'] == 'active':\n            results.append(item)\n    return results",
			"python", "Python Example"))
	}

	if containsAny(lower, "show table", "display data", "list data", "table data") {
		blocks = append(blocks, models.TableBlock(
			[]string{"ID", "Name", "Status", "Value", "Timestamp"},
			[][]any{
				{"1", "Item A", "Active", "1250", "2024-11-21 10:00:00"},
				{"2", "Item B", "Active", "980", "2024-11-21 11:00:00"},
				{"3", "Item C", "Inactive", "750", "2024-11-21 12:00:00"},
				{"4", "Item D", "Active", "2100", "2024-11-21 13:00:00"},
				{"5", "Item E", "Pending", "450", "2024-11-21 14:00:00"},
			}))
	}

	if containsAny(lower, "json", "show json", "explore data", "view json", "json data") {
		blocks = append(blocks, models.JSONExplorerBlock("JSON Data Explorer", map[string]any{
			"user": map[string]any{
				"id": 1, "name": "John Doe", "email": "john@example.com",
				"preferences": map[string]any{"theme": "dark", "notifications": true},
				"tags":        []string{"admin", "developer"},
			},
			"metadata": map[string]any{"created": "2024-01-15", "updated": "2024-11-21"},
		}, false, 3))
	}

	if containsAny(lower, "timeline", "events", "log view", "event history", "show events") {
		blocks = append(blocks, models.TimelineBlock("Event Timeline", []models.TimelineEvent{
			{Time: "10:00:00", Title: "System Started", Description: "Application initialized successfully", Type: "success"},
			{Time: "10:15:30", Title: "User Login", Description: "User authenticated", Type: "info"},
			{Time: "10:30:45", Title: "Warning", Description: "High memory usage detected", Type: "warning"},
			{Time: "10:45:12", Title: "Error Occurred", Description: "Failed to process request", Type: "error",
				Metadata: map[string]any{"errorCode": "ERR_500", "details": "Internal server error"}},
		}, true, "vertical"))
	}

	if containsAny(lower, "search", "filter", "find data", "lookup") {
		blocks = append(blocks, models.SearchFilterBlock([]map[string]any{
			{"id": 1, "name": "Item A", "category": "Type 1", "status": "Active"},
			{"id": 2, "name": "Item B", "category": "Type 2", "status": "Inactive"},
			{"id": 3, "name": "Item C", "category": "Type 1", "status": "Active"},
			{"id": 4, "name": "Item D", "category": "Type 3", "status": "Pending"},
		}, "Search items...", true))
	}

	if containsAny(lower, "alert", "warning", "error", "notification", "important") {
		blocks = append(blocks, mockAlertBlock(lower))
	}

	if containsAny(lower, "change request", "servicenow", "ticket", "form", "cr", "inc", "show form", "display form") {
		blocks = append(blocks, mockFormBlock(lower))
	}

	if containsAny(lower, "upload file", "download file", "file upload", "file download", "share file", "attach file") {
		blocks = append(blocks, models.FileUploadDownloadBlock(
			"File Manager", ".log,.txt,.json,.pdf,.csv", true, 10,
			"/files/application.log", "application.log"))
	}

	if containsAny(lower, "checklist", "task list", "todo list", "deployment checklist", "action items", "steps to complete") {
		blocks = append(blocks, models.ChecklistBlock("Deployment Checklist", []models.ChecklistItem{
			{ID: "1", Label: "Backup production database", Checked: true},
			{ID: "2", Label: "Run automated test suite", Checked: true},
			{ID: "3", Label: "Update configuration files", Checked: false},
			{ID: "4", Label: "Deploy to staging environment", Checked: false},
			{ID: "5", Label: "Perform smoke tests", Checked: false},
			{ID: "6", Label: "Deploy to production", Checked: false},
			{ID: "7", Label: "Monitor application metrics", Checked: false},
		}))
	}

	if containsAny(lower, "diagram", "architecture", "workflow", "aws architecture", "system design", "flowchart", "sequence diagram") {
		blocks = append(blocks, mockDiagramBlock(lower))
	}

	return blocks
}

func mockChartBlock(lower string) models.Block {
	chartType := "line"
	switch {
	case strings.Contains(lower, "bar"):
		chartType = "bar"
	case strings.Contains(lower, "pie"):
		chartType = "pie"
	case strings.Contains(lower, "area"):
		chartType = "area"
	case strings.Contains(lower, "time"):
		chartType = "timechart"
	}

	var data []map[string]any
	xAxis, yAxis := "name", ""
	var series []string
	isTimeSeries := chartType == "timechart"

	switch chartType {
	case "timechart":
		xAxis = "time"
		series = []string{"requests", "errors"}
		for i := 0; i < 24; i++ {
			data = append(data, map[string]any{
				"time":     fmt.Sprintf("%02d:00", i),
				"requests": 800,
				"errors":   20,
			})
		}
	case "pie":
		yAxis = "value"
		data = []map[string]any{
			{"name": "Success", "value": 1250},
			{"name": "Warning", "value": 150},
			{"name": "Error", "value": 75},
			{"name": "Info", "value": 200},
		}
	default:
		data = []map[string]any{
			{"name": "Mon", "value": 1200},
			{"name": "Tue", "value": 1350},
			{"name": "Wed", "value": 1100},
			{"name": "Thu", "value": 1450},
			{"name": "Fri", "value": 1300},
			{"name": "Sat", "value": 980},
			{"name": "Sun", "value": 1050},
		}
	}

	return models.ChartBlock(true, chartType, "Sample Data Visualization", data, xAxis, yAxis, series,
		isTimeSeries, chartType != "pie")
}

func mockAlertBlock(lower string) models.Block {
	alertType := "info"
	switch {
	case strings.Contains(lower, "error"):
		alertType = "error"
	case strings.Contains(lower, "warning"):
		alertType = "warning"
	case strings.Contains(lower, "success"):
		alertType = "success"
	}
	title := "Information"
	switch alertType {
	case "error":
		title = "Error"
	case "warning":
		title = "Warning"
	}
	return models.AlertBlock(alertType, title,
		fmt.Sprintf("This is a %s message. Important information or notifications can be displayed here.", alertType), true)
}

func mockFormBlock(lower string) models.Block {
	isChangeRequest := strings.Contains(lower, "change") || strings.Contains(lower, "cr")
	title := "ServiceNow Ticket INC67890"
	number := "INC67890"
	category := "Incident"
	shortDesc := "Application server experiencing high CPU usage"
	if isChangeRequest {
		title = "Change Request CR12345"
		number = "CR12345"
		category = "Standard"
		shortDesc = "Deploy new application version to production"
	}

	fields := []map[string]any{
		{"name": "number", "label": "Number", "value": number, "type": "text"},
		{"name": "state", "label": "State", "value": "In Progress", "type": "badge"},
		{"name": "priority", "label": "Priority", "value": "High", "type": "badge"},
		{"name": "category", "label": "Category", "value": category, "type": "text"},
		{"name": "assigned_to", "label": "Assigned To", "value": "John Doe", "type": "text"},
		{"name": "short_description", "label": "Short Description", "value": shortDesc, "type": "text"},
	}
	sections := []string{"Basic Information", "Assignment", "Description"}

	return models.FormViewerBlock(title, fields, sections, map[string]any{
		"created": "2024-11-20T10:30:00Z", "updated": "2024-11-21T14:45:00Z",
	})
}

func mockDiagramBlock(lower string) models.Block {
	switch {
	case strings.Contains(lower, "aws"):
		return models.DiagramBlock("AWS Architecture", "aws",
			"Load Balancer\nApplication Server\nDatabase\nS3 Storage\nCloudWatch")
	case strings.Contains(lower, "workflow") || strings.Contains(lower, "flowchart"):
		return models.DiagramBlock("System Workflow Diagram", "flowchart",
			"graph TD\n    A[User Request] --> B{Authentication}\n    B -->|Valid| C[Process Request]\n"+
				"    B -->|Invalid| D[Return Error]\n    C --> E[Query Database]\n    E --> F[Generate Response]\n"+
				"    F --> G[Return to User]\n    D --> H[Log Error]")
	case strings.Contains(lower, "sequence"):
		return models.DiagramBlock("Sequence Diagram", "sequence",
			"Start Process\nValidate Input\nProcess Data\nGenerate Output\nEnd Process")
	default:
		return models.DiagramBlock("Architecture Diagram", "flowchart",
			"Start Process\nValidate Input\nProcess Data\nGenerate Output\nEnd Process")
	}
}
