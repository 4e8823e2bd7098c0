package models

// BlockType is the closed set of structured artifacts a Message may carry.
type BlockType string

const (
	BlockTypeQuery        BlockType = "query"
	BlockTypeCode         BlockType = "code"
	BlockTypeTable        BlockType = "table"
	BlockTypeChart        BlockType = "chart"
	BlockTypeSplunkChart  BlockType = "splunk-chart"
	BlockTypeJSONExplorer BlockType = "json-explorer"
	BlockTypeTimeline     BlockType = "timeline"
	BlockTypeAlert        BlockType = "alert"
	BlockTypeFormViewer   BlockType = "form-viewer"
	BlockTypeFileUpDown   BlockType = "file-upload-download"
	BlockTypeChecklist    BlockType = "checklist"
	BlockTypeDiagram      BlockType = "diagram"
	BlockTypeSearchFilter BlockType = "search-filter"
)

// Block is a tagged, structured artifact embedded in a Message. Data holds
// the type-specific shape as a plain map so it round-trips through JSON
// without a codegen step; constructors below document each type's fields.
type Block struct {
	Type BlockType      `json:"type"`
	Data map[string]any `json:"data"`
}

// QueryBlock builds a {query, language, title, autoExecute} block.
func QueryBlock(query, language, title string, autoExecute bool) Block {
	return Block{Type: BlockTypeQuery, Data: map[string]any{
		"query": query, "language": language, "title": title, "autoExecute": autoExecute,
	}}
}

// CodeBlock builds a {code, language, title} block.
func CodeBlock(code, language, title string) Block {
	return Block{Type: BlockTypeCode, Data: map[string]any{
		"code": code, "language": language, "title": title,
	}}
}

// TableBlock builds a {columns, rows} block. rows is a row-major slice of
// ordered cell sequences matching columns' length and order.
func TableBlock(columns []string, rows [][]any) Block {
	return Block{Type: BlockTypeTable, Data: map[string]any{
		"columns": columns, "rows": rows,
	}}
}

// ChartBlock builds a {type, title, data, xAxis, yAxis, series, height,
// isTimeSeries, allowChartTypeSwitch} block. chartType is one of
// "line"|"bar"|"pie"|"area". series may be nil for single-series charts.
func ChartBlock(splunkVariant bool, chartType, title string, data []map[string]any, xAxis, yAxis string, series []string, isTimeSeries, allowSwitch bool) Block {
	typ := BlockTypeChart
	if splunkVariant {
		typ = BlockTypeSplunkChart
	}
	return Block{Type: typ, Data: map[string]any{
		"type": chartType, "title": title, "data": data,
		"xAxis": xAxis, "yAxis": yAxis, "series": series,
		"height": 300, "isTimeSeries": isTimeSeries, "allowChartTypeSwitch": allowSwitch,
	}}
}

// JSONExplorerBlock builds a {title, data, collapsed, maxDepth} block.
func JSONExplorerBlock(title string, data any, collapsed bool, maxDepth int) Block {
	return Block{Type: BlockTypeJSONExplorer, Data: map[string]any{
		"title": title, "data": data, "collapsed": collapsed, "maxDepth": maxDepth,
	}}
}

// TimelineEvent is one entry in a TimelineBlock's events list.
type TimelineEvent struct {
	Time        string         `json:"time"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TimelineBlock builds a {title, events, showTime, orientation} block.
func TimelineBlock(title string, events []TimelineEvent, showTime bool, orientation string) Block {
	return Block{Type: BlockTypeTimeline, Data: map[string]any{
		"title": title, "events": events, "showTime": showTime, "orientation": orientation,
	}}
}

// SearchFilterBlock builds a {data, placeholder, showResultsCount} block.
func SearchFilterBlock(data []map[string]any, placeholder string, showResultsCount bool) Block {
	return Block{Type: BlockTypeSearchFilter, Data: map[string]any{
		"data": data, "placeholder": placeholder, "showResultsCount": showResultsCount,
	}}
}

// AlertBlock builds a {type, title, message, dismissible} block. alertType
// is one of "info"|"warning"|"error"|"success".
func AlertBlock(alertType, title, message string, dismissible bool) Block {
	return Block{Type: BlockTypeAlert, Data: map[string]any{
		"type": alertType, "title": title, "message": message, "dismissible": dismissible,
	}}
}

// FormViewerBlock builds a {title, fields, sections, metadata} block.
func FormViewerBlock(title string, fields []map[string]any, sections []string, metadata map[string]any) Block {
	return Block{Type: BlockTypeFormViewer, Data: map[string]any{
		"title": title, "fields": fields, "sections": sections, "metadata": metadata,
	}}
}

// FileUploadDownloadBlock builds a {title, accept, multiple, maxSizeMB,
// downloadUrl, downloadName} block.
func FileUploadDownloadBlock(title, accept string, multiple bool, maxSizeMB int, downloadURL, downloadName string) Block {
	return Block{Type: BlockTypeFileUpDown, Data: map[string]any{
		"title": title, "accept": accept, "multiple": multiple, "maxSizeMB": maxSizeMB,
		"downloadUrl": downloadURL, "downloadName": downloadName,
	}}
}

// ChecklistItem is one entry in a ChecklistBlock's items list.
type ChecklistItem struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Checked bool   `json:"checked"`
}

// ChecklistBlock builds a {title, items} block.
func ChecklistBlock(title string, items []ChecklistItem) Block {
	return Block{Type: BlockTypeChecklist, Data: map[string]any{
		"title": title, "items": items,
	}}
}

// DiagramBlock builds a {title, diagramType, definition} block. diagramType
// is one of "flowchart"|"sequence"|"graph", definition is a Mermaid-style
// textual diagram description.
func DiagramBlock(title, diagramType, definition string) Block {
	return Block{Type: BlockTypeDiagram, Data: map[string]any{
		"title": title, "diagramType": diagramType, "definition": definition,
	}}
}
