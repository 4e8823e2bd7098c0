// Block extraction: parses assistant text for fenced artifacts —
// analytics queries, code snippets, JSON block descriptors — and emits
// the corresponding Block records. Extraction
// is idempotent: running it again over its own returned text yields
// the same (unchanged) text and no further blocks, since every
// recognized fence is stripped from the text as it is consumed.
package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/splunk-chatops/dispatcher/internal/models"
)

var fencedBlockRE = regexp.MustCompile("(?s)```([a-zA-Z0-9_-]*)\\n(.*?)```")

// analyticsLanguages is the closed set of fence-language tags
// recognized as an analytics query rather than a plain code snippet.
var analyticsLanguages = map[string]bool{"spl": true, "splunk": true}

// ExtractBlocks scans text for fenced artifacts, returning the text
// with every recognized fence stripped (so re-running extraction over
// it is a no-op) and the Block records the fences described.
func ExtractBlocks(text string) (string, []models.Block) {
	var blocks []models.Block

	remaining := fencedBlockRE.ReplaceAllStringFunc(text, func(match string) string {
		groups := fencedBlockRE.FindStringSubmatch(match)
		lang := strings.ToLower(strings.TrimSpace(groups[1]))
		body := strings.TrimSpace(groups[2])
		if body == "" {
			return ""
		}

		switch {
		case analyticsLanguages[lang]:
			blocks = append(blocks, models.QueryBlock(body, "spl", "Query", false))
		case lang == "json":
			blocks = append(blocks, jsonBlock(body))
		default:
			if lang == "" {
				lang = "text"
			}
			blocks = append(blocks, models.CodeBlock(body, lang, "Code"))
		}
		return ""
	})

	return strings.TrimSpace(collapseBlankLines(remaining)), blocks
}

// jsonBlock decodes body as JSON. A well-formed {type, data} descriptor
// naming one of the closed BlockType values passes through as that
// literal block; anything else (or invalid JSON) becomes a generic
// json-explorer block so the text is never silently dropped.
func jsonBlock(body string) models.Block {
	var descriptor struct {
		Type models.BlockType `json:"type"`
		Data map[string]any   `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &descriptor); err == nil && descriptor.Data != nil {
		switch descriptor.Type {
		case models.BlockTypeQuery, models.BlockTypeCode, models.BlockTypeTable, models.BlockTypeChart,
			models.BlockTypeSplunkChart, models.BlockTypeJSONExplorer, models.BlockTypeTimeline,
			models.BlockTypeAlert, models.BlockTypeFormViewer, models.BlockTypeFileUpDown,
			models.BlockTypeChecklist, models.BlockTypeDiagram, models.BlockTypeSearchFilter:
			return models.Block{Type: descriptor.Type, Data: descriptor.Data}
		}
	}

	var generic any
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		generic = body
	}
	return models.JSONExplorerBlock("JSON", generic, false, 3)
}

// collapseBlankLines trims runs of 3+ consecutive newlines (left behind
// once a fence is removed) down to a single blank line.
func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
