package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splunk-chatops/dispatcher/internal/models"
)

func TestExtractBlocksQueryFence(t *testing.T) {
	text := "Here is your search:\n```spl\nindex=main | stats count by status\n```\nRun it anytime."

	remaining, blocks := ExtractBlocks(text)

	require.Len(t, blocks, 1)
	assert.Equal(t, models.BlockTypeQuery, blocks[0].Type)
	assert.Equal(t, "index=main | stats count by status", blocks[0].Data["query"])
	assert.NotContains(t, remaining, "index=main")
	assert.Contains(t, remaining, "Here is your search:")
}

func TestExtractBlocksCodeFence(t *testing.T) {
	text := "Example:\n```python\nprint(\"hi\")\n```"

	_, blocks := ExtractBlocks(text)

	require.Len(t, blocks, 1)
	assert.Equal(t, models.BlockTypeCode, blocks[0].Type)
	assert.Equal(t, "python", blocks[0].Data["language"])
}

func TestExtractBlocksUntaggedFenceDefaultsToText(t *testing.T) {
	_, blocks := ExtractBlocks("```\nsome output\n```")

	require.Len(t, blocks, 1)
	assert.Equal(t, models.BlockTypeCode, blocks[0].Type)
	assert.Equal(t, "text", blocks[0].Data["language"])
}

func TestExtractBlocksJSONDescriptorPassesThrough(t *testing.T) {
	text := "```json\n{\"type\": \"alert\", \"data\": {\"type\": \"warning\", \"title\": \"Heads up\"}}\n```"

	_, blocks := ExtractBlocks(text)

	require.Len(t, blocks, 1)
	assert.Equal(t, models.BlockTypeAlert, blocks[0].Type)
	assert.Equal(t, "Heads up", blocks[0].Data["title"])
}

func TestExtractBlocksPlainJSONBecomesExplorer(t *testing.T) {
	text := "```json\n{\"rows\": [1, 2, 3]}\n```"

	_, blocks := ExtractBlocks(text)

	require.Len(t, blocks, 1)
	assert.Equal(t, models.BlockTypeJSONExplorer, blocks[0].Type)
}

func TestExtractBlocksEmptyFenceDropped(t *testing.T) {
	remaining, blocks := ExtractBlocks("before\n```spl\n\n```\nafter")

	assert.Empty(t, blocks)
	assert.Contains(t, remaining, "before")
	assert.Contains(t, remaining, "after")
}

// Extraction is idempotent: re-running over its own returned text yields
// the same text and no further blocks.
func TestExtractBlocksIdempotent(t *testing.T) {
	text := "Intro\n```spl\nindex=a\n```\nmiddle\n```python\nx = 1\n```\nend"

	once, blocks := ExtractBlocks(text)
	require.Len(t, blocks, 2)

	twice, moreBlocks := ExtractBlocks(once)
	assert.Equal(t, once, twice)
	assert.Empty(t, moreBlocks)
}

func TestExtractBlocksNoFences(t *testing.T) {
	remaining, blocks := ExtractBlocks("just a plain answer")
	assert.Equal(t, "just a plain answer", remaining)
	assert.Empty(t, blocks)
}
