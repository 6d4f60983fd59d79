package mcp

import "github.com/Aman-CERP/searchidx/internal/pipeline"

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the web search query to run and index"`
	K     int    `json:"k,omitempty" jsonschema:"number of passages to return, default retrieve.top_k"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	RunID      string          `json:"run_id" jsonschema:"id of the pipeline run, also found in the logs"`
	Query      string          `json:"query"`
	Passages   []PassageOutput `json:"passages" jsonschema:"best matching chunks, highest score first"`
	Indexed    int             `json:"indexed" jsonschema:"pages indexed by this run"`
	Chunks     int             `json:"chunks" jsonschema:"chunks committed by this run"`
	Failures   []FailureOutput `json:"failures,omitempty" jsonschema:"pages that could not be indexed"`
	DurationMS int64           `json:"duration_ms"`
}

// PassageOutput is one retrieved chunk.
type PassageOutput struct {
	ID          uint64  `json:"id"`
	URI         string  `json:"uri,omitempty" jsonschema:"chunk resource uri, set only when the index is shared"`
	URL         string  `json:"url"`
	Text        string  `json:"text"`
	Score       float64 `json:"score" jsonschema:"fused relevance score"`
	InBothLists bool    `json:"in_both_lists,omitempty" jsonschema:"true if both vector and keyword search returned the chunk"`
}

// FailureOutput explains why one page was skipped.
type FailureOutput struct {
	URL      string `json:"url"`
	FailedAt string `json:"failed_at"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	SharedIndex bool                   `json:"shared_index" jsonschema:"true if chunk ids stay readable after a search"`
	Chunks      int                    `json:"chunks" jsonschema:"chunks in the shared index, 0 without one"`
	Pipeline    pipeline.StatsSnapshot `json:"pipeline"`
	Runs        int64                  `json:"runs,omitempty" jsonschema:"runs recorded in history"`
	FailureRate float64                `json:"failure_rate,omitempty" jsonschema:"share of recorded pages that failed"`
}
