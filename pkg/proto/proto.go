// Package proto defines the message types exchanged over the internal
// JSON-over-TCP RPC layer (see pkg/rpc). Field names use snake_case JSON
// tags so the wire format stays stable if the types are later generated
// from .proto definitions.
package proto

// Method names served by the autocomplete RPC service.
const (
	MethodSuggest = "Autocomplete.Suggest"
	MethodStats   = "Autocomplete.Stats"
	MethodReload  = "Autocomplete.Reload"
)

// SuggestRequest is the input to the Suggest RPC. MaxItems 0 applies the
// server's configured cap; a negative value returns every match.
type SuggestRequest struct {
	Prefix   string `json:"prefix"`
	MaxItems int32  `json:"max_items"`
}

// SuggestResponse is the output of the Suggest RPC.
type SuggestResponse struct {
	Suggestions []string `json:"suggestions"`
}

// StatsRequest takes no parameters.
type StatsRequest struct{}

// StatsResponse describes the prefix index.
type StatsResponse struct {
	Keywords              int64 `json:"keywords"`
	Ready                 bool  `json:"ready"`
	LastRebuildUnix       int64 `json:"last_rebuild_unix,omitempty"`
	LastRebuildDurationMs int64 `json:"last_rebuild_duration_ms"`
}

// ReloadRequest triggers a full rebuild from the backing store.
type ReloadRequest struct{}

// ReloadResponse confirms the rebuild.
type ReloadResponse struct {
	Success  bool   `json:"success"`
	Keywords int64  `json:"keywords"`
	Message  string `json:"message,omitempty"`
}
