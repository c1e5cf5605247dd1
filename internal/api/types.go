package api

import "github.com/rickgao/sfcalls/internal/model"

// Page size limits enforced by the server.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
	DefaultBBoxLimit = 200
	MaxBBoxLimit     = 500
)

// CallsPage from GET /calls
type CallsPage struct {
	Calls      []model.Call `json:"calls"`
	NextCursor *string      `json:"next_cursor"`
	Total      *int         `json:"total"`
}

// HasNext reports whether another page is available.
func (p *CallsPage) HasNext() bool {
	return p.NextCursor != nil && *p.NextCursor != ""
}

// ListCallsOptions for GET /calls
type ListCallsOptions struct {
	Cursor     string
	Limit      int
	Priorities []model.Priority
}
