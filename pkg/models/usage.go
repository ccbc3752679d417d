package models

import "time"

// UsageRecord is one row persisted per LLM call. Cost fields are derived
// locally from the static pricing table; they are never reported upstream.
type UsageRecord struct {
	UserID         string        `json:"user_id,omitempty"`
	OrgID          string        `json:"org_id,omitempty"`
	APIKeyID       string        `json:"api_key_id,omitempty"`
	SessionID      string        `json:"session_id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	ModelProvider  string        `json:"model_provider"`
	ModelName      string        `json:"model_name"`
	ModelAlias     string        `json:"model_alias"`
	InputTokens    int           `json:"input_tokens"`
	OutputTokens   int           `json:"output_tokens"`
	TotalTokens    int           `json:"total_tokens"`
	InputCost      float64       `json:"input_cost"`
	OutputCost     float64       `json:"output_cost"`
	TotalCost      float64       `json:"total_cost"`
	RequestType    string        `json:"request_type"`
	DiagramType    string        `json:"diagram_type,omitempty"`
	EndpointPath   string        `json:"endpoint_path,omitempty"`
	Success        bool          `json:"success"`
	ResponseTime   time.Duration `json:"response_time"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Tracking carries per-request attribution metadata through the core so the
// token tracker can associate usage with a user and endpoint.
type Tracking struct {
	UserID         string
	OrgID          string
	APIKeyID       string
	SessionID      string
	ConversationID string
	RequestType    string
	DiagramType    string
	EndpointPath   string
}
