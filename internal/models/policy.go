package models

import (
	"time"
)

// PolicyType selects the policy's config schema and evaluation stage.
type PolicyType string

const (
	PolicyTypeCORS    PolicyType = "cors"
	PolicyTypeIPAllow PolicyType = "ip_allow"
	PolicyTypeIPDeny  PolicyType = "ip_deny"
)

// PolicyMode is the enforcement stage, ordered by increasing strictness.
type PolicyMode string

const (
	ModeShadow    PolicyMode = "shadow"
	ModeAuditOnly PolicyMode = "audit_only"
	ModeEnforce   PolicyMode = "enforce"
)

// JSONText stores a JSON document as a text column while marshaling it
// inline (as an object, not a quoted string) on the API surface.
type JSONText string

func (j JSONText) MarshalJSON() ([]byte, error) {
	if j == "" {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

func (j *JSONText) UnmarshalJSON(data []byte) error {
	*j = JSONText(data)
	return nil
}

// Policy is one enforcement rule applied to inbound gateway traffic.
// PolicyID is the caller-chosen unique key; upserts address it, not the
// numeric row id.
type Policy struct {
	ID        uint       `json:"-" gorm:"primaryKey"`
	PolicyID  string     `json:"id" gorm:"uniqueIndex"`
	Type      PolicyType `json:"type" gorm:"index"`
	Mode      PolicyMode `json:"mode"`
	Config    JSONText   `json:"config" gorm:"type:text"` // JSON, schema per Type
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CORSConfig is the config payload for PolicyTypeCORS.
type CORSConfig struct {
	Origins          []string `json:"origins"`
	Methods          []string `json:"methods"`
	Headers          []string `json:"headers"`
	ExposedHeaders   []string `json:"exposedHeaders,omitempty"`
	AllowCredentials bool     `json:"allowCredentials"`
	MaxAgeSeconds    int      `json:"maxAgeSeconds"`
}

// IPConfig is the config payload for PolicyTypeIPAllow and PolicyTypeIPDeny.
type IPConfig struct {
	CIDRs       []string `json:"cidrs"`
	Description string   `json:"description,omitempty"`
}

// Decision is the per-request, per-policy evaluation outcome. Decisions are
// never persisted; they feed audit logs and metrics only.
type Decision struct {
	PolicyID   string     `json:"policy_id"`
	Type       PolicyType `json:"type"`
	Mode       PolicyMode `json:"mode"`
	Violated   bool       `json:"violated"`
	WouldBlock bool       `json:"would_block"`
	Reason     string     `json:"reason"`
}
