package models

import (
	"time"
)

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Organization is a unit of isolation below a tenant. Every pipeline,
// card, and form definition belongs to exactly one organization.
type Organization struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scope is the (tenant, organization) pair every scoped operation takes
// explicitly. It is built once by the auth layer and passed down; the core
// never reads tenancy out of ambient context values.
type Scope struct {
	TenantID       string `json:"tenant_id"`
	OrganizationID string `json:"organization_id"`
}

// APIKey is a machine credential for the external surface. The raw secret
// is never stored, only its SHA-256 hash.
type APIKey struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	OrganizationID string     `json:"organization_id"`
	Name           string     `json:"name"`
	KeyHash        string     `json:"-"`
	Scopes         []string   `json:"scopes"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}
