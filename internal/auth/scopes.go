package auth

// OIDC scopes requested during the authorization code flow.
const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
)

// API-key permission scopes for the external machine surface.
const (
	ScopeCardsCreate = "cards:create"
	ScopeCardsRead   = "cards:read"
	ScopeCardsUpdate = "cards:update"
	ScopeCardsMove   = "cards:move"
	ScopeFormsUpdate = "forms:update"
)

// AllKeyScopes is the full set of permission scopes an API key may carry.
var AllKeyScopes = []string{
	ScopeCardsCreate,
	ScopeCardsRead,
	ScopeCardsUpdate,
	ScopeCardsMove,
	ScopeFormsUpdate,
}

// HasScope reports whether granted contains the wanted scope.
func HasScope(granted []string, wanted string) bool {
	for _, s := range granted {
		if s == wanted {
			return true
		}
	}
	return false
}
