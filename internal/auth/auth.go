// Package auth performs OpenID Connect authentication for the internal
// surface and API-key authentication for the external machine surface.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"flowdeck/internal/config"
	"flowdeck/internal/repository"
	"flowdeck/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type contextKey string

const scopeKey contextKey = "flowdeck.scope"

// ScopeFrom returns the tenant/org scope the middleware resolved for the
// request. The second return is false when the request never passed
// through RequireAuth.
func ScopeFrom(ctx context.Context) (models.Scope, bool) {
	scope, ok := ctx.Value(scopeKey).(models.Scope)
	return scope, ok
}

// WithScope returns a context carrying the given scope. Exposed for
// handlers outside the HTTP middleware chain, such as the MCP surface.
func WithScope(ctx context.Context, scope models.Scope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// Auth contains configuration and helpers for performing OpenID Connect
// authentication against the configured provider.
type Auth struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	apiVerifier  *oidc.IDTokenVerifier
	store        repository.Store
	logger       Logger
	bypass       bool
}

// New creates a new Auth object using values from the application
// configuration. It establishes a connection to the provider and prepares
// an ID token verifier.
func New(ctx context.Context, cfg *config.Config, store repository.Store, logger Logger) (*Auth, error) {
	var oauth2Config *oauth2.Config
	var verifier *oidc.IDTokenVerifier
	var apiVerifier *oidc.IDTokenVerifier

	if !cfg.Auth.DevBypass {
		if cfg.Auth.Issuer == "" || cfg.Auth.ClientID == "" ||
			cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
			return nil, errors.New("auth configuration is incomplete")
		}

		provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
		if err != nil {
			return nil, err
		}

		oauth2Config = &oauth2.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.Auth.RedirectURL,
			Scopes:       []string{ScopeOpenID, ScopeEmail},
		}

		verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID})

		// Separate verifier for Bearer access tokens; their audience is
		// typically the API identifier rather than the client id.
		apiVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	}

	return &Auth{
		oauth2Config: oauth2Config,
		verifier:     verifier,
		apiVerifier:  apiVerifier,
		store:        store,
		logger:       logger,
		bypass:       cfg.Auth.DevBypass,
	}, nil
}

// LoginHandler initiates the OAuth2 authorization code flow by redirecting
// the user to the provider's authorization endpoint. A random state value
// is stored in a cookie to mitigate CSRF attacks.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.bypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		HttpOnly: true,
		Path:     "/",
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler handles the redirect back from the provider. It verifies
// the state parameter, exchanges the code for tokens, validates the ID
// token, and sets a session cookie containing the raw ID token.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if a.bypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	cookie, err := r.Cookie("oauthstate")
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}

	if _, err := a.verifier.Verify(r.Context(), rawIDToken); err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "id_token",
		Value:    rawIDToken,
		HttpOnly: true,
		Path:     "/",
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RequireAuth is middleware that authenticates the request, resolves the
// caller's tenant from the token's email domain (auto-provisioning tenant
// and default organization on first sight), and injects the resulting
// scope into the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var email string

		if a.bypass {
			email = "dev@localhost"
		} else {
			var token *oidc.IDToken

			// Authorization header first, for machine clients.
			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				rawToken := strings.TrimPrefix(authHeader, "Bearer ")
				verified, err := a.apiVerifier.Verify(r.Context(), rawToken)
				if err != nil {
					http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
					return
				}
				token = verified
			} else {
				cookie, err := r.Cookie("id_token")
				if err != nil {
					http.Redirect(w, r, "/login", http.StatusSeeOther)
					return
				}
				token, err = a.verifier.Verify(r.Context(), cookie.Value)
				if err != nil {
					http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
					return
				}
			}

			var claims struct {
				Email string `json:"email"`
			}
			if err := token.Claims(&claims); err != nil {
				http.Error(w, "failed to parse token claims", http.StatusUnauthorized)
				return
			}
			email = claims.Email
		}

		scope, err := a.ResolveScope(r.Context(), email)
		if err != nil {
			a.logger.Error("failed to resolve scope", "email", email, "error", err)
			http.Error(w, "failed to resolve tenant: "+err.Error(), http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
	})
}

// ResolveScope maps an authenticated email to a tenant/org scope,
// provisioning the tenant and its default organization on first contact.
func (a *Auth) ResolveScope(ctx context.Context, email string) (models.Scope, error) {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return models.Scope{}, errors.New("invalid email format in token")
	}
	domain := parts[1]

	tenant, err := a.store.GetTenantByDomain(ctx, domain)
	if err == repository.ErrNotFound {
		tenant = &models.Tenant{ID: uuid.New().String(), Name: domain, Domain: domain}
		if createErr := a.store.CreateTenant(ctx, tenant); createErr != nil {
			return models.Scope{}, createErr
		}
		a.logger.Info("tenant provisioned", "domain", domain)
	} else if err != nil {
		return models.Scope{}, err
	}

	org, err := a.store.GetOrganizationByKey(ctx, tenant.ID, "default")
	if err == repository.ErrNotFound {
		org = &models.Organization{
			ID:       uuid.New().String(),
			TenantID: tenant.ID,
			Key:      "default",
			Name:     "Default",
		}
		if createErr := a.store.CreateOrganization(ctx, org); createErr != nil {
			return models.Scope{}, createErr
		}
	} else if err != nil {
		return models.Scope{}, err
	}

	return models.Scope{TenantID: tenant.ID, OrganizationID: org.ID}, nil
}

// LogoutHandler clears the session cookie and redirects to the home page.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   "id_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
