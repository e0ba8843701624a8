package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/cookiepolicy"
	"github.com/openkcm/auth-relay/internal/handoff"
	"github.com/openkcm/auth-relay/internal/identity"
	"github.com/openkcm/auth-relay/internal/middleware/tenantctx"
	"github.com/openkcm/auth-relay/internal/proxy"
	"github.com/openkcm/auth-relay/internal/serviceerr"
	"github.com/openkcm/auth-relay/internal/session"
)

const maxRequestBody = 64 << 10

// Logouter ends a session at the identity backend.
type Logouter interface {
	Logout(ctx context.Context, cookies []*http.Cookie, tenant string) error
}

type authHandlers struct {
	handoff     *handoff.Service
	logouter    Logouter
	refresher   session.Refresher
	credentials session.CredentialSource
	policy      *cookiepolicy.Policy
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RedirectTo string `json:"redirectTo,omitempty"`
}

type loginResponse struct {
	ExpiresIn      int    `json:"expiresIn"`
	Tenant         string `json:"tenant,omitempty"`
	RelayToken     string `json:"relayToken,omitempty"`
	CallbackURL    string `json:"callbackUrl,omitempty"`
	BaseSessionURL string `json:"baseSessionUrl,omitempty"`
}

type refreshResponse struct {
	ExpiresIn int `json:"expiresIn"`
}

type logoutResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type sessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	Tenant        string     `json:"tenant,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Error         string     `json:"error,omitempty"`
}

func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		proxy.WriteError(w, serviceerr.ErrInvalidRequest.With("request body must be a JSON object"))
		return
	}
	if req.Email == "" || req.Password == "" {
		proxy.WriteError(w, serviceerr.ErrInvalidRequest.With("email and password are required"))
		return
	}

	res, err := h.handoff.Login(ctx, r, handoff.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RedirectTo: req.RedirectTo,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	setCookies(w, res.Cookies)
	writeJSON(w, http.StatusOK, loginResponse{
		ExpiresIn:      res.ExpiresIn,
		Tenant:         res.Tenant,
		RelayToken:     res.RelayToken,
		CallbackURL:    res.CallbackURL,
		BaseSessionURL: res.BaseSessionURL,
	})
}

func (h *authHandlers) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := h.handoff.Callback(r.Context(), r, q.Get("relayToken"), q.Get("redirectTo"))

	setCookies(w, res.Cookies)
	http.Redirect(w, r, res.Location, http.StatusFound)
}

func (h *authHandlers) setBaseSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := h.handoff.SetBaseSession(r.Context(), r, q.Get("relayToken"), q.Get("tenant"), q.Get("returnTo"))

	setCookies(w, res.Cookies)
	http.Redirect(w, r, res.Location, http.StatusFound)
}

func (h *authHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := tenantctx.FromContext(ctx)

	rt, err := r.Cookie(h.policy.Names().RefreshToken)
	if err != nil || rt.Value == "" {
		proxy.WriteError(w, serviceerr.ErrRefreshFailed.With("no refresh token"))
		return
	}

	tokens, err := h.refresher.Refresh(ctx, identity.RefreshRequest{
		RefreshToken: rt.Value,
		Cookies:      r.Cookies(),
		Tenant:       tenantID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = rt.Value
	}

	setCookies(w, h.policy.SessionCookies(r, tokens.AccessToken, refreshToken, tokens.ExpiresIn))
	writeJSON(w, http.StatusOK, refreshResponse{ExpiresIn: tokens.ExpiresIn})
}

func (h *authHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := tenantctx.FromContext(ctx)

	res := logoutResponse{Success: true}
	if err := h.logouter.Logout(ctx, r.Cookies(), tenantID); err != nil {
		slogctx.Warn(ctx, "Backend logout failed", "error", err)
		res = logoutResponse{Error: string(serviceerr.From(err).Err)}
	}

	setCookies(w, h.policy.ClearCookies(r))
	writeJSON(w, http.StatusOK, res)
}

func (h *authHandlers) session(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenantctx.FromContext(r.Context())

	tok, rotated, err := h.credentials.Credential(r)
	if err != nil {
		res := sessionResponse{Tenant: tenantID}
		if !errors.Is(err, serviceerr.ErrUnauthenticated) {
			res.Error = serviceerr.From(err).LoginHint()
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	if rotated {
		setCookies(w, h.policy.SessionCookies(r, tok.AccessToken, tok.RefreshToken, tok.TTLSeconds))
	}

	expiresAt := tok.ExpiresAt.UTC()
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		Tenant:        tok.Tenant,
		ExpiresAt:     &expiresAt,
	})
}

func setCookies(w http.ResponseWriter, cookies []*http.Cookie) {
	for _, c := range cookies {
		http.SetCookie(w, c)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	serr := serviceerr.From(err)
	if serr.HTTPStatus() >= http.StatusInternalServerError {
		slogctx.Error(ctx, "Request failed", "error", err)
	}
	proxy.WriteError(w, serr)
}
