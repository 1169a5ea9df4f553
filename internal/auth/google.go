package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"breva-backend/internal/shared/server/respond"
	"breva-backend/internal/shared/telemetry"
	"breva-backend/internal/users"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	oauthStateTTL     = 5 * time.Minute
)

// ErrUnverifiedEmail is returned when a Google profile claims an email that
// belongs to another account but Google has not verified it.
var ErrUnverifiedEmail = errors.New("google email not verified")

// GoogleOptions configures the OAuth client and where tokens are delivered.
type GoogleOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// UIRedirect receives ?token= for the web dashboard.
	UIRedirect string
	// AppRedirect receives #token= for the capture app (a custom scheme deep link).
	AppRedirect string
}

// GoogleService handles Google OAuth flows.
type GoogleService struct {
	oauthConfig *oauth2.Config
	opts        GoogleOptions
	states      *stateStore
	users       UserStore
	userInfoURL string
}

// NewGoogleService builds a GoogleService.
func NewGoogleService(opts GoogleOptions, userStore UserStore) *GoogleService {
	return &GoogleService{
		oauthConfig: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		opts:        opts,
		states:      newStateStore(),
		users:       userStore,
		userInfoURL: googleUserInfoURL,
	}
}

// RegisterRoutes attaches Google auth routes.
func (s *GoogleService) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/auth/google/start", s.start)
	rg.GET("/auth/google/callback", s.callback)
}

func (s *GoogleService) configured() bool {
	return s.oauthConfig.ClientID != "" && s.oauthConfig.ClientSecret != "" && s.oauthConfig.RedirectURL != ""
}

// start redirects to Google. ?client=app sends the token back to the capture app.
func (s *GoogleService) start(c *gin.Context) {
	if !s.configured() {
		respond.Error(c, http.StatusServiceUnavailable, "auth_not_configured", "Google auth not configured", nil)
		return
	}
	target := loginTarget{redirect: s.opts.UIRedirect}
	if c.Query("client") == "app" {
		if s.opts.AppRedirect == "" {
			respond.Error(c, http.StatusBadRequest, "validation_error", "app login not configured", nil)
			return
		}
		target = loginTarget{redirect: s.opts.AppRedirect, fragment: true}
	}

	state := uuid.NewString()
	s.states.put(state, target, time.Now().Add(oauthStateTTL))
	c.Redirect(http.StatusFound, s.oauthConfig.AuthCodeURL(state))
}

func (s *GoogleService) callback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "missing state or code", nil)
		return
	}
	target, ok := s.states.consume(state, time.Now())
	if !ok {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "invalid or expired state", nil)
		return
	}

	ctx := c.Request.Context()
	token, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_request", "failed to exchange code", nil)
		return
	}
	info, err := s.fetchUserInfo(ctx, s.oauthConfig.Client(ctx, token))
	if err != nil {
		telemetry.Warn("auth.google.userinfo_failed", map[string]any{"error": err, "request_id": c.GetString("requestId")})
		respond.Error(c, http.StatusBadGateway, "auth_failed", "failed to fetch user profile", nil)
		return
	}

	user, err := s.resolveUser(ctx, info)
	if err != nil {
		if errors.Is(err, ErrUnverifiedEmail) {
			respond.Error(c, http.StatusConflict, "email_unverified", "an account with this email exists; sign in with a password", nil)
			return
		}
		telemetry.Error("auth.google.upsert_failed", map[string]any{"error": err, "request_id": c.GetString("requestId")})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to persist user", nil)
		return
	}

	jwt, err := issueToken(user)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to issue token", nil)
		return
	}
	redirectURL, err := appendToken(target.redirect, jwt, target.fragment)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to redirect", nil)
		return
	}
	telemetry.Info("auth.google.login", map[string]any{"user_id": user.ID, "app": target.fragment})
	c.Redirect(http.StatusFound, redirectURL)
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (s *GoogleService) fetchUserInfo(ctx context.Context, client *http.Client) (googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return googleUserInfo{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return googleUserInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return googleUserInfo{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return googleUserInfo{}, err
	}
	// v2 userinfo answers with "id".
	if info.Sub == "" {
		info.Sub = info.ID
	}
	if info.Sub == "" {
		return googleUserInfo{}, errors.New("profile without subject")
	}
	return info, nil
}

// resolveUser links the Google identity to an existing account with the same
// verified email, or creates a google:<sub> account.
func (s *GoogleService) resolveUser(ctx context.Context, info googleUserInfo) (users.User, error) {
	if s.users == nil {
		return users.User{}, errors.New("user store not configured")
	}
	userID := "google:" + info.Sub
	if info.Email != "" {
		existing, err := s.users.GetByEmail(ctx, info.Email)
		switch {
		case err == nil && existing.ID != userID && !info.VerifiedEmail:
			return users.User{}, ErrUnverifiedEmail
		case err == nil:
			userID = existing.ID
		case !errors.Is(err, users.ErrNotFound):
			return users.User{}, err
		}
	}
	if err := s.users.UpsertFromAuth(ctx, users.User{
		ID:         userID,
		Email:      info.Email,
		FullName:   info.Name,
		PictureURL: info.Picture,
	}); err != nil {
		return users.User{}, err
	}
	return s.users.GetByID(ctx, userID)
}

type loginTarget struct {
	redirect string
	fragment bool
}

type pendingState struct {
	target loginTarget
	exp    time.Time
}

// stateStore holds single-use OAuth states; expired entries are pruned on write.
type stateStore struct {
	mu    sync.Mutex
	items map[string]pendingState
}

func newStateStore() *stateStore {
	return &stateStore{items: make(map[string]pendingState)}
}

func (s *stateStore) put(state string, target loginTarget, exp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, v := range s.items {
		if now.After(v.exp) {
			delete(s.items, k)
		}
	}
	s.items[state] = pendingState{target: target, exp: exp}
}

func (s *stateStore) consume(state string, now time.Time) (loginTarget, bool) {
	s.mu.Lock()
	p, ok := s.items[state]
	delete(s.items, state)
	s.mu.Unlock()
	if !ok || now.After(p.exp) {
		return loginTarget{}, false
	}
	return p.target, true
}

func (s *stateStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func appendToken(rawURL, token string, fragment bool) (string, error) {
	if rawURL == "" {
		return "", errors.New("redirect url required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if fragment {
		u.Fragment = url.Values{"token": {token}}.Encode()
		return u.String(), nil
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
