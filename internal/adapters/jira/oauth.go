package jira

import (
    "bytes"
    "context"
    "crypto/rand"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"

    "github.com/PlayaLink/weekly-standup-generator/internal/config"
    "github.com/PlayaLink/weekly-standup-generator/internal/domain"
    "github.com/rs/zerolog"
)

const (
    authURL      = "https://auth.atlassian.com/authorize"
    tokenURL     = "https://auth.atlassian.com/oauth/token"
    resourcesURL = "https://api.atlassian.com/oauth/token/accessible-resources"

    oauthScopes = "read:jira-work read:jira-user offline_access"
)

var (
    ErrExchangeFailed       = errors.New("jira: code exchange failed")
    ErrRefreshFailed        = errors.New("jira: token refresh failed")
    ErrResourceLookupFailed = errors.New("jira: accessible-resources lookup failed")
    // ErrInvalidState rejects a malformed callback state before any network
    // call is made.
    ErrInvalidState = errors.New("jira: invalid state parameter")
)

// OAuth is the stateless authorization-code and refresh-token exchanger for
// the Atlassian identity service.
type OAuth struct {
    clientID     string
    clientSecret string
    redirectURI  string
    tokenURL     string
    resourcesURL string
    http         *http.Client
    log          zerolog.Logger
}

func NewOAuth(cfg config.Config, log zerolog.Logger) *OAuth {
    return &OAuth{
        clientID:     cfg.JiraClientID,
        clientSecret: cfg.JiraClientSecret,
        redirectURI:  cfg.JiraRedirectURI,
        tokenURL:     tokenURL,
        resourcesURL: resourcesURL,
        http:         &http.Client{Timeout: cfg.HTTPTimeout},
        log:          log,
    }
}

// BuildState binds the redirect back to the session that initiated it without
// server-side state storage: an unguessable random half plus the internal
// user id, colon delimited.
func BuildState(userID string) (string, error) {
    buf := make([]byte, 16)
    if _, err := rand.Read(buf); err != nil { return "", err }
    return hex.EncodeToString(buf) + ":" + userID, nil
}

// ParseState recovers the internal user id from a callback state string.
func ParseState(state string) (string, error) {
    parts := strings.SplitN(state, ":", 2)
    if len(parts) < 2 || parts[1] == "" { return "", ErrInvalidState }
    return parts[1], nil
}

// BuildAuthorizationURL is pure construction; state is caller supplied.
func (o *OAuth) BuildAuthorizationURL(state string) string {
    q := url.Values{}
    q.Set("audience", "api.atlassian.com")
    q.Set("client_id", o.clientID)
    q.Set("scope", oauthScopes)
    q.Set("redirect_uri", o.redirectURI)
    q.Set("state", state)
    q.Set("response_type", "code")
    q.Set("prompt", "consent")
    return authURL + "?" + q.Encode()
}

type tokenResponse struct {
    AccessToken  string `json:"access_token"`
    RefreshToken string `json:"refresh_token"`
    ExpiresIn    int    `json:"expires_in"`
    Scope        string `json:"scope"`
}

func (t tokenResponse) toSet() domain.TokenSet {
    ts := domain.TokenSet{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, ExpiresIn: t.ExpiresIn}
    if s := strings.TrimSpace(t.Scope); s != "" { ts.Scopes = strings.Fields(s) }
    return ts
}

func (o *OAuth) grant(ctx context.Context, sentinel error, body map[string]string) (domain.TokenSet, error) {
    b, err := json.Marshal(body)
    if err != nil { return domain.TokenSet{}, err }
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL, bytes.NewReader(b))
    if err != nil { return domain.TokenSet{}, err }
    req.Header.Set("Content-Type", "application/json")
    resp, err := o.http.Do(req)
    if err != nil { return domain.TokenSet{}, fmt.Errorf("%w: %v", sentinel, err) }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        detail, _ := io.ReadAll(resp.Body)
        return domain.TokenSet{}, fmt.Errorf("%w: status=%d body=%s", sentinel, resp.StatusCode, strings.TrimSpace(string(detail)))
    }
    var tr tokenResponse
    if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil { return domain.TokenSet{}, fmt.Errorf("%w: %v", sentinel, err) }
    return tr.toSet(), nil
}

// ExchangeCode swaps an authorization code for a token set.
func (o *OAuth) ExchangeCode(ctx context.Context, code string) (domain.TokenSet, error) {
    return o.grant(ctx, ErrExchangeFailed, map[string]string{
        "grant_type":    "authorization_code",
        "client_id":     o.clientID,
        "client_secret": o.clientSecret,
        "code":          code,
        "redirect_uri":  o.redirectURI,
    })
}

// Refresh swaps a refresh token for a new token set.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (domain.TokenSet, error) {
    return o.grant(ctx, ErrRefreshFailed, map[string]string{
        "grant_type":    "refresh_token",
        "client_id":     o.clientID,
        "client_secret": o.clientSecret,
        "refresh_token": refreshToken,
    })
}

// AccessibleResources lists the Jira Cloud instances the token can reach.
// An empty list is a valid result; callers treat it as "no usable instance".
func (o *OAuth) AccessibleResources(ctx context.Context, accessToken string) ([]domain.Site, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.resourcesURL, nil)
    if err != nil { return nil, err }
    req.Header.Set("Authorization", "Bearer "+accessToken)
    req.Header.Set("Accept", "application/json")
    resp, err := o.http.Do(req)
    if err != nil { return nil, fmt.Errorf("%w: %v", ErrResourceLookupFailed, err) }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        detail, _ := io.ReadAll(resp.Body)
        return nil, fmt.Errorf("%w: status=%d body=%s", ErrResourceLookupFailed, resp.StatusCode, strings.TrimSpace(string(detail)))
    }
    var raw []struct {
        ID   string `json:"id"`
        URL  string `json:"url"`
        Name string `json:"name"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil { return nil, fmt.Errorf("%w: %v", ErrResourceLookupFailed, err) }
    out := make([]domain.Site, 0, len(raw))
    for _, r := range raw { out = append(out, domain.Site{ID: r.ID, URL: r.URL, Name: r.Name}) }
    return out, nil
}
