package jira

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "net/url"
    "strings"
    "testing"
    "time"

    "github.com/PlayaLink/weekly-standup-generator/internal/config"
    "github.com/rs/zerolog"
)

func testOAuth(t *testing.T) *OAuth {
    t.Helper()
    cfg := config.Config{
        JiraClientID:     "client-id",
        JiraClientSecret: "client-secret",
        JiraRedirectURI:  "https://standup.example.com/auth/jira/callback",
        HTTPTimeout:      5 * time.Second,
    }
    return NewOAuth(cfg, zerolog.Nop())
}

func TestBuildState_ParseState_RoundTrip(t *testing.T) {
    state, err := BuildState("user-7")
    if err != nil { t.Fatalf("BuildState: %v", err) }
    parts := strings.SplitN(state, ":", 2)
    if len(parts) != 2 || len(parts[0]) != 32 { t.Fatalf("unexpected state shape: %q", state) }

    userID, err := ParseState(state)
    if err != nil { t.Fatalf("ParseState: %v", err) }
    if userID != "user-7" { t.Fatalf("got %q want user-7", userID) }
}

func TestParseState_Known(t *testing.T) {
    userID, err := ParseState("abc123:user-7")
    if err != nil || userID != "user-7" { t.Fatalf("got %q %v", userID, err) }
}

func TestParseState_RejectsMalformed(t *testing.T) {
    for _, in := range []string{"", "abc123", "abc123:"} {
        if _, err := ParseState(in); !errors.Is(err, ErrInvalidState) {
            t.Fatalf("ParseState(%q): expected ErrInvalidState, got %v", in, err)
        }
    }
}

func TestBuildAuthorizationURL(t *testing.T) {
    o := testOAuth(t)
    raw := o.BuildAuthorizationURL("abc123:user-7")
    u, err := url.Parse(raw)
    if err != nil { t.Fatalf("parse url: %v", err) }
    if u.Host != "auth.atlassian.com" || u.Path != "/authorize" { t.Fatalf("wrong endpoint: %s", raw) }
    q := u.Query()
    for key, want := range map[string]string{
        "audience":      "api.atlassian.com",
        "client_id":     "client-id",
        "scope":         "read:jira-work read:jira-user offline_access",
        "redirect_uri":  "https://standup.example.com/auth/jira/callback",
        "state":         "abc123:user-7",
        "response_type": "code",
        "prompt":        "consent",
    } {
        if got := q.Get(key); got != want { t.Fatalf("%s: got %q want %q", key, got, want) }
    }
}

func TestExchangeCode(t *testing.T) {
    var gotBody map[string]string
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost { t.Errorf("method %s", r.Method) }
        _ = json.NewDecoder(r.Body).Decode(&gotBody)
        _ = json.NewEncoder(w).Encode(map[string]any{
            "access_token":  "at",
            "refresh_token": "rt",
            "expires_in":    3600,
            "scope":         "read:jira-work offline_access",
        })
    }))
    defer srv.Close()

    o := testOAuth(t)
    o.tokenURL = srv.URL
    ts, err := o.ExchangeCode(context.Background(), "the-code")
    if err != nil { t.Fatalf("ExchangeCode: %v", err) }
    if ts.AccessToken != "at" || ts.RefreshToken != "rt" || ts.ExpiresIn != 3600 {
        t.Fatalf("bad token set: %+v", ts)
    }
    if len(ts.Scopes) != 2 || ts.Scopes[0] != "read:jira-work" { t.Fatalf("bad scopes: %v", ts.Scopes) }
    if gotBody["grant_type"] != "authorization_code" || gotBody["code"] != "the-code" {
        t.Fatalf("bad request body: %v", gotBody)
    }
}

func TestExchangeCode_SurfacesUpstreamDetail(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusForbidden)
        _, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
    }))
    defer srv.Close()

    o := testOAuth(t)
    o.tokenURL = srv.URL
    _, err := o.ExchangeCode(context.Background(), "bad-code")
    if !errors.Is(err, ErrExchangeFailed) { t.Fatalf("expected ErrExchangeFailed, got %v", err) }
    if !strings.Contains(err.Error(), "invalid_grant") { t.Fatalf("upstream detail lost: %v", err) }
}

func TestRefresh(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        var body map[string]string
        _ = json.NewDecoder(r.Body).Decode(&body)
        if body["grant_type"] != "refresh_token" || body["refresh_token"] != "rt-old" {
            t.Errorf("bad refresh body: %v", body)
        }
        _ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at2", "refresh_token": "rt2", "expires_in": 3600})
    }))
    defer srv.Close()

    o := testOAuth(t)
    o.tokenURL = srv.URL
    ts, err := o.Refresh(context.Background(), "rt-old")
    if err != nil { t.Fatalf("Refresh: %v", err) }
    if ts.AccessToken != "at2" || ts.RefreshToken != "rt2" { t.Fatalf("bad token set: %+v", ts) }
}

func TestAccessibleResources(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if got := r.Header.Get("Authorization"); got != "Bearer at" { t.Errorf("auth header %q", got) }
        _, _ = w.Write([]byte(`[{"id":"cloud-1","url":"https://acme.atlassian.net","name":"acme"}]`))
    }))
    defer srv.Close()

    o := testOAuth(t)
    o.resourcesURL = srv.URL
    sites, err := o.AccessibleResources(context.Background(), "at")
    if err != nil { t.Fatalf("AccessibleResources: %v", err) }
    if len(sites) != 1 || sites[0].ID != "cloud-1" || sites[0].URL != "https://acme.atlassian.net" {
        t.Fatalf("bad sites: %+v", sites)
    }
}

func TestAccessibleResources_EmptyListIsNotAnError(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        _, _ = w.Write([]byte(`[]`))
    }))
    defer srv.Close()

    o := testOAuth(t)
    o.resourcesURL = srv.URL
    sites, err := o.AccessibleResources(context.Background(), "at")
    if err != nil { t.Fatalf("AccessibleResources: %v", err) }
    if len(sites) != 0 { t.Fatalf("expected empty, got %+v", sites) }
}
