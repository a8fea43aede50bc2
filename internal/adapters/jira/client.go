package jira

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"
    "time"

    "github.com/PlayaLink/weekly-standup-generator/internal/config"
    "github.com/PlayaLink/weekly-standup-generator/internal/domain"
    "github.com/rs/zerolog"
)

const defaultAPIBase = "https://api.atlassian.com"

// jiraTime is the timestamp layout Jira Cloud emits for updated/created.
const jiraTime = "2006-01-02T15:04:05.000-0700"

// Client talks to the Jira Cloud REST API through the api.atlassian.com
// gateway. It is stateless: the bearer token and cloud id come in per call.
type Client struct {
    apiBase string
    http    *http.Client
    log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{
        apiBase: defaultAPIBase,
        http:    &http.Client{Timeout: cfg.HTTPTimeout},
        log:     log,
    }
}

func (c *Client) apiURL(cloudID, path string, q url.Values) string {
    u := c.apiBase + "/ex/jira/" + url.PathEscape(cloudID) + path
    if len(q) > 0 { u = u + "?" + q.Encode() }
    return u
}

func (c *Client) getJSON(ctx context.Context, token, u string, out any) error {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
    if err != nil { return err }
    req.Header.Set("Authorization", "Bearer "+token)
    req.Header.Set("Accept", "application/json")
    resp, err := c.http.Do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        detail, _ := io.ReadAll(resp.Body)
        return fmt.Errorf("jira api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(detail)))
    }
    return json.NewDecoder(resp.Body).Decode(out)
}

// Boards lists scrum and kanban boards visible to the token.
func (c *Client) Boards(ctx context.Context, token, cloudID string) ([]domain.Board, error) {
    u := c.apiURL(cloudID, "/rest/agile/1.0/board", url.Values{"type": {"scrum", "kanban"}})
    var raw struct {
        Values []struct {
            ID       int64  `json:"id"`
            Name     string `json:"name"`
            Location struct {
                ProjectKey  string `json:"projectKey"`
                ProjectName string `json:"projectName"`
            } `json:"location"`
        } `json:"values"`
    }
    if err := c.getJSON(ctx, token, u, &raw); err != nil { return nil, fmt.Errorf("fetch boards: %w", err) }
    out := make([]domain.Board, 0, len(raw.Values))
    for _, b := range raw.Values {
        out = append(out, domain.Board{ID: b.ID, Name: b.Name, ProjectKey: b.Location.ProjectKey, ProjectName: b.Location.ProjectName})
    }
    return out, nil
}

type issueFields struct {
    Summary  string `json:"summary"`
    Status   struct{ Name string `json:"name"` } `json:"status"`
    Assignee *struct{ DisplayName string `json:"displayName"` } `json:"assignee"`
    DueDate  string `json:"duedate"`
    Updated  string `json:"updated"`
    Comment  *struct {
        Comments []rawComment `json:"comments"`
    } `json:"comment"`
}

type rawComment struct {
    Author  *struct{ DisplayName string `json:"displayName"` } `json:"author"`
    Body    any    `json:"body"`
    Created string `json:"created"`
}

type searchIssue struct {
    Key    string      `json:"key"`
    Fields issueFields `json:"fields"`
}

func parseJiraTime(s string) (time.Time, error) {
    if t, err := time.Parse(jiraTime, s); err == nil { return t, nil }
    return time.Parse(time.RFC3339, s)
}

// includeTicket is the relevance predicate of the filter phase. It is
// re-evaluated locally on every search result: the search query is
// intentionally broader, because due-soon "To Do" items must survive
// regardless of update recency.
func includeTicket(status string, updated, cutoff time.Time) bool {
    if !updated.Before(cutoff) { return true }
    return status == "In Progress" || status == "To Do"
}

// FetchTickets runs the three-phase pipeline: one scoped search, a local
// relevance filter, then a concurrent per-ticket detail fetch. Any single
// detail fetch failing aborts the whole aggregation.
func (c *Client) FetchTickets(ctx context.Context, token, cloudID, projectKey string, daysBack int) ([]domain.Ticket, error) {
    if daysBack <= 0 { daysBack = 7 }
    cutoff := time.Now().AddDate(0, 0, -daysBack)

    jql := fmt.Sprintf(`project = %q AND (assignee = currentUser() OR updatedDate >= %q)`,
        projectKey, cutoff.Format("2006-01-02"))
    q := url.Values{}
    q.Set("jql", jql)
    q.Set("fields", "key,summary,status,assignee,duedate,updated")
    var search struct {
        Issues []searchIssue `json:"issues"`
    }
    if err := c.getJSON(ctx, token, c.apiURL(cloudID, "/rest/api/3/search", q), &search); err != nil {
        return nil, fmt.Errorf("search tickets: %w", err)
    }

    var selected []searchIssue
    for _, is := range search.Issues {
        updated, err := parseJiraTime(is.Fields.Updated)
        if err != nil { return nil, fmt.Errorf("ticket %s: bad updated timestamp %q", is.Key, is.Fields.Updated) }
        if includeTicket(is.Fields.Status.Name, updated, cutoff) { selected = append(selected, is) }
    }
    if len(selected) == 0 { return nil, nil }

    // fan out one detail fetch per surviving ticket, fan in before composing
    type result struct {
        idx    int
        ticket domain.Ticket
        err    error
    }
    results := make(chan result, len(selected))
    for i, is := range selected {
        go func(i int, key string) {
            t, err := c.fetchTicketDetail(ctx, token, cloudID, key, cutoff)
            results <- result{idx: i, ticket: t, err: err}
        }(i, is.Key)
    }
    tickets := make([]domain.Ticket, len(selected))
    var firstErr error
    for range selected {
        r := <-results
        if r.err != nil {
            if firstErr == nil { firstErr = fmt.Errorf("fetch ticket %s: %w", selected[r.idx].Key, r.err) }
            continue
        }
        tickets[r.idx] = r.ticket
    }
    if firstErr != nil { return nil, firstErr }
    return tickets, nil
}

func (c *Client) fetchTicketDetail(ctx context.Context, token, cloudID, key string, cutoff time.Time) (domain.Ticket, error) {
    q := url.Values{}
    q.Set("expand", "renderedFields")
    q.Set("fields", "summary,status,assignee,description,duedate,updated,comment")
    var detail struct {
        Key            string      `json:"key"`
        Fields         issueFields `json:"fields"`
        RenderedFields *struct {
            Description string `json:"description"`
        } `json:"renderedFields"`
    }
    u := c.apiURL(cloudID, "/rest/api/3/issue/"+url.PathEscape(key), q)
    if err := c.getJSON(ctx, token, u, &detail); err != nil { return domain.Ticket{}, err }

    updated, err := parseJiraTime(detail.Fields.Updated)
    if err != nil { return domain.Ticket{}, fmt.Errorf("bad updated timestamp %q", detail.Fields.Updated) }

    t := domain.Ticket{
        Key:     detail.Key,
        Summary: detail.Fields.Summary,
        Status:  detail.Fields.Status.Name,
        DueDate: detail.Fields.DueDate,
        Updated: updated,
    }
    if t.Status == "" { t.Status = "Unknown" }
    if detail.Fields.Assignee != nil { t.Assignee = detail.Fields.Assignee.DisplayName }
    if detail.RenderedFields != nil { t.Description = detail.RenderedFields.Description }

    // comments older than the cutoff are dropped entirely
    if detail.Fields.Comment != nil {
        for _, rc := range detail.Fields.Comment.Comments {
            created, err := parseJiraTime(rc.Created)
            if err != nil || created.Before(cutoff) { continue }
            author := "Unknown"
            if rc.Author != nil && rc.Author.DisplayName != "" { author = rc.Author.DisplayName }
            t.Comments = append(t.Comments, domain.Comment{Author: author, Body: flattenADF(rc.Body), Created: created})
        }
    }
    return t, nil
}

// flattenADF reduces an Atlassian Document Format tree to plain text by
// concatenating leaf text nodes in document order. Non-text leaves
// contribute nothing.
func flattenADF(node any) string {
    switch v := node.(type) {
    case nil:
        return ""
    case string:
        return v
    case map[string]any:
        if v["type"] == "text" {
            if s, ok := v["text"].(string); ok { return s }
            return ""
        }
        if content, ok := v["content"].([]any); ok {
            var b strings.Builder
            for _, child := range content { b.WriteString(flattenADF(child)) }
            return b.String()
        }
        return ""
    default:
        return ""
    }
}
