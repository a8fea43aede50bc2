package anthropic

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "regexp"
    "strings"
    "time"

    "github.com/PlayaLink/weekly-standup-generator/internal/config"
    "github.com/PlayaLink/weekly-standup-generator/internal/domain"
    "github.com/anthropics/anthropic-sdk-go"
    "github.com/anthropics/anthropic-sdk-go/option"
    "github.com/rs/zerolog"
)

const systemPrompt = `You are a helpful assistant that generates weekly standup reports from Jira ticket data.

Format requirements:
- Start directly with "## Last Week" (no title header)
- Ticket format: [PROJ-123](https://jira.example.com/browse/PROJ-123) - Concise Name
- Each ticket gets 1-3 bullet points describing work done or planned
- Organize into three sections:

## Last Week
Tickets with activity in the past 7 days. Focus on what was accomplished.

## This Week
"In Progress" and "To Do" tickets. Focus on planned actions.

## Blockers
Dependencies or items you're waiting on. If none, just say "None"

Additional formatting:
- Keep ticket names to 3-5 words that capture the essence
- Use relative due dates: "Due tomorrow", "Due Friday", "Due next Tuesday", "Due 02/01"
- Be concise - 1-3 bullet points per ticket
- If a ticket has recent comments, incorporate relevant context`

// Client composes standup prose from aggregated tickets.
type Client struct {
    api   anthropic.Client
    model string
    log   zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    api := anthropic.NewClient(
        option.WithAPIKey(cfg.AnthropicKey),
        option.WithHTTPClient(&http.Client{Timeout: cfg.AnthropicTimeout}),
    )
    return &Client{api: api, model: cfg.AnthropicModel, log: log}
}

// Generate produces the report prose plus the merged name mapping. Newly
// coined names arrive as one fenced json block which is extracted and
// stripped before the prose is returned.
func (c *Client) Generate(ctx context.Context, tickets []domain.Ticket, jiraBaseURL string, today time.Time, names map[string]string) (string, map[string]string, error) {
    namesJSON, err := json.MarshalIndent(names, "", "  ")
    if err != nil { return "", nil, err }
    ticketsJSON, err := json.MarshalIndent(tickets, "", "  ")
    if err != nil { return "", nil, err }

    prompt := fmt.Sprintf(`Generate a weekly standup report from this Jira data.

Jira base URL for links: %s
Today's date: %s

Existing ticket names (use these for consistency if the ticket appears):
%s

Ticket data:
%s

After generating the report, also output a JSON block with any NEW ticket names you created, in this format:
`+"```json\n{\"PROJ-123\": \"Short ticket name\", \"PROJ-456\": \"Another name\"}\n```",
        jiraBaseURL, today.Format("Monday, January 2, 2006"), namesJSON, ticketsJSON)

    msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
        Model:     anthropic.Model(c.model),
        MaxTokens: 2000,
        System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
        Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
    })
    if err != nil { return "", nil, fmt.Errorf("generate report: %w", err) }

    var b strings.Builder
    for _, block := range msg.Content {
        if block.Type == "text" { b.WriteString(block.Text) }
    }
    response := b.String()
    if response == "" { return "", nil, errors.New("anthropic: empty response") }

    merged := ExtractTicketNames(response, names)
    return StripNameBlock(response), merged, nil
}

var jsonFenceRe = regexp.MustCompile("```json\\s*([\\s\\S]*?)\\s*```")

// ExtractTicketNames merges the response's fenced name block over the
// existing mapping. A missing or unparsable block leaves the mapping as is.
func ExtractTicketNames(response string, existing map[string]string) map[string]string {
    merged := make(map[string]string, len(existing))
    for k, v := range existing { merged[k] = v }
    m := jsonFenceRe.FindStringSubmatch(response)
    if m == nil { return merged }
    var coined map[string]string
    if err := json.Unmarshal([]byte(m[1]), &coined); err != nil { return merged }
    for k, v := range coined { merged[k] = v }
    return merged
}

// StripNameBlock removes fenced json blocks so only prose is delivered.
func StripNameBlock(response string) string {
    return strings.TrimSpace(jsonFenceRe.ReplaceAllString(response, ""))
}

// FormatRelativeDueDate renders a yyyy-mm-dd due date relative to today,
// matching the phrasing the system prompt asks the model to use.
func FormatRelativeDueDate(dueDate string, today time.Time) string {
    if dueDate == "" { return "" }
    due, err := time.ParseInLocation("2006-01-02", dueDate, today.Location())
    if err != nil { return "" }
    day := func(t time.Time) time.Time {
        return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
    }
    today = day(today)
    diffDays := int(due.Sub(today).Hours() / 24)

    switch {
    case diffDays < 0:
        return "Overdue"
    case diffDays == 0:
        return "Due today"
    case diffDays == 1:
        return "Due tomorrow"
    }
    endOfWeek := today.AddDate(0, 0, 7-int(today.Weekday()))
    if !due.After(endOfWeek) { return "Due " + due.Weekday().String() }
    if !due.After(endOfWeek.AddDate(0, 0, 7)) { return "Due next " + due.Weekday().String() }
    return "Due " + due.Format("01/02")
}
