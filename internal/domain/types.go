package domain

import "time"

type User struct {
    ID          string
    SlackUserID string
    SlackTeamID string
    Email       string
    CreatedAt   time.Time
    UpdatedAt   time.Time
}

// TokenRecord is the persisted form of an OAuth credential. Both token
// columns hold ciphertext, never plaintext.
type TokenRecord struct {
    ID                    int64
    UserID                string
    Provider              string
    AccessTokenEncrypted  string
    RefreshTokenEncrypted string
    ExpiresAt             time.Time
    Scopes                []string
    CreatedAt             time.Time
    UpdatedAt             time.Time
}

// TokenSet is what an OAuth exchange or refresh yields.
type TokenSet struct {
    AccessToken  string
    RefreshToken string
    ExpiresIn    int
    Scopes       []string
}

type JiraConfig struct {
    ID          int64
    UserID      string
    JiraCloudID string
    JiraBaseURL string
    BoardID     *int64
    BoardName   *string
    ProjectKey  *string
    CreatedAt   time.Time
    UpdatedAt   time.Time
}

// BoardBound reports whether a board has been selected.
func (c *JiraConfig) BoardBound() bool {
    return c != nil && c.BoardID != nil && c.ProjectKey != nil
}

type Board struct {
    ID          int64
    Name        string
    ProjectKey  string
    ProjectName string
}

// Site is one accessible Jira Cloud instance for an authorized user.
type Site struct {
    ID   string
    URL  string
    Name string
}

// Ticket is the per-report read model. It is assembled per generation and
// never persisted.
type Ticket struct {
    Key         string    `json:"key"`
    Summary     string    `json:"summary"`
    Status      string    `json:"status"`
    Assignee    string    `json:"assignee,omitempty"`
    Description string    `json:"description,omitempty"`
    DueDate     string    `json:"dueDate,omitempty"`
    Updated     time.Time `json:"updated"`
    Comments    []Comment `json:"comments"`
}

type Comment struct {
    Author  string    `json:"author"`
    Body    string    `json:"body"`
    Created time.Time `json:"created"`
}

// WizardState is derived fresh from persisted facts on every entry; it is
// never stored.
type WizardState int

const (
    Unconnected WizardState = iota
    ConnectedNoBoard
    Configured
)

func (s WizardState) String() string {
    switch s {
    case Unconnected: return "unconnected"
    case ConnectedNoBoard: return "connected_no_board"
    case Configured: return "configured"
    }
    return "unknown"
}

// Interaction is the closed set of Slack component callbacks the wizard
// dispatches on. New kinds must add a variant here and a case at every
// type switch, so an unhandled kind is a compile-time hole, not a no-op.
type Interaction interface{ interaction() }

type ConnectClicked struct {
    SlackUserID   string
    SlackTeamID   string
    ViewID        string
}

type BoardSelected struct {
    SlackUserID   string
    SlackTeamID   string
    ViewID        string
    BoardID       int64
    BoardName     string
    ProjectKey    string
}

type ReconfigureClicked struct {
    SlackUserID   string
    SlackTeamID   string
    ViewID        string
}

func (ConnectClicked) interaction()     {}
func (BoardSelected) interaction()      {}
func (ReconfigureClicked) interaction() {}
