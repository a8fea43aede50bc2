package http

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "html"
    "io"
    "net/http"
    "strconv"
    "strings"

    "github.com/PlayaLink/weekly-standup-generator/internal/adapters/jira"
    slackviews "github.com/PlayaLink/weekly-standup-generator/internal/adapters/slack"
    "github.com/PlayaLink/weekly-standup-generator/internal/config"
    "github.com/PlayaLink/weekly-standup-generator/internal/domain"
    "github.com/PlayaLink/weekly-standup-generator/internal/services"
    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"
    slackapi "github.com/slack-go/slack"
)

type Service interface {
    HandleSetup(ctx context.Context, slackUserID, slackTeamID, triggerID string) error
    HandleInteraction(ctx context.Context, in domain.Interaction) error
    RunStandup(ctx context.Context, slackUserID, slackTeamID, responseURL string) error
    CompleteOAuthCallback(ctx context.Context, code, state string) (string, error)
}

type Handlers struct {
    cfg config.Config
    log zerolog.Logger
    svc Service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc Service) *Handlers {
    return &Handlers{cfg: cfg, log: log, svc: svc}
}

func (h *Handlers) Healthz(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"ok": true})
}

// verifySlack checks the request signature and leaves the body readable for
// the parser that follows.
func (h *Handlers) verifySlack(c *gin.Context) bool {
    body, err := io.ReadAll(c.Request.Body)
    if err != nil {
        c.AbortWithStatus(http.StatusBadRequest)
        return false
    }
    c.Request.Body = io.NopCloser(bytes.NewReader(body))

    sv, err := slackapi.NewSecretsVerifier(c.Request.Header, h.cfg.SlackSigningSecret)
    if err != nil {
        c.AbortWithStatus(http.StatusBadRequest)
        return false
    }
    if _, err := sv.Write(body); err != nil {
        c.AbortWithStatus(http.StatusInternalServerError)
        return false
    }
    if err := sv.Ensure(); err != nil {
        h.log.Warn().Str("ip", c.ClientIP()).Msg("slack signature rejected")
        c.AbortWithStatus(http.StatusUnauthorized)
        return false
    }
    return true
}

// SlackEvents takes both the Events API JSON payloads (URL verification) and
// form-encoded slash commands.
func (h *Handlers) SlackEvents(c *gin.Context) {
    if !h.verifySlack(c) { return }

    if strings.HasPrefix(c.ContentType(), "application/json") {
        var ev struct {
            Type      string `json:"type"`
            Challenge string `json:"challenge"`
        }
        if err := c.ShouldBindJSON(&ev); err != nil {
            c.AbortWithStatus(http.StatusBadRequest)
            return
        }
        if ev.Type == "url_verification" {
            c.String(http.StatusOK, ev.Challenge)
            return
        }
        c.Status(http.StatusOK)
        return
    }

    cmd, err := slackapi.SlashCommandParse(c.Request)
    if err != nil {
        c.AbortWithStatus(http.StatusBadRequest)
        return
    }

    switch cmd.Command {
    case "/standup-setup":
        // trigger_id expires fast, so the modal opens on the request path
        if err := h.svc.HandleSetup(c.Request.Context(), cmd.UserID, cmd.TeamID, cmd.TriggerID); err != nil {
            h.log.Error().Err(err).Str("slack_user", cmd.UserID).Msg("setup failed")
            c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": "❌ Setup failed: " + err.Error()})
            return
        }
        c.Status(http.StatusOK)

    case "/weekly-standup":
        userID, teamID, responseURL := cmd.UserID, cmd.TeamID, cmd.ResponseURL
        go func() {
            if err := h.svc.RunStandup(context.Background(), userID, teamID, responseURL); err != nil {
                h.log.Error().Err(err).Str("slack_user", userID).Msg("standup run failed")
            }
        }()
        c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": "⏳ Generating your weekly standup report..."})

    default:
        c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": "Unknown command: " + cmd.Command})
    }
}

// SlackInteractions acks block action callbacks immediately and dispatches
// the mapped interaction off the request path.
func (h *Handlers) SlackInteractions(c *gin.Context) {
    if !h.verifySlack(c) { return }

    var cb slackapi.InteractionCallback
    if err := json.Unmarshal([]byte(c.PostForm("payload")), &cb); err != nil {
        c.AbortWithStatus(http.StatusBadRequest)
        return
    }
    if cb.Type != slackapi.InteractionTypeBlockActions || len(cb.ActionCallback.BlockActions) == 0 {
        c.Status(http.StatusOK)
        return
    }

    in, err := mapInteraction(cb)
    if err != nil {
        h.log.Warn().Err(err).Msg("unrecognized interaction")
        c.Status(http.StatusOK)
        return
    }

    go func() {
        if err := h.svc.HandleInteraction(context.Background(), in); err != nil {
            h.log.Error().Err(err).Str("slack_user", cb.User.ID).Msg("interaction failed")
        }
    }()
    c.Status(http.StatusOK)
}

// mapInteraction narrows a Slack block action to one of the wizard's
// interaction variants.
func mapInteraction(cb slackapi.InteractionCallback) (domain.Interaction, error) {
    action := cb.ActionCallback.BlockActions[0]
    switch action.ActionID {
    case slackviews.ActionConnectJira:
        return domain.ConnectClicked{SlackUserID: cb.User.ID, SlackTeamID: cb.Team.ID, ViewID: cb.View.ID}, nil
    case slackviews.ActionReconfigure:
        return domain.ReconfigureClicked{SlackUserID: cb.User.ID, SlackTeamID: cb.Team.ID, ViewID: cb.View.ID}, nil
    case slackviews.ActionSelectBoard:
        value := action.SelectedOption.Value
        parts := strings.SplitN(value, ":", 2)
        if len(parts) != 2 {
            return nil, fmt.Errorf("malformed board value %q", value)
        }
        boardID, err := strconv.ParseInt(parts[0], 10, 64)
        if err != nil {
            return nil, fmt.Errorf("malformed board id in %q", value)
        }
        label := action.SelectedOption.Text.Text
        boardName := strings.TrimSuffix(label, fmt.Sprintf(" (%s)", parts[1]))
        return domain.BoardSelected{
            SlackUserID: cb.User.ID,
            SlackTeamID: cb.Team.ID,
            ViewID:      cb.View.ID,
            BoardID:     boardID,
            BoardName:   boardName,
            ProjectKey:  parts[1],
        }, nil
    default:
        return nil, fmt.Errorf("unknown action id %q", action.ActionID)
    }
}

// JiraCallback lands the browser redirect from Atlassian and reports the
// outcome as a plain HTML page.
func (h *Handlers) JiraCallback(c *gin.Context) {
    if errParam := c.Query("error"); errParam != "" {
        h.log.Warn().Str("oauth_error", errParam).Msg("jira authorization denied")
        h.htmlPage(c, http.StatusBadRequest, "Connection Failed",
            "Jira authorization was denied: "+html.EscapeString(errParam)+". Return to Slack and run <code>/standup-setup</code> to try again.")
        return
    }
    code, state := c.Query("code"), c.Query("state")
    if code == "" || state == "" {
        h.htmlPage(c, http.StatusBadRequest, "Connection Failed",
            "Missing authorization parameters. Return to Slack and run <code>/standup-setup</code> to try again.")
        return
    }

    site, err := h.svc.CompleteOAuthCallback(c.Request.Context(), code, state)
    switch {
    case err == nil:
        h.htmlPage(c, http.StatusOK, "Jira Connected! ✅",
            "Connected to <b>"+html.EscapeString(site)+"</b>. Return to Slack and run <code>/standup-setup</code> to pick your board.")
    case errors.Is(err, services.ErrNoSites):
        h.htmlPage(c, http.StatusOK, "No Jira Sites Found",
            "Your Atlassian account has no accessible Jira sites. Check your account and run <code>/standup-setup</code> again.")
    case errors.Is(err, jira.ErrInvalidState):
        h.htmlPage(c, http.StatusBadRequest, "Connection Failed",
            "The authorization link is invalid or expired. Return to Slack and run <code>/standup-setup</code> to get a fresh one.")
    default:
        h.log.Error().Err(err).Msg("oauth callback failed")
        h.htmlPage(c, http.StatusInternalServerError, "Connection Failed",
            "Something went wrong while connecting Jira. Return to Slack and run <code>/standup-setup</code> to try again.")
    }
}

func (h *Handlers) htmlPage(c *gin.Context, status int, title, body string) {
    page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>%s</title>
<style>body{font-family:sans-serif;max-width:480px;margin:80px auto;text-align:center;color:#222}</style>
</head>
<body><h1>%s</h1><p>%s</p></body>
</html>`, html.EscapeString(title), html.EscapeString(title), body)
    c.Data(status, "text/html; charset=utf-8", []byte(page))
}
