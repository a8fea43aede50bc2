package services

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/PlayaLink/weekly-standup-generator/internal/adapters/jira"
    slackviews "github.com/PlayaLink/weekly-standup-generator/internal/adapters/slack"
    "github.com/PlayaLink/weekly-standup-generator/internal/config"
    "github.com/PlayaLink/weekly-standup-generator/internal/domain"
    "github.com/PlayaLink/weekly-standup-generator/internal/vault"
    "github.com/rs/zerolog"
    slackapi "github.com/slack-go/slack"
)

const providerJira = "jira"

var (
    // ErrNoSites means the authorized account can reach no Jira Cloud
    // instance; surfaced to the user, never bound as a null config.
    ErrNoSites = errors.New("no jira sites accessible")
    // ErrNoActivity means the aggregation legitimately found nothing to
    // report on.
    ErrNoActivity = errors.New("no tickets with recent activity")

    errNoBoard = errors.New("no board selected")
)

type Store interface {
    GetOrCreateUser(ctx context.Context, slackUserID, slackTeamID string) (*domain.User, error)
    GetUserByID(ctx context.Context, id string) (*domain.User, error)
    GetJiraConfig(ctx context.Context, userID string) (*domain.JiraConfig, error)
    UpsertJiraConfig(ctx context.Context, userID, cloudID, baseURL string) error
    UpdateBoardSelection(ctx context.Context, userID string, boardID int64, boardName, projectKey string) error
    GetTicketNames(ctx context.Context, userID string) (map[string]string, error)
    UpsertTicketNames(ctx context.Context, userID string, names map[string]string) error
    ListConfiguredUsers(ctx context.Context, provider string) ([]domain.User, error)
}

type TokenVault interface {
    Store(ctx context.Context, userID, provider string, ts domain.TokenSet) error
    HasValid(ctx context.Context, userID, provider string) (bool, error)
    GetValidAccessToken(ctx context.Context, userID, provider string, refresh vault.RefreshFunc) (string, error)
}

type OAuthClient interface {
    BuildAuthorizationURL(state string) string
    ExchangeCode(ctx context.Context, code string) (domain.TokenSet, error)
    Refresh(ctx context.Context, refreshToken string) (domain.TokenSet, error)
    AccessibleResources(ctx context.Context, accessToken string) ([]domain.Site, error)
}

type JiraClient interface {
    Boards(ctx context.Context, token, cloudID string) ([]domain.Board, error)
    FetchTickets(ctx context.Context, token, cloudID, projectKey string, daysBack int) ([]domain.Ticket, error)
}

type Messenger interface {
    SendDM(ctx context.Context, slackUserID, text string) error
    OpenModal(ctx context.Context, triggerID string, view slackapi.ModalViewRequest) error
    UpdateModal(ctx context.Context, viewID string, view slackapi.ModalViewRequest) error
    RespondEphemeral(ctx context.Context, responseURL, text string, replaceOriginal bool) error
}

type Composer interface {
    Generate(ctx context.Context, tickets []domain.Ticket, jiraBaseURL string, today time.Time, names map[string]string) (string, map[string]string, error)
}

type Service struct {
    cfg      config.Config
    log      zerolog.Logger
    store    Store
    vault    TokenVault
    oauth    OAuthClient
    jira     JiraClient
    slack    Messenger
    composer Composer
}

func New(cfg config.Config, log zerolog.Logger, store Store, v TokenVault, oauth OAuthClient, jc JiraClient, slack Messenger, composer Composer) *Service {
    return &Service{cfg: cfg, log: log, store: store, vault: v, oauth: oauth, jira: jc, slack: slack, composer: composer}
}

// DeriveState computes the wizard state from persisted facts alone. It is
// re-evaluated on every entry point; which UI control fired never matters,
// because the configuration may have changed between renders.
func DeriveState(credentialPresent, boardBound bool) domain.WizardState {
    switch {
    case !credentialPresent:
        return domain.Unconnected
    case !boardBound:
        return domain.ConnectedNoBoard
    default:
        return domain.Configured
    }
}

func (s *Service) deriveStateFor(ctx context.Context, userID string) (domain.WizardState, *domain.JiraConfig, error) {
    connected, err := s.vault.HasValid(ctx, userID, providerJira)
    if err != nil { return 0, nil, err }
    cfg, err := s.store.GetJiraConfig(ctx, userID)
    if err != nil { return 0, nil, err }
    return DeriveState(connected, cfg.BoardBound()), cfg, nil
}

// HandleSetup enters the wizard at whatever state the persisted facts imply
// and opens the matching modal.
func (s *Service) HandleSetup(ctx context.Context, slackUserID, slackTeamID, triggerID string) error {
    user, err := s.store.GetOrCreateUser(ctx, slackUserID, slackTeamID)
    if err != nil { return err }
    state, cfg, err := s.deriveStateFor(ctx, user.ID)
    if err != nil { return err }
    s.log.Info().Str("user_id", user.ID).Stringer("state", state).Msg("setup entered")

    switch state {
    case domain.Unconnected:
        return s.slack.OpenModal(ctx, triggerID, slackviews.ConnectPromptView())
    case domain.ConnectedNoBoard:
        return s.slack.OpenModal(ctx, triggerID, s.boardSelectionView(ctx, user.ID, cfg))
    default:
        return s.slack.OpenModal(ctx, triggerID, slackviews.ConfiguredView(deref(cfg.BoardName), deref(cfg.ProjectKey)))
    }
}

// boardSelectionView queries the board list live; a failed query renders as
// a retryable state rather than caching anything stale.
func (s *Service) boardSelectionView(ctx context.Context, userID string, cfg *domain.JiraConfig) slackapi.ModalViewRequest {
    if cfg == nil {
        return slackviews.BoardListFailedView("Jira instance not bound yet. Reconnect your Jira account.")
    }
    token, err := s.vault.GetValidAccessToken(ctx, userID, providerJira, s.oauth.Refresh)
    if err != nil {
        s.log.Warn().Err(err).Str("user_id", userID).Msg("board list: token unavailable")
        return slackviews.BoardListFailedView(err.Error())
    }
    boards, err := s.jira.Boards(ctx, token, cfg.JiraCloudID)
    if err != nil {
        s.log.Warn().Err(err).Str("user_id", userID).Msg("board list failed")
        return slackviews.BoardListFailedView(err.Error())
    }
    return slackviews.BoardSelectView(boards)
}

// HandleInteraction dispatches the closed set of component callbacks. Every
// arm re-derives its own facts; none trusts the state implied by the control
// that fired.
func (s *Service) HandleInteraction(ctx context.Context, in domain.Interaction) error {
    switch v := in.(type) {
    case domain.ConnectClicked:
        user, err := s.store.GetOrCreateUser(ctx, v.SlackUserID, v.SlackTeamID)
        if err != nil { return err }
        state, err := jira.BuildState(user.ID)
        if err != nil { return err }
        authURL := s.oauth.BuildAuthorizationURL(state)
        return s.slack.UpdateModal(ctx, v.ViewID, slackviews.AuthLinkView(authURL))

    case domain.BoardSelected:
        user, err := s.store.GetOrCreateUser(ctx, v.SlackUserID, v.SlackTeamID)
        if err != nil { return err }
        if err := s.store.UpdateBoardSelection(ctx, user.ID, v.BoardID, v.BoardName, v.ProjectKey); err != nil { return err }
        return s.slack.UpdateModal(ctx, v.ViewID, slackviews.SetupCompleteView(v.BoardName, v.ProjectKey))

    case domain.ReconfigureClicked:
        // prior selection stays intact until a new board is confirmed
        user, err := s.store.GetOrCreateUser(ctx, v.SlackUserID, v.SlackTeamID)
        if err != nil { return err }
        cfg, err := s.store.GetJiraConfig(ctx, user.ID)
        if err != nil { return err }
        return s.slack.UpdateModal(ctx, v.ViewID, s.boardSelectionView(ctx, user.ID, cfg))

    default:
        return fmt.Errorf("unhandled interaction %T", in)
    }
}

// CompleteOAuthCallback finishes the authorization flow: code exchange,
// credential storage, then binding the first accessible site as the user's
// instance. Returns the bound site name.
func (s *Service) CompleteOAuthCallback(ctx context.Context, code, state string) (string, error) {
    userID, err := jira.ParseState(state)
    if err != nil { return "", err }
    if u, err := s.store.GetUserByID(ctx, userID); err != nil {
        return "", err
    } else if u == nil {
        return "", fmt.Errorf("%w: unknown user", jira.ErrInvalidState)
    }

    ts, err := s.oauth.ExchangeCode(ctx, code)
    if err != nil { return "", err }
    if err := s.vault.Store(ctx, userID, providerJira, ts); err != nil { return "", err }

    sites, err := s.oauth.AccessibleResources(ctx, ts.AccessToken)
    if err != nil { return "", err }
    if len(sites) == 0 { return "", ErrNoSites }
    site := sites[0]
    if err := s.store.UpsertJiraConfig(ctx, userID, site.ID, site.URL); err != nil { return "", err }
    s.log.Info().Str("user_id", userID).Str("site", site.Name).Msg("jira connected")
    return site.Name, nil
}

// generateReport runs the pipeline for one user and DMs the result. Naming
// failures are logged and swallowed; everything else aborts with no partial
// report sent.
func (s *Service) generateReport(ctx context.Context, user *domain.User) error {
    cfg, err := s.store.GetJiraConfig(ctx, user.ID)
    if err != nil { return err }
    if !cfg.BoardBound() { return errNoBoard }

    token, err := s.vault.GetValidAccessToken(ctx, user.ID, providerJira, s.oauth.Refresh)
    if err != nil { return err }

    tickets, err := s.jira.FetchTickets(ctx, token, cfg.JiraCloudID, deref(cfg.ProjectKey), s.cfg.LookbackDays)
    if err != nil { return err }
    if len(tickets) == 0 { return ErrNoActivity }

    names, err := s.store.GetTicketNames(ctx, user.ID)
    if err != nil {
        s.log.Warn().Err(err).Str("user_id", user.ID).Msg("ticket names unavailable, composing without")
        names = map[string]string{}
    }

    report, newNames, err := s.composer.Generate(ctx, tickets, cfg.JiraBaseURL, time.Now(), names)
    if err != nil { return err }

    if err := s.store.UpsertTicketNames(ctx, user.ID, newNames); err != nil {
        s.log.Warn().Err(err).Str("user_id", user.ID).Msg("saving ticket names failed")
    }

    return s.slack.SendDM(ctx, user.SlackUserID, slackviews.FormatMrkdwn(report))
}

// RunStandup is the interactive report command: acknowledge, work, then
// replace the placeholder with the outcome.
func (s *Service) RunStandup(ctx context.Context, slackUserID, slackTeamID, responseURL string) error {
    respond := func(text string) {
        if err := s.slack.RespondEphemeral(ctx, responseURL, text, true); err != nil {
            s.log.Warn().Err(err).Msg("ephemeral response failed")
        }
    }

    user, err := s.store.GetOrCreateUser(ctx, slackUserID, slackTeamID)
    if err != nil {
        respond("❌ Error generating standup: " + err.Error() + "\n\nTry again or contact support if this persists.")
        return err
    }

    connected, err := s.vault.HasValid(ctx, user.ID, providerJira)
    if err != nil { respond("❌ Error generating standup: " + err.Error()); return err }
    if !connected {
        respond("❌ Jira not connected. Run `/standup-setup` first to connect your account.")
        return nil
    }

    err = s.generateReport(ctx, user)
    switch {
    case err == nil:
        respond("✅ Your weekly standup has been sent to your DMs!")
        return nil
    case errors.Is(err, errNoBoard):
        respond("❌ No board selected. Run `/standup-setup` to select your Jira board.")
        return nil
    case errors.Is(err, ErrNoActivity):
        respond("📭 No tickets found with recent activity. Nothing to report!")
        return nil
    case errors.Is(err, vault.ErrNotConnected):
        respond("❌ Jira not connected. Run `/standup-setup` first to connect your account.")
        return nil
    default:
        s.log.Error().Err(err).Str("user_id", user.ID).Msg("standup generation failed")
        respond("❌ Error generating standup: " + err.Error() + "\n\nTry again or contact support if this persists.")
        return err
    }
}

// RunScheduled generates and delivers a report for every configured user.
// Per-user failures are logged and never abort the sweep.
func (s *Service) RunScheduled(ctx context.Context) error {
    users, err := s.store.ListConfiguredUsers(ctx, providerJira)
    if err != nil { return err }
    s.log.Info().Int("users", len(users)).Msg("scheduled standup sweep")
    for i := range users {
        u := &users[i]
        err := s.generateReport(ctx, u)
        switch {
        case err == nil:
        case errors.Is(err, ErrNoActivity):
            s.log.Info().Str("user_id", u.ID).Msg("scheduled: nothing to report")
        default:
            s.log.Error().Err(err).Str("user_id", u.ID).Msg("scheduled standup failed")
        }
    }
    return nil
}

func deref(s *string) string {
    if s == nil { return "" }
    return *s
}
