package services

import (
    "context"
    "errors"
    "strings"
    "testing"
    "time"

    "github.com/PlayaLink/weekly-standup-generator/internal/config"
    "github.com/PlayaLink/weekly-standup-generator/internal/domain"
    "github.com/PlayaLink/weekly-standup-generator/internal/vault"
    "github.com/rs/zerolog"
    slackapi "github.com/slack-go/slack"
)

type fakeStore struct {
    user        domain.User
    jiraCfg     *domain.JiraConfig
    names       map[string]string
    savedNames  map[string]string
    namesErr    error
    boundCloud  string
    boundBase   string
    selBoardID  int64
    selBoard    string
    selProject  string
    configured  []domain.User
}

func (f *fakeStore) GetOrCreateUser(_ context.Context, slackUserID, slackTeamID string) (*domain.User, error) {
    if f.user.ID == "" {
        f.user = domain.User{ID: "u-1", SlackUserID: slackUserID, SlackTeamID: slackTeamID}
    }
    return &f.user, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*domain.User, error) {
    if f.user.ID == id { return &f.user, nil }
    return nil, nil
}

func (f *fakeStore) GetJiraConfig(context.Context, string) (*domain.JiraConfig, error) {
    return f.jiraCfg, nil
}

func (f *fakeStore) UpsertJiraConfig(_ context.Context, _, cloudID, baseURL string) error {
    f.boundCloud, f.boundBase = cloudID, baseURL
    return nil
}

func (f *fakeStore) UpdateBoardSelection(_ context.Context, _ string, boardID int64, boardName, projectKey string) error {
    f.selBoardID, f.selBoard, f.selProject = boardID, boardName, projectKey
    return nil
}

func (f *fakeStore) GetTicketNames(context.Context, string) (map[string]string, error) {
    if f.namesErr != nil { return nil, f.namesErr }
    return f.names, nil
}

func (f *fakeStore) UpsertTicketNames(_ context.Context, _ string, names map[string]string) error {
    if f.namesErr != nil { return f.namesErr }
    f.savedNames = names
    return nil
}

func (f *fakeStore) ListConfiguredUsers(context.Context, string) ([]domain.User, error) {
    return f.configured, nil
}

type fakeVault struct {
    connected bool
    token     string
    stored    *domain.TokenSet
}

func (f *fakeVault) Store(_ context.Context, _, _ string, ts domain.TokenSet) error {
    f.stored = &ts
    f.connected = true
    return nil
}

func (f *fakeVault) HasValid(context.Context, string, string) (bool, error) {
    return f.connected, nil
}

func (f *fakeVault) GetValidAccessToken(context.Context, string, string, vault.RefreshFunc) (string, error) {
    if !f.connected { return "", vault.ErrNotConnected }
    return f.token, nil
}

type fakeOAuth struct {
    sites       []domain.Site
    exchangeErr error
}

func (f *fakeOAuth) BuildAuthorizationURL(state string) string { return "https://auth.example/" + state }

func (f *fakeOAuth) ExchangeCode(context.Context, string) (domain.TokenSet, error) {
    if f.exchangeErr != nil { return domain.TokenSet{}, f.exchangeErr }
    return domain.TokenSet{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600}, nil
}

func (f *fakeOAuth) Refresh(context.Context, string) (domain.TokenSet, error) {
    return domain.TokenSet{}, errors.New("unexpected refresh")
}

func (f *fakeOAuth) AccessibleResources(context.Context, string) ([]domain.Site, error) {
    return f.sites, nil
}

type fakeJira struct {
    boards    []domain.Board
    boardsErr error
    tickets   []domain.Ticket
    fetchErr  error
}

func (f *fakeJira) Boards(context.Context, string, string) ([]domain.Board, error) {
    return f.boards, f.boardsErr
}

func (f *fakeJira) FetchTickets(context.Context, string, string, string, int) ([]domain.Ticket, error) {
    return f.tickets, f.fetchErr
}

type fakeMessenger struct {
    dms       []string
    opened    []slackapi.ModalViewRequest
    updated   []slackapi.ModalViewRequest
    ephemeral []string
}

func (f *fakeMessenger) SendDM(_ context.Context, _, text string) error {
    f.dms = append(f.dms, text)
    return nil
}

func (f *fakeMessenger) OpenModal(_ context.Context, _ string, view slackapi.ModalViewRequest) error {
    f.opened = append(f.opened, view)
    return nil
}

func (f *fakeMessenger) UpdateModal(_ context.Context, _ string, view slackapi.ModalViewRequest) error {
    f.updated = append(f.updated, view)
    return nil
}

func (f *fakeMessenger) RespondEphemeral(_ context.Context, _, text string, _ bool) error {
    f.ephemeral = append(f.ephemeral, text)
    return nil
}

type fakeComposer struct {
    report string
    names  map[string]string
    err    error
}

func (f *fakeComposer) Generate(_ context.Context, _ []domain.Ticket, _ string, _ time.Time, _ map[string]string) (string, map[string]string, error) {
    return f.report, f.names, f.err
}

func newTestService(store *fakeStore, v TokenVault, oauth *fakeOAuth, jc *fakeJira, msg *fakeMessenger, comp *fakeComposer) *Service {
    return New(config.Config{LookbackDays: 7}, zerolog.Nop(), store, v, oauth, jc, msg, comp)
}

func boundConfig() *domain.JiraConfig {
    boardID := int64(7)
    boardName := "Platform"
    projectKey := "PLAT"
    return &domain.JiraConfig{
        UserID:      "u-1",
        JiraCloudID: "cloud-1",
        JiraBaseURL: "https://acme.atlassian.net",
        BoardID:     &boardID,
        BoardName:   &boardName,
        ProjectKey:  &projectKey,
    }
}

func TestDeriveState(t *testing.T) {
    cases := []struct {
        credential bool
        board      bool
        want       domain.WizardState
    }{
        {false, false, domain.Unconnected},
        {false, true, domain.Unconnected},
        {true, false, domain.ConnectedNoBoard},
        {true, true, domain.Configured},
    }
    for _, c := range cases {
        if got := DeriveState(c.credential, c.board); got != c.want {
            t.Errorf("DeriveState(%v, %v) = %v, want %v", c.credential, c.board, got, c.want)
        }
    }
}

func TestHandleSetupOpensModalForDerivedState(t *testing.T) {
    cases := []struct {
        name         string
        vault        *fakeVault
        cfg          *domain.JiraConfig
        wantCallback string
    }{
        {"unconnected", &fakeVault{}, nil, "setup_modal"},
        {"connected no board", &fakeVault{connected: true, token: "tok"}, &domain.JiraConfig{JiraCloudID: "cloud-1"}, "board_selection_modal"},
        {"configured", &fakeVault{connected: true, token: "tok"}, boundConfig(), "current_config_modal"},
    }
    for _, c := range cases {
        t.Run(c.name, func(t *testing.T) {
            store := &fakeStore{jiraCfg: c.cfg}
            msg := &fakeMessenger{}
            jc := &fakeJira{boards: []domain.Board{{ID: 7, Name: "Platform", ProjectKey: "PLAT"}}}
            svc := newTestService(store, c.vault, &fakeOAuth{}, jc, msg, &fakeComposer{})
            if err := svc.HandleSetup(context.Background(), "U1", "T1", "trigger-1"); err != nil {
                t.Fatalf("HandleSetup: %v", err)
            }
            if len(msg.opened) != 1 {
                t.Fatalf("expected one modal, got %d", len(msg.opened))
            }
            if got := msg.opened[0].CallbackID; got != c.wantCallback {
                t.Fatalf("callback id = %q, want %q", got, c.wantCallback)
            }
        })
    }
}

func TestHandleSetupBoardListFailureIsRetryable(t *testing.T) {
    store := &fakeStore{jiraCfg: &domain.JiraConfig{JiraCloudID: "cloud-1"}}
    msg := &fakeMessenger{}
    jc := &fakeJira{boardsErr: errors.New("jira down")}
    svc := newTestService(store, &fakeVault{connected: true, token: "tok"}, &fakeOAuth{}, jc, msg, &fakeComposer{})
    if err := svc.HandleSetup(context.Background(), "U1", "T1", "trigger-1"); err != nil {
        t.Fatalf("HandleSetup: %v", err)
    }
    view := msg.opened[0]
    if view.CallbackID != "board_selection_modal" {
        t.Fatalf("callback id = %q", view.CallbackID)
    }
    sec, ok := view.Blocks.BlockSet[0].(*slackapi.SectionBlock)
    if !ok {
        t.Fatalf("first block is %T", view.Blocks.BlockSet[0])
    }
    if !strings.Contains(sec.Text.Text, "jira down") {
        t.Fatalf("failure view missing detail: %q", sec.Text.Text)
    }
}

func TestHandleInteractionConnectUpdatesToAuthLink(t *testing.T) {
    store := &fakeStore{}
    msg := &fakeMessenger{}
    svc := newTestService(store, &fakeVault{}, &fakeOAuth{}, &fakeJira{}, msg, &fakeComposer{})
    err := svc.HandleInteraction(context.Background(), domain.ConnectClicked{SlackUserID: "U1", SlackTeamID: "T1", ViewID: "V1"})
    if err != nil {
        t.Fatalf("HandleInteraction: %v", err)
    }
    if len(msg.updated) != 1 {
        t.Fatalf("expected one view update, got %d", len(msg.updated))
    }
    sec := msg.updated[0].Blocks.BlockSet[0].(*slackapi.SectionBlock)
    if !strings.Contains(sec.Text.Text, "https://auth.example/") {
        t.Fatalf("auth link missing from view: %q", sec.Text.Text)
    }
    // state must be bound to the created user
    if !strings.Contains(sec.Text.Text, ":u-1") {
        t.Fatalf("state not bound to user: %q", sec.Text.Text)
    }
}

func TestHandleInteractionBoardSelectedPersistsAndConfirms(t *testing.T) {
    store := &fakeStore{}
    msg := &fakeMessenger{}
    svc := newTestService(store, &fakeVault{connected: true}, &fakeOAuth{}, &fakeJira{}, msg, &fakeComposer{})
    err := svc.HandleInteraction(context.Background(), domain.BoardSelected{
        SlackUserID: "U1", SlackTeamID: "T1", ViewID: "V1",
        BoardID: 7, BoardName: "Platform", ProjectKey: "PLAT",
    })
    if err != nil {
        t.Fatalf("HandleInteraction: %v", err)
    }
    if store.selBoardID != 7 || store.selBoard != "Platform" || store.selProject != "PLAT" {
        t.Fatalf("selection not persisted: %d %q %q", store.selBoardID, store.selBoard, store.selProject)
    }
    if msg.updated[0].CallbackID != "setup_complete_modal" {
        t.Fatalf("callback id = %q", msg.updated[0].CallbackID)
    }
}

func TestHandleInteractionReconfigureKeepsPriorSelection(t *testing.T) {
    store := &fakeStore{jiraCfg: boundConfig()}
    msg := &fakeMessenger{}
    jc := &fakeJira{boards: []domain.Board{{ID: 9, Name: "Mobile", ProjectKey: "MOB"}}}
    svc := newTestService(store, &fakeVault{connected: true, token: "tok"}, &fakeOAuth{}, jc, msg, &fakeComposer{})
    err := svc.HandleInteraction(context.Background(), domain.ReconfigureClicked{SlackUserID: "U1", SlackTeamID: "T1", ViewID: "V1"})
    if err != nil {
        t.Fatalf("HandleInteraction: %v", err)
    }
    if msg.updated[0].CallbackID != "board_selection_modal" {
        t.Fatalf("callback id = %q", msg.updated[0].CallbackID)
    }
    if store.selBoardID != 0 {
        t.Fatalf("reconfigure must not touch the stored selection")
    }
}

func TestCompleteOAuthCallbackBindsFirstSite(t *testing.T) {
    store := &fakeStore{user: domain.User{ID: "u-1", SlackUserID: "U1"}}
    v := &fakeVault{}
    oauth := &fakeOAuth{sites: []domain.Site{
        {ID: "cloud-1", URL: "https://acme.atlassian.net", Name: "acme"},
        {ID: "cloud-2", URL: "https://other.atlassian.net", Name: "other"},
    }}
    svc := newTestService(store, v, oauth, &fakeJira{}, &fakeMessenger{}, &fakeComposer{})
    site, err := svc.CompleteOAuthCallback(context.Background(), "code-1", "abc123:u-1")
    if err != nil {
        t.Fatalf("CompleteOAuthCallback: %v", err)
    }
    if site != "acme" {
        t.Fatalf("site = %q, want acme", site)
    }
    if v.stored == nil || v.stored.AccessToken != "at" {
        t.Fatalf("token set not stored")
    }
    if store.boundCloud != "cloud-1" || store.boundBase != "https://acme.atlassian.net" {
        t.Fatalf("bound %q %q, want first site", store.boundCloud, store.boundBase)
    }
}

func TestCompleteOAuthCallbackNoSites(t *testing.T) {
    store := &fakeStore{user: domain.User{ID: "u-1"}}
    svc := newTestService(store, &fakeVault{}, &fakeOAuth{}, &fakeJira{}, &fakeMessenger{}, &fakeComposer{})
    _, err := svc.CompleteOAuthCallback(context.Background(), "code-1", "abc123:u-1")
    if !errors.Is(err, ErrNoSites) {
        t.Fatalf("err = %v, want ErrNoSites", err)
    }
    if store.boundCloud != "" {
        t.Fatalf("no config must be bound when no site is accessible")
    }
}

func TestCompleteOAuthCallbackRejectsBadState(t *testing.T) {
    svc := newTestService(&fakeStore{}, &fakeVault{}, &fakeOAuth{}, &fakeJira{}, &fakeMessenger{}, &fakeComposer{})
    if _, err := svc.CompleteOAuthCallback(context.Background(), "code-1", "no-separator"); err == nil {
        t.Fatal("expected error for malformed state")
    }
}

func TestRunStandupHappyPath(t *testing.T) {
    store := &fakeStore{
        jiraCfg: boundConfig(),
        names:   map[string]string{"PLAT-1": "Login flow"},
    }
    msg := &fakeMessenger{}
    comp := &fakeComposer{
        report: "## This Week\n- Shipped login",
        names:  map[string]string{"PLAT-1": "Login flow", "PLAT-2": "Billing"},
    }
    jc := &fakeJira{tickets: []domain.Ticket{{Key: "PLAT-1"}, {Key: "PLAT-2"}}}
    svc := newTestService(store, &fakeVault{connected: true, token: "tok"}, &fakeOAuth{}, jc, msg, comp)

    if err := svc.RunStandup(context.Background(), "U1", "T1", "https://hooks.slack.test/r1"); err != nil {
        t.Fatalf("RunStandup: %v", err)
    }
    if len(msg.dms) != 1 {
        t.Fatalf("expected one DM, got %d", len(msg.dms))
    }
    if !strings.Contains(msg.dms[0], "*This Week*") || !strings.Contains(msg.dms[0], "• Shipped login") {
        t.Fatalf("DM not converted to mrkdwn: %q", msg.dms[0])
    }
    if len(store.savedNames) != 2 {
        t.Fatalf("merged names not persisted: %v", store.savedNames)
    }
    last := msg.ephemeral[len(msg.ephemeral)-1]
    if !strings.Contains(last, "sent to your DMs") {
        t.Fatalf("final response = %q", last)
    }
}

func TestRunStandupNotConnected(t *testing.T) {
    msg := &fakeMessenger{}
    svc := newTestService(&fakeStore{}, &fakeVault{}, &fakeOAuth{}, &fakeJira{}, msg, &fakeComposer{})
    if err := svc.RunStandup(context.Background(), "U1", "T1", "https://hooks.slack.test/r1"); err != nil {
        t.Fatalf("RunStandup: %v", err)
    }
    if len(msg.dms) != 0 {
        t.Fatal("no DM expected")
    }
    last := msg.ephemeral[len(msg.ephemeral)-1]
    if !strings.Contains(last, "/standup-setup") {
        t.Fatalf("response should point at setup: %q", last)
    }
}

func TestRunStandupNoBoard(t *testing.T) {
    store := &fakeStore{jiraCfg: &domain.JiraConfig{JiraCloudID: "cloud-1"}}
    msg := &fakeMessenger{}
    svc := newTestService(store, &fakeVault{connected: true, token: "tok"}, &fakeOAuth{}, &fakeJira{}, msg, &fakeComposer{})
    if err := svc.RunStandup(context.Background(), "U1", "T1", "https://hooks.slack.test/r1"); err != nil {
        t.Fatalf("RunStandup: %v", err)
    }
    last := msg.ephemeral[len(msg.ephemeral)-1]
    if !strings.Contains(last, "No board selected") {
        t.Fatalf("response = %q", last)
    }
}

func TestRunStandupNoActivity(t *testing.T) {
    store := &fakeStore{jiraCfg: boundConfig()}
    msg := &fakeMessenger{}
    svc := newTestService(store, &fakeVault{connected: true, token: "tok"}, &fakeOAuth{}, &fakeJira{}, msg, &fakeComposer{})
    if err := svc.RunStandup(context.Background(), "U1", "T1", "https://hooks.slack.test/r1"); err != nil {
        t.Fatalf("RunStandup: %v", err)
    }
    if len(msg.dms) != 0 {
        t.Fatal("no DM expected")
    }
    last := msg.ephemeral[len(msg.ephemeral)-1]
    if !strings.Contains(last, "Nothing to report") {
        t.Fatalf("response = %q", last)
    }
}

func TestRunStandupComposerFailureSendsNoPartialReport(t *testing.T) {
    store := &fakeStore{jiraCfg: boundConfig()}
    msg := &fakeMessenger{}
    jc := &fakeJira{tickets: []domain.Ticket{{Key: "PLAT-1"}}}
    comp := &fakeComposer{err: errors.New("model overloaded")}
    svc := newTestService(store, &fakeVault{connected: true, token: "tok"}, &fakeOAuth{}, jc, msg, comp)
    if err := svc.RunStandup(context.Background(), "U1", "T1", "https://hooks.slack.test/r1"); err == nil {
        t.Fatal("expected error")
    }
    if len(msg.dms) != 0 {
        t.Fatal("no partial report may be delivered")
    }
    last := msg.ephemeral[len(msg.ephemeral)-1]
    if !strings.Contains(last, "model overloaded") {
        t.Fatalf("response = %q", last)
    }
}

func TestRunStandupNameSaveFailureStillDelivers(t *testing.T) {
    store := &fakeStore{jiraCfg: boundConfig(), namesErr: errors.New("db flake")}
    msg := &fakeMessenger{}
    jc := &fakeJira{tickets: []domain.Ticket{{Key: "PLAT-1"}}}
    comp := &fakeComposer{report: "report body", names: map[string]string{"PLAT-1": "Login"}}
    svc := newTestService(store, &fakeVault{connected: true, token: "tok"}, &fakeOAuth{}, jc, msg, comp)
    if err := svc.RunStandup(context.Background(), "U1", "T1", "https://hooks.slack.test/r1"); err != nil {
        t.Fatalf("RunStandup: %v", err)
    }
    if len(msg.dms) != 1 {
        t.Fatalf("expected one DM, got %d", len(msg.dms))
    }
}

func TestRunScheduledSurvivesPerUserFailure(t *testing.T) {
    store := &fakeStore{
        configured: []domain.User{
            {ID: "u-1", SlackUserID: "U1"},
            {ID: "u-2", SlackUserID: "U2"},
        },
        jiraCfg: boundConfig(),
    }
    msg := &fakeMessenger{}
    jc := &fakeJira{tickets: []domain.Ticket{{Key: "PLAT-1"}}}
    comp := &fakeComposer{report: "report body", names: map[string]string{}}
    // first user has no valid token; the sweep must still reach the second
    v := &scriptedVault{errs: []error{vault.ErrNotConnected, nil}}
    svc := newTestService(store, v, &fakeOAuth{}, jc, msg, comp)
    if err := svc.RunScheduled(context.Background()); err != nil {
        t.Fatalf("RunScheduled: %v", err)
    }
    if len(msg.dms) != 1 {
        t.Fatalf("expected one delivered report, got %d", len(msg.dms))
    }
}

type scriptedVault struct {
    errs []error
    call int
}

func (s *scriptedVault) Store(context.Context, string, string, domain.TokenSet) error { return nil }

func (s *scriptedVault) HasValid(context.Context, string, string) (bool, error) { return true, nil }

func (s *scriptedVault) GetValidAccessToken(context.Context, string, string, vault.RefreshFunc) (string, error) {
    err := s.errs[s.call]
    s.call++
    if err != nil { return "", err }
    return "tok", nil
}
