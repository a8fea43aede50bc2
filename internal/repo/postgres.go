package repo

import (
    "context"
    "errors"
    "time"

    "github.com/PlayaLink/weekly-standup-generator/internal/config"
    "github.com/PlayaLink/weekly-standup-generator/internal/domain"
    "github.com/google/uuid"
    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/rs/zerolog"
)

type DB struct {
    Pool *pgxpool.Pool
    log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
    pool, err := pgxpool.New(ctx, cfg.DBDSN)
    if err != nil { log.Fatal().Err(err).Msg("db connect failed") }
    ctx2, cancel := context.WithTimeout(ctx, 10*time.Second); defer cancel()
    if err := pool.Ping(ctx2); err != nil { log.Fatal().Err(err).Msg("db ping failed") }
    return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
    db  *DB
    log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

// Migrate creates the schema if it does not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
    stmts := []string{
        `CREATE TABLE IF NOT EXISTS users(
            id uuid PRIMARY KEY,
            slack_user_id text NOT NULL UNIQUE,
            slack_team_id text NOT NULL DEFAULT '',
            email text,
            created_at timestamptz NOT NULL DEFAULT now(),
            updated_at timestamptz NOT NULL DEFAULT now())`,
        `CREATE TABLE IF NOT EXISTS oauth_tokens(
            id bigserial PRIMARY KEY,
            user_id uuid NOT NULL REFERENCES users(id),
            provider text NOT NULL,
            access_token_encrypted text NOT NULL,
            refresh_token_encrypted text NOT NULL,
            expires_at timestamptz NOT NULL,
            scopes text[],
            created_at timestamptz NOT NULL DEFAULT now(),
            updated_at timestamptz NOT NULL DEFAULT now(),
            UNIQUE(user_id, provider))`,
        `CREATE TABLE IF NOT EXISTS jira_configs(
            id bigserial PRIMARY KEY,
            user_id uuid NOT NULL UNIQUE REFERENCES users(id),
            jira_cloud_id text NOT NULL,
            jira_base_url text NOT NULL,
            board_id bigint,
            board_name text,
            project_key text,
            created_at timestamptz NOT NULL DEFAULT now(),
            updated_at timestamptz NOT NULL DEFAULT now())`,
        `CREATE TABLE IF NOT EXISTS ticket_names(
            user_id uuid NOT NULL REFERENCES users(id),
            ticket_key text NOT NULL,
            name text NOT NULL,
            updated_at timestamptz NOT NULL DEFAULT now(),
            PRIMARY KEY(user_id, ticket_key))`,
    }
    for _, q := range stmts {
        if _, err := r.db.Pool.Exec(ctx, q); err != nil { return err }
    }
    return nil
}

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
    var ok bool
    err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
    return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
    var ok bool
    err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
    if !ok && err == nil { return errors.New("advisory unlock returned false") }
    return err
}

// ---- users ----

const userCols = `id, slack_user_id, slack_team_id, COALESCE(email,''), created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
    var u domain.User
    if err := row.Scan(&u.ID, &u.SlackUserID, &u.SlackTeamID, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
        return nil, err
    }
    return &u, nil
}

// GetOrCreateUser maps an external Slack identity to an internal user,
// creating the row lazily on first interaction.
func (r *Repository) GetOrCreateUser(ctx context.Context, slackUserID, slackTeamID string) (*domain.User, error) {
    u, err := scanUser(r.db.Pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE slack_user_id=$1`, slackUserID))
    if err == nil { return u, nil }
    if !errors.Is(err, pgx.ErrNoRows) { return nil, err }
    const q = `INSERT INTO users(id, slack_user_id, slack_team_id) VALUES($1,$2,$3)
        ON CONFLICT(slack_user_id) DO UPDATE SET slack_team_id=EXCLUDED.slack_team_id, updated_at=now()
        RETURNING ` + userCols
    return scanUser(r.db.Pool.QueryRow(ctx, q, uuid.NewString(), slackUserID, slackTeamID))
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
    u, err := scanUser(r.db.Pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
    if errors.Is(err, pgx.ErrNoRows) { return nil, nil }
    if err != nil { return nil, err }
    return u, nil
}

// ---- oauth tokens ----

// UpsertToken replaces the whole record for (user, provider); old ciphertext
// is discarded, never partially updated.
func (r *Repository) UpsertToken(ctx context.Context, t domain.TokenRecord) error {
    const q = `INSERT INTO oauth_tokens(user_id, provider, access_token_encrypted, refresh_token_encrypted, expires_at, scopes)
        VALUES($1,$2,$3,$4,$5,$6)
        ON CONFLICT(user_id, provider) DO UPDATE SET
            access_token_encrypted=EXCLUDED.access_token_encrypted,
            refresh_token_encrypted=EXCLUDED.refresh_token_encrypted,
            expires_at=EXCLUDED.expires_at,
            scopes=EXCLUDED.scopes,
            updated_at=now()`
    _, err := r.db.Pool.Exec(ctx, q, t.UserID, t.Provider, t.AccessTokenEncrypted, t.RefreshTokenEncrypted, t.ExpiresAt, t.Scopes)
    return err
}

// GetToken returns nil with no error when the user never connected.
func (r *Repository) GetToken(ctx context.Context, userID, provider string) (*domain.TokenRecord, error) {
    const q = `SELECT id, user_id, provider, access_token_encrypted, refresh_token_encrypted, expires_at, scopes, created_at, updated_at
        FROM oauth_tokens WHERE user_id=$1 AND provider=$2`
    var t domain.TokenRecord
    err := r.db.Pool.QueryRow(ctx, q, userID, provider).Scan(&t.ID, &t.UserID, &t.Provider,
        &t.AccessTokenEncrypted, &t.RefreshTokenEncrypted, &t.ExpiresAt, &t.Scopes, &t.CreatedAt, &t.UpdatedAt)
    if errors.Is(err, pgx.ErrNoRows) { return nil, nil }
    if err != nil { return nil, err }
    return &t, nil
}

func (r *Repository) DeleteToken(ctx context.Context, userID, provider string) error {
    _, err := r.db.Pool.Exec(ctx, `DELETE FROM oauth_tokens WHERE user_id=$1 AND provider=$2`, userID, provider)
    return err
}

// ---- jira configs ----

const configCols = `id, user_id, jira_cloud_id, jira_base_url, board_id, board_name, project_key, created_at, updated_at`

func (r *Repository) GetJiraConfig(ctx context.Context, userID string) (*domain.JiraConfig, error) {
    var c domain.JiraConfig
    err := r.db.Pool.QueryRow(ctx, `SELECT `+configCols+` FROM jira_configs WHERE user_id=$1`, userID).
        Scan(&c.ID, &c.UserID, &c.JiraCloudID, &c.JiraBaseURL, &c.BoardID, &c.BoardName, &c.ProjectKey, &c.CreatedAt, &c.UpdatedAt)
    if errors.Is(err, pgx.ErrNoRows) { return nil, nil }
    if err != nil { return nil, err }
    return &c, nil
}

// UpsertJiraConfig binds the instance fields; board columns are left alone so
// a reconnect does not drop an existing board selection.
func (r *Repository) UpsertJiraConfig(ctx context.Context, userID, cloudID, baseURL string) error {
    const q = `INSERT INTO jira_configs(user_id, jira_cloud_id, jira_base_url) VALUES($1,$2,$3)
        ON CONFLICT(user_id) DO UPDATE SET
            jira_cloud_id=EXCLUDED.jira_cloud_id,
            jira_base_url=EXCLUDED.jira_base_url,
            updated_at=now()`
    _, err := r.db.Pool.Exec(ctx, q, userID, cloudID, baseURL)
    return err
}

// UpdateBoardSelection sets the board triple atomically as one update.
func (r *Repository) UpdateBoardSelection(ctx context.Context, userID string, boardID int64, boardName, projectKey string) error {
    const q = `UPDATE jira_configs SET board_id=$2, board_name=$3, project_key=$4, updated_at=now() WHERE user_id=$1`
    tag, err := r.db.Pool.Exec(ctx, q, userID, boardID, boardName, projectKey)
    if err != nil { return err }
    if tag.RowsAffected() == 0 { return errors.New("no jira config for user") }
    return nil
}

// ---- ticket names ----

func (r *Repository) GetTicketNames(ctx context.Context, userID string) (map[string]string, error) {
    rows, err := r.db.Pool.Query(ctx, `SELECT ticket_key, name FROM ticket_names WHERE user_id=$1`, userID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := map[string]string{}
    for rows.Next() {
        var k, n string
        if err := rows.Scan(&k, &n); err != nil { return nil, err }
        out[k] = n
    }
    return out, rows.Err()
}

// UpsertTicketNames merges labels key by key; existing labels are overwritten,
// never deleted.
func (r *Repository) UpsertTicketNames(ctx context.Context, userID string, names map[string]string) error {
    if len(names) == 0 { return nil }
    batch := &pgx.Batch{}
    const q = `INSERT INTO ticket_names(user_id, ticket_key, name) VALUES($1,$2,$3)
        ON CONFLICT(user_id, ticket_key) DO UPDATE SET name=EXCLUDED.name, updated_at=now()`
    for k, n := range names { batch.Queue(q, userID, k, n) }
    br := r.db.Pool.SendBatch(ctx, batch)
    defer br.Close()
    for range names { if _, err := br.Exec(); err != nil { return err } }
    return nil
}

// ListConfiguredUsers returns users with a stored credential and a bound
// board, i.e. everyone the scheduled run can report for.
func (r *Repository) ListConfiguredUsers(ctx context.Context, provider string) ([]domain.User, error) {
    const q = `SELECT ` + userCols + ` FROM users u
        WHERE EXISTS (SELECT 1 FROM oauth_tokens t WHERE t.user_id=u.id AND t.provider=$1)
          AND EXISTS (SELECT 1 FROM jira_configs c WHERE c.user_id=u.id AND c.board_id IS NOT NULL)`
    rows, err := r.db.Pool.Query(ctx, q, provider)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.User
    for rows.Next() {
        u, err := scanUser(rows)
        if err != nil { return nil, err }
        out = append(out, *u)
    }
    return out, rows.Err()
}
