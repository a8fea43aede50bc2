package vault

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/PlayaLink/weekly-standup-generator/internal/crypto"
    "github.com/PlayaLink/weekly-standup-generator/internal/domain"
    "github.com/rs/zerolog"
)

// ErrNotConnected means no credential exists for the (user, provider) pair.
// Recoverable: direct the user to connect.
var ErrNotConnected = errors.New("vault: not connected")

// refreshBuffer guards against clock skew and in-flight request latency: a
// token this close to expiry is refreshed rather than used.
const refreshBuffer = 5 * time.Minute

// TokenStore is the persistence the vault needs; *repo.Repository satisfies it.
type TokenStore interface {
    UpsertToken(ctx context.Context, t domain.TokenRecord) error
    GetToken(ctx context.Context, userID, provider string) (*domain.TokenRecord, error)
    DeleteToken(ctx context.Context, userID, provider string) error
}

// RefreshFunc exchanges a refresh token for a new token set. Injected per
// provider so the vault holds no provider-specific HTTP logic.
type RefreshFunc func(ctx context.Context, refreshToken string) (domain.TokenSet, error)

type Vault struct {
    store  TokenStore
    cipher *crypto.Cipher
    log    zerolog.Logger

    mu    sync.Mutex
    locks map[string]*sync.Mutex
}

func New(store TokenStore, cipher *crypto.Cipher, log zerolog.Logger) *Vault {
    return &Vault{store: store, cipher: cipher, log: log, locks: map[string]*sync.Mutex{}}
}

// lockFor returns the mutex serializing refreshes for one (user, provider)
// pair, so at most one refresh per credential is in flight in this process.
func (v *Vault) lockFor(userID, provider string) *sync.Mutex {
    v.mu.Lock()
    defer v.mu.Unlock()
    key := userID + "\x00" + provider
    m, ok := v.locks[key]
    if !ok {
        m = &sync.Mutex{}
        v.locks[key] = m
    }
    return m
}

// Store encrypts both tokens independently and upserts the record as a whole.
func (v *Vault) Store(ctx context.Context, userID, provider string, ts domain.TokenSet) error {
    access, err := v.cipher.Encrypt(ts.AccessToken)
    if err != nil { return fmt.Errorf("encrypt access token: %w", err) }
    refresh, err := v.cipher.Encrypt(ts.RefreshToken)
    if err != nil { return fmt.Errorf("encrypt refresh token: %w", err) }
    rec := domain.TokenRecord{
        UserID:                userID,
        Provider:              provider,
        AccessTokenEncrypted:  access,
        RefreshTokenEncrypted: refresh,
        ExpiresAt:             time.Now().Add(time.Duration(ts.ExpiresIn) * time.Second),
        Scopes:                ts.Scopes,
    }
    return v.store.UpsertToken(ctx, rec)
}

// Get returns the stored record, or nil when the user never connected.
func (v *Vault) Get(ctx context.Context, userID, provider string) (*domain.TokenRecord, error) {
    return v.store.GetToken(ctx, userID, provider)
}

// HasValid reports presence, not freshness: callers use it to decide whether
// to start an authorization flow, and an expired record still refreshes.
func (v *Vault) HasValid(ctx context.Context, userID, provider string) (bool, error) {
    rec, err := v.store.GetToken(ctx, userID, provider)
    if err != nil { return false, err }
    return rec != nil, nil
}

func (v *Vault) Delete(ctx context.Context, userID, provider string) error {
    return v.store.DeleteToken(ctx, userID, provider)
}

// GetValidAccessToken returns a plaintext access token, refreshing through
// refresh when fewer than five minutes of validity remain. The whole
// check-refresh-store sequence holds the per-credential lock.
func (v *Vault) GetValidAccessToken(ctx context.Context, userID, provider string, refresh RefreshFunc) (string, error) {
    lock := v.lockFor(userID, provider)
    lock.Lock()
    defer lock.Unlock()

    rec, err := v.store.GetToken(ctx, userID, provider)
    if err != nil { return "", err }
    if rec == nil { return "", ErrNotConnected }

    if time.Until(rec.ExpiresAt) >= refreshBuffer {
        return v.cipher.Decrypt(rec.AccessTokenEncrypted)
    }

    refreshToken, err := v.cipher.Decrypt(rec.RefreshTokenEncrypted)
    if err != nil { return "", fmt.Errorf("decrypt refresh token: %w", err) }
    ts, err := refresh(ctx, refreshToken)
    if err != nil { return "", err }
    if len(ts.Scopes) == 0 { ts.Scopes = rec.Scopes }
    if err := v.Store(ctx, userID, provider, ts); err != nil { return "", err }
    v.log.Debug().Str("user_id", userID).Str("provider", provider).Msg("token refreshed")
    return ts.AccessToken, nil
}
