package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/PlayaLink/weekly-standup-generator/internal/adapters/anthropic"
    "github.com/PlayaLink/weekly-standup-generator/internal/adapters/jira"
    slackadapter "github.com/PlayaLink/weekly-standup-generator/internal/adapters/slack"
    "github.com/PlayaLink/weekly-standup-generator/internal/config"
    "github.com/PlayaLink/weekly-standup-generator/internal/crypto"
    httpx "github.com/PlayaLink/weekly-standup-generator/internal/http"
    "github.com/PlayaLink/weekly-standup-generator/internal/jobs"
    "github.com/PlayaLink/weekly-standup-generator/internal/logger"
    "github.com/PlayaLink/weekly-standup-generator/internal/repo"
    "github.com/PlayaLink/weekly-standup-generator/internal/services"
    "github.com/PlayaLink/weekly-standup-generator/internal/vault"
)

func main() {
    cfg := config.Load()
    log := logger.New(cfg)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    // DB
    db := repo.MustOpen(ctx, cfg, log)
    defer db.Close()

    repository := repo.NewRepository(db, log)
    if err := repository.Migrate(ctx); err != nil {
        log.Fatal().Err(err).Msg("migrate failed")
    }

    cipher, err := crypto.NewCipher(cfg.TokenEncryptionKey)
    if err != nil {
        log.Fatal().Err(err).Msg("token encryption key invalid")
    }

    // Adapters
    oauth := jira.NewOAuth(cfg, log)
    jc := jira.NewClient(cfg, log)
    slack := slackadapter.NewClient(cfg, log)
    composer := anthropic.NewClient(cfg, log)

    // Services
    v := vault.New(repository, cipher, log)
    svc := services.New(cfg, log, repository, v, oauth, jc, slack, composer)

    // HTTP server (Gin)
    router := httpx.NewRouter(cfg, log, svc)

    // Cron
    cron := jobs.NewCron(cfg, log, svc, repository)
    cron.Start()
    defer cron.Stop()

    // graceful shutdown
    errCh := make(chan error, 1)
    go func() { errCh <- router.Run(cfg.HTTPAddr) }()
    log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

    select {
    case <-sigCh:
        log.Info().Msg("shutting down...")
    case err := <-errCh:
        if err != nil { log.Error().Err(err).Msg("http server error") }
    }

    time.Sleep(500 * time.Millisecond)
}
