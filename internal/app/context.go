package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
	"crewline/internal/repo"
)

// Env bundles everything a command needs to run against one workspace.
type Env struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open resolves the workspace: loads config, opens and migrates the
// database, seeds the participation policy from config when the singleton
// row is missing, and builds the engine.
func Open(ctx context.Context, workspace string) (*Env, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	if err := seedPolicy(ctx, eng.Repo, cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed policy: %w", err)
	}
	return &Env{DB: conn, Config: cfg, Engine: eng}, nil
}

func (e *Env) Close() error {
	if e == nil || e.DB == nil {
		return nil
	}
	return e.DB.Close()
}

// seedPolicy writes the config's policy values into the singleton row once.
// An existing row wins; the API may have updated it since.
func seedPolicy(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	_, err := r.GetParticipationPolicy(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return r.UpsertParticipationPolicy(ctx, domain.ParticipationPolicy{
		MinDaysParticipation:  cfg.Policy.MinDaysParticipation,
		EnforceNoOverlap:      cfg.Policy.EnforceNoOverlap,
		MaxConcurrentPrograms: cfg.Policy.MaxConcurrentPrograms,
		UpdatedAt:             time.Now().UTC().Format(time.RFC3339),
	})
}
