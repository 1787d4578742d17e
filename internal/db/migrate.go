package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

// The pre script creates the vector extension and the newstoss schema that
// the models live in. The post script adds the partial and unique indexes
// gorm tags cannot express.
var (
	//go:embed sql/pre_automigrate.sql
	preAutoMigrateSQL string

	//go:embed sql/post_automigrate.sql
	postAutoMigrateSQL string
)

func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	if err := p.execScript(ctx, "pre-auto-migrate", preAutoMigrateSQL); err != nil {
		return err
	}
	if _, err := p.VectorExtension(ctx); err != nil {
		return err
	}
	if err := p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("gorm auto-migrate models: %w", err)
	}
	return p.execScript(ctx, "post-auto-migrate", postAutoMigrateSQL)
}

// VectorExtension returns the installed pgvector version, or an error when
// the extension is missing.
func (p *Pool) VectorExtension(ctx context.Context) (string, error) {
	var version string
	err := p.QueryRow(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version)
	if IsNoRows(err) {
		return "", fmt.Errorf("pgvector extension is not installed")
	}
	if err != nil {
		return "", fmt.Errorf("check pgvector extension: %w", err)
	}
	return version, nil
}

func (p *Pool) execScript(ctx context.Context, label, sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return nil
	}
	if err := p.gdb.WithContext(ctx).Exec(trimmed).Error; err != nil {
		return fmt.Errorf("execute %s SQL: %w", label, err)
	}
	return nil
}
