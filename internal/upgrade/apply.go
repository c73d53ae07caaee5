package upgrade

import (
	"context"
	"fmt"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/schema"
)

// applier brings one physical table to the shape of a parsed schema. Every
// step checks the live table first, so applying the same schema twice, or
// over any older version of it, converges on the same result.
type applier struct {
	db      core.Database
	dialect core.Dialect
	table   string
	ddl     *schema.DDL
}

// apply runs the convergent DDL through ex and returns the statements it
// executed.
func (a *applier) apply(ctx context.Context, ex core.Executor) ([]string, error) {
	existing, err := a.db.GetSchema(ctx, ex, a.table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", a.table, err)
	}

	var stmts []string
	if !existing.Exists() {
		stmts = append(stmts, a.dialect.CreateTable(a.table, a.ddl.Body()))
	} else {
		for _, col := range a.ddl.Columns {
			if !existing.HasColumn(col.Name) {
				stmts = append(stmts, a.dialect.AddColumn(a.table, col.Clause))
			}
		}
	}
	for _, idx := range a.ddl.Indexes {
		if !existing.HasIndex(a.dialect.IndexName(a.table, idx.Name)) {
			stmts = append(stmts, a.dialect.CreateIndex(a.table, idx))
		}
	}

	for i, stmt := range stmts {
		if _, err := ex.Exec(ctx, stmt); err != nil {
			return stmts[:i], fmt.Errorf("statement %d of %d failed: %w", i+1, len(stmts), err)
		}
	}
	return stmts, nil
}
