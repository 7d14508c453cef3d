package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/agathahq/configd/pkg/models"
)

// runner executes a Plan against the live store. Probes are plain catalog
// reads; mutations are create-if-absent, so re-running a converged plan is
// a no-op. Every step reports an outcome on the record instead of raising.
type runner struct {
	db *sql.DB
}

func (r *runner) tableExists(ctx context.Context, name Identifier) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT to_regclass($1) IS NOT NULL", string(name)).Scan(&exists)
	return exists, err
}

// columnTypmod returns the pg_attribute typmod for a column, or found=false
// when the table or column does not exist.
func (r *runner) columnTypmod(ctx context.Context, table, column Identifier) (int, bool, error) {
	var typmod int
	err := r.db.QueryRowContext(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = to_regclass($1) AND attname = $2 AND NOT attisdropped`,
		string(table), string(column)).Scan(&typmod)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return typmod, true, nil
}

func (r *runner) indexExists(ctx context.Context, table, index Identifier) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pg_indexes
		 WHERE schemaname = current_schema() AND tablename = $1 AND indexname = $2`,
		string(table), string(index)).Scan(&n)
	return n > 0, err
}

// routineExists is scoped to the working schema; a same-named function in
// another schema must not satisfy the step.
func (r *runner) routineExists(ctx context.Context, name Identifier) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pg_proc
		 WHERE proname = $1 AND pronamespace = current_schema()::regnamespace`,
		string(name)).Scan(&n)
	return n > 0, err
}

func (r *runner) extensionInstalled(ctx context.Context, name string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pg_extension WHERE extname = $1", name).Scan(&n)
	return n > 0, err
}

func (r *runner) hasCreatePrivilege(ctx context.Context) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		"SELECT has_schema_privilege(current_user, current_schema(), 'CREATE')").Scan(&ok)
	return ok, err
}

func (r *runner) rowCount(ctx context.Context, table Identifier) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", table.Quoted())).Scan(&n)
	return n, err
}

func (r *runner) rowsSince(ctx context.Context, table, column Identifier, since time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s > $1", table.Quoted(), column.Quoted()),
		since).Scan(&n)
	return n, err
}

// convergeResult summarizes a converge pass for the coordinator.
type convergeResult struct {
	shapeMismatch bool
	failReason    string
}

func (res *convergeResult) fail(reason string) {
	if res.failReason == "" {
		res.failReason = reason
	}
}

// converge walks the plan: privilege check, extensions, table, indexes,
// routines. In dry-run mode only read-only probes run and missing objects
// report would_create. A pre-existing table whose probed shape differs from
// the plan is recorded and left alone. A failed step is classified and
// recorded; privilege and capability failures abort the remaining steps.
func (r *runner) converge(ctx context.Context, plan *Plan, rec *models.MigrationRecord, dryRun bool) convergeResult {
	var res convergeResult

	ok, err := r.hasCreatePrivilege(ctx)
	if err != nil {
		rec.AddStep("privilege_check", "", models.OutcomeFailed, err.Error())
		res.fail(classify(err))
		return res
	}
	if !ok {
		rec.AddStep("privilege_check", "", models.OutcomeFailed, "no CREATE privilege on schema")
		res.fail(reasonPrivilegeDenied)
		return res
	}
	rec.AddStep("privilege_check", "", models.OutcomeChecked, "")

	for _, ext := range plan.Extensions {
		installed, err := r.extensionInstalled(ctx, ext)
		if err != nil {
			rec.AddStep("extension", ext, models.OutcomeFailed, err.Error())
			res.fail(classify(err))
			return res
		}
		switch {
		case installed:
			rec.AddStep("extension", ext, models.OutcomeAlreadySatisfied, "")
		case dryRun:
			rec.AddStep("extension", ext, models.OutcomeWouldCreate, "")
		default:
			_, err := r.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS "+pq.QuoteIdentifier(ext))
			if err != nil {
				reason := classify(err)
				rec.AddStep("extension", ext, models.OutcomeFailed, err.Error())
				res.fail(reason)
				if fatalReason(reason) {
					return res
				}
				continue
			}
			rec.AddStep("extension", ext, models.OutcomeCreated, "")
		}
	}

	table := &plan.Table
	exists, err := r.tableExists(ctx, table.Name)
	if err != nil {
		rec.AddStep("table", string(table.Name), models.OutcomeFailed, err.Error())
		res.fail(classify(err))
		return res
	}
	switch {
	case exists:
		typmod, found, err := r.columnTypmod(ctx, table.Name, table.ShapeColumn)
		if err != nil {
			rec.AddStep("table", string(table.Name), models.OutcomeFailed, err.Error())
			res.fail(classify(err))
			return res
		}
		if !found || typmod != table.ShapeTypmod {
			res.shapeMismatch = true
			rec.AddStep("table", string(table.Name), models.OutcomeShapeMismatch,
				fmt.Sprintf("column %s has typmod %d, resolved config requires %d",
					table.ShapeColumn, typmod, table.ShapeTypmod))
		} else {
			rec.AddStep("table", string(table.Name), models.OutcomeAlreadySatisfied, "")
		}
	case dryRun:
		rec.AddStep("table", string(table.Name), models.OutcomeWouldCreate, "")
	default:
		if _, err := r.db.ExecContext(ctx, table.CreateSQL()); err != nil {
			reason := classify(err)
			rec.AddStep("table", string(table.Name), models.OutcomeFailed, err.Error())
			res.fail(reason)
			return res
		}
		rec.AddStep("table", string(table.Name), models.OutcomeCreated, "")
	}

	for i := range plan.Indexes {
		idx := &plan.Indexes[i]
		present, err := r.indexExists(ctx, idx.Table, idx.Name)
		if err != nil {
			rec.AddStep("index", string(idx.Name), models.OutcomeFailed, err.Error())
			res.fail(classify(err))
			return res
		}
		switch {
		case present:
			rec.AddStep("index", string(idx.Name), models.OutcomeAlreadySatisfied, "")
		case dryRun:
			rec.AddStep("index", string(idx.Name), models.OutcomeWouldCreate, "")
		default:
			if _, err := r.db.ExecContext(ctx, idx.CreateSQL()); err != nil {
				reason := classify(err)
				rec.AddStep("index", string(idx.Name), models.OutcomeFailed, err.Error())
				res.fail(reason)
				if fatalReason(reason) {
					return res
				}
				continue
			}
			rec.AddStep("index", string(idx.Name), models.OutcomeCreated, "")
		}
	}

	for i := range plan.Routines {
		rt := &plan.Routines[i]
		present, err := r.routineExists(ctx, rt.Name)
		if err != nil {
			rec.AddStep("routine", string(rt.Name), models.OutcomeFailed, err.Error())
			res.fail(classify(err))
			return res
		}
		switch {
		case present:
			rec.AddStep("routine", string(rt.Name), models.OutcomeAlreadySatisfied, "")
		case dryRun:
			rec.AddStep("routine", string(rt.Name), models.OutcomeWouldCreate, "")
		default:
			if _, err := r.db.ExecContext(ctx, rt.Definition); err != nil {
				reason := classify(err)
				rec.AddStep("routine", string(rt.Name), models.OutcomeFailed, err.Error())
				res.fail(reason)
				if fatalReason(reason) {
					return res
				}
				continue
			}
			rec.AddStep("routine", string(rt.Name), models.OutcomeCreated, "")
		}
	}

	return res
}

// teardown drops the plan's routines and backing table. In dry-run mode it
// reports would_drop for each object that exists.
func (r *runner) teardown(ctx context.Context, plan *Plan, rec *models.MigrationRecord, dryRun bool) convergeResult {
	var res convergeResult

	for i := range plan.Routines {
		rt := &plan.Routines[i]
		present, err := r.routineExists(ctx, rt.Name)
		if err != nil {
			rec.AddStep("drop_routine", string(rt.Name), models.OutcomeFailed, err.Error())
			res.fail(classify(err))
			return res
		}
		switch {
		case !present:
			rec.AddStep("drop_routine", string(rt.Name), models.OutcomeAlreadySatisfied, "")
		case dryRun:
			rec.AddStep("drop_routine", string(rt.Name), models.OutcomeWouldDrop, "")
		default:
			if _, err := r.db.ExecContext(ctx, rt.DropSQL()); err != nil {
				reason := classify(err)
				rec.AddStep("drop_routine", string(rt.Name), models.OutcomeFailed, err.Error())
				res.fail(reason)
				if fatalReason(reason) {
					return res
				}
				continue
			}
			rec.AddStep("drop_routine", string(rt.Name), models.OutcomeDropped, "")
		}
	}

	table := &plan.Table
	exists, err := r.tableExists(ctx, table.Name)
	if err != nil {
		rec.AddStep("drop_table", string(table.Name), models.OutcomeFailed, err.Error())
		res.fail(classify(err))
		return res
	}
	switch {
	case !exists:
		rec.AddStep("drop_table", string(table.Name), models.OutcomeAlreadySatisfied, "")
	case dryRun:
		rec.AddStep("drop_table", string(table.Name), models.OutcomeWouldDrop, "")
	default:
		if _, err := r.db.ExecContext(ctx, table.DropSQL()); err != nil {
			rec.AddStep("drop_table", string(table.Name), models.OutcomeFailed, err.Error())
			res.fail(classify(err))
			return res
		}
		rec.AddStep("drop_table", string(table.Name), models.OutcomeDropped, "")
	}

	return res
}
