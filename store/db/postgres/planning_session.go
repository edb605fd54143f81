package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/outwareai/boss-workflow/store"
)

func (d *DB) UpsertPlanningSession(ctx context.Context, upsert *store.PlanningSession) (*store.PlanningSession, error) {
	query := `
		INSERT INTO planning_session (uid, user_id, state, payload, created_ts, updated_ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uid)
		DO UPDATE SET
			state = EXCLUDED.state,
			payload = EXCLUDED.payload,
			updated_ts = EXCLUDED.updated_ts
	`
	if _, err := d.db.ExecContext(ctx, query,
		upsert.UID, upsert.UserID, upsert.State, upsert.Payload, upsert.CreatedTs, upsert.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert planning session")
	}
	return upsert, nil
}

func (d *DB) ListPlanningSessions(ctx context.Context, find *store.FindPlanningSession) ([]*store.PlanningSession, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.UID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("uid = $%d", len(args)))
	}
	if v := find.UserID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(find.States) > 0 {
		placeholders := make([]string, 0, len(find.States))
		for _, state := range find.States {
			args = append(args, state)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "state IN ("+strings.Join(placeholders, ", ")+")")
	}
	if v := find.UpdatedAfter; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("updated_ts > $%d", len(args)))
	}

	query := `
		SELECT uid, user_id, state, payload, created_ts, updated_ts
		FROM planning_session
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC
	`
	if v := find.Limit; v != nil {
		args = append(args, *v)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list planning sessions")
	}
	defer rows.Close()

	list := []*store.PlanningSession{}
	for rows.Next() {
		var session store.PlanningSession
		if err := rows.Scan(
			&session.UID, &session.UserID, &session.State, &session.Payload, &session.CreatedTs, &session.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan planning session")
		}
		list = append(list, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate planning sessions")
	}
	return list, nil
}

func (d *DB) DeletePlanningSessions(ctx context.Context, delete *store.DeletePlanningSession) (int64, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := delete.UID; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("uid = $%d", len(args)))
	}
	if v := delete.UpdatedBefore; v != nil {
		args = append(args, *v)
		where = append(where, fmt.Sprintf("updated_ts < $%d", len(args)))
	}
	if len(delete.States) > 0 {
		placeholders := make([]string, 0, len(delete.States))
		for _, state := range delete.States {
			args = append(args, state)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "state IN ("+strings.Join(placeholders, ", ")+")")
	}

	result, err := d.db.ExecContext(ctx,
		"DELETE FROM planning_session WHERE "+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete planning sessions")
	}
	return result.RowsAffected()
}
