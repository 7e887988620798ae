package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Operation statuses.
const (
	OpPlanning  = "PLANNING"
	OpActive    = "ACTIVE"
	OpCompleted = "COMPLETED"
	OpCancelled = "CANCELLED"
)

type Requirement struct {
	ItemCode string
	Quantity int
	Priority int
}

type Operation struct {
	ID                   string
	RegimentID           string
	Name                 string
	Description          string
	Status               string
	Location             string
	ScheduledFor         *time.Time
	ScheduledEndAt       *time.Time
	CreatedByID          string
	CreatedByName        string
	CreatedAt            time.Time
	DestinationStockpile *Stockpile
	Requirements         []Requirement
}

// TotalRequired sums the quantities of every requirement.
func (o Operation) TotalRequired() int {
	n := 0
	for _, r := range o.Requirements {
		n += r.Quantity
	}
	return n
}

type NewOperation struct {
	RegimentID             string
	CreatedByID            string
	Name                   string
	Description            string
	Location               string
	ScheduledFor           *time.Time
	ScheduledEndAt         *time.Time
	DestinationStockpileID string
	WarNumber              int
	Requirements           []Requirement
}

const operationColumns = `o.id, o.regiment_id, o.name, COALESCE(o.description, ''), o.status, COALESCE(o.location, ''),
	o.scheduled_for, o.scheduled_end_at, o.created_by_id, COALESCE(u.name, ''), o.created_at,
	COALESCE(o.destination_stockpile_id, '')`

func scanOperation(r rowScanner) (Operation, string, error) {
	var op Operation
	var start, end sql.NullInt64
	var created int64
	var destID string
	err := r.Scan(&op.ID, &op.RegimentID, &op.Name, &op.Description, &op.Status, &op.Location,
		&start, &end, &op.CreatedByID, &op.CreatedByName, &created, &destID)
	if err != nil {
		return Operation{}, "", err
	}
	op.ScheduledFor = timePtr(start)
	op.ScheduledEndAt = timePtr(end)
	op.CreatedAt = fromMillis(created)
	return op, destID, nil
}

// ListOperations returns operations by schedule, unscheduled last, then newest first.
func (s *Store) ListOperations(ctx context.Context, regimentID, status string, limit int) ([]Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations o LEFT JOIN users u ON u.id = o.created_by_id
		WHERE o.regiment_id = ? AND o.archived_at IS NULL`
	args := []any{regimentID}
	if status != "" {
		query += " AND o.status = ?"
		args = append(args, strings.ToUpper(status))
	}
	query += " ORDER BY o.scheduled_for IS NULL, o.scheduled_for ASC, o.created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	type found struct {
		op     Operation
		destID string
	}
	var all []found
	for rows.Next() {
		op, destID, err := scanOperation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		all = append(all, found{op, destID})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	out := make([]Operation, 0, len(all))
	for _, f := range all {
		op, err := s.hydrateOperation(ctx, f.op, f.destID)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

// GetOperation returns ErrNotFound when the operation is not the regiment's.
func (s *Store) GetOperation(ctx context.Context, regimentID, operationID string) (Operation, error) {
	op, destID, err := scanOperation(s.db.QueryRowContext(ctx, `SELECT `+operationColumns+`
		FROM operations o LEFT JOIN users u ON u.id = o.created_by_id
		WHERE o.regiment_id = ? AND o.id = ?`, regimentID, operationID))
	if errors.Is(err, sql.ErrNoRows) {
		return Operation{}, ErrNotFound
	}
	if err != nil {
		return Operation{}, fmt.Errorf("get operation: %w", err)
	}
	return s.hydrateOperation(ctx, op, destID)
}

func (s *Store) hydrateOperation(ctx context.Context, op Operation, destID string) (Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_code, quantity, priority FROM operation_requirements
		WHERE operation_id = ? ORDER BY priority DESC, item_code`, op.ID)
	if err != nil {
		return Operation{}, fmt.Errorf("operation requirements: %w", err)
	}
	for rows.Next() {
		var r Requirement
		if err := rows.Scan(&r.ItemCode, &r.Quantity, &r.Priority); err != nil {
			rows.Close()
			return Operation{}, err
		}
		op.Requirements = append(op.Requirements, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return Operation{}, err
	}

	if destID != "" {
		sp, err := s.stockpileByID(ctx, destID)
		switch {
		case err == nil:
			op.DestinationStockpile = &sp
		case !errors.Is(err, ErrNotFound):
			return Operation{}, err
		}
	}
	return op, nil
}

// CreateOperation inserts an operation in PLANNING with its requirements.
func (s *Store) CreateOperation(ctx context.Context, in NewOperation) (Operation, error) {
	if in.Name == "" {
		return Operation{}, fmt.Errorf("operation name must not be empty")
	}
	id := s.newID()
	now := millis(s.now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO operations (id, regiment_id, name, description, status, scheduled_for, scheduled_end_at, location,
				destination_stockpile_id, created_by_id, war_number, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, in.RegimentID, in.Name, nullString(in.Description), OpPlanning, nullMillis(in.ScheduledFor),
			nullMillis(in.ScheduledEndAt), nullString(in.Location), nullString(in.DestinationStockpileID),
			in.CreatedByID, nullWar(in.WarNumber), now, now)
		if err != nil {
			return fmt.Errorf("insert operation: %w", err)
		}
		for _, r := range in.Requirements {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO operation_requirements (id, operation_id, item_code, quantity, priority)
				VALUES (?, ?, ?, ?, ?)`, s.newID(), id, r.ItemCode, r.Quantity, r.Priority)
			if err != nil {
				return fmt.Errorf("insert requirement %s: %w", r.ItemCode, err)
			}
		}
		return nil
	})
	if err != nil {
		return Operation{}, err
	}
	return s.GetOperation(ctx, in.RegimentID, id)
}
