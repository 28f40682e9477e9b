package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"liaison/internal/domain"
	txcontext "liaison/pkg/platform/tx"
)

// PostgresStore persists queued messages in PostgreSQL. This store is pure
// I/O; withdrawal shaping rules live in the service. FOR UPDATE SKIP LOCKED
// keeps concurrent withdrawals from double-delivering a message.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed queue store. The schema is
// expected to exist (see Migrate).
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the queue schema if missing. Deployments with managed
// migrations can skip this.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS queued_messages (
			id                TEXT PRIMARY KEY,
			direction         TEXT NOT NULL,
			counterparty_id   TEXT NOT NULL DEFAULT '',
			variant_kind      TEXT NOT NULL,
			variant           BYTEA NOT NULL,
			received_at       TIMESTAMPTZ NOT NULL,
			receipt_sent      BOOLEAN NOT NULL DEFAULT FALSE,
			response_required BOOLEAN NOT NULL DEFAULT FALSE,
			archived          BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS queued_messages_withdraw_idx
			ON queued_messages (direction, archived, received_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate queue schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, msg domain.QueuedMessage) error {
	kind, variant, err := domain.MarshalVariant(msg.Variant)
	if err != nil {
		return fmt.Errorf("encode queued variant: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queued_messages
			(id, direction, counterparty_id, variant_kind, variant, received_at, receipt_sent, response_required, archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)
	`, msg.ID, msg.Direction, msg.CounterpartyID, kind, variant, msg.ReceivedAt, msg.ReceiptSent, msg.ResponseRequired)
	if err != nil {
		return fmt.Errorf("enqueue message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *PostgresStore) Withdraw(ctx context.Context, direction domain.Direction, opts WithdrawOptions) (Withdrawal, error) {
	dbtx, owned, err := s.begin(ctx)
	if err != nil {
		return Withdrawal{}, fmt.Errorf("begin withdrawal: %w", err)
	}
	if owned {
		defer dbtx.Rollback() //nolint:errcheck // rollback after commit is a no-op
	}

	query, args := buildWithdrawQuery(direction, opts)
	rows, err := dbtx.QueryContext(ctx, query, args...)
	if err != nil {
		return Withdrawal{}, fmt.Errorf("select queued messages: %w", err)
	}

	var result Withdrawal
	var selected []string
	for rows.Next() {
		var (
			msg     domain.QueuedMessage
			kind    string
			variant []byte
		)
		if err := rows.Scan(&msg.ID, &msg.Direction, &msg.CounterpartyID, &kind, &variant,
			&msg.ReceivedAt, &msg.ReceiptSent, &msg.ResponseRequired, &msg.Archived); err != nil {
			rows.Close()
			return Withdrawal{}, fmt.Errorf("scan queued message: %w", err)
		}
		msg.Variant, err = domain.UnmarshalVariant(domain.VariantKind(kind), variant)
		if err != nil {
			rows.Close()
			return Withdrawal{}, fmt.Errorf("decode queued message %s: %w", msg.ID, err)
		}
		selected = append(selected, msg.ID)
		if !opts.ForceDelete {
			msg.Archived = true
		}
		result.Messages = append(result.Messages, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Withdrawal{}, fmt.Errorf("iterate queued messages: %w", err)
	}

	if len(selected) > 0 {
		if opts.ForceDelete {
			res, err := dbtx.ExecContext(ctx,
				`DELETE FROM queued_messages WHERE id = ANY($1)`, textArray(selected))
			if err != nil {
				return Withdrawal{}, fmt.Errorf("delete withdrawn messages: %w", err)
			}
			n, _ := res.RowsAffected()
			result.Deleted = int(n)
		} else {
			res, err := dbtx.ExecContext(ctx,
				`UPDATE queued_messages SET archived = TRUE WHERE id = ANY($1) AND NOT archived`,
				textArray(selected))
			if err != nil {
				return Withdrawal{}, fmt.Errorf("archive withdrawn messages: %w", err)
			}
			n, _ := res.RowsAffected()
			result.Archived = int(n)
		}
	}

	if owned {
		if err := dbtx.Commit(); err != nil {
			return Withdrawal{}, fmt.Errorf("commit withdrawal: %w", err)
		}
	}
	return result, nil
}

func (s *PostgresStore) Count(ctx context.Context, direction domain.Direction) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queued_messages WHERE direction = $1 AND NOT archived`,
		direction).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queued messages: %w", err)
	}
	return n, nil
}

// begin returns the context transaction when one is installed, otherwise a
// new transaction the caller owns.
func (s *PostgresStore) begin(ctx context.Context) (*sql.Tx, bool, error) {
	if dbtx, ok := txcontext.From(ctx); ok {
		return dbtx, false, nil
	}
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	return dbtx, true, nil
}

func buildWithdrawQuery(direction domain.Direction, opts WithdrawOptions) (string, []any) {
	var b strings.Builder
	args := []any{string(direction)}
	b.WriteString(`
		SELECT id, direction, counterparty_id, variant_kind, variant,
		       received_at, receipt_sent, response_required, archived
		FROM queued_messages
		WHERE direction = $1`)
	if !opts.IncludeArchived {
		b.WriteString(` AND NOT archived`)
	}
	if !opts.Since.IsZero() {
		args = append(args, opts.Since.UTC())
		fmt.Fprintf(&b, ` AND received_at > $%d`, len(args))
	}
	if opts.OldestFirst {
		b.WriteString(` ORDER BY received_at ASC`)
	} else {
		b.WriteString(` ORDER BY received_at DESC`)
	}
	if opts.Limit >= 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	b.WriteString(` FOR UPDATE SKIP LOCKED`)
	return b.String(), args
}

// textArray renders a TEXT[] literal accepted by the pgx stdlib driver.
func textArray(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
