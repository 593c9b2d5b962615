package ledger

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/ids"
	"github.com/settlecoord/coordinator/internal/money"
)

// SQLiteSink is an alternative durable Sink for deployments that prefer
// a relational commit journal over pebble's key-value store. Schema is
// created on first open.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLiteSink opens (creating if absent) a sqlite database at path.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.OpenSQLiteSink", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS balances (
	account  TEXT NOT NULL,
	currency TEXT NOT NULL,
	amount   TEXT NOT NULL,
	PRIMARY KEY (account, currency)
);
CREATE TABLE IF NOT EXISTS applied_legs (
	settlement_id TEXT NOT NULL,
	leg_number    INTEGER NOT NULL,
	PRIMARY KEY (settlement_id, leg_number)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.OpenSQLiteSink", err)
	}

	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) Apply(ctx context.Context, settlementId ids.SettlementId, legNumber int, debit, credit Movement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.SQLiteSink.Apply", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM applied_legs WHERE settlement_id = ? AND leg_number = ?`,
		settlementId.String(), legNumber).Scan(&exists)
	if err == nil {
		return tx.Commit()
	}
	if err != sql.ErrNoRows {
		return coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.SQLiteSink.Apply", err)
	}

	for _, m := range []Movement{debit, credit} {
		current, err := s.balanceTx(ctx, tx, m.Account, m.Currency)
		if err != nil {
			return err
		}
		updated, err := current.Add(m.Delta)
		if err != nil {
			return coordinatorerrors.New(coordinatorerrors.KindInternalError, "ledger.SQLiteSink.Apply", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balances (account, currency, amount) VALUES (?, ?, ?)
			ON CONFLICT(account, currency) DO UPDATE SET amount = excluded.amount`,
			m.Account, string(m.Currency), updated.DecimalString()); err != nil {
			return coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.SQLiteSink.Apply", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO applied_legs (settlement_id, leg_number) VALUES (?, ?)`,
		settlementId.String(), legNumber); err != nil {
		return coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.SQLiteSink.Apply", err)
	}

	if err := tx.Commit(); err != nil {
		return coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.SQLiteSink.Apply", err)
	}
	return nil
}

func (s *SQLiteSink) balanceTx(ctx context.Context, tx *sql.Tx, account string, currency money.Currency) (money.Money, error) {
	var amount string
	err := tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account = ? AND currency = ?`,
		account, string(currency)).Scan(&amount)
	if err == sql.ErrNoRows {
		return money.Zero(currency), nil
	}
	if err != nil {
		return money.Money{}, coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.SQLiteSink.balanceTx", err)
	}
	return money.New(amount, currency)
}

func (s *SQLiteSink) BalanceOf(ctx context.Context, account string, currency money.Currency) (money.Money, error) {
	var amount string
	err := s.db.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account = ? AND currency = ?`,
		account, string(currency)).Scan(&amount)
	if err == sql.ErrNoRows {
		return money.Zero(currency), nil
	}
	if err != nil {
		return money.Money{}, coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.SQLiteSink.BalanceOf", err)
	}
	return money.New(amount, currency)
}
