package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
	"github.com/settlecoord/coordinator/internal/ids"
	"github.com/settlecoord/coordinator/internal/money"
)

// PebbleSink is a durable Sink backed by a pebble key-value store,
// keeping the same balance and idempotency-marker keyspace as
// MemorySink but persisting both to disk via batched writes.
type PebbleSink struct {
	db *pebble.DB
}

// OpenPebbleSink opens (creating if absent) a pebble database at dir.
func OpenPebbleSink(dir string) (*PebbleSink, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.OpenPebbleSink", err)
	}
	return &PebbleSink{db: db}, nil
}

func (p *PebbleSink) Close() error {
	return p.db.Close()
}

func appliedKey(settlementId ids.SettlementId, legNumber int) []byte {
	return []byte(fmt.Sprintf("applied/%s/%d", settlementId.String(), legNumber))
}

func balKey(account string, currency money.Currency) []byte {
	return []byte(fmt.Sprintf("balance/%s/%s", account, currency))
}

func (p *PebbleSink) Apply(_ context.Context, settlementId ids.SettlementId, legNumber int, debit, credit Movement) error {
	markerKey := appliedKey(settlementId, legNumber)
	if _, closer, err := p.db.Get(markerKey); err == nil {
		closer.Close()
		return nil
	} else if err != pebble.ErrNotFound {
		return coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.PebbleSink.Apply", err)
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	for _, m := range []Movement{debit, credit} {
		current, err := p.balanceLocked(m.Account, m.Currency)
		if err != nil {
			return err
		}
		updated, err := current.Add(m.Delta)
		if err != nil {
			return coordinatorerrors.New(coordinatorerrors.KindInternalError, "ledger.PebbleSink.Apply", err)
		}
		encoded, err := json.Marshal(updated.DecimalString())
		if err != nil {
			return coordinatorerrors.New(coordinatorerrors.KindInternalError, "ledger.PebbleSink.Apply", err)
		}
		if err := batch.Set(balKey(m.Account, m.Currency), encoded, nil); err != nil {
			return coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.PebbleSink.Apply", err)
		}
	}

	if err := batch.Set(markerKey, []byte("1"), nil); err != nil {
		return coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.PebbleSink.Apply", err)
	}
	return batch.Commit(pebble.Sync)
}

func (p *PebbleSink) balanceLocked(account string, currency money.Currency) (money.Money, error) {
	val, closer, err := p.db.Get(balKey(account, currency))
	if err == pebble.ErrNotFound {
		return money.Zero(currency), nil
	}
	if err != nil {
		return money.Money{}, coordinatorerrors.New(coordinatorerrors.KindDatabaseError, "ledger.PebbleSink.balanceLocked", err)
	}
	defer closer.Close()

	var decimal string
	if err := json.Unmarshal(val, &decimal); err != nil {
		return money.Money{}, coordinatorerrors.New(coordinatorerrors.KindInternalError, "ledger.PebbleSink.balanceLocked", err)
	}
	return money.New(decimal, currency)
}

func (p *PebbleSink) BalanceOf(_ context.Context, account string, currency money.Currency) (money.Money, error) {
	return p.balanceLocked(account, currency)
}
