package store

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type contextKey int

const (
	transactionKey contextKey = iota
)

type Tx struct {
	txID int64
	tx   *gorm.DB
	log  logrus.FieldLogger
}

func Commit(ctx context.Context) (context.Context, error) {
	tx, ok := ctx.Value(transactionKey).(*Tx)
	if !ok {
		return ctx, nil
	}

	newCtx := context.WithValue(ctx, transactionKey, nil)
	return newCtx, tx.Commit()
}

func Rollback(ctx context.Context) (context.Context, error) {
	tx, ok := ctx.Value(transactionKey).(*Tx)
	if !ok {
		return ctx, nil
	}

	newCtx := context.WithValue(ctx, transactionKey, nil)
	return newCtx, tx.Rollback()
}

// FromContext returns the *gorm.DB bound to an in-flight transaction, or
// nil if the context carries none — callers fall back to the package-level
// pooled handle in that case.
func FromContext(ctx context.Context) *gorm.DB {
	if tx, found := ctx.Value(transactionKey).(*Tx); found && tx != nil {
		if dbTx, err := tx.Db(); err == nil {
			return dbTx
		}
	}
	return nil
}

func newTransactionContext(ctx context.Context, db *gorm.DB, log logrus.FieldLogger) (context.Context, error) {
	if _, found := ctx.Value(transactionKey).(*Tx); found {
		return ctx, nil
	}

	conn := db.Session(&gorm.Session{Context: ctx})

	tx, err := newTransaction(conn, log)
	if err != nil {
		return ctx, err
	}

	return context.WithValue(ctx, transactionKey, tx), nil
}

func newTransaction(db *gorm.DB, log logrus.FieldLogger) (*Tx, error) {
	tx := db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var txid struct{ ID int64 }
	tx.Raw("select txid_current() as id").Scan(&txid)

	return &Tx{txID: txid.ID, tx: tx, log: log}, nil
}

func (t *Tx) Db() (*gorm.DB, error) {
	if t.tx != nil {
		return t.tx, nil
	}
	return nil, errors.New("transaction hasn't started yet")
}

func (t *Tx) Commit() error {
	if t.tx == nil {
		return errors.New("transaction hasn't started yet")
	}
	if err := t.tx.Commit().Error; err != nil {
		t.log.Errorf("failed to commit transaction %d: %v", t.txID, err)
		return err
	}
	t.log.Debugf("transaction %d committed", t.txID)
	t.tx = nil
	return nil
}

func (t *Tx) Rollback() error {
	if t.tx == nil {
		return errors.New("transaction hasn't started yet")
	}
	if err := t.tx.Rollback().Error; err != nil {
		t.log.Errorf("failed to rollback transaction %d: %v", t.txID, err)
		return err
	}
	t.tx = nil
	t.log.Debugf("transaction %d rolled back", t.txID)
	return nil
}
