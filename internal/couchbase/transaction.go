package couchbase

import (
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

// Transactions runs multi-document transactions on one cluster.
type Transactions struct {
	cluster *gocb.Cluster
	options gocb.TransactionOptions
}

// NewTransactions returns a transaction runner for cluster. A zero timeout means 10s.
func NewTransactions(cluster *gocb.Cluster, timeout time.Duration) (*Transactions, error) {
	if cluster == nil {
		return nil, errors.New("couchbase cluster cannot be nil")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Transactions{
		cluster: cluster,
		options: gocb.TransactionOptions{
			DurabilityLevel: gocb.DurabilityLevelNone,
			Timeout:         timeout,
		},
	}, nil
}

// Run executes fn in a transaction and returns the transaction ID. The SDK calls fn again
// when an attempt conflicts with another writer, so fn must not have side effects outside tx.
func (t *Transactions) Run(fn func(tx Tx) error) (string, error) {
	opts := t.options

	res, err := t.cluster.Transactions().Run(func(actx *gocb.TransactionAttemptContext) error {
		return fn(attempt{actx: actx})
	}, &opts)
	if err != nil {
		return "", fmt.Errorf("failed to run transaction: %w", err)
	}

	return res.TransactionID, nil
}

// Tx is one attempt of a transaction.
type Tx interface {
	Get(c Collectioner, key string) (*gocb.TransactionGetResult, error)
	Insert(c Collectioner, key string, value any) (*gocb.TransactionGetResult, error)
	Replace(doc *gocb.TransactionGetResult, value any) (*gocb.TransactionGetResult, error)
}

// Collectioner is anything bound to a collection, usually a *Couchbase store.
type Collectioner interface {
	Collection() *gocb.Collection
}

type attempt struct {
	actx *gocb.TransactionAttemptContext
}

func (a attempt) Get(c Collectioner, key string) (*gocb.TransactionGetResult, error) {
	return a.actx.Get(c.Collection(), key)
}

func (a attempt) Insert(c Collectioner, key string, value any) (*gocb.TransactionGetResult, error) {
	return a.actx.Insert(c.Collection(), key, value)
}

func (a attempt) Replace(doc *gocb.TransactionGetResult, value any) (*gocb.TransactionGetResult, error) {
	return a.actx.Replace(doc, value)
}

// Modify applies change to the document key of store inside tx. A missing document is
// created from create first. Losing an insert race to another writer re-reads the winner's
// document and applies change to it.
func Modify[T any](tx Tx, store *Couchbase[T], key string, create func() T, change func(*T)) error {
	for {
		doc, err := tx.Get(store, key)
		switch {
		case err == nil:
			var v T
			if err := doc.Content(&v); err != nil {
				return fmt.Errorf("failed to decode %s: %w", key, err)
			}
			change(&v)
			if _, err := tx.Replace(doc, v); err != nil {
				return fmt.Errorf("failed to replace %s: %w", key, err)
			}
			return nil
		case errors.Is(err, gocb.ErrDocumentNotFound):
		default:
			return fmt.Errorf("failed to get %s: %w", key, err)
		}

		v := create()
		change(&v)

		_, err = tx.Insert(store, key, v)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gocb.ErrDocumentExists):
			continue
		default:
			return fmt.Errorf("failed to insert %s: %w", key, err)
		}
	}
}
