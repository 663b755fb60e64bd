package couchbase

import (
	"errors"
	"testing"

	"github.com/couchbase/gocb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

type fakeTx struct {
	getErrs    []error
	insertErrs []error
	inserted   []any
	gets       int
}

func (f *fakeTx) Get(_ Collectioner, _ string) (*gocb.TransactionGetResult, error) {
	err := f.getErrs[f.gets]
	f.gets++
	return nil, err
}

func (f *fakeTx) Insert(_ Collectioner, _ string, value any) (*gocb.TransactionGetResult, error) {
	err := f.insertErrs[len(f.inserted)]
	f.inserted = append(f.inserted, value)
	return nil, err
}

func (f *fakeTx) Replace(_ *gocb.TransactionGetResult, _ any) (*gocb.TransactionGetResult, error) {
	return nil, errors.New("unexpected replace")
}

func TestModify_CreatesMissingDocument(t *testing.T) {
	tx := &fakeTx{
		getErrs:    []error{gocb.ErrDocumentNotFound},
		insertErrs: []error{nil},
	}

	err := Modify(tx, &Couchbase[counter]{}, "k",
		func() counter { return counter{ID: "k"} },
		func(c *counter) { c.Count++ },
	)
	require.NoError(t, err)

	require.Len(t, tx.inserted, 1)
	assert.Equal(t, counter{ID: "k", Count: 1}, tx.inserted[0])
}

func TestModify_RetriesLostInsertRace(t *testing.T) {
	tx := &fakeTx{
		getErrs:    []error{gocb.ErrDocumentNotFound, gocb.ErrDocumentNotFound},
		insertErrs: []error{gocb.ErrDocumentExists, nil},
	}

	err := Modify(tx, &Couchbase[counter]{}, "k",
		func() counter { return counter{ID: "k"} },
		func(c *counter) { c.Count++ },
	)
	require.NoError(t, err)

	assert.Equal(t, 2, tx.gets)
	assert.Len(t, tx.inserted, 2)
}

func TestModify_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")

	tx := &fakeTx{getErrs: []error{boom}}
	err := Modify(tx, &Couchbase[counter]{}, "k", func() counter { return counter{} }, func(*counter) {})
	assert.ErrorIs(t, err, boom)

	tx = &fakeTx{getErrs: []error{gocb.ErrDocumentNotFound}, insertErrs: []error{boom}}
	err = Modify(tx, &Couchbase[counter]{}, "k", func() counter { return counter{} }, func(*counter) {})
	assert.ErrorIs(t, err, boom)
}

func TestNewTransactions(t *testing.T) {
	_, err := NewTransactions(nil, 0)
	assert.Error(t, err)
}

func TestNewCouchbase(t *testing.T) {
	_, err := NewCouchbase[counter](nil, nil, nil)
	assert.Error(t, err)
}
