package main

import (
	"encoding/json"
	"fmt"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/es/assert"
)

const accountType = "account"

type (
	Account struct {
		es.BaseAggregate

		Balance  int `json:"balance"`
		Deposits int `json:"deposits"`
	}

	Opened    struct{}
	Deposited struct{ Amount int }
)

func NewAccount(id es.Identifier) *Account {
	a := &Account{}
	a.SetAggregateID(id)
	return a
}

func (a *Account) AggregateType() string { return accountType }

func (a *Account) Apply(e any) error {
	switch evt := e.(type) {
	case *Opened:
		return nil
	case *Deposited:
		a.Balance += evt.Amount
		a.Deposits++
		return nil
	}
	return fmt.Errorf("unknown event: %T", e)
}

func (a *Account) Open() error { return es.RaiseAndApply(a, &Opened{}) }

func (a *Account) Deposit(amount int) error {
	return a.Checked(
		assert.That(amount > 0, "amount is positive").Else(es.ErrIllegalArgument),
		func() error { return es.RaiseAndApply(a, &Deposited{Amount: amount}) },
	)
}

func (a *Account) Snapshot() ([]byte, error)         { return json.Marshal(a) }
func (a *Account) RestoreSnapshot(data []byte) error { return json.Unmarshal(data, a) }

func registerEvents(r es.Registrar) {
	es.RegisterEvents(r, es.Ctor[Opened](), es.Ctor[Deposited]())
}

var _ es.Snapshottable = (*Account)(nil)
