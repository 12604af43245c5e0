// Package domain holds the aggregate used by the store and repository tests.
package domain

import (
	"encoding/json"
	"fmt"

	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/es/assert"
)

const AggType = "test_agg"

type (
	TestAgg struct {
		es.BaseAggregate

		Counter        uint16 `json:"counter"`
		NumIncrements  int    `json:"num_increments"`
		NumResets      int    `json:"num_resets"`
		NumTotalEvents int    `json:"num_total_events"`
	}

	Incremented struct {
		Inc   uint8 `json:"inc,omitempty"`
		Reset bool  `json:"reset,omitempty"`
	}
)

func (a *TestAgg) Snapshot() (data []byte, err error) { return json.Marshal(a) }
func (a *TestAgg) RestoreSnapshot(data []byte) error  { return json.Unmarshal(data, a) }
func (a *TestAgg) AggregateType() string              { return AggType }
func (a *TestAgg) Apply(event any) error {
	switch e := event.(type) {
	case *Incremented:
		a.NumTotalEvents++
		if e.Inc > 0 {
			a.Counter += uint16(e.Inc)
			a.NumIncrements++
		}
		if e.Reset {
			a.Counter = 0
			a.NumResets++
		}
		return nil
	}
	return fmt.Errorf("unknown event: %T", event)
}

var _ es.Snapshottable = &TestAgg{}

// Register adds the events of TestAgg to a registry.
func Register(r es.Registrar) { es.RegisterEvents(r, es.Ctor[Incremented]()) }

// NewRegistry returns a registry that knows the TestAgg events.
func NewRegistry() *es.EventRegistry {
	r := es.NewRegistry()
	Register(r)
	return r
}

// === Commands ===

func (a *TestAgg) Reset() error { return es.RaiseAndApply(a, &Incremented{Reset: true}) }
func (a *TestAgg) Inc() error   { return a.IncBy(1) }
func (a *TestAgg) IncBy(v uint8) error {
	return a.Checked(
		assert.That(int(a.Counter)+int(v) <= 1000, "counter cannot exceed 1000"),
		func() error { return es.RaiseAndApply(a, &Incremented{Inc: v}) },
	)
}

// === Read ===

func (a *TestAgg) Count() int { return int(a.Counter) }

func NewTestAgg(id es.Identifier) *TestAgg {
	a := &TestAgg{}
	a.SetAggregateID(id)
	return a
}

// Events builds committed-looking events for one aggregate, starting at firstSeq.
func Events(id es.Identifier, firstSeq int64, n int) []es.Event {
	out := make([]es.Event, 0, n)
	for i := range n {
		out = append(out, es.NewEvent(id, firstSeq+int64(i), &Incremented{Inc: 1}))
	}
	return out
}
