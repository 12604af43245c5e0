package uow

import (
	"log/slog"

	"github.com/heianxing/axon-demo/core/es"
)

type (
	valueOption[T any] struct{ v T }

	uowOpts struct {
		log     *slog.Logger
		metrics es.Metrics
		txm     TransactionManager
	}

	Option interface{ applyToUnitOfWork(*uowOpts) }

	LogOption                valueOption[*slog.Logger]
	MetricsOption            valueOption[es.Metrics]
	TransactionManagerOption valueOption[TransactionManager]
)

func WithLog(l *slog.Logger) LogOption       { return LogOption{v: l} }
func WithMetrics(m es.Metrics) MetricsOption { return MetricsOption{v: m} }

// WithTransactionManager makes outermost units run in a storage transaction.
func WithTransactionManager(tm TransactionManager) TransactionManagerOption {
	return TransactionManagerOption{v: tm}
}

func (o LogOption) applyToUnitOfWork(u *uowOpts)                { u.log = o.v }
func (o MetricsOption) applyToUnitOfWork(u *uowOpts)            { u.metrics = o.v }
func (o TransactionManagerOption) applyToUnitOfWork(u *uowOpts) { u.txm = o.v }

func newOpts(opts ...Option) uowOpts {
	options := uowOpts{log: slog.Default(), metrics: es.NopMetrics()}
	for _, opt := range opts {
		opt.applyToUnitOfWork(&options)
	}
	return options
}
