// Command loadtest runs concurrent modifiers against one or more aggregates
// and checks that the event log stays gapless. The backend, locking strategy
// and snapshot threshold come from the EVENTCORE_* variables; the workload
// from WORKERS, ROUNDS and AGGREGATES.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	promadapter "github.com/heianxing/axon-demo/adapters/prometheus"
	"github.com/heianxing/axon-demo/core/config"
	"github.com/heianxing/axon-demo/core/es"
	"github.com/heianxing/axon-demo/core/repo"
	"github.com/heianxing/axon-demo/core/snapshot"
	"github.com/heianxing/axon-demo/core/uow"
	"github.com/heianxing/axon-demo/internal/storage"
)

// NOTE: run nats: docker run --net=host nats:latest -js

var (
	workers    = getEnvInt("WORKERS", 10)
	rounds     = getEnvInt("ROUNDS", 100)
	aggregates = getEnvInt("AGGREGATES", 1)
)

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "loadtest:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	metrics := es.NopMetrics()
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = promadapter.NewMetrics(reg)
		serveMetrics(cfg.MetricsAddr, reg, log)
	}

	st, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	registry := es.NewRegistry()
	registerEvents(registry)
	store := es.NewStore(st.Backend, append(cfg.StoreOptions(),
		es.WithSerializer(registry),
		es.WithLog(log),
		es.WithMetrics(metrics),
	)...)

	executor := snapshot.NewAsyncExecutor(int64(runtime.GOMAXPROCS(0)), log)
	snapshotter := snapshot.NewAggregateSnapshotter(store, snapshot.WithExecutor(executor), snapshot.WithLog(log))
	snapshot.RegisterFactory(snapshotter, NewAccount)
	trigger := snapshot.NewEventCountTrigger(snapshotter, append(cfg.TriggerOptions(),
		snapshot.WithLog(log),
		snapshot.WithMetrics(metrics),
	)...)

	accounts, err := repo.NewEventSourcing(store, NewAccount, append(cfg.RepoOptions(),
		repo.WithTrigger(trigger),
		repo.WithLog(log),
		repo.WithMetrics(metrics),
	)...)
	if err != nil {
		return err
	}

	uowOpts := append(st.UnitOfWorkOptions(), uow.WithLog(log), uow.WithMetrics(metrics))

	fmt.Printf("Backend:  %s\n", cfg.StorageDriver)
	fmt.Printf("Locking:  %s\n", cfg.LockingStrategy)
	fmt.Printf("Snapshot: every %d events\n", cfg.SnapshotTrigger)
	fmt.Printf("Workload: %d workers x %d rounds on %d aggregates\n", workers, rounds, aggregates)

	ids := make([]es.Identifier, aggregates)
	for i := range ids {
		ids[i] = es.NewIdentifier()
		id := ids[i]
		if err := uow.Run(ctx, func(ctx context.Context) error {
			acc := NewAccount(id)
			if err := acc.Open(); err != nil {
				return err
			}
			return accounts.Add(ctx, acc)
		}, uowOpts...); err != nil {
			return fmt.Errorf("open account: %w", err)
		}
	}

	// === START ===

	var (
		wg        sync.WaitGroup
		committed atomic.Int64
		conflicts atomic.Int64
		failures  atomic.Int64
		startAt   = time.Now()
	)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range rounds {
				id := ids[(w+r)%len(ids)]
				err := uow.Run(ctx, func(ctx context.Context) error {
					acc, err := accounts.Load(ctx, id)
					if err != nil {
						return err
					}
					if err := acc.Deposit(1); err != nil {
						return err
					}
					return acc.Deposit(1)
				}, uowOpts...)
				switch {
				case err == nil:
					committed.Add(1)
				case errors.Is(err, es.ErrConcurrency):
					conflicts.Add(1)
				default:
					failures.Add(1)
					log.Error("round failed", slog.Any("error", err))
				}
				if ctx.Err() != nil {
					return
				}
			}
		}()
	}
	wg.Wait()
	executor.Close()
	took := time.Since(startAt)

	// === stats ===

	println("==========================================")
	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("    committed: %d\n", committed.Load())
	fmt.Printf("    conflicts: %d\n", conflicts.Load())
	fmt.Printf("     failures: %d\n", failures.Load())
	fmt.Printf("   commits/s: %d\n", int(float64(committed.Load())/took.Seconds()))
	mu := getMemUsage()
	fmt.Printf("   memory: %d / %d MiB (alloc / sys), %d gc\n", mu.Alloc/1024/1024, mu.Sys/1024/1024, mu.NumGC)

	return verify(ctx, st.Backend, ids, committed.Load())
}

// verify checks that every account log is gapless and that the deposits
// match the committed rounds.
func verify(ctx context.Context, backend es.Backend, ids []es.Identifier, committed int64) error {
	var total int64
	for _, id := range ids {
		var next int64
		for {
			page, err := backend.ReadEvents(ctx, accountType, id.String(), next, 1000)
			if err != nil {
				return err
			}
			for _, rec := range page {
				if rec.SequenceNumber != next {
					return fmt.Errorf("account %s: gap at sequence %d, found %d", id, next, rec.SequenceNumber)
				}
				next++
			}
			if len(page) < 1000 {
				break
			}
		}
		// one Opened event per account, two deposits per committed round
		total += next - 1
		fmt.Printf("   account %s: %d events\n", id, next)
	}
	if total != 2*committed {
		return fmt.Errorf("expected %d deposits, found %d", 2*committed, total)
	}
	fmt.Println("event logs are gapless")
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", slog.Any("error", err))
		}
	}()
}

// === stats helpers ===

type MemUsage struct {
	Alloc uint64 // bytes allocated and not yet freed (heap)
	Sys   uint64 // total bytes obtained from OS
	NumGC uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{Alloc: m.Alloc, Sys: m.Sys, NumGC: m.NumGC}
}
