package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aqms/aqms/internal/config"
	"github.com/aqms/aqms/internal/domain/appointment"
	"github.com/aqms/aqms/internal/domain/calendar"
	"github.com/aqms/aqms/internal/domain/queue"
	"github.com/aqms/aqms/internal/platform/db"
	"github.com/aqms/aqms/internal/platform/events"
	"github.com/aqms/aqms/internal/platform/memstore"
	"github.com/aqms/aqms/internal/platform/telemetry"
)

// app holds the services shared by every command.
type app struct {
	calendar     *calendar.Service
	appointments *appointment.Service
	generator    *appointment.Generator
	queue        *queue.Service

	pinger    db.Pinger
	storeName string
	closers   []func()
}

func newApp(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*app, error) {
	a := &app{storeName: cfg.Store}

	var (
		clinics calendar.ClinicRepository
		doctors calendar.DoctorRepository
		slots   appointment.SlotRepository
		entries queue.Repository
		tx      db.TxRunner
	)
	switch cfg.Store {
	case config.StoreMemory:
		store := memstore.New()
		clinics, doctors, slots, entries, tx = store.Clinics(), store.Doctors(), store.Slots(), store.Queue(), store
		a.pinger = store
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
			MaxConns:         cfg.DBMaxConns,
			MinConns:         cfg.DBMinConns,
			StatementTimeout: cfg.DBStatementTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		clinics, doctors = calendar.NewClinicRepoPG(pool), calendar.NewDoctorRepoPG(pool)
		slots, entries = appointment.NewSlotRepoPG(pool), queue.NewRepoPG(pool)
		tx = db.NewTxRunner(pool)
		a.pinger = pool
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	var pub events.Publisher = events.Nop{}
	if cfg.RedisURL != "" {
		rp, err := events.NewRedisPublisher(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := rp.Close(); err != nil {
				log.Warn().Err(err).Msg("closing redis publisher")
			}
		})
		pub = rp
	}

	a.calendar = calendar.NewService(clinics, doctors, tx)
	a.queue = queue.NewService(entries, tx, a.calendar, pub, metrics)
	a.appointments = appointment.NewService(slots, tx, a.calendar, a.queue, metrics, policyFrom(cfg))
	a.generator = appointment.NewGenerator(slots, tx, a.calendar, metrics)
	return a, nil
}

func policyFrom(cfg *config.Config) appointment.Policy {
	p := appointment.DefaultPolicy()
	p.MinAdvance = time.Duration(cfg.MinAdvanceHoursForChange) * time.Hour
	p.ReopenCancelled = cfg.ReopenCancelledSlots
	return p
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
