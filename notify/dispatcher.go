// Package notify delivers due reminders to downstream channels.
package notify

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"selfcare-api/domain"
)

const (
	defaultInterval       = 30 * time.Second
	defaultPublishTimeout = 10 * time.Second
	workersPerCPU         = 4
	maxWorkers            = 64
)

// DueSource hands out due reminders, each at most once.
type DueSource interface {
	DueReminders(ctx context.Context, userID string) ([]domain.Reminder, error)
}

// Publisher delivers a single reminder.
type Publisher interface {
	Publish(ctx context.Context, r domain.Reminder) error
}

// Dispatcher polls for due reminders and publishes them through a bounded
// worker pool. A reminder whose publish fails is logged and not retried; it
// was already marked sent when it was handed out.
type Dispatcher struct {
	source         DueSource
	pub            Publisher
	logger         *log.Logger
	interval       time.Duration
	workers        int
	publishTimeout time.Duration
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.interval = d
		}
	}
}

// WithWorkers caps concurrent publishes.
func WithWorkers(n int) Option {
	return func(ds *Dispatcher) {
		if n > 0 {
			ds.workers = n
		}
	}
}

// WithPublishTimeout bounds a single publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.publishTimeout = d
		}
	}
}

// New creates a dispatcher.
func New(source DueSource, pub Publisher, logger *log.Logger, opts ...Option) *Dispatcher {
	if source == nil || pub == nil {
		panic("notify.New: source and publisher are required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	d := &Dispatcher{
		source:         source,
		pub:            pub,
		logger:         logger,
		interval:       defaultInterval,
		workers:        workersForCPU(runtime.GOMAXPROCS(0)),
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func workersForCPU(cpu int) int {
	if cpu < 1 {
		cpu = 1
	}
	n := cpu * workersPerCPU
	if n > maxWorkers {
		n = maxWorkers
	}
	return n
}

// Run polls until ctx is cancelled. It always returns nil after cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.WithFields(log.Fields{"interval": d.interval, "workers": d.workers}).Info("reminder dispatcher started")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := d.Poll(ctx); err != nil && ctx.Err() == nil {
			d.logger.WithError(err).Error("reminder poll failed")
		}
		select {
		case <-ctx.Done():
			d.logger.Info("reminder dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one dispatch cycle and returns how many reminders were published.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	due, err := d.source.DueReminders(ctx, "")
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	var published atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, r := range due {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, d.publishTimeout)
			defer cancel()
			if err := d.pub.Publish(pctx, r); err != nil {
				d.logger.WithError(err).WithFields(log.Fields{"reminder": r.ID, "user": r.UserID}).Error("reminder publish failed")
				return nil
			}
			published.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(published.Load())
	d.logger.WithFields(log.Fields{"due": len(due), "published": n}).Debug("reminder poll complete")
	return n, nil
}
