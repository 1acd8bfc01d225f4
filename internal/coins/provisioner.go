package coins

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pvzzle/walletfeed/internal/metrics"
	"github.com/pvzzle/walletfeed/internal/storage"

	"go.uber.org/zap"
)

const metadataTimeout = 5 * time.Second

type ProvisionerConfig struct {
	Workers     int
	TasksBuffer int
}

// Task asks for one coin record to be created or refreshed.
type Task struct {
	CoinID   string
	Network  string
	Contract string
}

// Provisioner fills the coin registry in the background. Classification only
// enqueues; it never waits for a task to finish.
type Provisioner struct {
	repo storage.CoinRepository
	meta MetadataSource
	log  *zap.Logger

	cfg ProvisionerConfig

	tasks chan Task
	wg    sync.WaitGroup
	now   func() time.Time
}

func NewProvisioner(repo storage.CoinRepository, meta MetadataSource, cfg ProvisionerConfig, log *zap.Logger) *Provisioner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.TasksBuffer <= 0 {
		cfg.TasksBuffer = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Provisioner{
		repo:  repo,
		meta:  meta,
		log:   log.With(zap.String("component", "provisioner")),
		cfg:   cfg,
		tasks: make(chan Task, cfg.TasksBuffer),
		now:   time.Now,
	}
}

// Enqueue reports false when the queue is full.
func (p *Provisioner) Enqueue(t Task) bool {
	select {
	case p.tasks <- t:
		return true
	default:
		metrics.CoinProvisioning.WithLabelValues("dropped").Inc()
		return false
	}
}

// Start runs the worker pool until ctx is cancelled.
func (p *Provisioner) Start(ctx context.Context) error {
	p.startWorkers(ctx)
	<-ctx.Done()
	p.wg.Wait()
	return ctx.Err()
}

func (p *Provisioner) startWorkers(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()

			for {
				select {
				case <-ctx.Done():
					return
				case task := <-p.tasks:
					p.handleTask(ctx, task)
				}
			}
		}()
	}
}

func (p *Provisioner) handleTask(ctx context.Context, task Task) {
	existing, err := p.repo.GetCoin(ctx, task.CoinID)
	switch {
	case err == nil && existing.Symbol != "":
		metrics.CoinProvisioning.WithLabelValues("exists").Inc()
		return
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		metrics.CoinProvisioning.WithLabelValues("error").Inc()
		p.log.Warn("coin lookup failed", zap.String("coin_id", task.CoinID), zap.Error(err))
		return
	}

	rec := storage.CoinRecord{
		ID:            task.CoinID,
		Network:       task.Network,
		Contract:      task.Contract,
		ProvisionedAt: p.now().UTC(),
	}

	if task.Contract == "" {
		if nc, ok := Native(task.Network); ok {
			rec.Symbol = nc.Symbol
			d := nc.Decimals
			rec.Decimals = &d
		}
	} else if p.meta != nil {
		mctx, cancel := context.WithTimeout(ctx, metadataTimeout)
		md, err := p.meta.TokenMetadata(mctx, task.Contract)
		cancel()
		if err != nil {
			// still record the coin; metadata is refreshed on the next provisioning
			p.log.Warn("token metadata unavailable",
				zap.String("coin_id", task.CoinID),
				zap.String("contract", task.Contract),
				zap.Error(err),
			)
		} else {
			rec.Symbol = md.Symbol
			rec.Name = md.Name
			rec.Decimals = md.Decimals
		}
	}

	if err := p.repo.UpsertCoin(ctx, rec); err != nil {
		metrics.CoinProvisioning.WithLabelValues("error").Inc()
		p.log.Error("coin upsert failed", zap.String("coin_id", task.CoinID), zap.Error(err))
		return
	}
	metrics.CoinProvisioning.WithLabelValues("ok").Inc()
	p.log.Debug("coin provisioned", zap.String("coin_id", task.CoinID), zap.String("symbol", rec.Symbol))
}
