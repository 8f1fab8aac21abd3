package inventory

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine bundles the three services over one store.
type Engine struct {
	Stock  *StockEngine
	Assets *AssetMachine
	Repair *RepairOrchestrator
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	logger *zap.Logger
	clock  func() time.Time
}

// WithLogger sets the logger. Services get named children.
func WithLogger(l *zap.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) { c.clock = now }
}

// NewEngine wires the stock engine, asset machine and repair orchestrator.
func NewEngine(store TxStore, opts ...Option) *Engine {
	cfg := engineConfig{logger: zap.NewNop(), clock: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	stock := &StockEngine{Store: store, Clock: cfg.clock, Logger: cfg.logger.Named("stock")}
	assets := &AssetMachine{Store: store, Clock: cfg.clock, Logger: cfg.logger.Named("assets")}
	return &Engine{
		Stock:  stock,
		Assets: assets,
		Repair: &RepairOrchestrator{
			Store:  store,
			Stock:  stock,
			Assets: assets,
			Logger: cfg.logger.Named("repair"),
		},
	}
}

func newEntryID() EntryID { return EntryID(uuid.NewString()) }

func nowUTC(clock func() time.Time) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock().UTC()
}

func nopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
