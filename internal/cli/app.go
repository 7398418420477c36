package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/categorizer"
	"github.com/deepnoodle-ai/recon/config"
	"github.com/deepnoodle-ai/recon/control"
	"github.com/deepnoodle-ai/recon/ledger"
	"github.com/deepnoodle-ai/recon/nodes"
	"github.com/deepnoodle-ai/recon/notifier"
	"github.com/deepnoodle-ai/recon/postgres"
	"github.com/deepnoodle-ai/recon/redis"
	"github.com/deepnoodle-ai/recon/sqlite"
	"github.com/deepnoodle-ai/recon/state"
)

// ledgerStore is a ledger the CLI can also feed with items and categories.
type ledgerStore interface {
	ledger.Gateway
	AddItem(ctx context.Context, description string, amount decimal.Decimal) (state.Item, error)
	AddCategory(ctx context.Context, name string) error
}

// app holds the components opened for one command.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	ledger  ledgerStore
	service *control.Service
	closers []func() error
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	if cfg.Log.Format == "json" {
		return recon.NewJSONLogger(level), nil
	}
	return recon.NewLogger(level), nil
}

// openLedger opens only the ledger, for commands that do not traverse.
func openLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	switch cfg.Ledger.Kind {
	case config.LedgerSQLite:
		l, err := ledger.OpenSQLite(ctx, cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		a.ledger = l
		a.closers = append(a.closers, l.Close)
	case config.LedgerPostgres:
		l, err := ledger.OpenPostgres(ctx, cfg.Ledger.DSN)
		if err != nil {
			return nil, err
		}
		a.ledger = l
		a.closers = append(a.closers, l.Close)
	default:
		a.ledger = ledger.NewMemory()
	}
	for _, name := range cfg.Ledger.Categories {
		if err := a.ledger.AddCategory(ctx, name); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to seed category %q: %w", name, err)
		}
	}
	return a, nil
}

// open opens every component and wires the control service.
func open(ctx context.Context, cfg config.Config, logger *slog.Logger, callbacks recon.ExecutionCallbacks) (*app, error) {
	a, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.wire(ctx, callbacks); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, callbacks recon.ExecutionCallbacks) error {
	checkpointer, err := a.openCheckpointer(ctx)
	if err != nil {
		return err
	}
	suggester, err := a.openCategorizer()
	if err != nil {
		return err
	}
	delivery, err := a.openNotifier()
	if err != nil {
		return err
	}
	threshold, err := a.cfg.Threshold()
	if err != nil {
		return err
	}
	graph, err := nodes.NewGraph(nodes.Deps{
		Ledger:      a.ledger,
		Categorizer: suggester,
		Notifier:    delivery,
		Rules: nodes.Rules{
			MaterialityThreshold: threshold,
			IncomeCategories:     a.cfg.Audit.IncomeCategories,
		},
	})
	if err != nil {
		return err
	}
	var journal recon.Journal
	if a.cfg.JournalDir != "" {
		journal = recon.NewFileJournal(a.cfg.JournalDir)
	}
	executor, err := recon.NewExecutor(recon.ExecutorOptions{
		Graph:        graph,
		Checkpointer: checkpointer,
		Journal:      journal,
		Logger:       a.logger,
		Callbacks:    callbacks,
	})
	if err != nil {
		return err
	}
	a.service, err = control.New(control.Options{
		Executor: executor,
		Notifier: delivery,
		Logger:   a.logger,
	})
	return err
}

func (a *app) openCheckpointer(ctx context.Context) (recon.Checkpointer, error) {
	store := a.cfg.Store
	switch store.Kind {
	case config.StoreFile:
		return recon.NewFileCheckpointer(store.Path)
	case config.StoreSQLite:
		c, err := sqlite.Open(store.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	case config.StorePostgres:
		c, err := postgres.New(ctx, store.DSN, postgres.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		if err := c.Migrate(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case config.StoreRedis:
		c, err := redis.New(store.Addr,
			redis.WithPassword(store.Password),
			redis.WithDB(store.DB),
			redis.WithPrefix(store.Prefix))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	case config.StoreMemory:
		return recon.NewMemoryCheckpointer(), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", store.Kind)
	}
}

func (a *app) openCategorizer() (categorizer.Gateway, error) {
	cfg := a.cfg.Categorizer
	if cfg.Kind == config.CategorizerHTTP {
		return categorizer.NewHTTP(categorizer.HTTPOptions{
			URL:        cfg.URL,
			Token:      cfg.Token,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Logger:     a.logger,
		})
	}
	var rules categorizer.Rules
	if cfg.RulesPath != "" {
		loaded, err := categorizer.LoadRules(cfg.RulesPath)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	return categorizer.NewKeyword(rules), nil
}

func (a *app) openNotifier() (notifier.Gateway, error) {
	cfg := a.cfg.Notifier
	if cfg.Kind == config.NotifierWebhook {
		return notifier.NewWebhook(notifier.WebhookOptions{
			URL:       cfg.URL,
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
			Logger:    a.logger,
		})
	}
	return notifier.NewLog(a.logger), nil
}

// Close releases the opened components in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
