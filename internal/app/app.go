// Package app wires the loader parts together for the commands.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/CK6170/propeller-loader/discovery"
	"github.com/CK6170/propeller-loader/internal/config"
	"github.com/CK6170/propeller-loader/internal/history"
	"github.com/CK6170/propeller-loader/loader"
	"github.com/CK6170/propeller-loader/params"
	"github.com/CK6170/propeller-loader/shell"
	"github.com/CK6170/propeller-loader/update"
)

// App is a running set of parameters, discovery engine, update controller
// and upload history.
type App struct {
	Config     *config.Config
	Logger     loader.Logger
	Queue      *params.Queue
	Engine     *discovery.Engine
	Controller *update.Controller
	Loader     *shell.Loader
	// History is nil when the history database is disabled.
	History *history.Store

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options are the front-end specific parts.
type Options struct {
	Sink    update.Sink
	Confirm func(n int) bool
	// NoHistory skips opening the history database.
	NoHistory bool
}

// New builds the application and starts the parameters queue. Close stops it.
func New(cfg *config.Config, logger loader.Logger, o Options) (*App, error) {
	loaderOpts, err := cfg.LoaderOptions()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}
	if !o.NoHistory && cfg.HistoryDB != "" {
		a.History, err = history.Open(cfg.HistoryDB)
		if err != nil {
			return nil, err
		}
	}

	a.Queue = params.NewQueue(params.New())
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Queue.Run(ctx)
	}()

	a.Engine = discovery.New(cfg.DiscoveryOptions(logger, loaderOpts)...)

	ctrlOpts := []update.Option{
		update.WithDiscoverer(a.Engine),
		update.WithPortFactory(cfg.PortFor),
		update.WithLoaderOptions(loaderOpts...),
		update.WithLogger(logger),
	}
	if o.Sink != nil {
		ctrlOpts = append(ctrlOpts, update.WithSink(o.Sink))
	}
	if o.Confirm != nil {
		ctrlOpts = append(ctrlOpts, update.WithConfirm(o.Confirm))
	}
	if a.History != nil {
		ctrlOpts = append(ctrlOpts, update.WithRecorder(a.History))
	}
	a.Controller = update.New(a.Queue, ctrlOpts...)

	a.Loader = shell.New(a.Queue,
		shell.WithController(a.Controller),
		shell.WithDiscoverer(a.Engine),
		shell.WithAppDir(cfg.AppDir),
	)

	if err := a.Queue.Do(ctx, func(p *params.Parameters) {
		p.SetEnableLocal(cfg.Discovery.Local)
		p.SetEnableNetwork(cfg.Discovery.Network)
	}); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// LoadFirmware selects path as the firmware source. Embedded firmware cannot
// be replaced from a front-end.
func (a *App) LoadFirmware(ctx context.Context, path string, embedded bool) error {
	if err := a.Loader.HandleFileSelection(ctx, path); err != nil {
		return fmt.Errorf("load firmware: %w", err)
	}
	a.Loader.SetEmbeddedFirmware(embedded)
	return nil
}

// Close stops the queue and closes the history database.
func (a *App) Close() error {
	a.Loader.Stop()
	a.cancel()
	a.wg.Wait()
	if a.History != nil {
		return a.History.Close()
	}
	return nil
}
