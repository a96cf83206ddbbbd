// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jobrunner/demimport/internal/adapters/download"
	"github.com/jobrunner/demimport/internal/adapters/grass"
	"github.com/jobrunner/demimport/internal/adapters/metrics"
	"github.com/jobrunner/demimport/internal/adapters/storage"
	"github.com/jobrunner/demimport/internal/adapters/tileindex"
	"github.com/jobrunner/demimport/internal/application"
	"github.com/jobrunner/demimport/internal/catalog"
	"github.com/jobrunner/demimport/internal/config"
	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/input"
	"github.com/jobrunner/demimport/internal/ports/output"
	"github.com/jobrunner/demimport/internal/retry"
)

// projectorCache is the number of CRS pairs kept by the tile index projector.
const projectorCache = 16

// App holds all application components.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	GIS         output.GIS
	Downloader  *download.Client
	Catalog     *catalog.Catalog
	Matrix      domain.SupportMatrix
	Registry    *application.ImporterRegistry
	Local       *application.LocalImporter
	Dispatchers map[domain.Product]input.Dispatcher
	Composer    input.Composer
	Preflight   *application.PreflightService
	Metrics     *metrics.Collector

	storesMu sync.Mutex
	stores   map[string]output.ObjectStorage
}

// New creates and initializes a new application.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		Matrix: domain.OpenDataAvailability,
		stores: make(map[string]output.ObjectStorage),
	}
	if err := app.Matrix.Validate(); err != nil {
		return nil, fmt.Errorf("support matrix: %w", err)
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled() {
		app.Metrics = metrics.NewCollector(cfg.Metrics.Namespace)
		metricsCollector = app.Metrics
	}

	// Initialize download client
	client, err := download.New(download.Config{
		Timeout:   cfg.Download.Timeout,
		UserAgent: cfg.Download.UserAgent,
		Retry: retry.Policy{
			Attempts: cfg.Download.Retries,
			Delay:    cfg.Download.RetryDelay,
		},
	}, metricsCollector, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing download client: %w", err)
	}
	app.Downloader = client

	// Initialize GRASS session
	app.GIS = grass.New(grass.NewExecRunner(logger), grass.Config{
		Executable: cfg.GRASS.Executable,
		GISRC:      cfg.GRASS.GISRC,
		Memory:     cfg.GRASS.Memory,
	}, logger)

	// Initialize tile index opener
	projector, err := tileindex.NewProjector(projectorCache)
	if err != nil {
		return nil, fmt.Errorf("initializing projector: %w", err)
	}
	opener := tileindex.NewOpener(client, projector, logger)

	// Load open data catalog
	app.Catalog, err = catalog.Load(cfg.Catalog.File)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	// Initialize importer registry
	app.Registry, err = application.NewRegistryFromCatalog(app.Catalog, app.Matrix, application.ImporterDeps{
		GIS:        app.GIS,
		TileIndex:  opener,
		Downloader: client,
		Metrics:    metricsCollector,
		Logger:     logger,
		Workers:    cfg.Download.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing importers: %w", err)
	}

	app.Local = application.NewLocalImporter(app.openStorage, client, logger)

	app.Dispatchers = map[domain.Product]input.Dispatcher{
		domain.DTM: application.NewDispatcher(domain.DTM, app.GIS, app.Registry, app.Local, app.Matrix, logger),
		domain.DSM: application.NewDispatcher(domain.DSM, app.GIS, app.Registry, app.Local, app.Matrix, logger),
	}
	app.Composer = application.NewComposer(
		app.GIS,
		app.Registry,
		app.Dispatchers[domain.DSM],
		app.Dispatchers[domain.DTM],
		app.Local,
		app.Matrix,
		logger,
	)

	app.Preflight = application.NewPreflightService(app.GIS, app.Registry, app.Matrix)

	return app, nil
}

// openStorage opens a local-data root once per process.
func (a *App) openStorage(ctx context.Context, root string) (output.ObjectStorage, error) {
	a.storesMu.Lock()
	defer a.storesMu.Unlock()

	if store, ok := a.stores[root]; ok {
		return store, nil
	}

	cfg := a.Config.Storage
	store, err := storage.Open(ctx, root, storage.Options{
		Filter: storage.Filter(cfg.Extensions),
		S3: storage.S3Config{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		},
		Azure: storage.AzureConfig{
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
		},
		HTTP: storage.HTTPConfig{
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		},
	})
	if err != nil {
		return nil, err
	}
	a.stores[root] = store
	return store, nil
}

// Request is one import for several federal states.
type Request struct {
	Product domain.Product
	domain.ImportRequest
	States []domain.FederalState

	LocalDataDir string // DTM and DSM
	LocalNDSM    string
	LocalDSM     string
	LocalDTM     string
}

// Import runs the dispatcher or composer of req.Product and writes the
// output into a raster of its own.
func (a *App) Import(ctx context.Context, req Request) (result domain.ImportResult, err error) {
	aoi, cleanup, err := a.prepareAOI(ctx, req.AOI)
	if err != nil {
		return result, err
	}
	defer cleanup()
	req.AOI = aoi

	switch req.Product {
	case domain.NDSM:
		result, err = a.Composer.Compose(ctx, domain.ComposeRequest{
			ImportRequest: req.ImportRequest,
			States:        req.States,
			LocalNDSM:     req.LocalNDSM,
			LocalDSM:      req.LocalDSM,
			LocalDTM:      req.LocalDTM,
		})
	default:
		d, ok := a.Dispatchers[req.Product]
		if !ok {
			return result, fmt.Errorf("%s: %w", req.Product, domain.ErrUnknownProduct)
		}
		result, err = d.Dispatch(ctx, domain.DispatchRequest{
			ImportRequest: req.ImportRequest,
			States:        req.States,
			LocalDataDir:  req.LocalDataDir,
		})
	}
	if err != nil {
		return result, err
	}
	return result, a.finalize(ctx, result)
}

// ImportState runs the open data importer of one product and state.
func (a *App) ImportState(ctx context.Context, p domain.Product, s domain.FederalState, req domain.ImportRequest) (result domain.ImportResult, err error) {
	imp, err := a.Registry.Get(p, s)
	if err != nil {
		return result, err
	}

	aoi, cleanup, err := a.prepareAOI(ctx, req.AOI)
	if err != nil {
		return result, err
	}
	defer cleanup()
	req.AOI = aoi

	if result, err = imp.Import(ctx, req); err != nil {
		return result, err
	}
	return result, a.finalize(ctx, result)
}

func (a *App) finalize(ctx context.Context, result domain.ImportResult) error {
	if err := application.Finalize(ctx, a.GIS, result, a.Logger); err != nil {
		return fmt.Errorf("finalizing %s: %w", result.Output, err)
	}
	return nil
}

// prepareAOI imports a GeoJSON area of interest as a temporary vector map.
// Vector map names are returned as they are.
func (a *App) prepareAOI(ctx context.Context, aoi string) (string, func(), error) {
	if aoi == "" || !application.IsGeoJSONFile(aoi) {
		return aoi, func() {}, nil
	}

	name := "aoi_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	a.Logger.Debug("importing aoi", "file", aoi, "vector", name)
	if err := application.ImportAOI(ctx, a.GIS, aoi, name); err != nil {
		return "", nil, err
	}
	cleanup := func() {
		if err := a.GIS.Remove(context.WithoutCancel(ctx), output.KindVector, name); err != nil {
			a.Logger.Warn("failed to remove aoi", "vector", name, "error", err)
		}
	}
	return name, cleanup, nil
}

// Close writes the metrics textfile when metrics are enabled.
func (a *App) Close() error {
	if a.Metrics == nil {
		return nil
	}
	if err := a.Metrics.WriteTextfile(a.Config.Metrics.Textfile); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
