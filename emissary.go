// Package emissary is the public API for embedding the emissions computation
// and token issuance pipeline.
//
// Consumers construct an App, feed it activity batches, and either issue the
// resulting emission totals as ledger tokens or queue them as audit requests:
//
//	app, err := emissary.New(
//	    emissary.WithLogger(logger),
//	    emissary.WithLedgerGateway(myGateway),
//	)
//	if err != nil { ... }
//	defer app.Close(ctx)
//
//	activities, _ := emissary.ParseActivities(input)
//	groups := app.ProcessActivities(ctx, activities)
//
// The import graph enforces a strict no-cycle rule: emissary (root) imports
// internal/*, but internal/* never imports emissary (root). Public names are
// aliases of the internal types, so values flow across the boundary without
// conversion.
package emissary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/verdantis/emissary/internal/config"
	"github.com/verdantis/emissary/internal/distance"
	"github.com/verdantis/emissary/internal/factors"
	"github.com/verdantis/emissary/internal/integrity"
	"github.com/verdantis/emissary/internal/ledger"
	"github.com/verdantis/emissary/internal/litedb"
	"github.com/verdantis/emissary/internal/model"
	"github.com/verdantis/emissary/internal/secstore"
	"github.com/verdantis/emissary/internal/service/batch"
	"github.com/verdantis/emissary/internal/service/issuance"
	"github.com/verdantis/emissary/internal/service/manifest"
	"github.com/verdantis/emissary/internal/service/process"
	"github.com/verdantis/emissary/internal/service/requests"
	"github.com/verdantis/emissary/internal/storage"
	"github.com/verdantis/emissary/internal/telemetry"
	"github.com/verdantis/emissary/migrations"
)

// Domain types, re-exported for callers.
type (
	Activity          = model.Activity
	ProcessedActivity = model.ProcessedActivity
	GroupedResult     = model.GroupedResult
	GroupedResults    = model.GroupedResults
	EmissionFactor    = model.EmissionFactor
	EmissionsRequest  = model.EmissionsRequest
	TokenReceipt      = model.TokenReceipt
	Caller            = model.Caller
	KeyPair           = secstore.KeyPair
)

// Extension points, re-exported for callers.
type (
	Catalog          = factors.Catalog
	LedgerGateway    = issuance.LedgerGateway
	ObjectStore      = manifest.ObjectStore
	Hasher           = manifest.Hasher
	RecipientKey     = manifest.RecipientKey
	DistanceResolver = process.DistanceResolver
	CarrierTracker   = process.CarrierTracker
	DocumentReader   = requests.DocumentReader
)

// ErrLedgerNotConfigured is returned by issuance operations when no ledger
// gateway was provided.
var ErrLedgerNotConfigured = errors.New("emissary: no ledger gateway configured")

// ErrRequestsNotConfigured is returned by request lifecycle operations when
// no Postgres database is configured; the request store lives there.
var ErrRequestsNotConfigured = errors.New("emissary: request lifecycle needs a database")

// ParseActivities decodes a JSON activity batch: either {"activities": [...]}
// or a bare array.
func ParseActivities(data []byte) ([]Activity, error) {
	return model.ParseActivities(data)
}

// GenerateKeyPair writes a fresh recipient key pair as <name>-public.key and
// <name>-private.key under dir, returning the two paths.
func GenerateKeyPair(dir, name string) (publicPath, privatePath string, err error) {
	return secstore.WriteKeyPair(dir, name)
}

// App is the pipeline lifecycle. Construct with New(); it has no public
// fields — use New() options to configure it.
type App struct {
	cfg       config.Config
	db        *storage.DB     // nil when running on a SQLite snapshot
	lite      *litedb.Catalog // nil when running on Postgres
	store     ObjectStore
	manifests *manifest.Service
	processor *process.Service
	issuer    *issuance.Service
	lifecycle *requests.Service // nil without a database

	hasLedger    bool
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the pipeline. It connects to the factor catalog, runs
// migrations when on Postgres, and wires all services. It does not start any
// goroutines.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg := config.FromEnv()
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.catalogPath != "" {
		cfg.CatalogPath = o.catalogPath
	}
	if o.storeDir != "" {
		cfg.StoreDir = o.storeDir
	}
	if o.concurrency > 0 {
		cfg.Concurrency = o.concurrency
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if o.catalog == nil {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("emissary starting", "version", version)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	gateway := o.ledger
	if gateway == nil && cfg.LedgerURL != "" {
		gateway = ledger.NewHTTPGateway(cfg.LedgerURL, logger)
	}

	app := &App{
		cfg:          cfg,
		hasLedger:    gateway != nil,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}
	fail := func(err error) (*App, error) {
		app.Close(context.Background())
		return nil, err
	}

	// Factor catalog: external override, then Postgres, then SQLite snapshot.
	catalog := o.catalog
	switch {
	case catalog != nil:
	case cfg.DatabaseURL != "":
		app.db, err = storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fail(fmt.Errorf("storage: %w", err))
		}
		if err := app.db.RunMigrations(ctx, migrations.FS); err != nil {
			return fail(fmt.Errorf("migrations: %w", err))
		}
		catalog = app.db
	case cfg.CatalogPath != "":
		app.lite, err = litedb.Open(ctx, cfg.CatalogPath)
		if err != nil {
			return fail(fmt.Errorf("catalog: %w", err))
		}
		catalog = app.lite
	default:
		return fail(errors.New("emissary: no factor catalog configured"))
	}

	app.store = o.store
	if app.store == nil {
		app.store, err = secstore.New(cfg.StoreDir, logger)
		if err != nil {
			return fail(fmt.Errorf("object store: %w", err))
		}
	}
	var hasher Hasher = &integrity.Hasher{}
	if o.hasher != nil {
		hasher = o.hasher
	}
	app.manifests = manifest.New(app.store, hasher, logger)

	var dist DistanceResolver = distance.Haversine{}
	if o.distance != nil {
		dist = o.distance
	}
	resolver := factors.NewResolver(catalog)
	app.processor = process.New(resolver, dist, o.carriers, cfg.Concurrency, logger)

	var reqStore issuance.RequestStore
	if app.db != nil {
		reqStore = app.db
	}
	app.issuer = issuance.New(gateway, app.manifests, reqStore, logger)

	if app.db != nil {
		docs := o.docs
		if docs == nil && cfg.DocUploadPath != "" {
			docs = requests.FileDocumentReader{Dir: cfg.DocUploadPath}
		}
		rng := o.rng
		if rng == nil {
			rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
		app.lifecycle = requests.New(app.db, docs, app.manifests, app.issuer, rng, logger)
	}

	return app, nil
}

// ProcessActivities computes every activity of a batch and groups the
// results for issuance. Individual activity failures are captured per entry,
// never failing the batch.
func (a *App) ProcessActivities(ctx context.Context, activities []Activity) GroupedResults {
	processed := a.processor.ProcessAll(ctx, activities)
	return batch.Group(processed, time.Now().UTC())
}

// IssueTokens issues one token per result bucket using the configured ledger
// accounts, encrypting the bucket content to the given recipients. Receipts
// and failures are recorded on the buckets.
func (a *App) IssueTokens(ctx context.Context, groups *GroupedResults, recipients []RecipientKey) error {
	if !a.hasLedger {
		return ErrLedgerNotConfigured
	}
	return a.issuer.IssueAll(ctx, a.caller(), a.cfg.IssueFromAccount, a.cfg.IssueToAccount, groups, recipients)
}

// QueueTokens records one CREATED emissions request per result bucket
// instead of issuing directly. An auditor is assigned later by
// ProcessEmissionsRequests.
func (a *App) QueueTokens(ctx context.Context, groups *GroupedResults) error {
	if a.db == nil {
		return ErrRequestsNotConfigured
	}
	return a.issuer.QueueAll(ctx, a.cfg.IssueFromAccount, a.cfg.IssueToAccount, groups)
}

// ProcessEmissionsRequests assigns a randomly chosen auditor to every
// CREATED request, uploads its content encrypted to that auditor, and moves
// it to PENDING.
func (a *App) ProcessEmissionsRequests(ctx context.Context) error {
	if a.lifecycle == nil {
		return ErrRequestsNotConfigured
	}
	return a.lifecycle.ProcessCreated(ctx)
}

// IssueEmissionsRequest submits a PENDING request to the ledger and marks it
// ISSUED. On a failed ledger call the request stays PENDING for retry.
func (a *App) IssueEmissionsRequest(ctx context.Context, id uuid.UUID) (TokenReceipt, error) {
	if a.lifecycle == nil {
		return TokenReceipt{}, ErrRequestsNotConfigured
	}
	if !a.hasLedger {
		return TokenReceipt{}, ErrLedgerNotConfigured
	}
	return a.lifecycle.Issue(ctx, id, a.caller())
}

// Fetch retrieves and decrypts stored content by its manifest locator.
func (a *App) Fetch(ctx context.Context, locator, privateKey string) ([]byte, error) {
	return a.manifests.Download(ctx, locator, privateKey)
}

// Close releases the catalog connection and flushes telemetry.
func (a *App) Close(ctx context.Context) {
	if a.db != nil {
		a.db.Close()
	}
	if a.lite != nil {
		_ = a.lite.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
}

func (a *App) caller() Caller {
	return Caller{Address: a.cfg.IssueByAccount, PrivateKey: a.cfg.IssueByKey}
}
