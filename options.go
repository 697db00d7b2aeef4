package emissary

import (
	"log/slog"
	"math/rand/v2"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	databaseURL string
	catalogPath string
	storeDir    string
	logger      *slog.Logger
	version     string
	concurrency int

	catalog  Catalog
	ledger   LedgerGateway
	store    ObjectStore
	hasher   Hasher
	distance DistanceResolver
	carriers CarrierTracker
	docs     DocumentReader
	rng      *rand.Rand
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithCatalogPath overrides the SQLite factor snapshot path from config
// (EMISSARY_CATALOG_PATH env var). Used when no Postgres database is
// configured.
func WithCatalogPath(path string) Option {
	return func(o *resolvedOptions) { o.catalogPath = path }
}

// WithStoreDir overrides the encrypted object store directory from config
// (EMISSARY_STORE_DIR env var).
func WithStoreDir(dir string) Option {
	return func(o *resolvedOptions) { o.storeDir = dir }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithConcurrency bounds how many activities of a batch are computed in
// parallel.
func WithConcurrency(n int) Option {
	return func(o *resolvedOptions) { o.concurrency = n }
}

// WithCatalog replaces the configured emission-factor catalog (Postgres or
// SQLite) with an external implementation.
func WithCatalog(c Catalog) Option {
	return func(o *resolvedOptions) { o.catalog = c }
}

// WithLedgerGateway sets the gateway token issuance calls go through.
// Without one, tokens can only be queued, not issued.
func WithLedgerGateway(g LedgerGateway) Option {
	return func(o *resolvedOptions) { o.ledger = g }
}

// WithObjectStore replaces the default filesystem-backed encrypted store.
func WithObjectStore(s ObjectStore) Option {
	return func(o *resolvedOptions) { o.store = s }
}

// WithHasher replaces the default SHA-256 content hasher used for manifests.
func WithHasher(h Hasher) Option {
	return func(o *resolvedOptions) { o.hasher = h }
}

// WithDistanceResolver replaces the default great-circle distance resolver.
func WithDistanceResolver(d DistanceResolver) Option {
	return func(o *resolvedOptions) { o.distance = d }
}

// WithCarrierTracker enables external carrier tracking for shipments whose
// carrier the tracker supports.
func WithCarrierTracker(t CarrierTracker) Option {
	return func(o *resolvedOptions) { o.carriers = t }
}

// WithDocumentReader sets where uploaded supporting documents are read from.
func WithDocumentReader(r DocumentReader) Option {
	return func(o *resolvedOptions) { o.docs = r }
}

// WithRand sets the random source used for auditor assignment. Pass a seeded
// source for deterministic assignment in tests.
func WithRand(rng *rand.Rand) Option {
	return func(o *resolvedOptions) { o.rng = rng }
}
