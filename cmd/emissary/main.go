// Command emissary processes emission activity batches and issues or queues
// the resulting emission tokens.
//
// Typical runs:
//
//	emissary -f input.json -pubk auditor-public.key
//	emissary -f input.json -queue
//	emissary -processrequests
//	emissary -fetch <locator> -pk auditor-private.key
//	emissary -generatekeypair auditor
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/verdantis/emissary"
	"github.com/verdantis/emissary/internal/config"
	"github.com/verdantis/emissary/internal/secstore"
)

// version is set at build time via -ldflags.
var version = "dev"

// stringList collects repeatable flag values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type options struct {
	inputFile       string
	pubKeys         stringList
	privateKeyFile  string
	generateKeyPair string
	fetch           string
	queue           bool
	processRequests bool
	pretend         bool
	verbose         bool
}

func main() {
	os.Exit(run0())
}

func run0() int {
	var opts options
	flag.StringVar(&opts.inputFile, "f", "", "input activities JSON file")
	flag.Var(&opts.pubKeys, "pubk", "recipient public key file (repeatable)")
	flag.StringVar(&opts.privateKeyFile, "pk", "", "private key file, used with -fetch")
	flag.StringVar(&opts.generateKeyPair, "generatekeypair", "", "generate a key pair under the given name and exit")
	flag.StringVar(&opts.fetch, "fetch", "", "fetch and decrypt stored content by locator")
	flag.BoolVar(&opts.queue, "queue", false, "queue emissions requests instead of issuing tokens")
	flag.BoolVar(&opts.processRequests, "processrequests", false, "assign auditors to created emissions requests")
	flag.BoolVar(&opts.pretend, "pretend", false, "compute and print results without issuing or queueing")
	flag.BoolVar(&opts.verbose, "verbose", false, "print full grouped results instead of the per-activity summary")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("EMISSARY_LOG_LEVEL") == "debug" || opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Key generation and fetching work without a factor catalog.
	if opts.generateKeyPair != "" {
		pub, priv, err := emissary.GenerateKeyPair(".", opts.generateKeyPair)
		if err != nil {
			return err
		}
		fmt.Println(pub)
		fmt.Println(priv)
		return nil
	}
	if opts.fetch != "" {
		return fetchContent(ctx, opts, logger)
	}

	app, err := emissary.New(ctx, emissary.WithLogger(logger), emissary.WithVersion(version))
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	if opts.processRequests {
		return app.ProcessEmissionsRequests(ctx)
	}

	if opts.inputFile == "" {
		return fmt.Errorf("no input file: pass -f input.json")
	}
	input, err := os.ReadFile(opts.inputFile)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	activities, err := emissary.ParseActivities(input)
	if err != nil {
		return err
	}

	recipients, err := readRecipientKeys(opts.pubKeys)
	if err != nil {
		return err
	}

	groups := app.ProcessActivities(ctx, activities)

	switch {
	case opts.pretend:
		// Compute only; always show the full results.
		return printJSON(groups)
	case opts.queue:
		if err := app.QueueTokens(ctx, &groups); err != nil {
			logger.Error("queueing failed for some buckets", "error", err)
		}
	default:
		if err := app.IssueTokens(ctx, &groups, recipients); err != nil {
			logger.Error("issuance failed for some buckets", "error", err)
		}
	}

	if opts.verbose {
		return printJSON(groups)
	}
	return printJSON(summarize(groups))
}

func fetchContent(ctx context.Context, opts options, logger *slog.Logger) error {
	if opts.privateKeyFile == "" {
		return fmt.Errorf("fetching needs a private key: pass -pk <file>")
	}
	key, err := os.ReadFile(opts.privateKeyFile)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}
	store, err := secstore.New(config.FromEnv().StoreDir, logger)
	if err != nil {
		return err
	}
	content, err := store.Download(ctx, opts.fetch, strings.TrimSpace(string(key)))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(content)
	return err
}

// readRecipientKeys loads each public key file; the file name becomes the
// key's registered name.
func readRecipientKeys(paths []string) ([]emissary.RecipientKey, error) {
	var out []emissary.RecipientKey
	for _, path := range paths {
		key, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		out = append(out, emissary.RecipientKey{
			Name: filepath.Base(path),
			Key:  strings.TrimSpace(string(key)),
		})
	}
	return out, nil
}

// activityOutcome is one line of the short per-activity summary.
type activityOutcome struct {
	ID      string `json:"id"`
	TokenID string `json:"tokenId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// summarize flattens grouped results back to one outcome per input activity.
func summarize(groups emissary.GroupedResults) []activityOutcome {
	var out []activityOutcome
	bucket := func(g *emissary.GroupedResult) {
		for _, p := range g.Content {
			o := activityOutcome{ID: p.Activity.ID}
			switch {
			case g.Token != nil:
				o.TokenID = g.Token.TokenID
			case g.Error != "":
				o.Error = g.Error
			}
			out = append(out, o)
		}
	}
	for _, g := range groups.Shipments {
		bucket(g)
	}
	for _, g := range groups.ByType {
		bucket(g)
	}
	for _, p := range groups.Errors {
		out = append(out, activityOutcome{ID: p.Activity.ID, Error: p.Error})
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
