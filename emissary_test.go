package emissary_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/verdantis/emissary"
	"github.com/verdantis/emissary/internal/litedb"
	"github.com/verdantis/emissary/internal/model"
)

func readKey(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.TrimSpace(string(b))
}

type capturingLedger struct {
	inputs []model.TokenIssueInput
}

func (l *capturingLedger) IssueTokens(_ context.Context, _ model.Caller, input model.TokenIssueInput) (model.TokenReceipt, error) {
	l.inputs = append(l.inputs, input)
	return model.TokenReceipt{TokenID: "1", Quantity: input.Quantity}, nil
}

func seedCatalog(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "factors.db")
	c, err := litedb.Open(ctx, path)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.InsertFactor(ctx, model.EmissionFactor{
		UUID:                      "flight-economy",
		Level1:                    "Business travel- air",
		ActivityUOM:               "passenger.km",
		CO2EquivalentEmissions:    "0.15",
		CO2EquivalentEmissionsUOM: "kg CO2e",
	}))
	require.NoError(t, c.InsertActivityFactorLookup(ctx, "flight", "economy",
		model.FactorQuery{Level1: "Business travel- air", ActivityUOM: "passenger.km"}))
	return path
}

func newTestApp(t *testing.T, ledger emissary.LedgerGateway) *emissary.App {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("EMISSARY_LEDGER_URL", "")
	t.Setenv("EMISSARY_ISSUE_FROM_ACCT", "0xfrom")
	t.Setenv("EMISSARY_ISSUE_TO_ACCT", "0xto")

	opts := []emissary.Option{
		emissary.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		emissary.WithCatalogPath(seedCatalog(t)),
		emissary.WithStoreDir(t.TempDir()),
	}
	if ledger != nil {
		opts = append(opts, emissary.WithLedgerGateway(ledger))
	}
	app, err := emissary.New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(context.Background()) })
	return app
}

func TestProcessAndIssueEndToEnd(t *testing.T) {
	ledger := &capturingLedger{}
	app := newTestApp(t, ledger)
	ctx := context.Background()

	activities, err := emissary.ParseActivities([]byte(`{"activities":[
		{"id":"f1","type":"flight","from":"37.6,-122.4","to":"47.4,-122.3","number_of_passengers":2},
		{"id":"bad"}
	]}`))
	require.NoError(t, err)
	require.Len(t, activities, 2)

	groups := app.ProcessActivities(ctx, activities)
	flight := groups.ByType["flight"]
	require.NotNil(t, flight)
	require.Len(t, flight.Content, 1)
	require.Greater(t, flight.TotalEmissions.Value, 0.0)
	require.Len(t, groups.Errors, 1, "unrecognized activity lands in errors")

	require.NoError(t, app.IssueTokens(ctx, &groups, nil))
	require.NotNil(t, flight.Token)
	require.Equal(t, "1", flight.Token.TokenID)

	require.Len(t, ledger.inputs, 1)
	require.Equal(t, "0xfrom", ledger.inputs[0].IssuedFrom)
	require.Equal(t, "0xto", ledger.inputs[0].IssuedTo)
	require.Positive(t, ledger.inputs[0].Quantity)
}

func TestIssueWithoutLedgerFails(t *testing.T) {
	app := newTestApp(t, nil)
	groups := emissary.GroupedResults{}
	err := app.IssueTokens(context.Background(), &groups, nil)
	require.ErrorIs(t, err, emissary.ErrLedgerNotConfigured)
}

func TestFetchIssuedContent(t *testing.T) {
	ledger := &capturingLedger{}
	app := newTestApp(t, ledger)
	ctx := context.Background()

	keyDir := t.TempDir()
	pubPath, privPath, err := emissary.GenerateKeyPair(keyDir, "auditor")
	require.NoError(t, err)
	pub := readKey(t, pubPath)
	priv := readKey(t, privPath)

	activities, err := emissary.ParseActivities([]byte(`[
		{"id":"f1","type":"flight","from":"37.6,-122.4","to":"47.4,-122.3"}
	]`))
	require.NoError(t, err)

	groups := app.ProcessActivities(ctx, activities)
	require.NoError(t, app.IssueTokens(ctx, &groups,
		[]emissary.RecipientKey{{Name: "auditor", Key: pub}}))

	// The manifest passed to the ledger locates the encrypted content.
	var manifest struct {
		Location string `json:"Location"`
		SHA256   string `json:"SHA256"`
	}
	require.Len(t, ledger.inputs, 1)
	require.NoError(t, json.Unmarshal([]byte(ledger.inputs[0].Manifest), &manifest))
	require.NotEmpty(t, manifest.Location)

	content, err := app.Fetch(ctx, manifest.Location, priv)
	require.NoError(t, err)

	var stored []model.ProcessedActivity
	require.NoError(t, json.Unmarshal(content, &stored))
	require.Len(t, stored, 1)
	require.Equal(t, "f1", stored[0].Activity.ID)
}
