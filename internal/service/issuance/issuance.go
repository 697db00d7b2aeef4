// Package issuance turns grouped emission totals into ledger tokens, either
// immediately or by queueing an audit request for later issuance.
package issuance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/verdantis/emissary/internal/model"
	"github.com/verdantis/emissary/internal/service/manifest"
	"github.com/verdantis/emissary/internal/telemetry"
)

// ErrLedgerIssuanceFailed is returned when the ledger gateway rejects or
// fails a token issuance call.
var ErrLedgerIssuanceFailed = errors.New("issuance: ledger token issuance failed")

// LedgerGateway submits token issuance calls to the ledger on behalf of a
// caller account.
type LedgerGateway interface {
	IssueTokens(ctx context.Context, caller model.Caller, input model.TokenIssueInput) (model.TokenReceipt, error)
}

// RequestStore persists queued emissions requests.
type RequestStore interface {
	InsertEmissionsRequest(ctx context.Context, r model.EmissionsRequest) (model.EmissionsRequest, error)
}

// TokensFromKg converts an emission total in kgCO2e into the ledger's token
// quantity, 1000 tokens per kg, rounded to the nearest whole token.
func TokensFromKg(kg float64) int64 {
	return int64(math.Round(kg * 1000))
}

// Metadata builds the token metadata for a bucket total. Mode is included
// only for transport buckets that have one.
func Metadata(totalKg float64, activityType, mode string) map[string]any {
	m := map[string]any{
		"Total emissions": math.Round(totalKg*1000) / 1000,
		"UOM":             "kgCO2e",
		"Scope":           3,
		"Type":            activityType,
	}
	if mode != "" {
		m["Mode"] = mode
	}
	return m
}

// Description is the human-readable token description for an activity type.
func Description(activityType string) string {
	return "Emissions from " + activityType
}

// Service issues and queues emission tokens.
type Service struct {
	ledger    LedgerGateway
	manifests *manifest.Service
	requests  RequestStore
	logger    *slog.Logger

	// One issuance call in flight per issuer account; concurrent calls for
	// the same account would collide on the account nonce.
	mu       sync.Mutex
	accounts map[string]*sync.Mutex

	issued metric.Int64Counter
}

// New creates an issuance Service. requests may be nil when queueing is not
// used; ledger may be nil when only queueing is.
func New(ledger LedgerGateway, manifests *manifest.Service, requests RequestStore, logger *slog.Logger) *Service {
	meter := telemetry.Meter("emissary/issuance")
	issued, _ := meter.Int64Counter("emissary.tokens.issued",
		metric.WithDescription("Tokens issued to the ledger"),
	)
	return &Service{
		ledger:    ledger,
		manifests: manifests,
		requests:  requests,
		logger:    logger,
		accounts:  make(map[string]*sync.Mutex),
		issued:    issued,
	}
}

func (s *Service) accountLock(account string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.accounts[account]
	if !ok {
		l = new(sync.Mutex)
		s.accounts[account] = l
	}
	return l
}

// IssueForGroup uploads a bucket's content, builds its manifest, and issues
// one token for the bucket total.
func (s *Service) IssueForGroup(ctx context.Context, caller model.Caller, issuedFrom, issuedTo string, group *model.GroupedResult, activityType, mode string, recipients []manifest.RecipientKey) (model.TokenReceipt, error) {
	content, err := json.Marshal(group.Content)
	if err != nil {
		return model.TokenReceipt{}, fmt.Errorf("issuance: marshal %s content: %w", activityType, err)
	}
	obj, hash, err := s.manifests.Upload(ctx, "content.json", content, recipients)
	if err != nil {
		return model.TokenReceipt{}, err
	}
	manifestJSON, err := manifest.Marshal(manifest.Build(recipients, obj, hash))
	if err != nil {
		return model.TokenReceipt{}, err
	}
	metadataJSON, err := json.Marshal(Metadata(group.TotalEmissions.Value, activityType, mode))
	if err != nil {
		return model.TokenReceipt{}, fmt.Errorf("issuance: marshal metadata: %w", err)
	}

	from, thru := groupDates(group)
	input := model.TokenIssueInput{
		IssuedFrom:  issuedFrom,
		IssuedTo:    issuedTo,
		Quantity:    TokensFromKg(group.TotalEmissions.Value),
		FromDate:    from.Unix(),
		ThruDate:    thru.Unix(),
		Manifest:    manifestJSON,
		Metadata:    string(metadataJSON),
		Description: Description(activityType),
	}

	receipt, err := s.Issue(ctx, caller, input)
	if err != nil {
		return model.TokenReceipt{}, err
	}
	s.logger.Info("issued token",
		"token_id", receipt.TokenID, "quantity", input.Quantity, "type", activityType)
	return receipt, nil
}

// Issue submits one prepared issuance call, serialized per issuer account so
// concurrent calls cannot collide on the account nonce.
func (s *Service) Issue(ctx context.Context, caller model.Caller, input model.TokenIssueInput) (model.TokenReceipt, error) {
	lock := s.accountLock(input.IssuedFrom)
	lock.Lock()
	receipt, err := s.ledger.IssueTokens(ctx, caller, input)
	lock.Unlock()
	if err != nil {
		return model.TokenReceipt{}, fmt.Errorf("%w: %v", ErrLedgerIssuanceFailed, err)
	}
	s.issued.Add(ctx, 1)
	return receipt, nil
}

// IssueAll issues one token per bucket, recording the receipt or the failure
// on each bucket. A failing bucket does not stop the others; the combined
// error is returned alongside.
func (s *Service) IssueAll(ctx context.Context, caller model.Caller, issuedFrom, issuedTo string, groups *model.GroupedResults, recipients []manifest.RecipientKey) error {
	var errs []error
	issue := func(group *model.GroupedResult, activityType, mode string) {
		receipt, err := s.IssueForGroup(ctx, caller, issuedFrom, issuedTo, group, activityType, mode, recipients)
		if err != nil {
			group.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", activityType, err))
			return
		}
		group.Token = &receipt
	}
	for mode, group := range groups.Shipments {
		issue(group, string(model.KindShipment), mode)
	}
	for activityType, group := range groups.ByType {
		issue(group, activityType, "")
	}
	return errors.Join(errs...)
}

// QueueForGroup records a bucket as a CREATED emissions request instead of
// issuing it. The auditor and manifest are assigned later by request
// processing.
func (s *Service) QueueForGroup(ctx context.Context, issuedFrom, issuedTo string, group *model.GroupedResult, activityType, mode string) (model.EmissionsRequest, error) {
	content, err := json.Marshal(group.Content)
	if err != nil {
		return model.EmissionsRequest{}, fmt.Errorf("issuance: marshal %s content: %w", activityType, err)
	}
	metadataJSON, err := json.Marshal(Metadata(group.TotalEmissions.Value, activityType, mode))
	if err != nil {
		return model.EmissionsRequest{}, fmt.Errorf("issuance: marshal metadata: %w", err)
	}

	from, thru := groupDates(group)
	req, err := s.requests.InsertEmissionsRequest(ctx, model.EmissionsRequest{
		InputContent:        string(content),
		IssuedFrom:          issuedFrom,
		IssuedTo:            issuedTo,
		Status:              model.RequestCreated,
		TokenFromDate:       from,
		TokenThruDate:       thru,
		TokenTotalEmissions: TokensFromKg(group.TotalEmissions.Value),
		TokenMetadata:       string(metadataJSON),
		TokenDescription:    Description(activityType),
	})
	if err != nil {
		return model.EmissionsRequest{}, fmt.Errorf("issuance: queue %s request: %w", activityType, err)
	}
	s.logger.Info("queued emissions request", "uuid", req.UUID, "type", activityType)
	return req, nil
}

// QueueAll queues one request per bucket. Like IssueAll, failures are
// recorded per bucket and combined.
func (s *Service) QueueAll(ctx context.Context, issuedFrom, issuedTo string, groups *model.GroupedResults) error {
	var errs []error
	queue := func(group *model.GroupedResult, activityType, mode string) {
		if _, err := s.QueueForGroup(ctx, issuedFrom, issuedTo, group, activityType, mode); err != nil {
			group.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", activityType, err))
		}
	}
	for mode, group := range groups.Shipments {
		queue(group, string(model.KindShipment), mode)
	}
	for activityType, group := range groups.ByType {
		queue(group, activityType, "")
	}
	return errors.Join(errs...)
}

// groupDates returns the bucket's date range, falling back to now for an
// empty bucket.
func groupDates(group *model.GroupedResult) (time.Time, time.Time) {
	now := time.Now().UTC()
	from, thru := now, now
	if group.FromDate != nil {
		from = *group.FromDate
	}
	if group.ThruDate != nil {
		thru = *group.ThruDate
	}
	return from, thru
}
