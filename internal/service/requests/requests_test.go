package requests

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/verdantis/emissary/internal/integrity"
	"github.com/verdantis/emissary/internal/model"
	"github.com/verdantis/emissary/internal/service/issuance"
	"github.com/verdantis/emissary/internal/service/manifest"
)

type fakeStore struct {
	requests map[uuid.UUID]*model.EmissionsRequest
	auditors []model.Wallet
	docs     map[uuid.UUID][]model.SupportingDocument
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests: make(map[uuid.UUID]*model.EmissionsRequest),
		docs:     make(map[uuid.UUID][]model.SupportingDocument),
	}
}

func (s *fakeStore) SelectCreated(context.Context) ([]model.EmissionsRequest, error) {
	var out []model.EmissionsRequest
	for _, r := range s.requests {
		if r.Status == model.RequestCreated {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) EmissionsRequest(_ context.Context, id uuid.UUID) (model.EmissionsRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return model.EmissionsRequest{}, errors.New("not found")
	}
	return *r, nil
}

func (s *fakeStore) AuditorsWithPublicKey(context.Context) ([]model.Wallet, error) {
	return s.auditors, nil
}

func (s *fakeStore) SupportingDocuments(_ context.Context, id uuid.UUID) ([]model.SupportingDocument, error) {
	return s.docs[id], nil
}

func (s *fakeStore) UpdateToPending(_ context.Context, id uuid.UUID, auditorAddress, publicKey, publicKeyName, manifestJSON string) error {
	r := s.requests[id]
	r.Status = model.RequestPending
	r.EmissionAuditor = auditorAddress
	r.PublicKey = publicKey
	r.PublicKeyName = publicKeyName
	r.TokenManifest = manifestJSON
	return nil
}

func (s *fakeStore) UpdateToIssued(_ context.Context, id uuid.UUID) error {
	s.requests[id].Status = model.RequestIssued
	return nil
}

type fakeDocs struct{ content map[uuid.UUID][]byte }

func (d fakeDocs) ReadDocument(_ context.Context, doc model.SupportingDocument) ([]byte, error) {
	return d.content[doc.UUID], nil
}

type memObjectStore struct {
	uploads map[string][]byte
}

func (s *memObjectStore) Upload(_ context.Context, filename string, content []byte, _ []manifest.RecipientKey) (model.StoredObject, error) {
	if s.uploads == nil {
		s.uploads = make(map[string][]byte)
	}
	s.uploads[filename] = content
	return model.StoredObject{Path: filename, Locator: "loc-" + filename}, nil
}

func (s *memObjectStore) Download(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

type fakeLedger struct {
	inputs []model.TokenIssueInput
	fail   bool
}

func (l *fakeLedger) IssueTokens(_ context.Context, _ model.Caller, input model.TokenIssueInput) (model.TokenReceipt, error) {
	if l.fail {
		return model.TokenReceipt{}, errors.New("gateway unavailable")
	}
	l.inputs = append(l.inputs, input)
	return model.TokenReceipt{TokenID: "7", Quantity: input.Quantity}, nil
}

func newTestService(store *fakeStore, docs DocumentReader, ledger issuance.LedgerGateway) (*Service, *memObjectStore) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	objects := &memObjectStore{}
	manifests := manifest.New(objects, &integrity.Hasher{}, logger)
	issuer := issuance.New(ledger, manifests, nil, logger)
	rng := rand.New(rand.NewPCG(1, 2))
	return New(store, docs, manifests, issuer, rng, logger), objects
}

func createdRequest(input string) *model.EmissionsRequest {
	return &model.EmissionsRequest{
		UUID:                uuid.New(),
		InputContent:        input,
		IssuedFrom:          "0xfrom",
		IssuedTo:            "0xto",
		Status:              model.RequestCreated,
		TokenFromDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		TokenThruDate:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		TokenTotalEmissions: 1500,
		TokenMetadata:       `{"Scope":3}`,
		TokenDescription:    "Emissions from flight",
	}
}

var auditor = model.Wallet{
	Address:       "0xauditor",
	Name:          "Auditor One",
	PublicKey:     "pubkey-data",
	PublicKeyName: "auditor-one.pem",
}

func TestProcessCreatedAssignsAuditor(t *testing.T) {
	store := newFakeStore()
	req := createdRequest(`[{"id":"a1"}]`)
	store.requests[req.UUID] = req
	store.auditors = []model.Wallet{auditor}

	svc, objects := newTestService(store, nil, &fakeLedger{})
	require.NoError(t, svc.ProcessCreated(context.Background()))

	got := store.requests[req.UUID]
	require.Equal(t, model.RequestPending, got.Status)
	require.Equal(t, "0xauditor", got.EmissionAuditor)
	require.Equal(t, "pubkey-data", got.PublicKey)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(got.TokenManifest), &m))
	require.Equal(t, "auditor-one.pem", m["Public Key"])
	require.Equal(t, "loc-content.json", m["Location"])
	require.NotEmpty(t, m["SHA256"])

	require.Equal(t, []byte(`[{"id":"a1"}]`), objects.uploads["content.json"])
}

func TestProcessCreatedNoRequests(t *testing.T) {
	store := newFakeStore()
	store.auditors = []model.Wallet{auditor}
	svc, _ := newTestService(store, nil, &fakeLedger{})
	require.NoError(t, svc.ProcessCreated(context.Background()))
}

func TestProcessCreatedNoAuditorsSkipsRun(t *testing.T) {
	store := newFakeStore()
	req := createdRequest(`[]`)
	store.requests[req.UUID] = req

	svc, _ := newTestService(store, nil, &fakeLedger{})
	require.NoError(t, svc.ProcessCreated(context.Background()))
	require.Equal(t, model.RequestCreated, store.requests[req.UUID].Status,
		"requests stay CREATED when no auditor is available")
}

func TestProcessCreatedUploadsSupportingDocument(t *testing.T) {
	store := newFakeStore()
	req := createdRequest(`[]`)
	store.requests[req.UUID] = req
	store.auditors = []model.Wallet{auditor}

	doc := model.SupportingDocument{UUID: uuid.New(), Name: "report.pdf"}
	extra := model.SupportingDocument{UUID: uuid.New(), Name: "notes.txt"}
	store.docs[req.UUID] = []model.SupportingDocument{doc, extra}
	docs := fakeDocs{content: map[uuid.UUID][]byte{doc.UUID: []byte("%PDF-")}}

	svc, objects := newTestService(store, docs, &fakeLedger{})
	require.NoError(t, svc.ProcessCreated(context.Background()))

	// Only the first document is uploaded, under an extension-only name.
	require.Equal(t, []byte("%PDF-"), objects.uploads["content.pdf"])
	require.Len(t, objects.uploads, 1)
}

func TestIssuePendingRequest(t *testing.T) {
	store := newFakeStore()
	req := createdRequest(`[]`)
	req.Status = model.RequestPending
	req.TokenManifest = `{"Location":"loc-1"}`
	store.requests[req.UUID] = req

	ledger := &fakeLedger{}
	svc, _ := newTestService(store, nil, ledger)

	receipt, err := svc.Issue(context.Background(), req.UUID, model.Caller{Address: "0xissuer"})
	require.NoError(t, err)
	require.Equal(t, "7", receipt.TokenID)
	require.Equal(t, model.RequestIssued, store.requests[req.UUID].Status)

	require.Len(t, ledger.inputs, 1)
	input := ledger.inputs[0]
	require.Equal(t, int64(1500), input.Quantity)
	require.Equal(t, "0xfrom", input.IssuedFrom)
	require.Equal(t, "0xto", input.IssuedTo)
	require.Equal(t, req.TokenFromDate.Unix(), input.FromDate)
	require.Equal(t, req.TokenManifest, input.Manifest)
}

func TestIssueRejectsNonPendingRequest(t *testing.T) {
	store := newFakeStore()
	req := createdRequest(`[]`)
	store.requests[req.UUID] = req

	svc, _ := newTestService(store, nil, &fakeLedger{})
	_, err := svc.Issue(context.Background(), req.UUID, model.Caller{})
	require.ErrorIs(t, err, ErrInvalidRequestState)
}

func TestIssueLeavesRequestPendingOnLedgerFailure(t *testing.T) {
	store := newFakeStore()
	req := createdRequest(`[]`)
	req.Status = model.RequestPending
	store.requests[req.UUID] = req

	svc, _ := newTestService(store, nil, &fakeLedger{fail: true})
	_, err := svc.Issue(context.Background(), req.UUID, model.Caller{})
	require.ErrorIs(t, err, issuance.ErrLedgerIssuanceFailed)
	require.Equal(t, model.RequestPending, store.requests[req.UUID].Status,
		"a failed ledger call must leave the request retryable")
}
