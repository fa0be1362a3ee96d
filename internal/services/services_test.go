package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypernova-labs/anaf-service/internal/anaf"
	"github.com/hypernova-labs/anaf-service/internal/codec"
	"github.com/hypernova-labs/anaf-service/internal/config"
	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/hypernova-labs/anaf-service/internal/ratelimit"
	"github.com/hypernova-labs/anaf-service/internal/validation"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		DefaultDaysBack:    60,
		LookbackFloor:      10,
		ProgressEvery:      5,
		LateSubmissionDays: 5,
	}
}

func testCompany() *models.Company {
	return &models.Company{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		CIF:            "87654321",
		Name:           "Client SRL",
		Address:        "Bd. Unirii 10",
		City:           "Bucuresti",
		County:         "B",
		Country:        "RO",
		VATRates:       []string{"21.00"},
		DefaultSeries:  "FACT",
	}
}

func outgoingDocument(companyID uuid.UUID) *models.Document {
	doc := &models.Document{
		ID:        uuid.New(),
		CompanyID: companyID,
		Type:      models.DocumentTypeInvoice,
		Direction: models.DirectionOutgoing,
		Series:    "FCT",
		Number:    "0042",
		Status:    models.DocumentStatusIssued,
		IssueDate: time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC),
		Currency:  "RON",
		Supplier: &models.Party{
			CIF: "87654321", Name: "Client SRL", Address: "Bd. Unirii 10",
			City: "Bucuresti", County: "B", Country: "RO",
		},
		Customer: &models.Party{
			CIF: "12345678", Name: "Furnizor SRL", Address: "Str. Exemplu 1",
			City: "Cluj-Napoca", County: "CJ", Country: "RO",
		},
		AnafStatus: models.AnafStatusPending,
	}
	doc.Lines = []models.Line{{
		Description: "Serviciu consultanta",
		Quantity:    decimal.NewFromInt(2),
		Unit:        "ora",
		UnitPrice:   decimal.RequireFromString("1250.00"),
		VATRate:     decimal.NewFromInt(21),
		VATCategory: "S",
	}}
	doc.Lines[0].ComputeTotals()
	doc.Subtotal = doc.Lines[0].LineTotal
	doc.VATTotal = doc.Lines[0].VATAmount
	doc.Total = doc.Subtotal.Add(doc.VATTotal)
	return doc
}

// incomingInvoiceXML renders a received invoice the way the authority
// delivers it, with the tenant on the customer side.
func incomingInvoiceXML(t *testing.T, number string) []byte {
	t.Helper()

	iban := "RO49AAAA1B31007593840000"
	doc := &models.Document{
		ID:        uuid.New(),
		Type:      models.DocumentTypeInvoice,
		Number:    number,
		IssueDate: time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC),
		Currency:  "RON",
		Supplier: &models.Party{
			CIF: "12345678", Name: "Furnizor SRL", Address: "Str. Exemplu 1",
			City: "Cluj-Napoca", County: "CJ", Country: "RO", BankAccount: &iban,
		},
		Customer: &models.Party{
			CIF: "87654321", Name: "Client SRL", Address: "Bd. Unirii 10",
			City: "Bucuresti", County: "B", Country: "RO",
		},
		Lines: []models.Line{
			{
				Description: "Serviciu consultanta",
				Quantity:    decimal.NewFromInt(2),
				Unit:        "ora",
				UnitPrice:   decimal.RequireFromString("1250.00"),
				VATRate:     decimal.NewFromInt(21),
				VATCategory: "S",
			},
			{
				Description: "Licenta software",
				Quantity:    decimal.NewFromInt(1),
				Unit:        "buc",
				UnitPrice:   decimal.RequireFromString("300.00"),
				VATRate:     decimal.NewFromInt(21),
				VATCategory: "S",
			},
		},
	}
	subtotal := decimal.Zero
	vat := decimal.Zero
	for i := range doc.Lines {
		doc.Lines[i].ComputeTotals()
		subtotal = subtotal.Add(doc.Lines[i].LineTotal)
		vat = vat.Add(doc.Lines[i].VATAmount)
	}
	doc.Subtotal = subtotal
	doc.VATTotal = vat
	doc.Total = subtotal.Add(vat)

	out, err := codec.GenerateUBL(doc)
	require.NoError(t, err)
	return out
}

// externalInvoiceXML renders an invoice the tenant issued through other
// software, with the tenant on the supplier side.
func externalInvoiceXML(t *testing.T, series, number string) []byte {
	t.Helper()

	doc := outgoingDocument(uuid.Nil)
	doc.Series = series
	doc.Number = number
	out, err := codec.GenerateUBL(doc)
	require.NoError(t, err)
	return out
}

func zipPayload(t *testing.T, xmlData []byte, withSignature bool) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	entry, err := w.Create("4001.xml")
	require.NoError(t, err)
	_, err = entry.Write(xmlData)
	require.NoError(t, err)

	if withSignature {
		sig, err := w.Create("semnatura_4001.xml")
		require.NoError(t, err)
		_, err = sig.Write([]byte("<Signature/>"))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	return buf.Bytes()
}

// --- fakes -----------------------------------------------------------------

type fakeDocs struct {
	docs       map[uuid.UUID]*models.Document
	createErr  error
	createdIDs []uuid.UUID
}

func newFakeDocs(docs ...*models.Document) *fakeDocs {
	f := &fakeDocs{docs: make(map[uuid.UUID]*models.Document)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeDocs) Create(doc *models.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.docs[doc.ID] = doc
	f.createdIDs = append(f.createdIDs, doc.ID)
	return nil
}

func (f *fakeDocs) GetByID(id uuid.UUID) (*models.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document not found: %s", id)
	}
	return doc, nil
}

func (f *fakeDocs) GetByUploadID(companyID uuid.UUID, uploadID string) (*models.Document, error) {
	for _, d := range f.docs {
		if d.CompanyID == companyID && d.AnafUploadID != nil && *d.AnafUploadID == uploadID {
			return d, nil
		}
	}
	return nil, nil
}

func (f *fakeDocs) FindByNumber(companyID uuid.UUID, fullNumber string, direction models.DocumentDirection) (*models.Document, error) {
	for _, d := range f.docs {
		if d.CompanyID == companyID && d.Direction == direction && d.FullNumber() == fullNumber {
			return d, nil
		}
	}
	return nil, nil
}

func (f *fakeDocs) UpdateAnafStatus(id uuid.UUID, status models.AnafStatus, errorMessage *string) error {
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.AnafStatus = status
	doc.AnafErrorMessage = errorMessage
	return nil
}

func (f *fakeDocs) TransitionAnafStatus(id uuid.UUID, from, to models.AnafStatus) (bool, error) {
	doc, ok := f.docs[id]
	if !ok {
		return false, fmt.Errorf("document not found: %s", id)
	}
	if doc.AnafStatus != from {
		return false, nil
	}
	doc.AnafStatus = to
	return true, nil
}

func (f *fakeDocs) SetUploadID(id uuid.UUID, uploadID string) error {
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.AnafUploadID = &uploadID
	doc.AnafStatus = models.AnafStatusUploaded
	return nil
}

func (f *fakeDocs) SetDownloadID(id uuid.UUID, downloadID string) error {
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.AnafDownloadID = &downloadID
	doc.AnafStatus = models.AnafStatusOK
	return nil
}

func (f *fakeDocs) SetStorageKey(id uuid.UUID, key string) error {
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.StorageKey = &key
	return nil
}

func (f *fakeDocs) MarkSynced(id uuid.UUID, messageID string) error {
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.Status = models.DocumentStatusSynced
	doc.AnafMessageID = &messageID
	now := time.Now()
	doc.SyncedAt = &now
	return nil
}

type fakeInbox struct {
	rows     []*models.InboxMessage
	existing map[string]bool
	failOn   string
}

func (f *fakeInbox) Create(msg *models.InboxMessage) error {
	if f.failOn != "" && msg.AnafMessageID == f.failOn {
		return fmt.Errorf("insert failed")
	}
	f.rows = append(f.rows, msg)
	return nil
}

func (f *fakeInbox) ExistingMessageIDs(companyID uuid.UUID, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, id := range ids {
		if f.existing[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeInbox) find(id uuid.UUID) *models.InboxMessage {
	for _, row := range f.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func (f *fakeInbox) MarkProcessed(id uuid.UUID, documentID *uuid.UUID) error {
	row := f.find(id)
	if row == nil {
		return fmt.Errorf("inbox message not found")
	}
	row.Status = models.MessageStatusProcessed
	row.DocumentID = documentID
	return nil
}

func (f *fakeInbox) MarkError(id uuid.UUID, message string) error {
	row := f.find(id)
	if row == nil {
		return fmt.Errorf("inbox message not found")
	}
	row.Status = models.MessageStatusError
	row.ErrorMessage = &message
	return nil
}

type fakeParties struct {
	parties []*models.Party
}

func (f *fakeParties) Create(party *models.Party) error {
	f.parties = append(f.parties, party)
	return nil
}

func (f *fakeParties) GetByCIF(companyID uuid.UUID, cif string) (*models.Party, error) {
	for _, p := range f.parties {
		if p.CompanyID == companyID && p.CIF == cif {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeParties) GetByName(companyID uuid.UUID, name string) (*models.Party, error) {
	for _, p := range f.parties {
		if p.CompanyID == companyID && p.Name == name {
			return p, nil
		}
	}
	return nil, nil
}

type fakeProducts struct {
	products []*models.Product
}

func (f *fakeProducts) Create(product *models.Product) error {
	f.products = append(f.products, product)
	return nil
}

func (f *fakeProducts) GetByName(companyID uuid.UUID, name string) (*models.Product, error) {
	for _, p := range f.products {
		if p.CompanyID == companyID && p.Name == name {
			return p, nil
		}
	}
	return nil, nil
}

type fakeCompanies struct {
	company  *models.Company
	series   []*models.Series
	syncedAt *time.Time
}

func (f *fakeCompanies) GetByID(id uuid.UUID) (*models.Company, error) {
	if f.company == nil || f.company.ID != id {
		return nil, fmt.Errorf("company not found: %s", id)
	}
	return f.company, nil
}

func (f *fakeCompanies) UpdateLastSyncedAt(id uuid.UUID, at time.Time) error {
	f.syncedAt = &at
	return nil
}

func (f *fakeCompanies) GetDefaultSeries(companyID uuid.UUID, docType models.DocumentType) (*models.Series, error) {
	for _, s := range f.series {
		if s.CompanyID == companyID && s.DocType == docType && s.IsDefault {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeCompanies) GetSeriesByPrefix(companyID uuid.UUID, prefix string, docType models.DocumentType) (*models.Series, error) {
	for _, s := range f.series {
		if s.CompanyID == companyID && s.Prefix == prefix && s.DocType == docType {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeCompanies) CreateSeries(series *models.Series) error {
	f.series = append(f.series, series)
	return nil
}

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) Resolve(ctx context.Context, company *models.Company) (string, error) {
	return f.token, f.err
}

func (f *fakeTokens) InvalidateCIF(ctx context.Context, company *models.Company) error {
	return nil
}

type fakeAuthority struct {
	uploadResult *anaf.UploadResult
	uploadErr    error
	uploads      int

	statusResult *anaf.StatusResult
	statusErr    error

	messages []anaf.RawMessage
	listErr  error

	downloads     map[string][]byte
	downloadErr   map[string]error
	downloadCalls int
}

func (f *fakeAuthority) Upload(ctx context.Context, xmlPayload []byte, cif, token string) (*anaf.UploadResult, error) {
	f.uploads++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return f.uploadResult, nil
}

func (f *fakeAuthority) CheckStatus(ctx context.Context, uploadID, token string) (*anaf.StatusResult, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statusResult, nil
}

func (f *fakeAuthority) ListMessages(ctx context.Context, cif, token string, days int) ([]anaf.RawMessage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.messages, nil
}

func (f *fakeAuthority) Download(ctx context.Context, id, token string) ([]byte, error) {
	f.downloadCalls++
	if err, ok := f.downloadErr[id]; ok {
		return nil, err
	}
	data, ok := f.downloads[id]
	if !ok {
		return nil, fmt.Errorf("no payload for %s", id)
	}
	return data, nil
}

type fakeArchiver struct {
	keys []string
	err  error
}

func (f *fakeArchiver) StoreDocumentXML(ctx context.Context, cif string, documentID uuid.UUID, issueDate time.Time, payload []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	key := fmt.Sprintf("%s/%04d/%02d/%s.xml", cif, issueDate.Year(), int(issueDate.Month()), documentID)
	f.keys = append(f.keys, key)
	return key, nil
}

type publishedEvent struct {
	name string
	data map[string]interface{}
}

type fakeEvents struct {
	events []publishedEvent
}

func (f *fakeEvents) Publish(ctx context.Context, name string, data map[string]interface{}) error {
	f.events = append(f.events, publishedEvent{name: name, data: data})
	return nil
}

func (f *fakeEvents) names() []string {
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.name)
	}
	return out
}

type fakeNotifier struct {
	results []*models.SyncResult
}

func (f *fakeNotifier) SyncCompleted(company *models.Company, result *models.SyncResult) error {
	f.results = append(f.results, result)
	return nil
}

type fakeValidator struct {
	result  *validation.Result
	payload []byte
}

func (f *fakeValidator) Validate(ctx context.Context, doc *models.Document, company *models.Company) (*validation.Result, []byte) {
	return f.result, f.payload
}

// --- submission ------------------------------------------------------------

type submissionFixture struct {
	docs      *fakeDocs
	companies *fakeCompanies
	validator *fakeValidator
	archiver  *fakeArchiver
	tokens    *fakeTokens
	authority *fakeAuthority
	events    *fakeEvents
	service   *SubmissionService
	doc       *models.Document
}

func newSubmissionFixture() *submissionFixture {
	company := testCompany()
	doc := outgoingDocument(company.ID)

	f := &submissionFixture{
		docs:      newFakeDocs(doc),
		companies: &fakeCompanies{company: company},
		validator: &fakeValidator{result: &validation.Result{Valid: true}, payload: []byte("<Invoice/>")},
		archiver:  &fakeArchiver{},
		tokens:    &fakeTokens{token: "tok-1"},
		authority: &fakeAuthority{uploadResult: &anaf.UploadResult{UploadID: "5001"}},
		events:    &fakeEvents{},
		doc:       doc,
	}
	f.service = NewSubmissionService(f.docs, f.companies, f.validator, f.archiver, f.tokens, f.authority, f.events, quietLogger())
	return f
}

func TestSubmitUploadsValidDocument(t *testing.T) {
	f := newSubmissionFixture()

	resp, err := f.service.Submit(context.Background(), f.doc.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AnafStatusUploaded, resp.Status)
	require.NotNil(t, f.doc.AnafUploadID)
	assert.Equal(t, "5001", *f.doc.AnafUploadID)
	require.NotNil(t, f.doc.StorageKey)
	assert.Len(t, f.archiver.keys, 1)
	assert.Contains(t, f.events.names(), EventDocumentStatusCheck)
}

func TestSubmitArchivesBeforeUpload(t *testing.T) {
	f := newSubmissionFixture()
	f.archiver.err = fmt.Errorf("storage unavailable")

	_, err := f.service.Submit(context.Background(), f.doc.ID)
	require.Error(t, err)

	// Upload must never happen when the payload could not be archived.
	assert.Equal(t, 0, f.authority.uploads)
	assert.Equal(t, models.AnafStatusPending, f.doc.AnafStatus)
}

func TestSubmitRecordsValidationFailure(t *testing.T) {
	f := newSubmissionFixture()
	f.validator.result = &validation.Result{}
	f.validator.result.Valid = false
	f.validator.result.Errors = []validation.Violation{
		{RuleID: "business", Message: "line 1: quantity must be positive", Severity: validation.SeverityFatal},
		{RuleID: "business", Message: "total must be positive", Severity: validation.SeverityFatal},
	}

	resp, err := f.service.Submit(context.Background(), f.doc.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AnafStatusValidationFailed, resp.Status)
	require.NotNil(t, f.doc.AnafErrorMessage)
	assert.Equal(t, "line 1: quantity must be positive; total must be positive", *f.doc.AnafErrorMessage)
	assert.Equal(t, 0, f.authority.uploads)
	assert.Empty(t, f.archiver.keys)
}

func TestSubmitWithoutTokenFailsUpload(t *testing.T) {
	f := newSubmissionFixture()
	f.tokens.token = ""

	resp, err := f.service.Submit(context.Background(), f.doc.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AnafStatusUploadFailed, resp.Status)
	assert.Equal(t, 0, f.authority.uploads)
}

func TestSubmitRecordsAuthorityRejection(t *testing.T) {
	f := newSubmissionFixture()
	f.authority.uploadErr = &anaf.AuthorityError{Op: "upload", Message: "cif mismatch"}

	resp, err := f.service.Submit(context.Background(), f.doc.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AnafStatusUploadFailed, resp.Status)
	require.NotNil(t, f.doc.AnafErrorMessage)
	assert.Contains(t, *f.doc.AnafErrorMessage, "cif mismatch")
}

func TestSubmitRateLimitLeavesDocumentUntouched(t *testing.T) {
	f := newSubmissionFixture()
	f.authority.uploadErr = &ratelimit.Error{Bucket: "upload", RetryAfter: 30 * time.Second}

	_, err := f.service.Submit(context.Background(), f.doc.ID)
	require.Error(t, err)

	var limitErr *ratelimit.Error
	assert.ErrorAs(t, err, &limitErr)
	assert.Equal(t, models.AnafStatusPending, f.doc.AnafStatus)
	assert.Nil(t, f.doc.AnafUploadID)
}

func TestSubmitRejectsInFlightDocument(t *testing.T) {
	f := newSubmissionFixture()
	f.doc.AnafStatus = models.AnafStatusUploaded

	_, err := f.service.Submit(context.Background(), f.doc.ID)
	assert.Error(t, err)
	assert.Equal(t, 0, f.authority.uploads)
}

func TestSubmitRejectsIncomingDocument(t *testing.T) {
	f := newSubmissionFixture()
	f.doc.Direction = models.DirectionIncoming

	_, err := f.service.Submit(context.Background(), f.doc.ID)
	assert.Error(t, err)
}

// --- status checker --------------------------------------------------------

func TestBackoffDelaySchedule(t *testing.T) {
	expected := []int64{300000, 900000, 1800000, 3600000, 7200000}
	for i, want := range expected {
		assert.Equal(t, want, BackoffDelay(i).Milliseconds())
	}
	// Clamped past the table.
	assert.Equal(t, int64(7200000), BackoffDelay(9).Milliseconds())
	assert.Equal(t, int64(300000), BackoffDelay(-1).Milliseconds())
}

func checkerFixture(doc *models.Document, authority *fakeAuthority) (*StatusChecker, *fakeDocs) {
	company := testCompany()
	doc.CompanyID = company.ID
	docs := newFakeDocs(doc)
	companies := &fakeCompanies{company: company}
	tokens := &fakeTokens{token: "tok-1"}
	return NewStatusChecker(docs, companies, tokens, authority, 5, quietLogger()), docs
}

func uploadedDocument(companyID uuid.UUID) *models.Document {
	doc := outgoingDocument(companyID)
	uploadID := "5001"
	doc.AnafUploadID = &uploadID
	doc.AnafStatus = models.AnafStatusUploaded
	return doc
}

func TestCheckConfirmsDocument(t *testing.T) {
	doc := uploadedDocument(uuid.Nil)
	checker, _ := checkerFixture(doc, &fakeAuthority{
		statusResult: &anaf.StatusResult{State: anaf.StatusOK, DownloadID: "9001"},
	})

	outcome, err := checker.Check(context.Background(), doc.ID, 0)
	require.NoError(t, err)

	assert.True(t, outcome.Done)
	assert.Equal(t, models.AnafStatusOK, outcome.Status)
	require.NotNil(t, doc.AnafDownloadID)
	assert.Equal(t, "9001", *doc.AnafDownloadID)
}

func TestCheckRecordsRejection(t *testing.T) {
	doc := uploadedDocument(uuid.Nil)
	checker, _ := checkerFixture(doc, &fakeAuthority{
		statusResult: &anaf.StatusResult{State: anaf.StatusNOK, ErrorMessage: "XML invalid"},
	})

	outcome, err := checker.Check(context.Background(), doc.ID, 0)
	require.NoError(t, err)

	assert.True(t, outcome.Done)
	assert.Equal(t, models.AnafStatusNOK, outcome.Status)
	require.NotNil(t, doc.AnafErrorMessage)
	assert.Equal(t, "XML invalid", *doc.AnafErrorMessage)
}

func TestCheckSchedulesNextPoll(t *testing.T) {
	doc := uploadedDocument(uuid.Nil)
	checker, _ := checkerFixture(doc, &fakeAuthority{
		statusResult: &anaf.StatusResult{State: anaf.StatusPending},
	})

	outcome, err := checker.Check(context.Background(), doc.ID, 1)
	require.NoError(t, err)

	assert.False(t, outcome.Done)
	assert.Equal(t, 2, outcome.NextAttempt)
	assert.Equal(t, 30*time.Minute, outcome.NextDelay)
	assert.Equal(t, models.AnafStatusUploaded, doc.AnafStatus)
}

func TestCheckTimesOutAfterMaxAttempts(t *testing.T) {
	doc := uploadedDocument(uuid.Nil)
	checker, _ := checkerFixture(doc, &fakeAuthority{
		statusResult: &anaf.StatusResult{State: anaf.StatusPending},
	})

	outcome, err := checker.Check(context.Background(), doc.ID, 4)
	require.NoError(t, err)

	assert.True(t, outcome.Done)
	assert.Equal(t, models.AnafStatusPendingTimeout, outcome.Status)
	require.NotNil(t, doc.AnafErrorMessage)
	assert.Equal(t, timeoutMessage, *doc.AnafErrorMessage)
}

func TestCheckSkipsSettledDocument(t *testing.T) {
	doc := uploadedDocument(uuid.Nil)
	doc.AnafStatus = models.AnafStatusOK
	authority := &fakeAuthority{statusErr: fmt.Errorf("should not be called")}
	checker, _ := checkerFixture(doc, authority)

	outcome, err := checker.Check(context.Background(), doc.ID, 0)
	require.NoError(t, err)

	assert.True(t, outcome.Done)
	assert.Equal(t, models.AnafStatusOK, outcome.Status)
}

func TestCheckSurfacesRateLimit(t *testing.T) {
	doc := uploadedDocument(uuid.Nil)
	checker, _ := checkerFixture(doc, &fakeAuthority{
		statusErr: &ratelimit.Error{Bucket: "stare:5001", RetryAfter: time.Minute},
	})

	_, err := checker.Check(context.Background(), doc.ID, 0)
	require.Error(t, err)

	var limitErr *ratelimit.Error
	assert.ErrorAs(t, err, &limitErr)
	assert.Equal(t, models.AnafStatusUploaded, doc.AnafStatus)
}

// --- sync ------------------------------------------------------------------

type syncFixture struct {
	company   *models.Company
	docs      *fakeDocs
	inbox     *fakeInbox
	parties   *fakeParties
	products  *fakeProducts
	companies *fakeCompanies
	tokens    *fakeTokens
	authority *fakeAuthority
	archiver  *fakeArchiver
	events    *fakeEvents
	notifier  *fakeNotifier
	service   *SyncService
}

func newSyncFixture() *syncFixture {
	company := testCompany()
	f := &syncFixture{
		company:   company,
		docs:      newFakeDocs(),
		inbox:     &fakeInbox{existing: map[string]bool{}},
		parties:   &fakeParties{},
		products:  &fakeProducts{},
		companies: &fakeCompanies{company: company},
		tokens:    &fakeTokens{token: "tok-1"},
		authority: &fakeAuthority{downloads: map[string][]byte{}, downloadErr: map[string]error{}},
		archiver:  &fakeArchiver{},
		events:    &fakeEvents{},
		notifier:  &fakeNotifier{},
	}
	f.service = NewSyncService(f.companies, f.docs, f.inbox, f.parties, f.products, f.tokens, f.authority, f.archiver, f.events, f.notifier, testSyncConfig(), quietLogger())
	return f
}

func incomingMessage(id, number string) anaf.RawMessage {
	return anaf.RawMessage{
		ID:        id,
		Type:      "FACTURA PRIMITA",
		CIF:       "87654321",
		Detail:    "Factura numarul " + number,
		CreatedAt: "202602141000",
	}
}

func TestSyncPersistsIncomingInvoices(t *testing.T) {
	f := newSyncFixture()
	f.authority.messages = []anaf.RawMessage{
		incomingMessage("3001", "INV-100"),
		incomingMessage("3002", "INV-101"),
		{ID: "3003", Type: "ALTE MESAJE", CIF: "87654321", Detail: "informativ", CreatedAt: "202602141010"},
	}
	f.authority.downloads["3001"] = zipPayload(t, incomingInvoiceXML(t, "INV-100"), true)
	f.authority.downloads["3002"] = zipPayload(t, incomingInvoiceXML(t, "INV-101"), false)

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.NewInvoices)
	assert.Equal(t, 0, result.SkippedDuplicates)
	assert.Empty(t, result.Errors)

	// Both parties resolved once; only the supplier counts as a new client.
	assert.Equal(t, 1, result.NewClients)
	assert.Equal(t, 2, result.NewProducts)

	// Every reported message leaves an inbox row, linked or not.
	require.Len(t, f.inbox.rows, 3)
	assert.NotNil(t, f.inbox.rows[0].DocumentID)
	assert.NotNil(t, f.inbox.rows[1].DocumentID)
	assert.Nil(t, f.inbox.rows[2].DocumentID)
	assert.Equal(t, models.MessageStatusProcessed, f.inbox.rows[2].Status)

	// Raw payloads archived for both new documents.
	assert.Len(t, f.archiver.keys, 2)

	created, err := f.docs.GetByID(f.docs.createdIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.DirectionIncoming, created.Direction)
	assert.Equal(t, models.DocumentStatusSynced, created.Status)
	assert.Equal(t, models.AnafStatusOK, created.AnafStatus)
	assert.True(t, created.HasSignature)
	assert.Len(t, created.Lines, 2)

	assert.Contains(t, f.events.names(), EventSyncStarted)
	assert.Contains(t, f.events.names(), EventSyncCompleted)
	require.Len(t, f.notifier.results, 1)
	require.NotNil(t, f.companies.syncedAt)
}

func TestSyncSkipsAlreadyRecordedMessages(t *testing.T) {
	f := newSyncFixture()
	f.authority.messages = []anaf.RawMessage{
		incomingMessage("3001", "INV-100"),
		incomingMessage("3002", "INV-101"),
	}
	f.inbox.existing["3001"] = true
	f.authority.downloads["3002"] = zipPayload(t, incomingInvoiceXML(t, "INV-101"), true)

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SkippedDuplicates)
	assert.Equal(t, 1, result.NewInvoices)
	assert.Len(t, f.inbox.rows, 1)
}

func TestSyncRunTwiceCreatesNoDuplicates(t *testing.T) {
	f := newSyncFixture()
	f.authority.messages = []anaf.RawMessage{incomingMessage("3001", "INV-100")}
	f.authority.downloads["3001"] = zipPayload(t, incomingInvoiceXML(t, "INV-100"), true)

	first, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)
	require.Equal(t, 1, first.NewInvoices)

	// The second run sees the same message already recorded.
	f.inbox.existing["3001"] = true
	second, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, second.NewInvoices)
	assert.Equal(t, 1, second.SkippedDuplicates)
	assert.Len(t, f.docs.createdIDs, 1)
}

func TestSyncRepeatedListingEntryProcessedOnce(t *testing.T) {
	f := newSyncFixture()
	// The authority sometimes lists the same message id twice in one window.
	f.authority.messages = []anaf.RawMessage{
		incomingMessage("3001", "INV-100"),
		incomingMessage("3001", "INV-100"),
	}
	f.authority.downloads["3001"] = zipPayload(t, incomingInvoiceXML(t, "INV-100"), true)

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.NewInvoices)
	assert.Equal(t, 1, result.SkippedDuplicates)
	assert.Empty(t, result.Errors)

	// One inbox row, one document, one spent download.
	assert.Len(t, f.inbox.rows, 1)
	assert.Len(t, f.docs.createdIDs, 1)
	assert.Equal(t, 1, f.authority.downloadCalls)
}

func TestSyncMatchesKnownDocumentByNumber(t *testing.T) {
	f := newSyncFixture()
	known := &models.Document{
		ID:        uuid.New(),
		CompanyID: f.company.ID,
		Direction: models.DirectionIncoming,
		Number:    "INV-100",
		Status:    models.DocumentStatusIssued,
	}
	f.docs.docs[known.ID] = known

	f.authority.messages = []anaf.RawMessage{incomingMessage("3001", "INV-100")}
	f.authority.downloads["3001"] = zipPayload(t, incomingInvoiceXML(t, "INV-100"), true)

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, result.NewInvoices)
	assert.Equal(t, 1, result.SkippedDuplicates)
	assert.Equal(t, models.DocumentStatusSynced, known.Status)
	require.Len(t, f.inbox.rows, 1)
	require.NotNil(t, f.inbox.rows[0].DocumentID)
	assert.Equal(t, known.ID, *f.inbox.rows[0].DocumentID)
}

func TestSyncCorrelatesOutgoingConfirmation(t *testing.T) {
	f := newSyncFixture()
	doc := uploadedDocument(f.company.ID)
	f.docs.docs[doc.ID] = doc

	f.authority.messages = []anaf.RawMessage{{
		ID:        "3001",
		Type:      "FACTURA TRIMISA",
		CIF:       "87654321",
		Detail:    "Factura cu id_incarcare=5001 trimisa",
		CreatedAt: "202602141000",
	}}

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	assert.Empty(t, result.Errors)
	assert.Equal(t, models.DocumentStatusSynced, doc.Status)
	require.NotNil(t, doc.AnafMessageID)
	assert.Equal(t, "3001", *doc.AnafMessageID)
	// Matched by upload id; no download quota spent.
	assert.Equal(t, 0, f.authority.downloadCalls)
}

func TestSyncRecordsInvoiceIssuedElsewhere(t *testing.T) {
	f := newSyncFixture()
	f.authority.messages = []anaf.RawMessage{{
		ID:        "3001",
		Type:      "FACTURA TRIMISA",
		CIF:       "87654321",
		Detail:    "Factura trimisa",
		CreatedAt: "202602141000",
	}}
	f.authority.downloads["3001"] = zipPayload(t, externalInvoiceXML(t, "EXT-", "0042"), true)

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	assert.Empty(t, result.Errors)
	require.Equal(t, 1, result.NewInvoices)
	assert.Equal(t, 1, result.NewClients)

	created, err := f.docs.GetByID(f.docs.createdIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.DirectionOutgoing, created.Direction)
	assert.Equal(t, models.DocumentStatusSynced, created.Status)
	assert.Equal(t, models.AnafStatusOK, created.AnafStatus)
	assert.Equal(t, "EXT-0042", created.Number)

	// The numbering sequence observed on the invoice is registered.
	series, err := f.companies.GetSeriesByPrefix(f.company.ID, "EXT", models.DocumentTypeInvoice)
	require.NoError(t, err)
	require.NotNil(t, series)
	assert.Equal(t, 43, series.NextNumber)
	assert.False(t, series.IsDefault)
}

func TestSyncMatchesOutgoingByNumber(t *testing.T) {
	f := newSyncFixture()
	known := outgoingDocument(f.company.ID)
	f.docs.docs[known.ID] = known

	f.authority.messages = []anaf.RawMessage{{
		ID:        "3001",
		Type:      "FACTURA TRIMISA",
		CIF:       "87654321",
		Detail:    "Factura trimisa",
		CreatedAt: "202602141000",
	}}
	f.authority.downloads["3001"] = zipPayload(t, externalInvoiceXML(t, "FCT", "0042"), false)

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	assert.Empty(t, result.Errors)
	assert.Equal(t, 0, result.NewInvoices)
	assert.Equal(t, 1, result.SkippedDuplicates)
	assert.Equal(t, models.DocumentStatusSynced, known.Status)
	require.NotNil(t, known.AnafMessageID)
	assert.Equal(t, "3001", *known.AnafMessageID)
}

func TestSyncAppliesErrorNotice(t *testing.T) {
	f := newSyncFixture()
	doc := uploadedDocument(f.company.ID)
	f.docs.docs[doc.ID] = doc

	f.authority.messages = []anaf.RawMessage{{
		ID:        "3001",
		Type:      "ERORI FACTURA",
		CIF:       "87654321",
		Detail:    "Erori de validare pentru id_incarcare=5001",
		CreatedAt: "202602141000",
	}}

	_, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AnafStatusNOK, doc.AnafStatus)
	require.NotNil(t, doc.AnafErrorMessage)
	assert.Contains(t, *doc.AnafErrorMessage, "id_incarcare=5001")
}

func TestSyncIsolatesFailingMessage(t *testing.T) {
	f := newSyncFixture()
	f.authority.messages = []anaf.RawMessage{
		incomingMessage("3001", "INV-100"),
		incomingMessage("3002", "INV-101"),
		incomingMessage("3003", "INV-102"),
	}
	f.authority.downloads["3001"] = zipPayload(t, incomingInvoiceXML(t, "INV-100"), true)
	f.authority.downloads["3003"] = zipPayload(t, incomingInvoiceXML(t, "INV-102"), true)
	f.inbox.failOn = "3002"

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.NewInvoices)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "3002")
}

func TestSyncRateLimitedDownloadSkipsOnlyThatMessage(t *testing.T) {
	f := newSyncFixture()
	f.authority.messages = []anaf.RawMessage{
		incomingMessage("3001", "INV-100"),
		incomingMessage("3002", "INV-101"),
	}
	f.authority.downloadErr["3001"] = &ratelimit.Error{Bucket: "descarcare:3001", RetryAfter: time.Minute}
	f.authority.downloads["3002"] = zipPayload(t, incomingInvoiceXML(t, "INV-101"), true)

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.NewInvoices)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "3001")

	require.Len(t, f.inbox.rows, 2)
	assert.Equal(t, models.MessageStatusError, f.inbox.rows[0].Status)
	assert.Equal(t, models.MessageStatusProcessed, f.inbox.rows[1].Status)
}

func TestSyncContinuesPastFailingBacklog(t *testing.T) {
	f := newSyncFixture()
	for i := 0; i < 7; i++ {
		f.authority.messages = append(f.authority.messages, incomingMessage(fmt.Sprintf("30%02d", i), fmt.Sprintf("INV-%d", i)))
	}
	// Only the last message has a payload; the first six fail to download.
	f.authority.downloads["3006"] = zipPayload(t, incomingInvoiceXML(t, "INV-6"), true)

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	// A poisoned batch never blocks the rest of the backlog.
	require.Len(t, result.Errors, 6)
	assert.Equal(t, 1, result.NewInvoices)
	assert.Len(t, f.inbox.rows, 7)
	assert.Contains(t, f.events.names(), EventSyncCompleted)
	require.Len(t, f.notifier.results, 1)
}

func TestSyncRateLimitedListingAborts(t *testing.T) {
	f := newSyncFixture()
	f.authority.listErr = &ratelimit.Error{Bucket: "lista:87654321", RetryAfter: time.Minute}

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "rate limited")
	assert.Contains(t, f.events.names(), EventSyncError)
	assert.NotContains(t, f.events.names(), EventSyncStarted)
}

func TestSyncWithoutTokenAborts(t *testing.T) {
	f := newSyncFixture()
	f.tokens.token = ""

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Contains(t, f.events.names(), EventSyncError)
}

func TestSyncEmptyInboxTouchesTimestampOnly(t *testing.T) {
	f := newSyncFixture()

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, result.NewInvoices)
	assert.Empty(t, result.Errors)
	require.NotNil(t, f.companies.syncedAt)

	// Nothing to reconcile: no events, no report.
	assert.Empty(t, f.events.names())
	assert.Empty(t, f.notifier.results)
}

func TestSyncEnsuresDefaultSeries(t *testing.T) {
	f := newSyncFixture()
	f.authority.messages = []anaf.RawMessage{
		{ID: "3001", Type: "ALTE MESAJE", CIF: "87654321", Detail: "informativ", CreatedAt: "202602141000"},
	}

	_, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)

	series, err := f.companies.GetDefaultSeries(f.company.ID, models.DocumentTypeInvoice)
	require.NoError(t, err)
	require.NotNil(t, series)
	assert.Equal(t, "FACT", series.Prefix)
	assert.True(t, series.IsDefault)
}

func TestSyncFlagsLateSubmission(t *testing.T) {
	f := newSyncFixture()
	msg := incomingMessage("3001", "INV-100")
	// Issue date 2026-02-13, reported more than five days later.
	msg.CreatedAt = "202602251000"
	f.authority.messages = []anaf.RawMessage{msg}
	f.authority.downloads["3001"] = zipPayload(t, incomingInvoiceXML(t, "INV-100"), true)

	result, err := f.service.Run(context.Background(), f.company.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.NewInvoices)

	created, err := f.docs.GetByID(f.docs.createdIDs[0])
	require.NoError(t, err)
	assert.True(t, created.IsLateSubmitted)
}

func TestLookbackDays(t *testing.T) {
	f := newSyncFixture()
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return now }

	// Never synced: the configured default window.
	assert.Equal(t, 60, f.service.lookbackDays(f.company))

	// Synced two days ago: floor applies.
	twoDaysAgo := now.Add(-48 * time.Hour)
	f.company.LastSyncedAt = &twoDaysAgo
	assert.Equal(t, 10, f.service.lookbackDays(f.company))

	// Synced twenty days ago: margin past the gap.
	twentyDaysAgo := now.Add(-20 * 24 * time.Hour)
	f.company.LastSyncedAt = &twentyDaysAgo
	assert.Equal(t, 21, f.service.lookbackDays(f.company))

	// Very old sync: capped at the widest accepted window.
	old := now.Add(-200 * 24 * time.Hour)
	f.company.LastSyncedAt = &old
	assert.Equal(t, 60, f.service.lookbackDays(f.company))
}
