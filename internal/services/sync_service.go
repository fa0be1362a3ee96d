package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/anaf-service/internal/anaf"
	"github.com/hypernova-labs/anaf-service/internal/codec"
	"github.com/hypernova-labs/anaf-service/internal/config"
	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/hypernova-labs/anaf-service/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// messageDateLayout is the timestamp format the authority uses on
// inbox messages.
const messageDateLayout = "200601021504"

// maxLookbackDays is the widest window the authority accepts on a
// message listing.
const maxLookbackDays = 60

// SyncService reconciles the authority inbox with local state: every
// reported message is recorded, incoming invoices are downloaded and
// persisted, and outgoing submissions are correlated back.
type SyncService struct {
	companies CompanyStore
	documents DocumentStore
	inbox     InboxStore
	parties   PartyStore
	products  ProductStore
	tokens    TokenResolver
	authority AuthorityAPI
	archiver  Archiver
	events    Events
	notifier  Notifier
	cfg       config.SyncConfig
	logger    *logrus.Logger
	now       func() time.Time
}

// NewSyncService creates a new instance of the service.
func NewSyncService(companies CompanyStore, documents DocumentStore, inbox InboxStore, parties PartyStore, products ProductStore, tokens TokenResolver, authority AuthorityAPI, archiver Archiver, events Events, notifier Notifier, cfg config.SyncConfig, logger *logrus.Logger) *SyncService {
	return &SyncService{
		companies: companies,
		documents: documents,
		inbox:     inbox,
		parties:   parties,
		products:  products,
		tokens:    tokens,
		authority: authority,
		archiver:  archiver,
		events:    events,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// syncSession carries the per-run entity caches. The caches are discarded
// whenever a persistence step fails so later messages re-resolve entities
// from the database instead of trusting possibly lost writes.
type syncSession struct {
	company  *models.Company
	token    string
	parties  map[string]*models.Party
	prods    map[string]*models.Product
	prefixes map[string]bool
}

func newSyncSession(company *models.Company, token string) *syncSession {
	s := &syncSession{company: company, token: token}
	s.resetCaches()
	return s
}

func (s *syncSession) resetCaches() {
	s.parties = make(map[string]*models.Party)
	s.prods = make(map[string]*models.Product)
	s.prefixes = make(map[string]bool)
}

// Run executes one reconciliation pass for a tenant. The returned result
// is always usable; run-level failures are recorded in its Errors.
func (s *SyncService) Run(ctx context.Context, companyID uuid.UUID) (*models.SyncResult, error) {
	result := &models.SyncResult{}

	company, err := s.companies.GetByID(companyID)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Resolve(ctx, company)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return s.abort(ctx, company, result, "no usable authority token for this tenant")
	}

	days := s.lookbackDays(company)
	messages, err := s.authority.ListMessages(ctx, company.CIF, token, days)
	if err != nil {
		var limitErr *ratelimit.Error
		if errors.As(err, &limitErr) {
			return s.abort(ctx, company, result, fmt.Sprintf("rate limited listing messages, retry in %ds", limitErr.RetryAfterSeconds()))
		}
		return s.abort(ctx, company, result, fmt.Sprintf("error listing messages: %v", err))
	}

	if len(messages) == 0 {
		if err := s.companies.UpdateLastSyncedAt(company.ID, s.now()); err != nil {
			s.logger.Warnf("Could not update last sync timestamp for %s: %v", company.ID, err)
		}
		s.logger.WithFields(logrus.Fields{
			"company_id": company.ID,
			"cif":        company.CIF,
			"days":       days,
		}).Info("Inbox empty, nothing to reconcile")
		return result, nil
	}

	s.publish(ctx, EventSyncStarted, map[string]interface{}{
		"company_id": company.ID.String(),
		"total":      len(messages),
	})
	s.logger.WithFields(logrus.Fields{
		"company_id": company.ID,
		"cif":        company.CIF,
		"days":       days,
		"messages":   len(messages),
	}).Info("Inbox sync started")

	existing, err := s.preloadExisting(company.ID, messages)
	if err != nil {
		return s.abort(ctx, company, result, fmt.Sprintf("error preloading processed messages: %v", err))
	}

	session := newSyncSession(company, token)
	for i, msg := range messages {
		if existing[msg.ID] {
			result.SkippedDuplicates++
			continue
		}
		// The authority occasionally lists the same id twice in one
		// window; its row is recorded once.
		existing[msg.ID] = true

		if err := s.processMessage(ctx, session, msg, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("message %s: %v", msg.ID, err))
			session.resetCaches()
		}

		processed := i + 1
		if s.cfg.ProgressEvery > 0 && processed%s.cfg.ProgressEvery == 0 {
			s.publish(ctx, EventSyncProgress, map[string]interface{}{
				"company_id": company.ID.String(),
				"processed":  processed,
				"total":      len(messages),
				"stats":      result,
			})
		}
	}

	if err := s.companies.UpdateLastSyncedAt(company.ID, s.now()); err != nil {
		s.logger.Warnf("Could not update last sync timestamp for %s: %v", company.ID, err)
	}
	s.ensureDefaultSeries(company)

	s.publish(ctx, EventSyncCompleted, map[string]interface{}{
		"company_id": company.ID.String(),
		"stats":      result,
	})
	if s.notifier != nil {
		if err := s.notifier.SyncCompleted(company, result); err != nil {
			s.logger.Warnf("Could not send sync report for %s: %v", company.ID, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"company_id":   company.ID,
		"new_invoices": result.NewInvoices,
		"duplicates":   result.SkippedDuplicates,
		"new_clients":  result.NewClients,
		"new_products": result.NewProducts,
		"errors":       len(result.Errors),
	}).Info("Inbox sync completed")

	return result, nil
}

// abort records a run-level failure, emits the error event and returns
// the partial result.
func (s *SyncService) abort(ctx context.Context, company *models.Company, result *models.SyncResult, message string) (*models.SyncResult, error) {
	result.Errors = append(result.Errors, message)
	s.logger.WithFields(logrus.Fields{
		"company_id": company.ID,
		"reason":     message,
	}).Error("Inbox sync aborted")
	s.publish(ctx, EventSyncError, map[string]interface{}{
		"company_id": company.ID.String(),
		"errors":     result.Errors,
	})
	return result, nil
}

// lookbackDays derives the listing window: a margin past the previous run,
// never narrower than the configured floor, and capped at the widest
// window the authority accepts.
func (s *SyncService) lookbackDays(company *models.Company) int {
	days := s.cfg.DefaultDaysBack
	if company.SyncDaysBack > 0 {
		days = company.SyncDaysBack
	}
	if company.LastSyncedAt != nil {
		since := int(s.now().Sub(*company.LastSyncedAt).Hours()/24) + 1
		if since < s.cfg.LookbackFloor {
			since = s.cfg.LookbackFloor
		}
		days = since
	}
	if days > maxLookbackDays {
		days = maxLookbackDays
	}
	if days < 1 {
		days = 1
	}
	return days
}

// preloadExisting fetches the already-recorded message ids in one query.
func (s *SyncService) preloadExisting(companyID uuid.UUID, messages []anaf.RawMessage) (map[string]bool, error) {
	if len(messages) == 0 {
		return map[string]bool{}, nil
	}
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	return s.inbox.ExistingMessageIDs(companyID, ids)
}

// processMessage records one inbox row and routes the message by type.
func (s *SyncService) processMessage(ctx context.Context, session *syncSession, msg anaf.RawMessage, result *models.SyncResult) error {
	row := &models.InboxMessage{
		ID:            uuid.New(),
		CompanyID:     session.company.ID,
		AnafMessageID: msg.ID,
		Type:          models.ResolveMessageType(msg.Type),
		RawType:       msg.Type,
		Detail:        msg.Detail,
		CIF:           msg.CIF,
		Status:        models.MessageStatusPending,
	}
	if uploadID := models.ExtractUploadID(msg.Detail); uploadID != "" {
		row.UploadID = &uploadID
	}
	if at, err := time.Parse(messageDateLayout, msg.CreatedAt); err == nil {
		row.MessageDate = &at
	}

	if err := s.inbox.Create(row); err != nil {
		return fmt.Errorf("error recording inbox message: %w", err)
	}

	switch row.Type {
	case models.MessageTypeIncoming:
		return s.processRelevant(ctx, session, msg, row, models.DirectionIncoming, result)
	case models.MessageTypeOutgoing:
		return s.processOutgoing(ctx, session, msg, row, result)
	case models.MessageTypeErrorNotice:
		return s.applyErrorNotice(session, row)
	}
	return s.inbox.MarkProcessed(row.ID, nil)
}

// processOutgoing reconciles an authority confirmation for a sent
// invoice. Submissions made through this system are matched by their
// upload id; anything else was issued through other software and is
// downloaded and recorded like a received one.
func (s *SyncService) processOutgoing(ctx context.Context, session *syncSession, msg anaf.RawMessage, row *models.InboxMessage, result *models.SyncResult) error {
	if row.UploadID != nil {
		doc, err := s.documents.GetByUploadID(session.company.ID, *row.UploadID)
		if err != nil {
			return err
		}
		if doc != nil {
			if err := s.documents.MarkSynced(doc.ID, row.AnafMessageID); err != nil {
				return err
			}
			return s.inbox.MarkProcessed(row.ID, &doc.ID)
		}
	}
	return s.processRelevant(ctx, session, msg, row, models.DirectionOutgoing, result)
}

// applyErrorNotice records an authority rejection on the submission that
// produced it.
func (s *SyncService) applyErrorNotice(session *syncSession, row *models.InboxMessage) error {
	if row.UploadID == nil {
		return s.inbox.MarkProcessed(row.ID, nil)
	}

	doc, err := s.documents.GetByUploadID(session.company.ID, *row.UploadID)
	if err != nil {
		return err
	}
	if doc == nil {
		// Submission from another system; the inbox row alone is the record.
		return s.inbox.MarkProcessed(row.ID, nil)
	}

	detail := row.Detail
	if err := s.documents.UpdateAnafStatus(doc.ID, models.AnafStatusNOK, &detail); err != nil {
		return err
	}
	return s.inbox.MarkProcessed(row.ID, &doc.ID)
}

// processRelevant downloads, parses and persists a document-bearing
// message, merging with a document already known under its number.
func (s *SyncService) processRelevant(ctx context.Context, session *syncSession, msg anaf.RawMessage, row *models.InboxMessage, direction models.DocumentDirection, result *models.SyncResult) error {
	pack, parsed, err := s.fetchDocument(ctx, session, msg, row)
	if err != nil {
		return err
	}

	if parsed.Number != "" {
		known, err := s.documents.FindByNumber(session.company.ID, parsed.Number, direction)
		if err != nil {
			return err
		}
		if known != nil {
			result.SkippedDuplicates++
			if err := s.documents.MarkSynced(known.ID, msg.ID); err != nil {
				return err
			}
			return s.inbox.MarkProcessed(row.ID, &known.ID)
		}
	}

	doc, err := s.buildSyncedDocument(session, parsed, msg, direction, pack.HasSignature(), row.MessageDate, result)
	if err != nil {
		return err
	}
	if err := s.documents.Create(doc); err != nil {
		return fmt.Errorf("error persisting synced document: %w", err)
	}
	result.NewInvoices++

	if direction == models.DirectionOutgoing {
		s.registerSeriesFromNumber(session, parsed.Number, doc.Type)
	}

	// Archive is best effort; the document row already carries the data.
	if key, archErr := s.archiver.StoreDocumentXML(ctx, session.company.CIF, doc.ID, doc.IssueDate, pack.XML); archErr != nil {
		s.logger.Warnf("Could not archive synced document %s: %v", doc.ID, archErr)
	} else if err := s.documents.SetStorageKey(doc.ID, key); err != nil {
		s.logger.Warnf("Could not record storage key for %s: %v", doc.ID, err)
	}

	return s.inbox.MarkProcessed(row.ID, &doc.ID)
}

// fetchDocument spends download quota on one message and parses the
// payload. Failures mark the inbox row and skip only this message.
func (s *SyncService) fetchDocument(ctx context.Context, session *syncSession, msg anaf.RawMessage, row *models.InboxMessage) (*anaf.DownloadedDocument, *codec.ParsedDocument, error) {
	data, err := s.authority.Download(ctx, msg.ID, session.token)
	if err != nil {
		var limitErr *ratelimit.Error
		if errors.As(err, &limitErr) {
			if markErr := s.inbox.MarkError(row.ID, limitErr.Error()); markErr != nil {
				return nil, nil, markErr
			}
			return nil, nil, fmt.Errorf("rate limited downloading message: %w", err)
		}
		if markErr := s.inbox.MarkError(row.ID, err.Error()); markErr != nil {
			return nil, nil, markErr
		}
		return nil, nil, fmt.Errorf("error downloading message: %w", err)
	}

	pack, err := anaf.UnpackDownload(data)
	if err != nil {
		if markErr := s.inbox.MarkError(row.ID, err.Error()); markErr != nil {
			return nil, nil, markErr
		}
		return nil, nil, fmt.Errorf("error unpacking download: %w", err)
	}

	parsed, err := codec.Parse(pack.XML)
	if err != nil {
		if markErr := s.inbox.MarkError(row.ID, err.Error()); markErr != nil {
			return nil, nil, markErr
		}
		return nil, nil, fmt.Errorf("error parsing document: %w", err)
	}
	return pack, parsed, nil
}

// buildSyncedDocument maps a parsed payload onto a local document,
// resolving its parties and catalog items through the session caches.
func (s *SyncService) buildSyncedDocument(session *syncSession, parsed *codec.ParsedDocument, msg anaf.RawMessage, direction models.DocumentDirection, hasSignature bool, messageDate *time.Time, result *models.SyncResult) (*models.Document, error) {
	supplier, err := s.resolveParty(session, parsed.Supplier, result)
	if err != nil {
		return nil, err
	}
	customer, err := s.resolveParty(session, parsed.Customer, result)
	if err != nil {
		return nil, err
	}

	messageID := msg.ID
	doc := &models.Document{
		ID:            uuid.New(),
		CompanyID:     session.company.ID,
		Type:          parsed.Type,
		Direction:     direction,
		Number:        parsed.Number,
		Status:        models.DocumentStatusSynced,
		IssueDate:     parsed.IssueDate,
		DueDate:       parsed.DueDate,
		Currency:      parsed.Currency,
		Subtotal:      parsed.Subtotal,
		VATTotal:      parsed.VATTotal,
		Total:         parsed.Total,
		AnafStatus:    models.AnafStatusOK,
		AnafMessageID: &messageID,
		HasSignature:  hasSignature,
		Supplier:      supplier,
		Customer:      customer,
	}
	now := s.now()
	doc.SyncedAt = &now

	if messageDate != nil && !parsed.IssueDate.IsZero() && s.cfg.LateSubmissionDays > 0 {
		late := parsed.IssueDate.Add(time.Duration(s.cfg.LateSubmissionDays) * 24 * time.Hour)
		doc.IsLateSubmitted = messageDate.After(late)
	}

	for i, pl := range parsed.Lines {
		if err := s.resolveProduct(session, pl, result); err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, models.Line{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			LineNo:      i + 1,
			Description: pl.Description,
			Quantity:    pl.Quantity,
			Unit:        pl.Unit,
			UnitPrice:   pl.UnitPrice,
			VATRate:     pl.VATRate,
			VATCategory: pl.VATCategory,
			VATAmount:   pl.VATAmount,
			LineTotal:   pl.LineTotal,
		})
	}

	return doc, nil
}

// resolveParty finds or creates a trading partner, first through the
// session cache, then by identifier, then by name.
func (s *SyncService) resolveParty(session *syncSession, parsed codec.ParsedParty, result *models.SyncResult) (*models.Party, error) {
	if parsed.Name == "" && parsed.CIF == "" {
		return nil, nil
	}

	cif := models.NormalizeCIF(parsed.CIF)
	cacheKey := cif
	if cacheKey == "" {
		cacheKey = "name:" + parsed.Name
	}
	if party, ok := session.parties[cacheKey]; ok {
		return party, nil
	}

	var party *models.Party
	var err error
	if cif != "" {
		party, err = s.parties.GetByCIF(session.company.ID, cif)
		if err != nil {
			return nil, err
		}
	}
	if party == nil {
		party, err = s.parties.GetByName(session.company.ID, parsed.Name)
		if err != nil {
			return nil, err
		}
	}

	if party == nil {
		party = &models.Party{
			ID:        uuid.New(),
			CompanyID: session.company.ID,
			CIF:       cif,
			Name:      parsed.Name,
			Address:   parsed.Address,
			City:      parsed.City,
			County:    parsed.County,
			Country:   parsed.Country,
		}
		if parsed.BankAccount != "" {
			account := parsed.BankAccount
			party.BankAccount = &account
		}
		if err := s.parties.Create(party); err != nil {
			return nil, fmt.Errorf("error creating party %q: %w", parsed.Name, err)
		}
		if cif != session.company.CIF {
			result.NewClients++
		}
	}

	session.parties[cacheKey] = party
	return party, nil
}

// resolveProduct finds or creates the catalog item behind a line.
func (s *SyncService) resolveProduct(session *syncSession, line codec.ParsedLine, result *models.SyncResult) error {
	if line.Description == "" {
		return nil
	}
	if _, ok := session.prods[line.Description]; ok {
		return nil
	}

	product, err := s.products.GetByName(session.company.ID, line.Description)
	if err != nil {
		return err
	}
	if product == nil {
		product = &models.Product{
			ID:          uuid.New(),
			CompanyID:   session.company.ID,
			Name:        line.Description,
			Unit:        line.Unit,
			UnitPrice:   line.UnitPrice,
			VATRate:     line.VATRate,
			VATCategory: line.VATCategory,
			IsActive:    true,
		}
		if err := s.products.Create(product); err != nil {
			return fmt.Errorf("error creating product %q: %w", line.Description, err)
		}
		result.NewProducts++
	}

	session.prods[line.Description] = product
	return nil
}

// seriesNumberPattern splits a document number like "FACT-0042" or
// "EXT 12" into its series prefix and sequence.
var seriesNumberPattern = regexp.MustCompile(`^([A-Za-z]+)[-/ ]?([0-9]+)$`)

// registerSeriesFromNumber records the numbering sequence observed on an
// invoice issued outside this system, so locally issued numbers can
// continue it.
func (s *SyncService) registerSeriesFromNumber(session *syncSession, number string, docType models.DocumentType) {
	match := seriesNumberPattern.FindStringSubmatch(strings.TrimSpace(number))
	if match == nil {
		return
	}
	prefix := strings.ToUpper(match[1])
	if session.prefixes[prefix] {
		return
	}
	session.prefixes[prefix] = true

	existing, err := s.companies.GetSeriesByPrefix(session.company.ID, prefix, docType)
	if err != nil {
		s.logger.Warnf("Could not look up series %q for %s: %v", prefix, session.company.ID, err)
		return
	}
	if existing != nil {
		return
	}

	sequence, err := strconv.Atoi(match[2])
	if err != nil {
		return
	}
	err = s.companies.CreateSeries(&models.Series{
		ID:         uuid.New(),
		CompanyID:  session.company.ID,
		Prefix:     prefix,
		DocType:    docType,
		NextNumber: sequence + 1,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.logger.Warnf("Could not register detected series %q for %s: %v", prefix, session.company.ID, err)
	}
}

// ensureDefaultSeries guarantees the tenant has an invoice numbering
// sequence after its first sync.
func (s *SyncService) ensureDefaultSeries(company *models.Company) {
	series, err := s.companies.GetDefaultSeries(company.ID, models.DocumentTypeInvoice)
	if err != nil {
		s.logger.Warnf("Could not look up default series for %s: %v", company.ID, err)
		return
	}
	if series != nil {
		return
	}

	prefix := company.DefaultSeries
	if prefix == "" {
		prefix = "FACT"
	}
	err = s.companies.CreateSeries(&models.Series{
		ID:         uuid.New(),
		CompanyID:  company.ID,
		Prefix:     prefix,
		DocType:    models.DocumentTypeInvoice,
		NextNumber: 1,
		IsDefault:  true,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.logger.Warnf("Could not create default series for %s: %v", company.ID, err)
	}
}

func (s *SyncService) publish(ctx context.Context, name string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, name, data); err != nil {
		s.logger.Warnf("Could not publish %s: %v", name, err)
	}
}
