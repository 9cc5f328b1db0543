package certificates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/proofmind/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingVerifierID = errors.New("verifier identity is required")
	noOpLogger           = zap.NewNop()
	tracer               = otel.Tracer("github.com/MarcoPoloResearchLab/proofmind/internal/certificates")
)

// ServiceError carries a stable "<operation>.<reason>" code and the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "certificates.service.new"
	opSubmit           = "certificates.submit"
	opUpdate           = "certificates.update"
	opVerify           = "certificates.verify"
	opGet              = "certificates.get"
	opListForOwner     = "certificates.list_for_owner"
	opListByCategory   = "certificates.list_by_category"
	opGetAnalysis      = "certificates.get_analysis"
	opListEvents       = "certificates.list_events"
	opStats            = "certificates.stats"
	reasonMissingDB    = "missing_database"
	reasonMissingIDs   = "missing_id_provider"
	reasonMissingVer   = "missing_verifier_id"
	reasonInvalidOwn   = "invalid_owner_id"
	reasonInvalidText  = "invalid_proof_text"
	reasonInvalidID    = "invalid_proof_id"
	reasonDuplicate    = "duplicate_proof_id"
	reasonNotFound     = "not_found"
	reasonUnauthorized = "unauthorized"
	reasonInvalidScore = "invalid_confidence_score"
	reasonInvalidStat  = "invalid_verification_status"
	reasonQueryFailed  = "query_failed"
	reasonWriteFailed  = "write_failed"
	reasonCounterFail  = "counter_update_failed"
	reasonEventFailed  = "event_append_failed"
	reasonDecodeFailed = "event_decode_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues unique event identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the collaborators of the certificate workflow.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	VerifierID OwnerID
	Events     EventSink
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Service validates, authorizes and sequences certificate state transitions.
// Mutating calls are serialized and each runs in a single database transaction.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	verifierID OwnerID
	events     EventSink
	metrics    *metrics.Metrics
	logger     *zap.Logger
	writeMu    sync.Mutex
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDB, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDs, errMissingIDProvider)
	}
	if cfg.VerifierID == "" {
		return nil, newServiceError(opServiceNew, reasonMissingVer, errMissingVerifierID)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		verifierID: cfg.VerifierID,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		logger:     logger,
	}, nil
}

// VerifierID returns the identity allowed to record verdicts.
func (service *Service) VerifierID() OwnerID {
	return service.verifierID
}

// Submit creates a certificate owned by the caller.
func (service *Service) Submit(ctx context.Context, request SubmitRequest) (Certificate, error) {
	ctx, span := tracer.Start(ctx, opSubmit, trace.WithAttributes(
		attribute.String(fieldOwnerID, request.Caller.String()),
		attribute.String(fieldProofID, request.ProofID),
	))
	defer span.End()
	defer service.metrics.ObserveOperation(opSubmit, time.Now())

	if service.db == nil {
		return Certificate{}, service.fail(span, opSubmit, reasonMissingDB, errMissingDatabase)
	}
	caller, err := NewOwnerID(request.Caller.String())
	if err != nil {
		return Certificate{}, service.reject(span, opSubmit, reasonInvalidOwn, err)
	}
	proofText, err := NewProofText(request.ProofText)
	if err != nil {
		return Certificate{}, service.reject(span, opSubmit, reasonInvalidText, err,
			zap.String(fieldOwnerID, caller.String()))
	}
	proofID, err := NewProofID(request.ProofID)
	if err != nil {
		return Certificate{}, service.reject(span, opSubmit, reasonInvalidID, err,
			zap.String(fieldOwnerID, caller.String()))
	}
	category := categoryOrDefault(request.Category)
	metadata := metadataOrDefault(request.Metadata)
	tags := copyTags(request.AITags)

	service.writeMu.Lock()
	defer service.writeMu.Unlock()

	var created Certificate
	var emitted Event
	transactionError := service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		records := NewRecordStore(transaction)
		keyFields := []zap.Field{
			zap.String(fieldOwnerID, caller.String()),
			zap.String(fieldProofID, proofID.String()),
		}

		_, found, lookupErr := records.Get(ctx, caller, proofID.String())
		if lookupErr != nil {
			return service.fail(span, opSubmit, reasonQueryFailed, lookupErr, keyFields...)
		}
		if found {
			return service.reject(span, opSubmit, reasonDuplicate,
				fmt.Errorf("%w: %s", ErrDuplicateProofID, proofID), keyFields...)
		}

		counters := NewAggregateIndex(transaction)
		total, counterErr := counters.IncrementTotal(ctx)
		if counterErr != nil {
			return service.fail(span, opSubmit, reasonCounterFail, counterErr, keyFields...)
		}
		if _, counterErr := counters.IncrementCategory(ctx, category); counterErr != nil {
			return service.fail(span, opSubmit, reasonCounterFail, counterErr, keyFields...)
		}

		nowSeconds := service.clock().UTC().Unix()
		created = Certificate{
			OwnerID:            caller.String(),
			ProofID:            proofID.String(),
			ProofText:          proofText.String(),
			Category:           category,
			Metadata:           metadata,
			AITags:             tags,
			ConfidenceScore:    DefaultConfidenceScore,
			VerificationStatus: StatusPending,
			CreatedBy:          caller.String(),
			CreatedAtSeconds:   nowSeconds,
			UpdatedAtSeconds:   nowSeconds,
			CreationSeq:        total,
		}
		if writeErr := records.Put(ctx, caller, proofID.String(), created); writeErr != nil {
			return service.fail(span, opSubmit, reasonWriteFailed, writeErr, keyFields...)
		}
		if writeErr := records.AppendOwnerIndex(ctx, caller, proofID.String()); writeErr != nil {
			return service.fail(span, opSubmit, reasonWriteFailed, writeErr, keyFields...)
		}

		event, eventErr := service.appendEvent(ctx, records, Event{
			Type:             EventCertificateCreated,
			Owner:            caller.String(),
			ProofID:          proofID.String(),
			ProofText:        proofText.String(),
			Category:         category,
			Metadata:         metadata,
			TimestampSeconds: nowSeconds,
		})
		if eventErr != nil {
			return service.fail(span, opSubmit, reasonEventFailed, eventErr, keyFields...)
		}
		emitted = event
		return nil
	})
	if transactionError != nil {
		return Certificate{}, transactionError
	}

	service.metrics.IncrementSubmitted()
	service.publish(ctx, emitted)
	return created, nil
}

// Update replaces the content fields provided in the request. Only the creator may update.
// Category counters keep their creation-time attribution.
func (service *Service) Update(ctx context.Context, request UpdateRequest) (Certificate, error) {
	ctx, span := tracer.Start(ctx, opUpdate, trace.WithAttributes(
		attribute.String("caller_id", request.Caller.String()),
		attribute.String(fieldProofID, request.ProofID),
	))
	defer span.End()
	defer service.metrics.ObserveOperation(opUpdate, time.Now())

	if service.db == nil {
		return Certificate{}, service.fail(span, opUpdate, reasonMissingDB, errMissingDatabase)
	}
	caller, err := NewOwnerID(request.Caller.String())
	if err != nil {
		return Certificate{}, service.reject(span, opUpdate, reasonInvalidOwn, err)
	}
	owner := caller
	if request.Owner != "" {
		owner = request.Owner
	}

	service.writeMu.Lock()
	defer service.writeMu.Unlock()

	var updated Certificate
	var emitted Event
	transactionError := service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		records := NewRecordStore(transaction)
		keyFields := []zap.Field{
			zap.String(fieldOwnerID, owner.String()),
			zap.String(fieldProofID, request.ProofID),
		}

		existing, found, lookupErr := records.Get(ctx, owner, request.ProofID)
		if lookupErr != nil {
			return service.fail(span, opUpdate, reasonQueryFailed, lookupErr, keyFields...)
		}
		if !found {
			return service.reject(span, opUpdate, reasonNotFound,
				fmt.Errorf("%w: %s/%s", ErrNotFound, owner, request.ProofID), keyFields...)
		}
		if existing.CreatedBy != caller.String() {
			return service.reject(span, opUpdate, reasonUnauthorized,
				fmt.Errorf("%w: only the certificate owner can update", ErrUnauthorized),
				append(keyFields, zap.String("caller_id", caller.String()))...)
		}

		if request.ProofText != nil {
			proofText, textErr := NewProofText(*request.ProofText)
			if textErr != nil {
				return service.reject(span, opUpdate, reasonInvalidText, textErr, keyFields...)
			}
			existing.ProofText = proofText.String()
		}
		if request.Category != nil {
			existing.Category = categoryOrDefault(request.Category)
		}
		if request.Metadata != nil {
			existing.Metadata = metadataOrDefault(request.Metadata)
		}
		if request.AITags != nil {
			existing.AITags = copyTags(*request.AITags)
		}

		nowSeconds := service.clock().UTC().Unix()
		existing.UpdatedAtSeconds = nowSeconds
		if writeErr := records.Put(ctx, owner, request.ProofID, existing); writeErr != nil {
			return service.fail(span, opUpdate, reasonWriteFailed, writeErr, keyFields...)
		}

		event, eventErr := service.appendEvent(ctx, records, Event{
			Type:             EventCertificateUpdated,
			Owner:            owner.String(),
			ProofID:          request.ProofID,
			TimestampSeconds: nowSeconds,
		})
		if eventErr != nil {
			return service.fail(span, opUpdate, reasonEventFailed, eventErr, keyFields...)
		}
		updated = existing
		emitted = event
		return nil
	})
	if transactionError != nil {
		return Certificate{}, transactionError
	}

	service.metrics.IncrementUpdated()
	service.publish(ctx, emitted)
	return updated, nil
}

// Verify records the verifier's score, status and analysis for a certificate.
func (service *Service) Verify(ctx context.Context, request VerifyRequest) (Certificate, error) {
	ctx, span := tracer.Start(ctx, opVerify, trace.WithAttributes(
		attribute.String(fieldOwnerID, request.Owner.String()),
		attribute.String(fieldProofID, request.ProofID),
	))
	defer span.End()
	defer service.metrics.ObserveOperation(opVerify, time.Now())

	if service.db == nil {
		return Certificate{}, service.fail(span, opVerify, reasonMissingDB, errMissingDatabase)
	}
	if request.Caller == "" || request.Caller != service.verifierID {
		return Certificate{}, service.reject(span, opVerify, reasonUnauthorized,
			fmt.Errorf("%w: only the verifier can record verdicts", ErrUnauthorized),
			zap.String("caller_id", request.Caller.String()))
	}

	service.writeMu.Lock()
	defer service.writeMu.Unlock()

	var verified Certificate
	var emitted Event
	transactionError := service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		records := NewRecordStore(transaction)
		keyFields := []zap.Field{
			zap.String(fieldOwnerID, request.Owner.String()),
			zap.String(fieldProofID, request.ProofID),
		}

		existing, found, lookupErr := records.Get(ctx, request.Owner, request.ProofID)
		if lookupErr != nil {
			return service.fail(span, opVerify, reasonQueryFailed, lookupErr, keyFields...)
		}
		if !found {
			return service.reject(span, opVerify, reasonNotFound,
				fmt.Errorf("%w: %s/%s", ErrNotFound, request.Owner, request.ProofID), keyFields...)
		}
		score, scoreErr := NewConfidenceScore(request.ConfidenceScore)
		if scoreErr != nil {
			return service.reject(span, opVerify, reasonInvalidScore, scoreErr, keyFields...)
		}
		if !request.Status.Valid() {
			return service.reject(span, opVerify, reasonInvalidStat,
				fmt.Errorf("%w: %q", ErrInvalidVerificationStatus, request.Status), keyFields...)
		}

		nowSeconds := service.clock().UTC().Unix()
		existing.ConfidenceScore = score.Uint32()
		existing.VerificationStatus = request.Status
		existing.UpdatedAtSeconds = nowSeconds
		if writeErr := records.Put(ctx, request.Owner, request.ProofID, existing); writeErr != nil {
			return service.fail(span, opVerify, reasonWriteFailed, writeErr, keyFields...)
		}
		if writeErr := records.PutAnalysis(ctx, request.Owner, request.ProofID, request.Analysis, nowSeconds); writeErr != nil {
			return service.fail(span, opVerify, reasonWriteFailed, writeErr, keyFields...)
		}

		event, eventErr := service.appendEvent(ctx, records, Event{
			Type:             EventAIVerification,
			Owner:            request.Owner.String(),
			ProofID:          request.ProofID,
			Status:           request.Status,
			ConfidenceScore:  scorePointer(score.Uint32()),
			Analysis:         request.Analysis,
			TimestampSeconds: nowSeconds,
		})
		if eventErr != nil {
			return service.fail(span, opVerify, reasonEventFailed, eventErr, keyFields...)
		}
		verified = existing
		emitted = event
		return nil
	})
	if transactionError != nil {
		return Certificate{}, transactionError
	}

	service.metrics.IncrementVerified(request.Status.String())
	service.publish(ctx, emitted)
	return verified, nil
}

// Lookup returns the certificate stored for the key and whether it exists.
func (service *Service) Lookup(ctx context.Context, ownerID OwnerID, proofID string) (Certificate, bool, error) {
	if service.db == nil {
		return Certificate{}, false, service.fail(nil, opGet, reasonMissingDB, errMissingDatabase)
	}
	certificate, found, err := NewRecordStore(service.db).Get(ctx, ownerID, proofID)
	if err != nil {
		return Certificate{}, false, service.fail(nil, opGet, reasonQueryFailed, err,
			zap.String(fieldOwnerID, ownerID.String()),
			zap.String(fieldProofID, proofID))
	}
	return certificate, found, nil
}

// Get returns the stored certificate, or the zero Certificate when none exists.
func (service *Service) Get(ctx context.Context, ownerID OwnerID, proofID string) (Certificate, error) {
	certificate, _, err := service.Lookup(ctx, ownerID, proofID)
	return certificate, err
}

// ListForOwner returns the owner's certificates in creation order. Index entries
// without a stored record are skipped.
func (service *Service) ListForOwner(ctx context.Context, ownerID OwnerID) ([]Certificate, error) {
	if service.db == nil {
		return nil, service.fail(nil, opListForOwner, reasonMissingDB, errMissingDatabase)
	}
	records := NewRecordStore(service.db)
	proofIDs, err := records.ListOwned(ctx, ownerID)
	if err != nil {
		return nil, service.fail(nil, opListForOwner, reasonQueryFailed, err, zap.String(fieldOwnerID, ownerID.String()))
	}
	certificates := make([]Certificate, 0, len(proofIDs))
	for _, proofID := range proofIDs {
		certificate, found, lookupErr := records.Get(ctx, ownerID, proofID)
		if lookupErr != nil {
			return nil, service.fail(nil, opListForOwner, reasonQueryFailed, lookupErr,
				zap.String(fieldOwnerID, ownerID.String()),
				zap.String(fieldProofID, proofID))
		}
		if !found {
			continue
		}
		certificates = append(certificates, certificate)
	}
	return certificates, nil
}

// ListByCategory returns up to limit certificates currently in the category,
// oldest first. A non-positive limit selects the default page size.
func (service *Service) ListByCategory(ctx context.Context, category string, limit int) ([]Certificate, error) {
	if service.db == nil {
		return nil, service.fail(nil, opListByCategory, reasonMissingDB, errMissingDatabase)
	}
	certificates, err := NewRecordStore(service.db).ListByCategory(ctx, category, limit)
	if err != nil {
		return nil, service.fail(nil, opListByCategory, reasonQueryFailed, err, zap.String(fieldCategory, category))
	}
	return certificates, nil
}

// GetAnalysis returns the verifier's analysis payload, or an empty string when none was recorded.
func (service *Service) GetAnalysis(ctx context.Context, ownerID OwnerID, proofID string) (string, error) {
	if service.db == nil {
		return "", service.fail(nil, opGetAnalysis, reasonMissingDB, errMissingDatabase)
	}
	analysis, _, err := NewRecordStore(service.db).GetAnalysis(ctx, ownerID, proofID)
	if err != nil {
		return "", service.fail(nil, opGetAnalysis, reasonQueryFailed, err,
			zap.String(fieldOwnerID, ownerID.String()),
			zap.String(fieldProofID, proofID))
	}
	return analysis, nil
}

// ListEvents returns the logged events for a certificate in emission order.
func (service *Service) ListEvents(ctx context.Context, ownerID OwnerID, proofID string) ([]Event, error) {
	if service.db == nil {
		return nil, service.fail(nil, opListEvents, reasonMissingDB, errMissingDatabase)
	}
	records, err := NewRecordStore(service.db).ListEvents(ctx, ownerID, proofID)
	if err != nil {
		return nil, service.fail(nil, opListEvents, reasonQueryFailed, err,
			zap.String(fieldOwnerID, ownerID.String()),
			zap.String(fieldProofID, proofID))
	}
	events := make([]Event, 0, len(records))
	for _, record := range records {
		event, decodeErr := DecodeEvent(record.PayloadJSON)
		if decodeErr != nil {
			return nil, service.fail(nil, opListEvents, reasonDecodeFailed, decodeErr, zap.String("event_id", record.EventID))
		}
		events = append(events, event)
	}
	return events, nil
}

// TotalCertificates returns the number of certificates ever created.
func (service *Service) TotalCertificates(ctx context.Context) (int64, error) {
	if service.db == nil {
		return 0, service.fail(nil, opStats, reasonMissingDB, errMissingDatabase)
	}
	total, err := NewAggregateIndex(service.db).Total(ctx)
	if err != nil {
		return 0, service.fail(nil, opStats, reasonQueryFailed, err)
	}
	return total, nil
}

// CategoryCount returns the number of certificates created under the category.
func (service *Service) CategoryCount(ctx context.Context, category string) (int64, error) {
	if service.db == nil {
		return 0, service.fail(nil, opStats, reasonMissingDB, errMissingDatabase)
	}
	count, err := NewAggregateIndex(service.db).CategoryCount(ctx, category)
	if err != nil {
		return 0, service.fail(nil, opStats, reasonQueryFailed, err, zap.String(fieldCategory, category))
	}
	return count, nil
}

// CategoryCounts returns every category counter ordered by label.
func (service *Service) CategoryCounts(ctx context.Context) ([]CategoryCount, error) {
	if service.db == nil {
		return nil, service.fail(nil, opStats, reasonMissingDB, errMissingDatabase)
	}
	counts, err := NewAggregateIndex(service.db).CategoryCounts(ctx)
	if err != nil {
		return nil, service.fail(nil, opStats, reasonQueryFailed, err)
	}
	return counts, nil
}

func (service *Service) appendEvent(ctx context.Context, records RecordStore, event Event) (Event, error) {
	if service.idProvider == nil {
		return Event{}, errMissingIDProvider
	}
	eventID, err := service.idProvider.NewID()
	if err != nil {
		return Event{}, err
	}
	event.ID = eventID
	record, err := newEventRecord(event)
	if err != nil {
		return Event{}, err
	}
	if err := records.AppendEvent(ctx, record); err != nil {
		return Event{}, err
	}
	return event, nil
}

func (service *Service) publish(ctx context.Context, event Event) {
	if service.events == nil {
		return
	}
	if err := service.events.Publish(ctx, event); err != nil {
		service.loggerOrDefault().Warn("certificate event delivery failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String(fieldOwnerID, event.Owner),
			zap.String(fieldProofID, event.ProofID),
			zap.Error(err))
	}
}

func (service *Service) reject(span trace.Span, operation, reason string, err error, fields ...zap.Field) error {
	if span != nil {
		span.SetAttributes(attribute.String("rejection_reason", reason))
	}
	if service != nil {
		service.metrics.IncrementRejection(operation, reason)
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	service.loggerOrDefault().Info("certificates request rejected", attrs...)
	return newServiceError(operation, reason, err)
}

func (service *Service) fail(span trace.Span, operation, reason string, err error, fields ...zap.Field) error {
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
	}
	service.logError(operation, reason, err, fields...)
	return newServiceError(operation, reason, err)
}

func (service *Service) loggerOrDefault() *zap.Logger {
	if service == nil {
		return noOpLogger
	}
	if service.logger == nil {
		return noOpLogger
	}
	return service.logger
}

func (service *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	service.loggerOrDefault().Error("certificates service error", attrs...)
}
