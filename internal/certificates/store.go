package certificates

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	fieldOwnerID       = "owner_id"
	fieldProofID       = "proof_id"
	fieldCategory      = "category"
	queryOwner         = fieldOwnerID + " = ?"
	queryOwnerProof    = fieldOwnerID + " = ? AND " + fieldProofID + " = ?"
	queryCategory      = fieldCategory + " = ?"
	orderPositionAsc   = "position ASC"
	orderCreationSeq   = "creation_seq ASC"
	orderEmittedAtAsc  = "emitted_at_s ASC, event_id ASC"
	defaultCategoryCap = 50
	maxCategoryCap     = 500
)

// RecordStore reads and writes certificate rows through a GORM handle.
// It performs no business validation; absent keys are reported through the found flag.
type RecordStore struct {
	db *gorm.DB
}

// NewRecordStore binds a RecordStore to a connection or an open transaction.
func NewRecordStore(db *gorm.DB) RecordStore {
	return RecordStore{db: db}
}

// Get returns the certificate stored for the key and whether it exists.
func (store RecordStore) Get(ctx context.Context, ownerID OwnerID, proofID string) (Certificate, bool, error) {
	var certificate Certificate
	err := store.db.WithContext(ctx).
		Where(queryOwnerProof, ownerID.String(), proofID).
		Take(&certificate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Certificate{}, false, nil
	}
	if err != nil {
		return Certificate{}, false, err
	}
	if certificate.AITags == nil {
		certificate.AITags = []string{}
	}
	return certificate, true, nil
}

// Put overwrites the certificate stored for the key.
func (store RecordStore) Put(ctx context.Context, ownerID OwnerID, proofID string, certificate Certificate) error {
	certificate.OwnerID = ownerID.String()
	certificate.ProofID = proofID
	if certificate.AITags == nil {
		certificate.AITags = []string{}
	}
	return store.db.WithContext(ctx).Save(&certificate).Error
}

// AppendOwnerIndex appends the proof id at the end of the owner's list.
func (store RecordStore) AppendOwnerIndex(ctx context.Context, ownerID OwnerID, proofID string) error {
	var length int64
	if err := store.db.WithContext(ctx).
		Model(&OwnerIndexEntry{}).
		Where(queryOwner, ownerID.String()).
		Count(&length).Error; err != nil {
		return err
	}
	return store.db.WithContext(ctx).Create(&OwnerIndexEntry{
		OwnerID:  ownerID.String(),
		Position: length + 1,
		ProofID:  proofID,
	}).Error
}

// ListOwned returns the owner's proof ids in insertion order.
func (store RecordStore) ListOwned(ctx context.Context, ownerID OwnerID) ([]string, error) {
	var entries []OwnerIndexEntry
	if err := store.db.WithContext(ctx).
		Where(queryOwner, ownerID.String()).
		Order(orderPositionAsc).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	proofIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		proofIDs = append(proofIDs, entry.ProofID)
	}
	return proofIDs, nil
}

// GetAnalysis returns the stored analysis payload and whether one exists.
func (store RecordStore) GetAnalysis(ctx context.Context, ownerID OwnerID, proofID string) (string, bool, error) {
	var result AnalysisResult
	err := store.db.WithContext(ctx).
		Where(queryOwnerProof, ownerID.String(), proofID).
		Take(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return result.Analysis, true, nil
}

// PutAnalysis overwrites the analysis payload stored for the key.
func (store RecordStore) PutAnalysis(ctx context.Context, ownerID OwnerID, proofID string, analysis string, updatedAtSeconds int64) error {
	return store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: fieldOwnerID}, {Name: fieldProofID}},
			DoUpdates: clause.AssignmentColumns([]string{"analysis", "updated_at_s"}),
		}).
		Create(&AnalysisResult{
			OwnerID:          ownerID.String(),
			ProofID:          proofID,
			Analysis:         analysis,
			UpdatedAtSeconds: updatedAtSeconds,
		}).Error
}

// ListByCategory returns certificates currently labelled with the category in creation order.
func (store RecordStore) ListByCategory(ctx context.Context, category string, limit int) ([]Certificate, error) {
	var certificates []Certificate
	if err := store.db.WithContext(ctx).
		Where(queryCategory, category).
		Order(orderCreationSeq).
		Limit(normalizeCategoryLimit(limit)).
		Find(&certificates).Error; err != nil {
		return nil, err
	}
	for index := range certificates {
		if certificates[index].AITags == nil {
			certificates[index].AITags = []string{}
		}
	}
	return certificates, nil
}

// AppendEvent adds an emitted event to the event log.
func (store RecordStore) AppendEvent(ctx context.Context, record EventRecord) error {
	return store.db.WithContext(ctx).Create(&record).Error
}

// ListEvents returns the logged events for the key in emission order.
func (store RecordStore) ListEvents(ctx context.Context, ownerID OwnerID, proofID string) ([]EventRecord, error) {
	var records []EventRecord
	if err := store.db.WithContext(ctx).
		Where(queryOwnerProof, ownerID.String(), proofID).
		Order(orderEmittedAtAsc).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func normalizeCategoryLimit(limit int) int {
	if limit <= 0 {
		return defaultCategoryCap
	}
	if limit > maxCategoryCap {
		return maxCategoryCap
	}
	return limit
}
