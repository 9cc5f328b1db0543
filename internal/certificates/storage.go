package certificates

import "gorm.io/datatypes"

// Certificate is the persisted attestation record keyed by owner and proof id.
type Certificate struct {
	OwnerID            string                      `gorm:"column:owner_id;primaryKey;size:190;not null" json:"owner" yaml:"owner"`
	ProofID            string                      `gorm:"column:proof_id;primaryKey;size:100;not null" json:"proof_id" yaml:"proof_id"`
	ProofText          string                      `gorm:"column:proof_text;type:text;not null" json:"proof_text" yaml:"proof_text"`
	Category           string                      `gorm:"column:category;not null;index:idx_certificates_category_seq,priority:1" json:"category" yaml:"category"`
	Metadata           string                      `gorm:"column:metadata;type:text;not null" json:"metadata" yaml:"metadata"`
	AITags             datatypes.JSONSlice[string] `gorm:"column:ai_tags;not null" json:"ai_tags" yaml:"ai_tags"`
	ConfidenceScore    uint32                      `gorm:"column:confidence_score;not null" json:"confidence_score" yaml:"confidence_score"`
	VerificationStatus VerificationStatus          `gorm:"column:verification_status;size:16;not null" json:"verification_status" yaml:"verification_status"`
	CreatedBy          string                      `gorm:"column:created_by;size:190;not null" json:"created_by" yaml:"created_by"`
	CreatedAtSeconds   int64                       `gorm:"column:created_at_s;not null" json:"created_at_s" yaml:"created_at_s"`
	UpdatedAtSeconds   int64                       `gorm:"column:updated_at_s;not null" json:"updated_at_s" yaml:"updated_at_s"`
	CreationSeq        int64                       `gorm:"column:creation_seq;not null;index:idx_certificates_category_seq,priority:2" json:"creation_seq" yaml:"creation_seq"`
}

// TableName provides the explicit table binding for GORM.
func (Certificate) TableName() string {
	return "certificates"
}

// Tags returns the certificate's AI tags as a plain slice, never nil.
func (certificate Certificate) Tags() []string {
	return copyTags(certificate.AITags)
}

// OwnerIndexEntry records the position of a proof id in its owner's append-only list.
type OwnerIndexEntry struct {
	OwnerID  string `gorm:"column:owner_id;primaryKey;size:190;not null"`
	Position int64  `gorm:"column:position;primaryKey;autoIncrement:false;not null"`
	ProofID  string `gorm:"column:proof_id;size:100;not null"`
}

// TableName provides the explicit table binding for GORM.
func (OwnerIndexEntry) TableName() string {
	return "certificate_owner_index"
}

// AnalysisResult stores the verifier's opaque analysis payload for a certificate.
type AnalysisResult struct {
	OwnerID          string `gorm:"column:owner_id;primaryKey;size:190;not null"`
	ProofID          string `gorm:"column:proof_id;primaryKey;size:100;not null"`
	Analysis         string `gorm:"column:analysis;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AnalysisResult) TableName() string {
	return "certificate_analysis_results"
}

// RegistryCounter stores a named registry-wide counter.
type RegistryCounter struct {
	Name  string `gorm:"column:name;primaryKey;size:64;not null"`
	Value int64  `gorm:"column:value;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (RegistryCounter) TableName() string {
	return "registry_counters"
}

// CategoryCounter stores the number of certificates created under a category.
type CategoryCounter struct {
	Category string `gorm:"column:category;primaryKey;not null"`
	Count    int64  `gorm:"column:count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (CategoryCounter) TableName() string {
	return "category_counters"
}

// EventRecord is the append-only log of emitted certificate events.
type EventRecord struct {
	EventID          string    `gorm:"column:event_id;primaryKey;size:64;not null"`
	EventType        EventType `gorm:"column:event_type;size:32;not null"`
	OwnerID          string    `gorm:"column:owner_id;size:190;not null;index:idx_certificate_events_key,priority:1"`
	ProofID          string    `gorm:"column:proof_id;size:100;not null;index:idx_certificate_events_key,priority:2"`
	PayloadJSON      string    `gorm:"column:payload_json;type:text;not null"`
	EmittedAtSeconds int64     `gorm:"column:emitted_at_s;not null;index:idx_certificate_events_key,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (EventRecord) TableName() string {
	return "certificate_events"
}

// Models lists every table owned by the certificates package for schema migration.
func Models() []any {
	return []any{
		&Certificate{},
		&OwnerIndexEntry{},
		&AnalysisResult{},
		&RegistryCounter{},
		&CategoryCounter{},
		&EventRecord{},
	}
}
