package certificates

import (
	"errors"
	"fmt"
	"strings"
)

const (
	minProofTextLength = 10
	maxProofTextLength = 1000
	minProofIDLength   = 5
	maxProofIDLength   = 100
	maxOwnerIDLength   = 190
	maxConfidenceScore = 100

	// DefaultCategory is assigned when a submission omits the category.
	DefaultCategory = "GENERAL"
	// DefaultMetadata is assigned when a submission omits metadata.
	DefaultMetadata = "{}"
	// DefaultConfidenceScore is the score of a certificate that has not been verified yet.
	DefaultConfidenceScore uint32 = 100
	// RegistryVersion identifies the registry contract exposed to clients.
	RegistryVersion = "1.0.0"
)

var (
	// ErrInvalidProofText indicates that proof text is outside the accepted length bounds.
	ErrInvalidProofText = errors.New("certificates: invalid proof text")
	// ErrInvalidProofID indicates that a proof identifier is outside the accepted length bounds.
	ErrInvalidProofID = errors.New("certificates: invalid proof id")
	// ErrInvalidOwnerID indicates that an owner identity is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("certificates: invalid owner id")
	// ErrDuplicateProofID indicates that the owner already holds a certificate with the proof id.
	ErrDuplicateProofID = errors.New("certificates: proof id already exists for owner")
	// ErrNotFound indicates that no certificate is stored for the requested key.
	ErrNotFound = errors.New("certificates: certificate not found")
	// ErrUnauthorized indicates that the caller may not perform the requested mutation.
	ErrUnauthorized = errors.New("certificates: caller not authorized")
	// ErrInvalidConfidenceScore indicates a verifier score outside 0..100.
	ErrInvalidConfidenceScore = errors.New("certificates: invalid confidence score")
	// ErrInvalidVerificationStatus indicates an unknown verification status.
	ErrInvalidVerificationStatus = errors.New("certificates: invalid verification status")
)

// OwnerID is the opaque identity of an account that owns certificates.
type OwnerID string

// NewOwnerID validates raw input and returns an OwnerID.
func NewOwnerID(rawInput string) (OwnerID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOwnerID)
	}
	if len(trimmed) > maxOwnerIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwnerID, maxOwnerIDLength)
	}
	return OwnerID(trimmed), nil
}

// String returns the underlying identity.
func (id OwnerID) String() string {
	return string(id)
}

// ProofID identifies a certificate within its owner's namespace.
type ProofID string

// NewProofID validates the identifier length. Lengths are counted in bytes.
func NewProofID(rawInput string) (ProofID, error) {
	length := len(rawInput)
	if length < minProofIDLength || length > maxProofIDLength {
		return "", fmt.Errorf("%w: length %d outside [%d, %d]", ErrInvalidProofID, length, minProofIDLength, maxProofIDLength)
	}
	return ProofID(rawInput), nil
}

// String returns the underlying identifier.
func (id ProofID) String() string {
	return string(id)
}

// ProofText is the claim carried by a certificate.
type ProofText string

// NewProofText validates the claim length. Lengths are counted in bytes.
func NewProofText(rawInput string) (ProofText, error) {
	length := len(rawInput)
	if length < minProofTextLength || length > maxProofTextLength {
		return "", fmt.Errorf("%w: length %d outside [%d, %d]", ErrInvalidProofText, length, minProofTextLength, maxProofTextLength)
	}
	return ProofText(rawInput), nil
}

// String returns the claim text.
func (text ProofText) String() string {
	return string(text)
}

// VerificationStatus enumerates the verifier's verdict on a certificate.
type VerificationStatus string

const (
	// StatusPending marks a certificate that has not been verified.
	StatusPending VerificationStatus = "Pending"
	// StatusVerified marks a certificate the verifier accepted.
	StatusVerified VerificationStatus = "Verified"
	// StatusRejected marks a certificate the verifier rejected.
	StatusRejected VerificationStatus = "Rejected"
	// StatusFlagged marks a certificate that needs manual review.
	StatusFlagged VerificationStatus = "Flagged"
)

// ParseVerificationStatus maps case-insensitive input onto a known status.
func ParseVerificationStatus(rawInput string) (VerificationStatus, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case "pending":
		return StatusPending, nil
	case "verified":
		return StatusVerified, nil
	case "rejected":
		return StatusRejected, nil
	case "flagged":
		return StatusFlagged, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVerificationStatus, rawInput)
	}
}

// Valid reports whether the status is one of the four known values.
func (status VerificationStatus) Valid() bool {
	switch status {
	case StatusPending, StatusVerified, StatusRejected, StatusFlagged:
		return true
	default:
		return false
	}
}

// String returns the status label.
func (status VerificationStatus) String() string {
	return string(status)
}

// ConfidenceScore is a verifier-assigned score in 0..100.
type ConfidenceScore uint32

// NewConfidenceScore rejects values outside 0..100.
func NewConfidenceScore(value int64) (ConfidenceScore, error) {
	if value < 0 || value > maxConfidenceScore {
		return 0, fmt.Errorf("%w: %d outside [0, %d]", ErrInvalidConfidenceScore, value, maxConfidenceScore)
	}
	return ConfidenceScore(value), nil
}

// Uint32 returns the raw score.
func (score ConfidenceScore) Uint32() uint32 {
	return uint32(score)
}

// SubmitRequest carries the inputs of a certificate submission.
// Nil optional fields receive their defaults.
type SubmitRequest struct {
	Caller    OwnerID
	ProofText string
	ProofID   string
	Category  *string
	Metadata  *string
	AITags    []string
}

// UpdateRequest carries replacements for a certificate's content fields.
// Owner defaults to Caller; nil fields are left unchanged.
type UpdateRequest struct {
	Caller    OwnerID
	Owner     OwnerID
	ProofID   string
	ProofText *string
	Category  *string
	Metadata  *string
	AITags    *[]string
}

// VerifyRequest carries a verifier's verdict for one certificate.
type VerifyRequest struct {
	Caller          OwnerID
	Owner           OwnerID
	ProofID         string
	ConfidenceScore int64
	Status          VerificationStatus
	Analysis        string
}

// CategoryCount pairs a category label with its creation-time count.
type CategoryCount struct {
	Category string `json:"category" yaml:"category"`
	Count    int64  `json:"count" yaml:"count"`
}

func categoryOrDefault(value *string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return DefaultCategory
	}
	return *value
}

func metadataOrDefault(value *string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return DefaultMetadata
	}
	return *value
}

func copyTags(tags []string) []string {
	copied := make([]string, len(tags))
	copy(copied, tags)
	return copied
}
