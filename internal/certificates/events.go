package certificates

import (
	"context"
	"encoding/json"
	"errors"
)

// EventType names a certificate state transition.
type EventType string

const (
	// EventCertificateCreated is emitted after a successful submission.
	EventCertificateCreated EventType = "certificateCreated"
	// EventCertificateUpdated is emitted after an owner edits a certificate.
	EventCertificateUpdated EventType = "certificateUpdated"
	// EventAIVerification is emitted after the verifier records a verdict.
	EventAIVerification EventType = "aiVerification"
)

// Event describes one certificate state transition. Fields that do not apply to
// the event type are left empty.
type Event struct {
	ID               string             `json:"id" yaml:"id"`
	Type             EventType          `json:"type" yaml:"type"`
	Owner            string             `json:"owner" yaml:"owner"`
	ProofID          string             `json:"proof_id" yaml:"proof_id"`
	ProofText        string             `json:"proof_text,omitempty" yaml:"proof_text,omitempty"`
	Category         string             `json:"category,omitempty" yaml:"category,omitempty"`
	Metadata         string             `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Status           VerificationStatus `json:"verification_status,omitempty" yaml:"verification_status,omitempty"`
	ConfidenceScore  *uint32            `json:"confidence_score,omitempty" yaml:"confidence_score,omitempty"`
	Analysis         string             `json:"ai_analysis,omitempty" yaml:"ai_analysis,omitempty"`
	TimestampSeconds int64              `json:"timestamp_s" yaml:"timestamp_s"`
}

// EventSink delivers committed events to an observer outside the registry.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

type fanoutSink struct {
	sinks []EventSink
}

// NewFanoutSink returns a sink delivering every event to each non-nil sink.
func NewFanoutSink(sinks ...EventSink) EventSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return &fanoutSink{sinks: filtered}
}

func (sink *fanoutSink) Publish(ctx context.Context, event Event) error {
	var publishErrors []error
	for _, target := range sink.sinks {
		if err := target.Publish(ctx, event); err != nil {
			publishErrors = append(publishErrors, err)
		}
	}
	return errors.Join(publishErrors...)
}

// EncodeEvent renders the event as the JSON document stored in the event log
// and sent to external sinks.
func EncodeEvent(event Event) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// DecodeEvent parses a JSON document produced by EncodeEvent.
func DecodeEvent(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

func newEventRecord(event Event) (EventRecord, error) {
	payload, err := EncodeEvent(event)
	if err != nil {
		return EventRecord{}, err
	}
	return EventRecord{
		EventID:          event.ID,
		EventType:        event.Type,
		OwnerID:          event.Owner,
		ProofID:          event.ProofID,
		PayloadJSON:      payload,
		EmittedAtSeconds: event.TimestampSeconds,
	}, nil
}

func scorePointer(value uint32) *uint32 {
	v := value
	return &v
}
