package certificates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testVerifierID     = "verifier-1"
	testClockSeconds   = int64(1700000600)
	testProofText      = "I completed the distributed systems course"
	testOtherProofText = "I shipped the storage engine rewrite"
)

type sequentialIDGenerator struct {
	mu   sync.Mutex
	next int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("event-%06d", g.next), nil
}

type failingIDGenerator struct{}

func (failingIDGenerator) NewID() (string, error) {
	return "", errors.New("id source unavailable")
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (sink *recordingSink) Publish(_ context.Context, event Event) error {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.events = append(sink.events, event)
	return sink.err
}

func (sink *recordingSink) Events() []Event {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	copied := make([]Event, len(sink.events))
	copy(copied, sink.events)
	return copied
}

type testServiceOptions struct {
	ids    IDProvider
	sink   EventSink
	logger *zap.Logger
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:proofmind_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, options testServiceOptions) (*Service, *gorm.DB) {
	t.Helper()

	db := openTestDatabase(t)
	ids := options.ids
	if ids == nil {
		ids = &sequentialIDGenerator{}
	}
	clock := func() time.Time { return time.Unix(testClockSeconds, 0).UTC() }

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: ids,
		VerifierID: OwnerID(testVerifierID),
		Events:     options.sink,
		Logger:     options.logger,
	})
	if err != nil {
		t.Fatalf("failed to construct certificates service: %v", err)
	}
	return service, db
}

func mustOwnerID(t *testing.T, value string) OwnerID {
	t.Helper()
	id, err := NewOwnerID(value)
	if err != nil {
		t.Fatalf("unexpected owner id error: %v", err)
	}
	return id
}

func mustSubmit(t *testing.T, service *Service, request SubmitRequest) Certificate {
	t.Helper()
	certificate, err := service.Submit(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	return certificate
}

func stringPointer(value string) *string {
	return &value
}

func serviceErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
