package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/proofmind/internal/auth"
	"github.com/MarcoPoloResearchLab/proofmind/internal/certificates"
	"github.com/MarcoPoloResearchLab/proofmind/internal/metrics"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testVerifierID    = "verifier-1"
	jsonContentType   = "application/json"
)

type testStack struct {
	server     *httptest.Server
	tokens     *auth.TokenIssuer
	service    *certificates.Service
	dispatcher *RealtimeDispatcher
}

func newTestStack(t *testing.T) testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:proofmind_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(certificates.Models()...))

	registry := prometheus.NewRegistry()
	dispatcher := NewRealtimeDispatcher()
	service, err := certificates.NewService(certificates.ServiceConfig{
		Database:   db,
		IDProvider: certificates.NewUUIDProvider(),
		VerifierID: testVerifierID,
		Events:     dispatcher,
		Metrics:    metrics.New(registry),
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "proofmind-auth",
		Audience:      "proofmind-api",
		TokenTTL:      time.Minute,
	})
	require.NoError(t, err)

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:        tokens,
		CertificatesService: service,
		Realtime:            dispatcher,
		MetricsHandler:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:              zap.NewNop(),
	})
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return testStack{server: server, tokens: tokens, service: service, dispatcher: dispatcher}
}

func (stack testStack) token(t *testing.T, subject string) string {
	t.Helper()
	token, _, err := stack.tokens.IssueToken(context.Background(), subject)
	require.NoError(t, err)
	return token
}

func (stack testStack) do(t *testing.T, method, path, token, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	request, err := http.NewRequest(method, stack.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		request.Header.Set("Content-Type", jsonContentType)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	return response.StatusCode, payload
}

func TestCertificateLifecycleOverHTTP(t *testing.T) {
	stack := newTestStack(t)
	ownerToken := stack.token(t, "owner-a")
	verifierToken := stack.token(t, testVerifierID)

	status, body := stack.do(t, http.MethodPost, "/certificates", ownerToken,
		`{"proof_text":"This is a valid ten-plus char claim","proof_id":"proof-001","category":"EDUCATION","ai_tags":["go"]}`)
	require.Equal(t, http.StatusCreated, status, string(body))

	var created certificates.Certificate
	require.NoError(t, json.Unmarshal(body, &created))
	require.Equal(t, "owner-a", created.OwnerID)
	require.Equal(t, certificates.StatusPending, created.VerificationStatus)
	require.Equal(t, []string{"go"}, created.Tags())

	status, body = stack.do(t, http.MethodPost, "/certificates", ownerToken,
		`{"proof_text":"This is a valid ten-plus char claim","proof_id":"proof-001"}`)
	require.Equal(t, http.StatusConflict, status)
	require.JSONEq(t, `{"error":"certificates.submit.duplicate_proof_id"}`, string(body))

	status, body = stack.do(t, http.MethodPost, "/certificates/owner-a/proof-001/verification", verifierToken,
		`{"confidence_score":87,"verification_status":"verified","ai_analysis":"analysis-blob"}`)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = stack.do(t, http.MethodGet, "/certificates/owner-a/proof-001", "", "")
	require.Equal(t, http.StatusOK, status)
	var stored certificates.Certificate
	require.NoError(t, json.Unmarshal(body, &stored))
	require.Equal(t, uint32(87), stored.ConfidenceScore)
	require.Equal(t, certificates.StatusVerified, stored.VerificationStatus)

	status, body = stack.do(t, http.MethodGet, "/certificates/owner-a/proof-001/analysis", "", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"owner":"owner-a","proof_id":"proof-001","ai_analysis":"analysis-blob"}`, string(body))

	status, body = stack.do(t, http.MethodGet, "/stats", "", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"version":"1.0.0","total":1,"categories":[{"category":"EDUCATION","count":1}]}`, string(body))

	status, body = stack.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), "proofmind_certificates_submitted_total 1")
	require.Contains(t, string(body), `proofmind_certificates_verified_total{status="Verified"} 1`)
}

func TestUpdateOverHTTPEnforcesOwnership(t *testing.T) {
	stack := newTestStack(t)
	ownerToken := stack.token(t, "owner-a")
	intruderToken := stack.token(t, "owner-b")

	status, _ := stack.do(t, http.MethodPost, "/certificates", ownerToken,
		`{"proof_text":"This is a valid ten-plus char claim","proof_id":"proof-001"}`)
	require.Equal(t, http.StatusCreated, status)

	status, body := stack.do(t, http.MethodPatch, "/certificates/proof-001?owner=owner-a", intruderToken,
		`{"proof_text":"An intruder rewrote this claim"}`)
	require.Equal(t, http.StatusForbidden, status)
	require.JSONEq(t, `{"error":"certificates.update.unauthorized"}`, string(body))

	status, _ = stack.do(t, http.MethodPatch, "/certificates/proof-001", intruderToken,
		`{"proof_text":"An intruder rewrote this claim"}`)
	require.Equal(t, http.StatusNotFound, status)

	status, body = stack.do(t, http.MethodPatch, "/certificates/proof-001", ownerToken,
		`{"category":"WORK","metadata":"{\"rev\":2}"}`)
	require.Equal(t, http.StatusOK, status, string(body))
	var updated certificates.Certificate
	require.NoError(t, json.Unmarshal(body, &updated))
	require.Equal(t, "WORK", updated.Category)
	require.Equal(t, `{"rev":2}`, updated.Metadata)

	status, body = stack.do(t, http.MethodGet, "/categories/WORK/certificates?limit=5", "", "")
	require.Equal(t, http.StatusOK, status)
	var listed certificateListPayload
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Certificates, 1)

	status, body = stack.do(t, http.MethodGet, "/stats/categories/GENERAL", "", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"category":"GENERAL","count":1}`, string(body))
}

func TestHTTPStatusMapping(t *testing.T) {
	stack := newTestStack(t)
	ownerToken := stack.token(t, "owner-a")

	status, body := stack.do(t, http.MethodPost, "/certificates", ownerToken, `{"proof_text":"too short","proof_id":"proof-001"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.JSONEq(t, `{"error":"certificates.submit.invalid_proof_text"}`, string(body))

	status, _ = stack.do(t, http.MethodPost, "/certificates", ownerToken, `not-json`)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = stack.do(t, http.MethodPost, "/certificates", "", `{"proof_text":"This is a valid claim","proof_id":"proof-001"}`)
	require.Equal(t, http.StatusUnauthorized, status)

	status, body = stack.do(t, http.MethodPost, "/certificates/owner-a/proof-001/verification", ownerToken,
		`{"confidence_score":50,"verification_status":"bogus"}`)
	require.Equal(t, http.StatusForbidden, status)
	require.JSONEq(t, `{"error":"certificates.verify.unauthorized"}`, string(body))

	verifierToken := stack.token(t, testVerifierID)
	status, _ = stack.do(t, http.MethodPost, "/certificates/owner-a/proof-404/verification", verifierToken,
		`{"confidence_score":50,"verification_status":"Flagged"}`)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = stack.do(t, http.MethodPost, "/certificates/owner-a/proof-001/verification", verifierToken,
		`not-json`)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = stack.do(t, http.MethodGet, "/certificates/owner-a/proof-404", "", "")
	require.Equal(t, http.StatusNotFound, status)

	status, _ = stack.do(t, http.MethodGet, "/categories/WORK/certificates?limit=abc", "", "")
	require.Equal(t, http.StatusBadRequest, status)

	status, body = stack.do(t, http.MethodGet, "/owners/owner-z/certificates", "", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"certificates":[]}`, string(body))

	status, body = stack.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"status":"ok","version":"1.0.0"}`, string(body))
}

func TestVerifyWithoutScoreChecksVerifierFirst(t *testing.T) {
	stack := newTestStack(t)
	ownerToken := stack.token(t, "owner-a")
	verifierToken := stack.token(t, testVerifierID)

	status, _ := stack.do(t, http.MethodPost, "/certificates", ownerToken,
		`{"proof_text":"This is a valid ten-plus char claim","proof_id":"proof-001"}`)
	require.Equal(t, http.StatusCreated, status)

	status, body := stack.do(t, http.MethodPost, "/certificates/owner-a/proof-001/verification", ownerToken,
		`{"verification_status":"Flagged"}`)
	require.Equal(t, http.StatusForbidden, status)
	require.JSONEq(t, `{"error":"certificates.verify.unauthorized"}`, string(body))

	status, body = stack.do(t, http.MethodPost, "/certificates/owner-a/proof-001/verification", verifierToken,
		`{"verification_status":"Flagged"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.JSONEq(t, `{"error":"certificates.verify.invalid_confidence_score"}`, string(body))

	certificate, err := stack.service.Get(context.Background(), "owner-a", "proof-001")
	require.NoError(t, err)
	require.Equal(t, certificates.StatusPending, certificate.VerificationStatus)
}

func TestHandleSubmitIncludesServiceErrorCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Set(callerIDContextKey, "owner-1")

	body := `{"proof_text":"This is a valid ten-plus char claim","proof_id":"proof-001"}`
	request := httptest.NewRequest(http.MethodPost, "/certificates", strings.NewReader(body))
	request.Header.Set("Content-Type", jsonContentType)
	ctx.Request = request

	handler := &httpHandler{
		certificates: &certificates.Service{},
		logger:       zap.NewNop(),
	}

	handler.handleSubmitCertificate(ctx)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected internal server error status, got %d", recorder.Code)
	}
	expected := `{"error":"certificates.submit.missing_database"}`
	if recorder.Body.String() != expected {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}

func TestEventStreamDeliversOwnerEvents(t *testing.T) {
	stack := newTestStack(t)
	ownerToken := stack.token(t, "owner-a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, stack.server.URL+"/events/stream?access_token="+ownerToken, http.NoBody)
	require.NoError(t, err)
	streamResp, err := http.DefaultClient.Do(streamRequest)
	require.NoError(t, err)
	t.Cleanup(func() { _ = streamResp.Body.Close() })
	require.Equal(t, http.StatusOK, streamResp.StatusCode)
	require.Contains(t, streamResp.Header.Get("Content-Type"), "text/event-stream")

	streamReader := bufio.NewReader(streamResp.Body)
	waitForEvent(t, streamReader, "ready")

	status, _ := stack.do(t, http.MethodPost, "/certificates", ownerToken,
		`{"proof_text":"This is a valid ten-plus char claim","proof_id":"proof-001"}`)
	require.Equal(t, http.StatusCreated, status)

	dataJSON := waitForEvent(t, streamReader, string(certificates.EventCertificateCreated))
	var event certificates.Event
	require.NoError(t, json.Unmarshal([]byte(dataJSON), &event))
	require.Equal(t, "owner-a", event.Owner)
	require.Equal(t, "proof-001", event.ProofID)
	require.NotEmpty(t, event.ID)
}

func TestEventStreamRequiresToken(t *testing.T) {
	stack := newTestStack(t)

	status, _ := stack.do(t, http.MethodGet, "/events/stream", "", "")
	require.Equal(t, http.StatusUnauthorized, status)
}

// waitForEvent reads SSE lines until an event of the given type arrives and returns its data.
func waitForEvent(t *testing.T, reader *bufio.Reader, eventType string) string {
	t.Helper()

	type readResult struct {
		line string
		err  error
	}
	currentEventType := ""
	deadline := time.After(5 * time.Second)
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := reader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != eventType {
				continue
			}
			return strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}
