package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PauFou/form-builder-sub001/internal/model"
	ingestService "github.com/PauFou/form-builder-sub001/internal/service/ingest"
	apperrors "github.com/PauFou/form-builder-sub001/pkg/errors"
	"github.com/PauFou/form-builder-sub001/pkg/idempotency"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
	"github.com/PauFou/form-builder-sub001/pkg/metrics"
	"github.com/PauFou/form-builder-sub001/pkg/queue"
	"github.com/PauFou/form-builder-sub001/pkg/signature"
)

type stubFormRepo struct{ form *model.Form }

func (s *stubFormRepo) Get(ctx context.Context, id uuid.UUID) (*model.Form, error) {
	if s.form == nil || s.form.ID != id {
		return nil, apperrors.NotFound("form", nil)
	}
	return s.form, nil
}

func (s *stubFormRepo) Create(ctx context.Context, form *model.Form) error { return nil }

type stubSubmissionRepo struct{}

func (stubSubmissionRepo) CreateWithAnswers(ctx context.Context, s *model.Submission) error {
	s.ID = uuid.New()
	return nil
}

func (stubSubmissionRepo) UpsertPartial(ctx context.Context, s *model.Submission) error {
	s.ID = uuid.New()
	return nil
}

func (stubSubmissionRepo) Get(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	return nil, apperrors.NotFound("submission", nil)
}

type stubIdemStore struct{}

func (stubIdemStore) Get(ctx context.Context, formID uuid.UUID, k string) (*idempotency.Result, error) {
	return nil, nil
}

func (stubIdemStore) Set(ctx context.Context, formID uuid.UUID, k string, res *idempotency.Result) error {
	return nil
}

type stubQueue struct{}

func (stubQueue) Enqueue(ctx context.Context, name string, job *queue.Job) error { return nil }
func (stubQueue) Consume(ctx context.Context, name string, handler queue.Handler) error {
	return nil
}
func (stubQueue) Close() error { return nil }

const stubSecret = "test-ingest-secret"

func newTestRouter(t *testing.T, form *model.Form) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := metrics.NewWithRegisterer("test", nil)
	svc := ingestService.NewService(
		&stubFormRepo{form: form},
		stubSubmissionRepo{},
		stubIdemStore{},
		stubQueue{},
		ingestService.Config{},
		logger.NewLogger(nil),
		m,
	)

	engine := gin.New()
	NewHandler(svc, logger.NewLogger(nil), m).RegisterRoutes(engine.Group("/api/v1"))
	return engine
}

func signedRequest(t *testing.T, formID uuid.UUID, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submit/"+formID.String(), bytes.NewReader(body))
	req.Header.Set(HeaderSignature, signature.Sign(body, stubSecret))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	return req
}

func submissionBody(t *testing.T, formID uuid.UUID) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"data": map[string]interface{}{
			"form_id":        formID,
			"respondent_key": "resp-1",
			"answers": []map[string]interface{}{
				{"block_id": "q1", "type": "text", "value": "hello"},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestSubmitAccepted(t *testing.T) {
	form := &model.Form{
		ID:           uuid.New(),
		Status:       model.FormStatusPublished,
		IngestSecret: stubSecret,
		Version:      1,
	}
	engine := newTestRouter(t, form)

	body := submissionBody(t, form.ID)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, signedRequest(t, form.ID, body))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		SubmissionID uuid.UUID `json:"submission_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.SubmissionID)
}

func TestSubmitErrorEnvelopes(t *testing.T) {
	form := &model.Form{
		ID:           uuid.New(),
		Status:       model.FormStatusPublished,
		IngestSecret: stubSecret,
		Version:      1,
	}
	engine := newTestRouter(t, form)
	body := submissionBody(t, form.ID)

	tests := []struct {
		name       string
		request    func() *http.Request
		wantStatus int
		wantCode   string
	}{
		{
			name: "unsigned request",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/submit/"+form.ID.String(), bytes.NewReader(body))
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "MISSING_SIGNATURE",
		},
		{
			name: "tampered body",
			request: func() *http.Request {
				req := signedRequest(t, form.ID, body)
				tampered := append([]byte{}, body...)
				tampered[0] = '['
				req.Body = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(tampered)).Body
				return req
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name: "stale timestamp",
			request: func() *http.Request {
				req := signedRequest(t, form.ID, body)
				req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10))
				return req
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "TIMESTAMP_INVALID",
		},
		{
			name: "unknown form",
			request: func() *http.Request {
				other := uuid.New()
				b := submissionBody(t, other)
				return signedRequest(t, other, b)
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name: "invalid form id",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/submit/not-a-uuid", bytes.NewReader(body))
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, tt.request())

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			var resp struct {
				Code string `json:"code"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestSubmitUnpublishedForm(t *testing.T) {
	form := &model.Form{
		ID:           uuid.New(),
		Status:       model.FormStatusDraft,
		IngestSecret: stubSecret,
		Version:      1,
	}
	engine := newTestRouter(t, form)

	body := submissionBody(t, form.ID)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, signedRequest(t, form.ID, body))

	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "FORM_NOT_PUBLISHED")
}

