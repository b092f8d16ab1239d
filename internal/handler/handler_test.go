package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/eventreg/internal/admission"
	"github.com/Shivanand-hulikatti/eventreg/internal/metrics"
	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository/repotest"
	"github.com/Shivanand-hulikatti/eventreg/internal/service"
)

var secret = []byte("test-secret")

func token(t *testing.T, subject string, role Role) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

type testServer struct {
	t      *testing.T
	store  repository.Store
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repotest.OpenSQLite(t)
	clock := func() time.Time { return repotest.Now }
	reg, m := metrics.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := admission.New(store, nil, admission.WithClock(clock), admission.WithMetrics(m), admission.WithLogger(logger))
	svc := service.NewEventService(store, ctrl, service.WithClock(clock), service.WithMetrics(m), service.WithLogger(logger))
	router := NewRouter(NewEventHandler(svc, logger), RouterConfig{
		JWTSecret: secret,
		Gatherer:  reg,
		Logger:    logger,
	})
	return &testServer{t: t, store: store, router: router}
}

func (s *testServer) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)
	org := repotest.Organizer(t, s.store)

	tests := []struct {
		name   string
		bearer string
		want   int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"participant on organizer route", token(t, "p1", RoleParticipant), http.StatusForbidden},
		{"organizer", token(t, org.ID, RoleOrganizer), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodGet, "/organizer/events", tt.bearer, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	t.Run("wrong secret", func(t *testing.T) {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			Role:             RoleOrganizer,
			RegisteredClaims: jwt.RegisteredClaims{Subject: org.ID},
		}).SignedString([]byte("other"))
		require.NoError(t, err)
		rec := s.do(http.MethodGet, "/organizer/events", forged, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/organizer/events", nil)
		req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token(t, org.ID, RoleOrganizer)})
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})
}

func TestOrganizerAndParticipantFlow(t *testing.T) {
	s := newTestServer(t)
	org := repotest.Organizer(t, s.store)
	orgToken := token(t, org.ID, RoleOrganizer)
	p := repotest.Participant(t, s.store, "campus")
	pToken := token(t, p.ID, RoleParticipant)

	draft := map[string]any{
		"name":                 "Hackathon",
		"eventType":            "normal",
		"eligibility":          "all",
		"tags":                 []string{"tech"},
		"registrationFee":      10,
		"registrationLimit":    2,
		"registrationDeadline": repotest.Now.Add(24 * time.Hour),
		"startDate":            repotest.Now.Add(48 * time.Hour),
		"endDate":              repotest.Now.Add(72 * time.Hour),
	}
	rec := s.do(http.MethodPost, "/organizer/events", orgToken, draft)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	event := decode[model.Event](t, rec)
	assert.Equal(t, model.StatusDraft, event.Status)

	rec = s.do(http.MethodPost, "/organizer/events/"+event.ID+"/publish", orgToken, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errResp := decode[model.ErrorResponse](t, rec)
	assert.Equal(t, "publish_validation_failed", errResp.Code)
	assert.ElementsMatch(t, []string{"description", "registration Form"}, errResp.Missing)

	desc := "24h build"
	update := model.EventUpdate{
		Description: &desc,
		Draft: &model.EventDraft{
			Name:                 "Hackathon",
			EventType:            model.EventTypeNormal,
			Eligibility:          model.EligibilityAll,
			Tags:                 []string{"tech"},
			RegistrationFee:      repotest.FloatPtr(10),
			RegistrationLimit:    repotest.IntPtr(2),
			RegistrationDeadline: event.RegistrationDeadline,
			StartDate:            event.StartDate,
			EndDate:              event.EndDate,
			RegistrationForm:     []model.FormField{{Label: "College", Kind: model.FieldText, Required: true}},
		},
	}
	rec = s.do(http.MethodPut, "/organizer/events/"+event.ID, orgToken, update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/organizer/events/"+event.ID+"/publish", orgToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Event](t, rec), 1)

	path := "/events/" + event.ID + "/register"
	rec = s.do(http.MethodPost, path, pToken, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp = decode[model.ErrorResponse](t, rec)
	assert.Equal(t, "missing_field", errResp.Code)
	assert.Contains(t, errResp.Error, "College")

	rec = s.do(http.MethodPost, path, orgToken, map[string]any{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body := map[string]any{"formResponse": map[string]any{"College": "IIT"}}
	rec = s.do(http.MethodPost, path, pToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[model.RegisterResult](t, rec)
	ticketID := result.Registration.TicketID

	rec = s.do(http.MethodPost, path, pToken, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_registered", decode[model.ErrorResponse](t, rec).Code)

	other := repotest.Participant(t, s.store, "campus")
	rec = s.do(http.MethodPost, path, token(t, other.ID, RoleParticipant), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	late := repotest.Participant(t, s.store, "campus")
	rec = s.do(http.MethodPost, path, token(t, late.ID, RoleParticipant), body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "limit_reached", decode[model.ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodGet, "/me/registrations", pToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Registration](t, rec), 1)

	rec = s.do(http.MethodPatch, fmt.Sprintf("/organizer/events/%s/tickets/%s/attendance", event.ID, ticketID),
		orgToken, map[string]bool{"attended": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[model.Registration](t, rec).Attended)

	rec = s.do(http.MethodPatch, "/organizer/registrations/"+result.Registration.ID+"/attendance", orgToken, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/organizer/events/"+event.ID+"/stats", orgToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[model.EventStats](t, rec)
	assert.Equal(t, 2, stats.Registrations)
	assert.Equal(t, 20.0, stats.Revenue)

	rec = s.do(http.MethodGet, "/organizer/events/"+event.ID+"/registrations", token(t, "someone-else", RoleOrganizer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_owner", decode[model.ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodPost, "/organizer/events/"+event.ID+"/close", orgToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusClosed, decode[model.Event](t, rec).Status)

	rec = s.do(http.MethodPost, "/organizer/events/"+event.ID+"/start", orgToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[model.ErrorResponse](t, rec).Code)
}

func TestBadBodies(t *testing.T) {
	s := newTestServer(t)
	org := repotest.Organizer(t, s.store)

	req := httptest.NewRequest(http.MethodPost, "/organizer/events", strings.NewReader(`{"bogus": 1}`))
	req.Header.Set("Authorization", "Bearer "+token(t, org.ID, RoleOrganizer))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", decode[model.ErrorResponse](t, rec).Code)
}

func TestGetEventNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/events/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[model.ErrorResponse](t, rec).Code)
}

func TestUnknownErrorsAreOpaque(t *testing.T) {
	h := NewEventHandler(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := httptest.NewRecorder()
	h.writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("dial tcp: refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error","code":"internal"}`, rec.Body.String())
}

func TestAdmissionConflictIsRetryable(t *testing.T) {
	h := NewEventHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		fmt.Errorf("%w: %w", admission.ErrAdmissionConflict, repository.ErrConflict))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRepeatedVariantIsRejected(t *testing.T) {
	s := newTestServer(t)
	org := repotest.Organizer(t, s.store)

	draft := map[string]any{
		"name":      "Merch drop",
		"eventType": "merchandise",
		"merchandise": map[string]any{
			"items": map[string]any{
				"name": "Tee",
				"variants": []map[string]any{
					{"size": "M", "color": "red", "stock": 1},
					{"size": "M", "color": "red", "stock": 3},
				},
			},
		},
	}
	rec := s.do(http.MethodPost, "/organizer/events", token(t, org.ID, RoleOrganizer), draft)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_update", decode[model.ErrorResponse](t, rec).Code)
}

func TestStoreConflictIsRetryable(t *testing.T) {
	h := NewEventHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.writeError(rec, httptest.NewRequest(http.MethodPost, "/", nil),
		fmt.Errorf("update event: %w", repository.ErrConflict))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "conflict", decode[model.ErrorResponse](t, rec).Code)
}
