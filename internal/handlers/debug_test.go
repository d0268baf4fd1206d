package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-coordinator/internal/middleware"
	"chat-coordinator/internal/mocks"
	"chat-coordinator/internal/telemetry"
)

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, nil, new(mocks.QueryServiceMock), false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugAuditEmitsWithRequestIDAndUsername(t *testing.T) {
	gin.SetMode(gin.TestMode)
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.logs", "chat-coordinator", "test")

	r := gin.New()
	r.Use(middleware.RequestID())
	RegisterDebugRoutes(r, emitter, new(mocks.QueryServiceMock), true)

	publisher.On("Publish", mock.Anything, "audit.logs", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.RequestID == "req-42" && env.Username != nil && *env.Username == "alice" &&
			env.Payload.ConnID == "conn-1"
	}), map[string]string{"x-request-id": "req-42"}).Return(nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test?conn_id=conn-1", nil)
	req.Header.Set("X-Request-Id", "req-42")
	req.Header.Set("X-Username", "alice")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
	publisher.AssertExpectations(t)
}

func TestDebugState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	queries := new(mocks.QueryServiceMock)
	r := gin.New()
	RegisterDebugRoutes(r, nil, queries, true)

	queries.On("Roster", mock.Anything).Return(nil, nil).Once()
	queries.On("Rooms", mock.Anything).Return(map[string]int{"general": 0}, nil).Once()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"general":0`)
	queries.AssertExpectations(t)
}
