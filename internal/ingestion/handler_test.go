package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	v1 "github.com/aevon-lab/report-core/internal/api/v1"
	httperr "github.com/aevon-lab/report-core/internal/core/errors"
	ingestionmocks "github.com/aevon-lab/report-core/internal/mocks/ingestion"
	"github.com/aevon-lab/report-core/internal/schema"
)

var testEventID = uuid.MustParse("7b0c5a52-9f53-4f43-9a55-3f1d6f9c2a10")

func orderBody(t *testing.T) []byte {
	t.Helper()
	env, err := v1.NewEnvelope(testEventID, v1.OrderCompleted{
		OrderID:     "o-1",
		DealerID:    "d-1",
		CustomerID:  "c-1",
		ModelID:     "m-1",
		Quantity:    1,
		TotalAmount: decimal.NewFromInt(40000),
		Profit:      decimal.NewFromInt(4000),
		Region:      "north",
		CompletedAt: v1.MustParseTime("2024-01-10"),
	}, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

func newRouter(pub Publisher, maxBodySizeMB int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewService(schema.NewDefaultRegistry(), pub, maxBodySizeMB).RegisterRoutes(r)
	return r
}

func post(r *gin.Engine, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestIngestHandler_Success(t *testing.T) {
	pub := ingestionmocks.NewPublisher(t)
	pub.EXPECT().
		Publish(mock.Anything, mock.MatchedBy(func(env *v1.Envelope) bool {
			return env.EventID == testEventID && env.Type == v1.TypeOrderCompleted
		})).
		Return(nil).
		Once()

	resp := post(newRouter(pub, 1), orderBody(t))

	require.Equal(t, http.StatusAccepted, resp.Code)
	var result map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, "accepted", result["status"])
	require.Equal(t, testEventID.String(), result["eventId"])
}

func TestIngestHandler_Rejections(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "not json",
			body:           "not json",
			expectedStatus: http.StatusBadRequest,
			expectedError:  httperr.HttpInvalidEventError,
		},
		{
			name:           "missing event id",
			body:           `{"type":"order.completed","data":{"orderId":"o-1"}}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  httperr.HttpInvalidEventError,
		},
		{
			name:           "unknown type",
			body:           `{"eventId":"` + testEventID.String() + `","type":"order.cancelled","data":{"orderId":"o-1"}}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  httperr.HttpUnknownEventError,
		},
		{
			name:           "payload fails validation",
			body:           `{"eventId":"` + testEventID.String() + `","type":"order.completed","data":{"orderId":"o-1","dealerId":"d-1"}}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  httperr.HttpInvalidEventError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The mock fails the test if Publish is reached.
			resp := post(newRouter(ingestionmocks.NewPublisher(t), 1), []byte(tt.body))

			require.Equal(t, tt.expectedStatus, resp.Code, resp.Body.String())
			var errResp httperr.ErrorResponse
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
			require.Equal(t, tt.expectedError, errResp.ErrorType)
		})
	}
}

func TestIngestHandler_ValidationDetails(t *testing.T) {
	body := `{"eventId":"` + testEventID.String() + `","type":"order.completed","data":{"orderId":"o-1","dealerId":"d-1"}}`
	resp := post(newRouter(ingestionmocks.NewPublisher(t), 1), []byte(body))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	var errResp struct {
		Details map[string]interface{} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, "order.completed", errResp.Details["schema"])
	require.Contains(t, errResp.Details["reason"], "modelId")
}

func TestIngestHandler_PayloadTooLarge(t *testing.T) {
	body := `{"eventId":"` + testEventID.String() + `","type":"order.completed","data":{"pad":"` +
		strings.Repeat("x", 1024*1024) + `"}}`

	resp := post(newRouter(ingestionmocks.NewPublisher(t), 1), []byte(body))

	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpInvalidEventError, errResp.ErrorType)
}

func TestIngestHandler_PublishError(t *testing.T) {
	pub := ingestionmocks.NewPublisher(t)
	pub.EXPECT().
		Publish(mock.Anything, mock.Anything).
		Return(errors.New("channel closed")).
		Once()

	resp := post(newRouter(pub, 1), orderBody(t))

	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpUnavailableError, errResp.ErrorType)
}

func TestNewService_PanicsWithoutDependencies(t *testing.T) {
	require.Panics(t, func() { NewService(nil, ingestionmocks.NewPublisher(t), 1) })
	require.Panics(t, func() { NewService(schema.NewDefaultRegistry(), nil, 1) })
}
