package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/metinatakli/paygate/internal/jsonutil"
	"github.com/metinatakli/paygate/internal/mocks"
	"github.com/metinatakli/paygate/internal/payment"
	"github.com/metinatakli/paygate/internal/reconcile"
	"github.com/metinatakli/paygate/internal/validator"
	"github.com/stretchr/testify/require"
)

const testTransactionID = "6f1c2b8e-3d4a-4b5c-9e7f-0a1b2c3d4e5f"

type testDeps struct {
	gateway       *mocks.MockGateway
	transactions  *mocks.MockTransactionRepo
	subscriptions *mocks.MockSubscriptionRepo
	events        *mocks.MockEventStore
}

func newTestDeps() *testDeps {
	return &testDeps{
		gateway:       &mocks.MockGateway{DriverName: "mock"},
		transactions:  new(mocks.MockTransactionRepo),
		subscriptions: new(mocks.MockSubscriptionRepo),
		events:        new(mocks.MockEventStore),
	}
}

func newTestApplication(deps *testDeps) *Application {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	payments := payment.NewManagerWith("mock", deps.gateway)

	service := reconcile.NewService(payments, deps.transactions, deps.subscriptions, deps.events, logger)

	cfg := Config{
		Env:      "test",
		Webhooks: WebhookConfig{MaxBytes: 1 << 20},
	}

	return NewApp(cfg, logger, validator.NewValidator(), payments, service)
}

func executeRequest(t *testing.T, app *Application, method, url string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(jsonData)
	}

	r := httptest.NewRequest(method, url, reader)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	app.Routes().ServeHTTP(w, r)

	return w
}

func checkErrorResponse(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantErrMessage string) {
	t.Helper()

	require.Equal(t, wantStatus, w.Code)

	if wantStatus == http.StatusUnprocessableEntity {
		var validationResp jsonutil.ValidationErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &validationResp); err == nil && len(validationResp.ValidationErrors) > 0 {
			issues := make(map[string]bool)
			for _, vErr := range validationResp.ValidationErrors {
				issues[vErr.Issue] = true
			}
			require.True(t, issues[wantErrMessage], "validation issue %q not found in %v", wantErrMessage, issues)
			return
		}
	}

	var errorResp jsonutil.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errorResp))

	if wantErrMessage != "" {
		require.Contains(t, errorResp.Message, wantErrMessage)
	}
}
