package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
	"github.com/teresa-solution/whatsapp-instance-service/internal/service"

	apphttp "github.com/teresa-solution/whatsapp-instance-service/internal/transport/http"
)

type mockLifecycle struct {
	mock.Mock
}

func (m *mockLifecycle) Provision(ctx context.Context, req service.ProvisionRequest) (*service.ProvisionResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*service.ProvisionResult)
	return res, args.Error(1)
}

func (m *mockLifecycle) ListInstances(ctx context.Context, locationID string) ([]*model.Instance, error) {
	args := m.Called(ctx, locationID)
	list, _ := args.Get(0).([]*model.Instance)
	return list, args.Error(1)
}

func (m *mockLifecycle) RequestQR(ctx context.Context, locationID string, instanceNumber int) (*service.QRResult, error) {
	args := m.Called(ctx, locationID, instanceNumber)
	res, _ := args.Get(0).(*service.QRResult)
	return res, args.Error(1)
}

func (m *mockLifecycle) GetTenant(ctx context.Context, locationID string) (*model.Tenant, error) {
	args := m.Called(ctx, locationID)
	tenant, _ := args.Get(0).(*model.Tenant)
	return tenant, args.Error(1)
}

type stubWebhooks struct {
	lastName  string
	lastEvent service.WebhookEvent
}

func (s *stubWebhooks) Handle(ctx context.Context, instanceName string, ev service.WebhookEvent) service.WebhookResult {
	s.lastName = instanceName
	s.lastEvent = ev
	return service.WebhookResult{InstanceName: instanceName, Applied: true, Status: model.StatusOpen}
}

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

func buildTestApp(l *mockLifecycle, w *stubWebhooks, p stubPinger) *fiber.App {
	return apphttp.NewApp("test", apphttp.RouterDeps{
		Lifecycle:   l,
		Webhooks:    w,
		Store:       p,
		ProviderURL: "http://gateway",
	})
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestRegister(t *testing.T) {
	l := &mockLifecycle{}
	app := buildTestApp(l, &stubWebhooks{}, stubPinger{})
	clientID := uuid.New()

	l.On("Provision", mock.Anything, service.ProvisionRequest{
		LocationID: "loc1", CompanyName: "Acme", Email: "a@b.com",
	}).Return(&service.ProvisionResult{
		ClientID:   clientID,
		LocationID: "loc1",
		Instances: []service.ProvisionedInstance{
			{Name: "loc1_wa_1", Number: 1, Status: model.StatusCreated, ProviderCreated: true},
		},
	}, nil)

	status, body := doRequest(t, app, http.MethodPost, "/api/register", `{"locationId":"loc1","companyName":"Acme","email":"a@b.com"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, clientID.String(), body["clientId"])
	instances := body["instances"].([]interface{})
	require.Len(t, instances, 1)
	first := instances[0].(map[string]interface{})
	assert.Equal(t, "loc1_wa_1", first["name"])
	assert.Equal(t, true, first["evolutionCreated"])
	l.AssertExpectations(t)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"locationId":`},
		{"missing location", `{"companyName":"Acme"}`},
		{"bad email", `{"locationId":"loc1","email":"nope"}`},
		{"too many instances", `{"locationId":"loc1","instances":21}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &mockLifecycle{}
			app := buildTestApp(l, &stubWebhooks{}, stubPinger{})

			status, body := doRequest(t, app, http.MethodPost, "/api/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, false, body["success"])
			l.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything)
		})
	}
}

func TestRegister_StoreFailure(t *testing.T) {
	l := &mockLifecycle{}
	app := buildTestApp(l, &stubWebhooks{}, stubPinger{})
	l.On("Provision", mock.Anything, mock.Anything).
		Return(nil, model.NewStoreError("upsert tenant", errors.New("connection refused")))

	status, body := doRequest(t, app, http.MethodPost, "/api/register", `{"locationId":"loc1"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL", body["code"])
}

func TestListInstances(t *testing.T) {
	l := &mockLifecycle{}
	app := buildTestApp(l, &stubWebhooks{}, stubPinger{})
	qr := "aW1n"
	l.On("ListInstances", mock.Anything, "loc1").Return([]*model.Instance{
		{LocationID: "loc1", InstanceName: "loc1_wa_1", InstanceNumber: 1, Status: model.StatusQRReady, QRCode: &qr, ProviderCreated: true},
		{LocationID: "loc1", InstanceName: "loc1_wa_2", InstanceNumber: 2, Status: model.StatusCreated},
	}, nil)
	l.On("ListInstances", mock.Anything, "nobody").Return([]*model.Instance{}, nil)
	l.On("GetTenant", mock.Anything, "loc1").Return(&model.Tenant{LocationID: "loc1", CompanyName: "Acme", Email: "a@b.com"}, nil)
	l.On("GetTenant", mock.Anything, "nobody").Return(nil, nil)

	status, body := doRequest(t, app, http.MethodGet, "/api/instances/loc1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Acme", body["companyName"])
	assert.Equal(t, "a@b.com", body["email"])
	instances := body["instances"].([]interface{})
	require.Len(t, instances, 2)
	first := instances[0].(map[string]interface{})
	assert.Equal(t, "loc1_wa_1", first["instanceName"])
	assert.Equal(t, "qr_ready", first["status"])
	assert.Equal(t, qr, first["qrCode"])
	_, hasQR := instances[1].(map[string]interface{})["qrCode"]
	assert.False(t, hasQR)

	status, body = doRequest(t, app, http.MethodGet, "/api/instances/nobody", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["instances"])
	_, hasCompany := body["companyName"]
	assert.False(t, hasCompany)
	l.AssertExpectations(t)
}

func TestListInstances_TenantLookupFailure(t *testing.T) {
	l := &mockLifecycle{}
	app := buildTestApp(l, &stubWebhooks{}, stubPinger{})
	l.On("ListInstances", mock.Anything, "loc1").Return([]*model.Instance{}, nil)
	l.On("GetTenant", mock.Anything, "loc1").Return(nil, model.NewStoreError("get tenant", errors.New("decrypt email: bad key")))

	status, body := doRequest(t, app, http.MethodGet, "/api/instances/loc1", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL", body["code"])
}

func TestRequestQR(t *testing.T) {
	l := &mockLifecycle{}
	app := buildTestApp(l, &stubWebhooks{}, stubPinger{})
	l.On("RequestQR", mock.Anything, "loc1", 1).
		Return(&service.QRResult{InstanceName: "loc1_wa_1", QRCode: "aW1n", Status: model.StatusQRReady}, nil)

	status, body := doRequest(t, app, http.MethodPost, "/api/instances/loc1/1/qr", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "loc1_wa_1", body["instanceName"])
	assert.Equal(t, "aW1n", body["qrCode"])
	assert.Equal(t, "qr_ready", body["status"])
}

func TestRequestQR_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: loc1_wa_1", model.ErrUnknownInstance), http.StatusNotFound, "UNKNOWN_INSTANCE"},
		{fmt.Errorf("%w: open", model.ErrInvalidTransition), http.StatusConflict, "INVALID_TRANSITION"},
		{fmt.Errorf("persist qr: %w", model.ErrStatusConflict), http.StatusConflict, "STATUS_CONFLICT"},
		{fmt.Errorf("%w: nothing", model.ErrQRNotAvailable), http.StatusServiceUnavailable, "QR_NOT_AVAILABLE"},
		{fmt.Errorf("%w: refused", model.ErrProviderUnavailable), http.StatusBadGateway, "PROVIDER_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			l := &mockLifecycle{}
			app := buildTestApp(l, &stubWebhooks{}, stubPinger{})
			l.On("RequestQR", mock.Anything, "loc1", 1).Return(nil, tt.err)

			status, body := doRequest(t, app, http.MethodPost, "/api/instances/loc1/1/qr", "")
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestRequestQR_BadNumber(t *testing.T) {
	l := &mockLifecycle{}
	app := buildTestApp(l, &stubWebhooks{}, stubPinger{})

	for _, path := range []string{"/api/instances/loc1/abc/qr", "/api/instances/loc1/0/qr"} {
		status, _ := doRequest(t, app, http.MethodPost, path, "")
		assert.Equal(t, http.StatusBadRequest, status, path)
	}
	l.AssertNotCalled(t, "RequestQR", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhook(t *testing.T) {
	w := &stubWebhooks{}
	app := buildTestApp(&mockLifecycle{}, w, stubPinger{})

	status, body := doRequest(t, app, http.MethodPost, "/webhook/evolution/loc1_wa_1",
		`{"event":"connection.update","instance":"loc1_wa_1","data":{"state":"open"}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, true, body["applied"])
	assert.Equal(t, "loc1_wa_1", w.lastName)
	assert.Equal(t, "connection.update", w.lastEvent.Event)
	assert.JSONEq(t, `{"state":"open"}`, string(w.lastEvent.Data))
}

func TestWebhook_MalformedBody(t *testing.T) {
	w := &stubWebhooks{}
	app := buildTestApp(&mockLifecycle{}, w, stubPinger{})

	status, _ := doRequest(t, app, http.MethodPost, "/webhook/evolution/loc1_wa_1", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Empty(t, w.lastName)
}

func TestHealth(t *testing.T) {
	app := buildTestApp(&mockLifecycle{}, &stubWebhooks{}, stubPinger{})
	status, body := doRequest(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "http://gateway", body["evolution"])

	app = buildTestApp(&mockLifecycle{}, &stubWebhooks{}, stubPinger{err: errors.New("db down")})
	status, body = doRequest(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestUnknownRoute(t *testing.T) {
	app := buildTestApp(&mockLifecycle{}, &stubWebhooks{}, stubPinger{})
	status, body := doRequest(t, app, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "HTTP_ERROR", body["code"])
}
