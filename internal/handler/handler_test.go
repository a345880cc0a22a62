package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/huhuanshizhe/vetsphere/internal/llm"
	"github.com/huhuanshizhe/vetsphere/internal/middleware"
	"github.com/huhuanshizhe/vetsphere/internal/model"
	"github.com/huhuanshizhe/vetsphere/internal/notify"
	"github.com/huhuanshizhe/vetsphere/internal/payment"
	"github.com/huhuanshizhe/vetsphere/internal/repository"
	"github.com/huhuanshizhe/vetsphere/internal/service"
)

type stubService struct {
	stripeIntent    *payment.StripeIntent
	stripeErr       error
	airwallexIntent *payment.AirwallexIntent
	airwallexErr    error

	webhookErr  error
	webhookBody []byte

	order       *model.Order
	orderErr    error
	checkoutErr error

	courses []model.Course

	tracking    *service.TrackingInfo
	trackingErr error
	addTrackErr error
	addedParams *service.TrackingEventParams

	chatReply string
	chatErr   error
}

func (s *stubService) CreateStripeIntent(ctx context.Context, orderID string, amount float64, currency string) (*payment.StripeIntent, error) {
	return s.stripeIntent, s.stripeErr
}

func (s *stubService) CreateAirwallexIntent(ctx context.Context, p service.AirwallexIntentParams) (*payment.AirwallexIntent, error) {
	return s.airwallexIntent, s.airwallexErr
}

func (s *stubService) HandleWebhook(ctx context.Context, body []byte, signatureHeader string) error {
	s.webhookBody = body
	return s.webhookErr
}

func (s *stubService) Checkout(ctx context.Context, userID string, courseIDs []string) (*model.Order, error) {
	if s.checkoutErr != nil {
		return nil, s.checkoutErr
	}
	return s.order, nil
}

func (s *stubService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) GetCourses(ctx context.Context) ([]model.Course, error) {
	return s.courses, nil
}

func (s *stubService) GetEnrollmentsByUser(ctx context.Context, userID string) ([]model.Enrollment, error) {
	return nil, nil
}

func (s *stubService) GetTracking(ctx context.Context, orderID string) (*service.TrackingInfo, error) {
	return s.tracking, s.trackingErr
}

func (s *stubService) AddTrackingEvent(ctx context.Context, orderID string, p service.TrackingEventParams) error {
	s.addedParams = &p
	return s.addTrackErr
}

func (s *stubService) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return s.chatReply, s.chatErr
}

func newTestHandler(t *testing.T, svc *stubService) (*Handler, *middleware.AdminAuth) {
	t.Helper()
	auth := middleware.NewAdminAuth("test-auth-secret")
	broker := notify.NewBroker(zap.NewNop())
	t.Cleanup(broker.Close)
	return NewHandler(svc, zap.NewNop(), auth, "admin-token", broker), auth
}

func doRequest(t *testing.T, h *Handler, method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func TestCreateStripeIntentHandler(t *testing.T) {
	tests := []struct {
		name       string
		svc        *stubService
		body       string
		wantStatus int
	}{
		{
			name:       "success",
			svc:        &stubService{stripeIntent: &payment.StripeIntent{ID: "pi_1", ClientSecret: "cs_1"}},
			body:       `{"orderId":"ord_1","amount":199.00,"currency":"usd"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed body",
			svc:        &stubService{},
			body:       `{"orderId":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not configured",
			svc:        &stubService{stripeErr: service.ErrNotConfigured},
			body:       `{"orderId":"ord_1","amount":199.00}`,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "invalid request",
			svc:        &stubService{stripeErr: service.ErrInvalidRequest},
			body:       `{"orderId":"","amount":0}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "order not found",
			svc:        &stubService{stripeErr: repository.ErrOrderNotFound},
			body:       `{"orderId":"ord_x","amount":199.00}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "amount mismatch",
			svc:        &stubService{stripeErr: service.ErrAmountMismatch},
			body:       `{"orderId":"ord_1","amount":200.00}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "already paid",
			svc:        &stubService{stripeErr: service.ErrAlreadyPaid},
			body:       `{"orderId":"ord_1","amount":199.00}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "provider error",
			svc: &stubService{stripeErr: &payment.ProviderError{
				Provider: "stripe", Status: 402, Message: "Your card was declined.", Raw: `{"error":{}}`,
			}},
			body:       `{"orderId":"ord_1","amount":199.00}`,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, tt.svc)
			rec := doRequest(t, h, http.MethodPost, "/api/payments/stripe/intent", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				var resp map[string]any
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if resp["status"] != "ok" || resp["clientSecret"] != "cs_1" {
					t.Fatalf("unexpected body: %v", resp)
				}
			}
		})
	}
}

func TestProviderErrorBodyOmitsRaw(t *testing.T) {
	svc := &stubService{stripeErr: &payment.ProviderError{
		Provider: "stripe", Status: 402, Message: "Your card was declined.",
		Raw: `{"error":{"decline_code":"insufficient_funds"}}`,
	}}
	h, _ := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/payments/stripe/intent",
		`{"orderId":"ord_1","amount":199.00}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "insufficient_funds") {
		t.Fatalf("raw provider payload leaked to client: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Your card was declined.") {
		t.Fatalf("sanitized message missing: %s", rec.Body.String())
	}
}

func TestCreateAirwallexIntentHandler(t *testing.T) {
	svc := &stubService{airwallexIntent: &payment.AirwallexIntent{
		ID: "int_1", ClientSecret: "cs_1", Amount: 199.00, Currency: "USD",
	}}
	h, _ := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/payments/airwallex/intent",
		`{"orderId":"ord_1","amount":199.00,"currency":"usd"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["intent_id"] != "int_1" || resp["currency"] != "USD" {
		t.Fatalf("unexpected body: %v", resp)
	}
}

func TestWebhookHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"processed", nil, http.StatusOK},
		{"invalid signature", payment.ErrInvalidSignature, http.StatusBadRequest},
		{"invalid payload", service.ErrInvalidRequest, http.StatusBadRequest},
		{"internal", fmt.Errorf("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{webhookErr: tt.err}
			h, _ := newTestHandler(t, svc)

			body := `{"id":"evt_1","type":"payment_intent.succeeded"}`
			rec := doRequest(t, h, http.MethodPost, "/api/payments/webhook", body, func(r *http.Request) {
				r.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
			})
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.err == nil && !strings.Contains(rec.Body.String(), `"received":true`) {
				t.Fatalf("ack missing: %s", rec.Body.String())
			}
			if string(svc.webhookBody) != body {
				t.Fatalf("raw body not passed through: %q", svc.webhookBody)
			}
		})
	}
}

func TestCheckoutHandler(t *testing.T) {
	svc := &stubService{order: &model.Order{
		ID: "ord_1", UserID: "user_1", TotalCents: 29800, Currency: "usd",
		Status: model.OrderStatusPending, CreatedAt: time.Now(),
	}}
	h, _ := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/checkout",
		`{"userId":"user_1","courseIds":["course_a","course_b"]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["orderId"] != "ord_1" || resp["total"] != 298.00 {
		t.Fatalf("unexpected body: %v", resp)
	}
}

func TestCheckoutHandler_CourseNotFound(t *testing.T) {
	svc := &stubService{checkoutErr: repository.ErrCourseNotFound}
	h, _ := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/checkout",
		`{"userId":"user_1","courseIds":["course_x"]}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetOrderHandler_NotFound(t *testing.T) {
	svc := &stubService{orderErr: repository.ErrOrderNotFound}
	h, _ := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodGet, "/api/orders/ord_x", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetTrackingHandler(t *testing.T) {
	eta := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)
	svc := &stubService{tracking: &service.TrackingInfo{
		OrderID:           "ord_1",
		Status:            model.OrderStatusShipped,
		Carrier:           "DHL",
		TrackingNumber:    "JD0123456789",
		EstimatedDelivery: &eta,
		Events: []model.TrackingEvent{
			{Status: "in_transit", Location: "Leipzig Hub", Description: "Departed facility", CreatedAt: eta.Add(-48 * time.Hour)},
		},
	}}
	h, _ := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodGet, "/api/orders/ord_1/tracking", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp trackingInfoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "shipped" || resp.Carrier != "DHL" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if len(resp.Events) != 1 || resp.Events[0].Status != "in_transit" {
		t.Fatalf("unexpected events: %+v", resp.Events)
	}
	if resp.EstimatedDelivery != eta.Format(time.RFC3339) {
		t.Fatalf("estimatedDelivery = %q", resp.EstimatedDelivery)
	}
}

func TestAddTrackingHandler_RequiresSession(t *testing.T) {
	svc := &stubService{}
	h, _ := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodPost, "/api/orders/ord_1/tracking",
		`{"status":"shipped","description":"Handed to carrier"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without session = %d, want 401", rec.Code)
	}
	if svc.addedParams != nil {
		t.Fatalf("service reached without authorization")
	}
}

func TestAddTrackingHandler_WithSession(t *testing.T) {
	svc := &stubService{}
	h, auth := newTestHandler(t, svc)

	// Collect the session cookie the same way a browser would.
	loginRec := httptest.NewRecorder()
	auth.SetSessionCookie(loginRec, "admin")
	cookies := loginRec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no session cookie issued")
	}

	rec := doRequest(t, h, http.MethodPost, "/api/orders/ord_1/tracking",
		`{"status":"shipped","description":"Handed to carrier","carrier":"DHL","estimatedDelivery":"2025-06-05T00:00:00Z"}`,
		func(r *http.Request) {
			for _, c := range cookies {
				r.AddCookie(c)
			}
		})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.addedParams == nil || svc.addedParams.Carrier == nil || *svc.addedParams.Carrier != "DHL" {
		t.Fatalf("params not passed through: %+v", svc.addedParams)
	}
	if svc.addedParams.EstimatedDelivery == nil {
		t.Fatalf("estimatedDelivery not parsed")
	}
}

func TestAddTrackingHandler_BadEstimatedDelivery(t *testing.T) {
	svc := &stubService{}
	h, auth := newTestHandler(t, svc)

	loginRec := httptest.NewRecorder()
	auth.SetSessionCookie(loginRec, "admin")

	rec := doRequest(t, h, http.MethodPost, "/api/orders/ord_1/tracking",
		`{"status":"shipped","description":"x","estimatedDelivery":"tomorrow"}`,
		func(r *http.Request) {
			for _, c := range loginRec.Result().Cookies() {
				r.AddCookie(c)
			}
		})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAdminLoginHandler(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantStatus int
		wantCookie bool
	}{
		{"valid token", "admin-token", http.StatusOK, true},
		{"wrong token", "nope", http.StatusUnauthorized, false},
		{"empty token", "", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, &stubService{})
			rec := doRequest(t, h, http.MethodPost, "/api/admin/login",
				fmt.Sprintf(`{"token":%q}`, tt.token), nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := len(rec.Result().Cookies()) > 0; got != tt.wantCookie {
				t.Fatalf("cookie issued = %v, want %v", got, tt.wantCookie)
			}
		})
	}
}

func TestChatHandler(t *testing.T) {
	tests := []struct {
		name       string
		svc        *stubService
		wantStatus int
	}{
		{"success", &stubService{chatReply: "hello"}, http.StatusOK},
		{"not configured", &stubService{chatErr: service.ErrNotConfigured}, http.StatusServiceUnavailable},
		{"no messages", &stubService{chatErr: service.ErrInvalidRequest}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, tt.svc)
			rec := doRequest(t, h, http.MethodPost, "/api/chat",
				`{"messages":[{"role":"user","content":"hi"}]}`, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestGetCoursesHandler(t *testing.T) {
	svc := &stubService{courses: []model.Course{
		{ID: "course_a", Title: "Small Animal Internal Medicine", PriceCents: 19900, Currency: "usd"},
	}}
	h, _ := newTestHandler(t, svc)

	rec := doRequest(t, h, http.MethodGet, "/api/courses", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp []courseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Price != 199.00 {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestStreamNotifications(t *testing.T) {
	h, _ := newTestHandler(t, &stubService{})
	srv := httptest.NewServer(h.SetupRouter())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/notifications/stream", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", got)
	}

	// Headers arrived, so the handler has already subscribed.
	h.broker.Publish(model.OrderEvent{OrderID: "ord_1", Status: model.OrderStatusPaid, At: time.Now()})

	reader := bufio.NewReader(resp.Body)
	var sawEvent, sawData bool
	for !sawEvent || !sawData {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v (event %v, data %v)", err, sawEvent, sawData)
		}
		if strings.HasPrefix(line, "event: order") {
			sawEvent = true
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"ord_1"`) {
			sawData = true
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	h, _ := newTestHandler(t, &stubService{})

	rec := doRequest(t, h, http.MethodGet, "/api/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
