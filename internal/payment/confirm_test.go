package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cryptomart/payments-api/internal/gateway"
	"github.com/cryptomart/payments-api/internal/payment"
	"github.com/cryptomart/payments-api/internal/token"
)

var testNow = time.Unix(1_700_000_000, 0)

const testSecret = "callback-secret"

func mintToken(t *testing.T, secret string, exp int64) string {
	t.Helper()
	headerJSON, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	require.NoError(t, err)
	payloadJSON, err := json.Marshal(map[string]int64{"exp": exp})
	require.NoError(t, err)
	headerB64 := token.EncodeSegment(headerJSON)
	payloadB64 := token.EncodeSegment(payloadJSON)
	signature := token.EncodeSegment(token.Sign(headerB64, payloadB64, secret))
	return headerB64 + "." + payloadB64 + "." + signature
}

type stubOrders struct {
	orders map[string]payment.Order
}

func (s stubOrders) LoadOrder(_ context.Context, orderID string) (payment.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return payment.Order{}, payment.ErrOrderNotFound
	}
	return order, nil
}

type stubPayments struct {
	created []payment.CreatePaymentParams
	err     error
}

func (s *stubPayments) CreatePayment(_ context.Context, params payment.CreatePaymentParams) (payment.PaymentRecord, error) {
	if s.err != nil {
		return payment.PaymentRecord{}, s.err
	}
	s.created = append(s.created, params)
	return payment.PaymentRecord{
		OrderID:   params.OrderID,
		GatewayID: params.GatewayID,
		RemoteID:  params.RemoteID,
		State:     params.State,
		Amount:    params.Amount,
		Currency:  params.Currency,
	}, nil
}

func testGateway(secret string) gateway.Resolver {
	return gateway.Static{Config: gateway.Config{
		PluginID:  gateway.PluginID,
		APIKey:    "api-key",
		ShopID:    "shop-1",
		SecretKey: secret,
		Mode:      token.ModeProcessorIssued,
	}}
}

func testService(secret string, payments *stubPayments) *payment.ConfirmationService {
	return &payment.ConfirmationService{
		Gateways: testGateway(secret),
		Orders: stubOrders{orders: map[string]payment.Order{
			"42": {ID: "42", Email: "buyer@example.com", Balance: decimal.RequireFromString("19.99"), Currency: "USD"},
		}},
		Payments: payments,
		Now:      func() time.Time { return testNow },
	}
}

func validRequest(t *testing.T) payment.CallbackRequest {
	t.Helper()
	return payment.CallbackRequest{
		Token:     mintToken(t, testSecret, testNow.Unix()+60),
		InvoiceID: "inv-001",
		OrderID:   "42",
		Status:    "success",
	}
}

func TestHandleCallbackConfirmsPayment(t *testing.T) {
	payments := &stubPayments{}
	svc := testService(testSecret, payments)

	redirect, err := svc.HandleCallback(context.Background(), validRequest(t))
	require.NoError(t, err)
	require.Equal(t, "/", redirect.Location)
	require.Equal(t, 302, redirect.Code)

	require.Len(t, payments.created, 1)
	created := payments.created[0]
	require.Equal(t, "42", created.OrderID)
	require.Equal(t, gateway.PluginID, created.GatewayID)
	require.Equal(t, "inv-001", created.RemoteID)
	require.Equal(t, payment.PaymentStateCompleted, created.State)
	require.True(t, created.Amount.Equal(decimal.RequireFromString("19.99")))
	require.Equal(t, "USD", created.Currency)
}

func TestHandleCallbackCustomSuccessPath(t *testing.T) {
	payments := &stubPayments{}
	svc := testService(testSecret, payments)
	svc.SuccessPath = "/checkout/complete"

	redirect, err := svc.HandleCallback(context.Background(), validRequest(t))
	require.NoError(t, err)
	require.Equal(t, "/checkout/complete", redirect.Location)
}

func TestHandleCallbackRejectsNonSuccessStatus(t *testing.T) {
	payments := &stubPayments{}
	svc := testService(testSecret, payments)

	req := validRequest(t)
	req.Status = "fail"
	_, err := svc.HandleCallback(context.Background(), req)
	require.ErrorIs(t, err, payment.ErrBadRequest)
	require.Empty(t, payments.created)
}

func TestHandleCallbackRejectsMissingFields(t *testing.T) {
	payments := &stubPayments{}
	svc := testService(testSecret, payments)

	for name, mutate := range map[string]func(*payment.CallbackRequest){
		"invoice": func(r *payment.CallbackRequest) { r.InvoiceID = "" },
		"order":   func(r *payment.CallbackRequest) { r.OrderID = "" },
		"status":  func(r *payment.CallbackRequest) { r.Status = "" },
	} {
		req := validRequest(t)
		mutate(&req)
		_, err := svc.HandleCallback(context.Background(), req)
		require.ErrorIs(t, err, payment.ErrBadRequest, name)
	}
	require.Empty(t, payments.created)
}

func TestHandleCallbackRejectsBadSignature(t *testing.T) {
	payments := &stubPayments{}
	svc := testService(testSecret, payments)

	req := validRequest(t)
	req.Token = mintToken(t, "wrong-secret", testNow.Unix()+60)
	_, err := svc.HandleCallback(context.Background(), req)
	require.ErrorIs(t, err, payment.ErrBadRequest)
	require.Empty(t, payments.created)
}

func TestHandleCallbackRejectsEmptyTokenWhenVerifying(t *testing.T) {
	payments := &stubPayments{}
	svc := testService(testSecret, payments)

	req := validRequest(t)
	req.Token = ""
	_, err := svc.HandleCallback(context.Background(), req)
	require.ErrorIs(t, err, payment.ErrBadRequest)
	require.Empty(t, payments.created)
}

func TestHandleCallbackWithoutSecretSkipsVerification(t *testing.T) {
	payments := &stubPayments{}
	svc := testService("", payments)

	req := validRequest(t)
	req.Token = "not-a-token-at-all"
	_, err := svc.HandleCallback(context.Background(), req)
	require.NoError(t, err)

	req.Token = ""
	req.InvoiceID = "inv-002"
	_, err = svc.HandleCallback(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, payments.created, 2)
}

func TestHandleCallbackRejectsUnknownOrder(t *testing.T) {
	payments := &stubPayments{}
	svc := testService(testSecret, payments)

	req := validRequest(t)
	req.OrderID = "missing"
	_, err := svc.HandleCallback(context.Background(), req)
	require.ErrorIs(t, err, payment.ErrBadRequest)
	require.Empty(t, payments.created)
}

func TestHandleCallbackDuplicateIsIdempotent(t *testing.T) {
	payments := &stubPayments{err: payment.ErrDuplicatePayment}
	svc := testService(testSecret, payments)

	redirect, err := svc.HandleCallback(context.Background(), validRequest(t))
	require.NoError(t, err)
	require.Equal(t, 302, redirect.Code)
	require.Empty(t, payments.created)
}

func TestHandleCallbackPersistenceFailure(t *testing.T) {
	payments := &stubPayments{err: errors.New("connection reset")}
	svc := testService(testSecret, payments)

	_, err := svc.HandleCallback(context.Background(), validRequest(t))
	var persistErr *payment.PersistenceError
	require.ErrorAs(t, err, &persistErr)
}

func TestHandleCallbackExpiredToken(t *testing.T) {
	payments := &stubPayments{}
	svc := testService(testSecret, payments)

	req := validRequest(t)
	req.Token = mintToken(t, testSecret, testNow.Unix()-1)
	_, err := svc.HandleCallback(context.Background(), req)
	require.ErrorIs(t, err, payment.ErrBadRequest)

	// Widening the accepted skew lets the same token through.
	svc.ExpirySkew = time.Minute
	_, err = svc.HandleCallback(context.Background(), req)
	require.NoError(t, err)
}
