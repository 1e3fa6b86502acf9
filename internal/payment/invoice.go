package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cryptomart/payments-api/internal/gateway"
	"github.com/cryptomart/payments-api/internal/obs"
	"github.com/cryptomart/payments-api/internal/resilience"
)

// supportedCurrencies lists the currencies the processor accepts for invoice
// creation.
var supportedCurrencies = []string{"USD", "RUB", "EUR", "GBP"}

// ErrUnsupportedCurrency rejects invoice creation for currencies the
// processor cannot settle.
var ErrUnsupportedCurrency = errors.New("payment: unsupported currency")

// InvoiceClient creates invoices at the payment processor. The returned pay
// URL is where the storefront redirects the customer; the invoice id inside
// the processor's callback later refers back to this invoice.
type InvoiceClient struct {
	HTTP    *resilience.HTTPClient
	BaseURL string
}

const defaultInvoiceBaseURL = "https://api.cryptocloud.plus"

type invoiceCreateRequest struct {
	ShopID   string `json:"shop_id"`
	Amount   string `json:"amount"`
	OrderID  string `json:"order_id"`
	Currency string `json:"currency"`
	Email    string `json:"email"`
}

type invoiceCreateResponse struct {
	Status string `json:"status"`
	PayURL string `json:"pay_url"`
}

// Invoice is the processor-side payment page opened for one order attempt.
type Invoice struct {
	PayURL string
}

// Create opens an invoice for the order using the gateway credentials.
func (c InvoiceClient) Create(ctx context.Context, cfg gateway.Config, order Order) (Invoice, error) {
	var zero Invoice
	if c.HTTP == nil {
		return zero, errors.New("payment: invoice client not configured")
	}
	ctx, span := otel.Tracer("payment.InvoiceClient").Start(ctx, "InvoiceClient.Create")
	defer span.End()

	result := "error"
	defer func() {
		span.SetAttributes(attribute.String("invoice.result", result))
		if obs.InvoiceCreateTotal != nil {
			obs.InvoiceCreateTotal.WithLabelValues(result).Inc()
		}
	}()

	currency := strings.ToUpper(strings.TrimSpace(order.Currency))
	if !slices.Contains(supportedCurrencies, currency) {
		result = "unsupported_currency"
		return zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, order.Currency)
	}

	body, err := json.Marshal(invoiceCreateRequest{
		ShopID:   cfg.ShopID,
		Amount:   order.Balance.String(),
		OrderID:  order.ID,
		Currency: currency,
		Email:    order.Email,
	})
	if err != nil {
		return zero, err
	}

	endpoint := strings.TrimRight(c.baseURL(), "/") + "/v1/invoice/create"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+cfg.APIKey)

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return zero, fmt.Errorf("payment: create invoice: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("payment: create invoice: unexpected status %s", resp.Status)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, err
	}
	var decoded invoiceCreateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return zero, fmt.Errorf("payment: create invoice: decode response: %w", err)
	}
	if decoded.Status != statusSuccess || strings.TrimSpace(decoded.PayURL) == "" {
		return zero, fmt.Errorf("payment: create invoice: processor status %q", decoded.Status)
	}
	result = statusSuccess
	return Invoice{PayURL: decoded.PayURL}, nil
}

func (c InvoiceClient) baseURL() string {
	if strings.TrimSpace(c.BaseURL) == "" {
		return defaultInvoiceBaseURL
	}
	return c.BaseURL
}
