package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cryptomart/payments-api/internal/gateway"
	"github.com/cryptomart/payments-api/internal/obs"
	"github.com/cryptomart/payments-api/internal/token"
)

// statusSuccess is the literal outcome marker the processor sends for a paid
// invoice. Anything else is rejected outright.
const statusSuccess = "success"

// CallbackRequest is the inbound notification payload. It lives for a single
// request and is never persisted.
type CallbackRequest struct {
	Token     string `json:"token"`
	InvoiceID string `json:"invoice_id" validate:"required"`
	OrderID   string `json:"order_id" validate:"required"`
	Status    string `json:"status" validate:"required"`
}

// Redirect is the success outcome: where to send the customer's browser.
type Redirect struct {
	Location string
	Code     int
}

// ErrBadRequest collapses every rejection cause, validation, unknown gateway,
// token failure, unknown order, into one undifferentiated error so callers
// cannot tell which check rejected them.
var ErrBadRequest = errors.New("payment: bad request")

// PersistenceError marks a payment that could not be recorded. It is fatal for
// the request and must surface as a server error, never be swallowed.
type PersistenceError struct {
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("payment: persist payment: %v", e.Err)
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *PersistenceError) Unwrap() error { return e.Err }

var validate = validator.New()

// ConfirmationService consumes processor callbacks and records completed
// payments. All collaborators are passed in explicitly.
type ConfirmationService struct {
	Gateways gateway.Resolver
	Orders   OrderStore
	Payments PaymentStore
	// SuccessPath is where the customer is redirected after confirmation.
	// Empty means "/".
	SuccessPath string
	// ExpirySkew widens token expiry acceptance in processor-issued mode.
	// Zero preserves the strict past-rejection behaviour.
	ExpirySkew time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// HandleCallback runs the full confirmation sequence. On any rejection it
// returns ErrBadRequest with no side effects; a persisted duplicate for the
// same (order, invoice) pair counts as success.
func (s *ConfirmationService) HandleCallback(ctx context.Context, req CallbackRequest) (Redirect, error) {
	var zero Redirect
	if s == nil || s.Gateways == nil || s.Orders == nil || s.Payments == nil {
		return zero, errors.New("payment: confirmation service not configured")
	}
	ctx, span := otel.Tracer("payment.ConfirmationService").Start(ctx, "ConfirmationService.HandleCallback")
	defer span.End()

	mode := "none"
	result := "rejected"
	defer func() {
		span.SetAttributes(
			attribute.String("callback.mode", mode),
			attribute.String("callback.result", result),
		)
		if obs.CallbackTotal != nil {
			obs.CallbackTotal.WithLabelValues(mode, result).Inc()
		}
	}()

	if err := validate.Struct(req); err != nil {
		return zero, ErrBadRequest
	}
	if req.Status != statusSuccess {
		return zero, ErrBadRequest
	}
	span.SetAttributes(attribute.String("order.id", req.OrderID))

	cfg, err := s.Gateways.FindByPluginID(ctx, gateway.PluginID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return zero, ErrBadRequest
		}
		return zero, err
	}

	if cfg.VerificationEnabled() {
		mode = string(cfg.Mode)
		if strings.TrimSpace(req.Token) == "" {
			return zero, ErrBadRequest
		}
		v := token.Validator{Secret: cfg.SecretKey, Mode: cfg.Mode, Skew: s.ExpirySkew, Now: s.Now}
		if err := v.Verify(req.Token, req.InvoiceID); err != nil {
			span.RecordError(err)
			return zero, ErrBadRequest
		}
	}

	order, err := s.Orders.LoadOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return zero, ErrBadRequest
		}
		return zero, err
	}

	_, err = s.Payments.CreatePayment(ctx, CreatePaymentParams{
		OrderID:   order.ID,
		GatewayID: cfg.PluginID,
		RemoteID:  req.InvoiceID,
		State:     PaymentStateCompleted,
		Amount:    order.Balance,
		Currency:  order.Currency,
	})
	if err != nil && !errors.Is(err, ErrDuplicatePayment) {
		span.RecordError(err)
		return zero, &PersistenceError{Err: err}
	}
	if errors.Is(err, ErrDuplicatePayment) {
		result = "duplicate"
	} else {
		result = "confirmed"
	}

	return Redirect{Location: s.successPath(), Code: 302}, nil
}

func (s *ConfirmationService) successPath() string {
	if strings.TrimSpace(s.SuccessPath) == "" {
		return "/"
	}
	return s.SuccessPath
}
