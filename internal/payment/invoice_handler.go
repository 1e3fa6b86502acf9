package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/cryptomart/payments-api/internal/common"
	"github.com/cryptomart/payments-api/internal/gateway"
)

// InvoiceHandler exposes invoice creation to the storefront: it resolves the
// order balance, opens a processor invoice and hands back the pay URL the
// customer should be redirected to.
type InvoiceHandler struct {
	Gateways gateway.Resolver
	Orders   OrderStore
	Client   InvoiceClient
}

type invoiceReq struct {
	OrderID string `json:"orderId"`
}

type invoiceResp struct {
	PayURL string `json:"payUrl"`
}

// Create handles POST /payments/invoice.
func (h InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Gateways == nil || h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "invoice handler unavailable", nil)
		return
	}
	var req invoiceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "orderId is required", nil)
		return
	}

	cfg, err := h.Gateways.FindByPluginID(r.Context(), gateway.PluginID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "GATEWAY_UNAVAILABLE", "gateway configuration unavailable", nil)
		return
	}
	order, err := h.Orders.LoadOrder(r.Context(), req.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "ORDER_FETCH_ERROR", "unable to load order", nil)
		return
	}

	invoice, err := h.Client.Create(r.Context(), cfg, order)
	if err != nil {
		if errors.Is(err, ErrUnsupportedCurrency) {
			common.JSONError(w, http.StatusUnprocessableEntity, "UNSUPPORTED_CURRENCY", "currency not accepted by processor", nil)
			return
		}
		common.JSONError(w, http.StatusBadGateway, "INVOICE_CREATE_FAILED", "processor rejected invoice creation", nil)
		return
	}
	common.JSON(w, http.StatusOK, invoiceResp{PayURL: invoice.PayURL})
}
