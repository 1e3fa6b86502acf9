package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cryptomart/payments-api/internal/common"
)

// ReplayStore is the slice of the Redis API used for replay suppression.
type ReplayStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// CallbackHandler terminates the processor's server-to-server callback.
//
// The response contract is the one the processor integration was built
// against: a 302 redirect to the success path on confirmation, and a 500 with
// {"message":"Bad request"} on any rejection. The processor retries on
// anything that is not a 2xx/3xx, which is why duplicates short-circuit to the
// redirect.
type CallbackHandler struct {
	Svc       *ConfirmationService
	Replay    ReplayStore
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// Handle processes one inbound callback.
func (h CallbackHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSON(w, http.StatusInternalServerError, common.Message{Message: "Internal server error"})
		return
	}
	req, err := decodeCallback(r)
	if err != nil {
		h.reject(w, r, "decode", err)
		return
	}

	// The replay key is written only after a confirmation is recorded, so a
	// forged or failed attempt can never mask the genuine callback that
	// follows it. Until then the unique index on (order_id, remote_id) is the
	// guard.
	key := ""
	if h.Replay != nil && h.ReplayTTL > 0 {
		key = replayKey(req)
		_, err := h.Replay.Get(r.Context(), key).Result()
		switch {
		case err == nil:
			h.Logger.Info().Str("order_id", req.OrderID).Msg("callback replay suppressed")
			http.Redirect(w, r, h.Svc.successPath(), http.StatusFound)
			return
		case !errors.Is(err, redis.Nil):
			// Degrade to the database guard rather than refusing the callback.
			h.Logger.Error().Err(err).Msg("callback replay store")
		}
	}

	redirect, err := h.Svc.HandleCallback(r.Context(), req)
	if err != nil {
		var persistErr *PersistenceError
		if errors.As(err, &persistErr) {
			h.Logger.Error().Err(err).Str("order_id", req.OrderID).Msg("callback persistence failure")
			common.JSON(w, http.StatusInternalServerError, common.Message{Message: "Internal server error"})
			return
		}
		h.reject(w, r, "confirm", err)
		return
	}

	if key != "" {
		if err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Err(); err != nil {
			h.Logger.Error().Err(err).Msg("callback replay store")
		}
	}

	h.Logger.Info().
		Str("order_id", req.OrderID).
		Str("invoice_id", req.InvoiceID).
		Msg("payment confirmed")
	http.Redirect(w, r, redirect.Location, redirect.Code)
}

// reject answers with the generic contract body. The cause is logged but never
// surfaced, so callers cannot distinguish a bad signature from an unknown
// order.
func (h CallbackHandler) reject(w http.ResponseWriter, _ *http.Request, stage string, err error) {
	h.Logger.Warn().Err(err).Str("stage", stage).Msg("callback rejected")
	common.JSON(w, http.StatusInternalServerError, common.Message{Message: "Bad request"})
}

func replayKey(req CallbackRequest) string {
	sum := sha256.Sum256([]byte(req.InvoiceID + "|" + req.OrderID))
	return "cb:cryptocloud:" + hex.EncodeToString(sum[:])
}

// decodeCallback accepts the two observed callback shapes: a JSON body and a
// form-urlencoded body carrying the same field names.
func decodeCallback(r *http.Request) (CallbackRequest, error) {
	var req CallbackRequest
	mediaType := r.Header.Get("Content-Type")
	if mediaType != "" {
		if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
			mediaType = parsed
		}
	}
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req = CallbackRequest{
			Token:     r.PostFormValue("token"),
			InvoiceID: r.PostFormValue("invoice_id"),
			OrderID:   r.PostFormValue("order_id"),
			Status:    r.PostFormValue("status"),
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, err
		}
	}
	req.Token = strings.TrimSpace(req.Token)
	req.InvoiceID = strings.TrimSpace(req.InvoiceID)
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.Status = strings.TrimSpace(req.Status)
	return req, nil
}
