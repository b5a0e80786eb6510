package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-returns/internal/compensation"
	"github.com/xenking/kart-returns/internal/domain/order"
)

const maxBodyBytes = 1 << 16

// quantityRequest is the shared body of item-scoped operations. Quantity is
// required for cancel/return requests; reason carries a return reason code or
// an admin reject reason depending on the route.
type quantityRequest struct {
	Quantity int64
	Reason   string
}

func decodeQuantityRequest(r *http.Request) (quantityRequest, error) {
	var req quantityRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return req, errors.Wrap(err, "read body")
	}
	if len(body) == 0 {
		return req, nil
	}

	d := jx.DecodeBytes(body)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "quantity":
			q, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "quantity")
			}
			req.Quantity = q
			return nil
		case "reason":
			s, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "reason")
			}
			req.Reason = s
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, errors.Wrap(err, "decode request")
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("status")
		e.Str("ok")
		e.ObjEnd()
	})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Str("BAD_REQUEST")
		e.FieldStart("message")
		e.Str(err.Error())
		e.ObjEnd()
	})
}

// writeError maps a BusinessError to its HTTP status and stable code.
// Anything else is an infrastructure failure: logged, surfaced as a 503 so
// the caller retries with backoff.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	// Read paths return the store sentinels directly.
	if errors.Is(err, compensation.ErrOrderNotFound) || errors.Is(err, compensation.ErrItemNotFound) {
		err = compensation.NewBusinessError(compensation.CodeNotFound, err.Error())
	}

	var be *compensation.BusinessError
	if errors.As(err, &be) {
		writeJSON(w, statusForCode(be.Code), func(e *jx.Encoder) {
			e.ObjStart()
			e.FieldStart("code")
			e.Str(string(be.Code))
			e.FieldStart("message")
			e.Str(be.Error())
			e.ObjEnd()
		})
		return
	}

	zctx.From(r.Context()).Error("compensation request failed", zap.Error(err))
	writeJSON(w, http.StatusServiceUnavailable, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Str("UNAVAILABLE")
		e.FieldStart("message")
		e.Str("temporary failure, retry with backoff")
		e.ObjEnd()
	})
}

func writeOrder(w http.ResponseWriter, o *order.Order, items []order.OrderItem) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(o.ID)
		e.FieldStart("number")
		e.Str(o.Number)
		e.FieldStart("status")
		e.Str(string(o.Status))
		e.FieldStart("finalAmount")
		e.Str(o.FinalAmount.StringFixed(2))
		e.FieldStart("usedPoints")
		e.Int64(o.UsedPoints)
		e.FieldStart("earnedPoints")
		e.Int64(o.EarnedPoints)
		e.FieldStart("orderedAt")
		e.Str(o.OrderedAt.Format(time.RFC3339))

		e.FieldStart("items")
		e.ArrStart()
		for i := range items {
			encodeItem(e, &items[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

func encodeItem(e *jx.Encoder, it *order.OrderItem) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(it.ID)
	e.FieldStart("productId")
	e.Str(it.ProductID)
	e.FieldStart("productName")
	e.Str(it.ProductName)
	e.FieldStart("status")
	e.Str(string(it.Status))
	e.FieldStart("originalQuantity")
	e.Int64(it.OriginalQuantity)
	e.FieldStart("remainingQuantity")
	e.Int64(it.RemainingQuantity)
	e.FieldStart("cancelledQuantity")
	e.Int64(it.CancelledQuantity)
	e.FieldStart("returnedQuantity")
	e.Int64(it.ReturnedQuantity)
	e.FieldStart("pendingReturnQuantity")
	e.Int64(it.PendingReturnQuantity)
	e.FieldStart("unitPrice")
	e.Str(it.UnitPrice.StringFixed(2))
	if it.ReturnReason != nil {
		e.FieldStart("returnReason")
		e.Str(string(*it.ReturnReason))
	}
	if it.RejectReason != nil {
		e.FieldStart("rejectReason")
		e.Str(*it.RejectReason)
	}
	e.ObjEnd()
}
