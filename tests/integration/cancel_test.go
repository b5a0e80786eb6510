//go:build integration

package integration

import (
	"net/http"
	"testing"
)

// TestCancelFlow drives the seeded PAID order (order-1: 3x prod-1 at 6.50,
// 1x prod-2 at 7.00, coupon attached) through partial and full cancellation.
// Steps mutate shared state, so they run as one ordered flow.
func TestCancelFlow(t *testing.T) {
	// Detail view requires an identity.
	resp := doGet(t, "/api/orders/order-1", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no identity: expected 401, got %d", resp.StatusCode)
	}

	// Someone else's order is indistinguishable from a missing one.
	resp = doGet(t, "/api/orders/order-1", "user-2")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign order: expected 404, got %d", resp.StatusCode)
	}
	body := decodeJSON[errorResponse](t, resp)
	resp.Body.Close()
	if body.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %q", body.Code)
	}

	o := getOrder(t, "order-1", "user-1")
	if o.Status != "PAID" {
		t.Fatalf("seed expected PAID, got %q", o.Status)
	}

	// Partial cancel one unit of item-1.
	resp = doPost(t, "/api/orders/order-1/items/item-1/cancel", "user-1", quantityRequest{Quantity: 1})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("partial cancel: expected 200, got %d", resp.StatusCode)
	}

	o = getOrder(t, "order-1", "user-1")
	if o.Status != "PAID" {
		t.Fatalf("order should stay PAID after partial cancel, got %q", o.Status)
	}
	it := findItem(t, o, "item-1")
	if it.RemainingQuantity != 2 || it.CancelledQuantity != 1 {
		t.Fatalf("item-1: remaining=%d cancelled=%d, want 2/1", it.RemainingQuantity, it.CancelledQuantity)
	}
	if it.Status != "NORMAL" {
		t.Fatalf("item-1 should stay NORMAL, got %q", it.Status)
	}

	// Cancelling more than remains is rejected.
	resp = doPost(t, "/api/orders/order-1/items/item-1/cancel", "user-1", quantityRequest{Quantity: 5})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("excess quantity: expected 422, got %d", resp.StatusCode)
	}
	body = decodeJSON[errorResponse](t, resp)
	resp.Body.Close()
	if body.Code != "INVALID_QUANTITY" {
		t.Fatalf("expected INVALID_QUANTITY, got %q", body.Code)
	}

	// Full cancel takes the rest.
	resp = doPost(t, "/api/orders/order-1/cancel", "user-1", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", resp.StatusCode)
	}

	o = getOrder(t, "order-1", "user-1")
	if o.Status != "CANCELLED" {
		t.Fatalf("expected CANCELLED, got %q", o.Status)
	}
	for _, it := range o.Items {
		if it.RemainingQuantity != 0 {
			t.Fatalf("item %s still has %d remaining", it.ID, it.RemainingQuantity)
		}
		if it.Status != "CANCELLED" {
			t.Fatalf("item %s: expected CANCELLED, got %q", it.ID, it.Status)
		}
	}

	// A second cancellation must fail without further side effects.
	resp = doPost(t, "/api/orders/order-1/cancel", "user-1", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double cancel: expected 409, got %d", resp.StatusCode)
	}
	body = decodeJSON[errorResponse](t, resp)
	resp.Body.Close()
	if body.Code != "CANCEL_FAIL" {
		t.Fatalf("expected CANCEL_FAIL, got %q", body.Code)
	}
}

func TestCancelDeliveredOrderRejected(t *testing.T) {
	resp := doPost(t, "/api/orders/order-2/cancel", "user-1", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	body := decodeJSON[errorResponse](t, resp)
	resp.Body.Close()
	if body.Code != "CANCEL_FAIL" {
		t.Fatalf("expected CANCEL_FAIL, got %q", body.Code)
	}

	o := getOrder(t, "order-2", "user-1")
	if o.Status != "DELIVERED" {
		t.Fatalf("order-2 must stay DELIVERED, got %q", o.Status)
	}
}
