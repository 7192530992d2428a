package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"product not found", fmt.Errorf("lookup: %w", catalog.ErrProductNotFound), http.StatusNotFound, "product_not_found"},
		{"invalid payment", fmt.Errorf("%w: cvv must be 3 digits", checkout.ErrInvalidPaymentDetails), http.StatusBadRequest, "invalid_payment_details"},
		{"empty cart", checkout.ErrEmptyCart, http.StatusConflict, "empty_cart"},
		{"cart unavailable", fmt.Errorf("%w: connection reset", service.ErrCartUnavailable), http.StatusServiceUnavailable, "cart_unavailable"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handleServiceError(recorder, tt.err)

			assert.Equal(t, tt.wantCode, recorder.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
			assert.Equal(t, tt.wantBody, body.Code)
		})
	}
}
