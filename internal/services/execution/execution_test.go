package execution

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-engine/internal/domain"
)

func testOrder(direction domain.Direction) OrderRequest {
	return OrderRequest{
		PositionID: "pos-1",
		Token:      "So11111111111111111111111111111111111111112",
		Symbol:     "SOL",
		Direction:  direction,
		Quantity:   decimal.NewFromInt(2),
		QuotePrice: decimal.NewFromInt(100),
		Wallet:     "treasury-address",
	}
}

func TestSimulatedVenueSlippageAgainstTaker(t *testing.T) {
	venue := NewSimulatedVenue(decimal.NewFromFloat(0.01), nil)
	ctx := context.Background()

	openLong, err := venue.ExecuteOpen(ctx, testOrder(domain.DirectionLong))
	require.NoError(t, err)
	assert.True(t, openLong.Price.Equal(decimal.NewFromInt(101)), "buy fills higher, got %s", openLong.Price)

	closeLong, err := venue.ExecuteClose(ctx, testOrder(domain.DirectionLong))
	require.NoError(t, err)
	assert.True(t, closeLong.Price.Equal(decimal.NewFromInt(99)), "sell fills lower, got %s", closeLong.Price)

	openShort, err := venue.ExecuteOpen(ctx, testOrder(domain.DirectionShort))
	require.NoError(t, err)
	assert.True(t, openShort.Price.Equal(decimal.NewFromInt(99)), "short opens as sell, got %s", openShort.Price)

	assert.Len(t, venue.Calls(), 3)
}

func TestSimulatedVenueFailNext(t *testing.T) {
	venue := NewSimulatedVenue(decimal.Zero, nil)

	venue.FailNext(errors.New("venue rejected order"))
	_, err := venue.ExecuteOpen(context.Background(), testOrder(domain.DirectionLong))
	require.ErrorIs(t, err, domain.ErrExecutionFailure)

	// failure is one-shot
	_, err = venue.ExecuteOpen(context.Background(), testOrder(domain.DirectionLong))
	require.NoError(t, err)
}

type recordingSigner struct {
	calls   int
	payload []byte
}

func (s *recordingSigner) Sign(_ string, payload []byte) ([]byte, error) {
	s.calls++
	s.payload = payload
	return []byte("signature"), nil
}

func TestAggregatorVenueQuoteSignSubmit(t *testing.T) {
	swapPayload := []byte("swap-transaction-bytes")
	var submitted submitRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "buy", r.URL.Query().Get("side"))
			json.NewEncoder(w).Encode(quoteResponse{
				Price:   "100.5",
				Payload: base64.StdEncoding.EncodeToString(swapPayload),
			})
		case "/submit":
			assert.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
			json.NewEncoder(w).Encode(submitResponse{
				TxSignature: "tx-abc",
				FillPrice:   "100.7",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	signer := &recordingSigner{}
	venue, err := NewAggregatorVenue(server.URL, signer, 5*time.Second, nil)
	require.NoError(t, err)

	fill, err := venue.ExecuteOpen(context.Background(), testOrder(domain.DirectionLong))
	require.NoError(t, err)

	assert.True(t, fill.Price.Equal(decimal.RequireFromString("100.7")))
	assert.Equal(t, "tx-abc", fill.TxSignature)
	assert.Equal(t, 1, signer.calls)
	assert.Equal(t, swapPayload, signer.payload)
	assert.Equal(t, "treasury-address", submitted.Address)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("signature")), submitted.Signature)
}

func TestAggregatorVenueSubmitRejectionNotRetried(t *testing.T) {
	submitCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			json.NewEncoder(w).Encode(quoteResponse{
				Price:   "100.5",
				Payload: base64.StdEncoding.EncodeToString([]byte("swap-transaction-bytes")),
			})
		case "/submit":
			submitCalls++
			http.Error(w, "insufficient balance", http.StatusBadRequest)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	venue, err := NewAggregatorVenue(server.URL, &recordingSigner{}, time.Second, nil)
	require.NoError(t, err)

	_, err = venue.ExecuteOpen(context.Background(), testOrder(domain.DirectionLong))
	require.ErrorIs(t, err, domain.ErrExecutionFailure)
	assert.Equal(t, 1, submitCalls, "a rejected order must not be resubmitted")
}

func TestAggregatorVenueQuoteFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no route", http.StatusBadGateway)
	}))
	defer server.Close()

	venue, err := NewAggregatorVenue(server.URL, &recordingSigner{}, time.Second, nil)
	require.NoError(t, err)

	_, err = venue.ExecuteOpen(context.Background(), testOrder(domain.DirectionLong))
	require.ErrorIs(t, err, domain.ErrExecutionFailure)
}
