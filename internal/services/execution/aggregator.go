package execution

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"treasury-engine/internal/domain"
	"treasury-engine/pkg/retrier"
)

// Signer produces a detached signature over a payload for one custodied
// address. The vault satisfies this.
type Signer interface {
	Sign(address string, payload []byte) ([]byte, error)
}

// errVenueRejected marks 4xx submit responses. Resubmitting the same signed
// payload cannot succeed, so these are never retried.
var errVenueRejected = errors.New("venue rejected the order")

// AggregatorVenue routes orders through an HTTP swap aggregator. Each order
// is quoted, the swap payload is signed by the treasury wallet, and the
// signed payload is submitted.
type AggregatorVenue struct {
	baseURL string
	client  *http.Client
	signer  Signer
	retrier *retrier.Retrier
	logger  *zap.Logger
}

// NewAggregatorVenue creates an aggregator-backed venue. timeout bounds
// each HTTP call.
func NewAggregatorVenue(baseURL string, signer Signer, timeout time.Duration, logger *zap.Logger) (*AggregatorVenue, error) {
	if baseURL == "" {
		return nil, errors.New("aggregator base URL is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &AggregatorVenue{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		signer:  signer,
		retrier: retrier.New(
			retrier.WithInitialInterval(500*time.Millisecond),
			retrier.WithMaxRetries(3),
			retrier.WithRetryIf(func(err error) bool {
				return !errors.Is(err, errVenueRejected)
			}),
		),
		logger: logger,
	}, nil
}

type quoteResponse struct {
	Price   string `json:"price"`
	Payload string `json:"payload"` // base64 swap transaction to sign
}

type submitRequest struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

type submitResponse struct {
	TxSignature string `json:"tx_signature"`
	FillPrice   string `json:"fill_price"`
}

func (v *AggregatorVenue) ExecuteOpen(ctx context.Context, req OrderRequest) (Fill, error) {
	side := "buy"
	if req.Direction == domain.DirectionShort {
		side = "sell"
	}
	return v.execute(ctx, req, side)
}

func (v *AggregatorVenue) ExecuteClose(ctx context.Context, req OrderRequest) (Fill, error) {
	side := "sell"
	if req.Direction == domain.DirectionShort {
		side = "buy"
	}
	return v.execute(ctx, req, side)
}

func (v *AggregatorVenue) execute(ctx context.Context, req OrderRequest, side string) (Fill, error) {
	quote, err := v.fetchQuote(ctx, req, side)
	if err != nil {
		return Fill{}, errors.Wrap(domain.ErrExecutionFailure, err.Error())
	}

	payload, err := base64.StdEncoding.DecodeString(quote.Payload)
	if err != nil {
		return Fill{}, errors.Wrap(domain.ErrExecutionFailure, "aggregator returned malformed payload")
	}

	signature, err := v.signer.Sign(req.Wallet, payload)
	if err != nil {
		return Fill{}, err
	}

	result, err := retrier.DoWithData(v.retrier, ctx, func(ctx context.Context) (submitResponse, error) {
		return v.submit(ctx, submitRequest{
			Payload:   quote.Payload,
			Signature: base64.StdEncoding.EncodeToString(signature),
			Address:   req.Wallet,
		})
	})
	if err != nil {
		return Fill{}, errors.Wrap(domain.ErrExecutionFailure, err.Error())
	}

	fillPrice, err := decimal.NewFromString(result.FillPrice)
	if err != nil || fillPrice.LessThanOrEqual(decimal.Zero) {
		// fall back to the quoted price when the venue omits the fill
		fillPrice, err = decimal.NewFromString(quote.Price)
		if err != nil {
			return Fill{}, errors.Wrap(domain.ErrExecutionFailure, "aggregator returned no usable price")
		}
	}

	v.logger.Info("aggregator fill",
		zap.String("symbol", req.Symbol),
		zap.String("side", side),
		zap.String("fill_price", fillPrice.String()),
		zap.String("tx", result.TxSignature))

	return Fill{
		Price:       fillPrice,
		TxSignature: result.TxSignature,
		FilledAt:    time.Now().UTC(),
	}, nil
}

func (v *AggregatorVenue) fetchQuote(ctx context.Context, req OrderRequest, side string) (quoteResponse, error) {
	params := url.Values{}
	params.Set("token", req.Token)
	params.Set("side", side)
	params.Set("quantity", req.Quantity.String())

	endpoint := fmt.Sprintf("%s/quote?%s", v.baseURL, params.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return quoteResponse{}, err
	}

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return quoteResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return quoteResponse{}, fmt.Errorf("quote returned %d: %s", resp.StatusCode, body)
	}

	var quote quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return quoteResponse{}, errors.Wrap(err, "decode quote response")
	}
	if quote.Payload == "" {
		return quoteResponse{}, errors.New("quote response has no payload")
	}
	return quote, nil
}

func (v *AggregatorVenue) submit(ctx context.Context, req submitRequest) (submitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return submitResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/submit", bytes.NewReader(body))
	if err != nil {
		return submitResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return submitResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
			return submitResponse{}, errors.Wrapf(errVenueRejected, "submit returned %d: %s", resp.StatusCode, respBody)
		}
		return submitResponse{}, fmt.Errorf("submit returned %d: %s", resp.StatusCode, respBody)
	}

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return submitResponse{}, errors.Wrap(err, "decode submit response")
	}
	return result, nil
}
