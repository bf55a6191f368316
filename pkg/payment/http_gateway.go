package payment

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPConfig holds the merchant credentials of an HTTP gateway
type HTTPConfig struct {
	BaseURL       string
	MerchantKey   string
	MerchantToken string // SECRET - only used for the check value, never sent
}

// HTTPGateway calls a JSON payment API authenticated with a SHA-512 check value
type HTTPGateway struct {
	config HTTPConfig
	client *http.Client
	logger *logrus.Logger
}

type chargePayload struct {
	MerchantKey  string `json:"merchantKey"`
	InvoiceID    string `json:"invoiceId"`
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
	CustomerRef  string `json:"customerRef,omitempty"`
	CheckValue   string `json:"checkValue"`
}

type refundPayload struct {
	MerchantKey   string `json:"merchantKey"`
	InvoiceID     string `json:"invoiceId"`
	TransactionID string `json:"transactionId,omitempty"`
	Amount        string `json:"amount"`
	CurrencyCode  string `json:"currencyCode"`
	CheckValue    string `json:"checkValue"`
}

type gatewayResponse struct {
	Status        string `json:"status"` // "SUCCESS", "FAILED"
	TransactionID string `json:"transactionId"`
	Message       string `json:"message,omitempty"`
}

// NewHTTPGateway creates a gateway client. The HTTP timeout is a backstop; callers bound calls with ctx.
func NewHTTPGateway(cfg HTTPConfig, logger *logrus.Logger) *HTTPGateway {
	return &HTTPGateway{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// CheckValue creates the SHA-512 check value
// hash1 = SHA512(merchantToken), hash2 = SHA512("merchantKey|invoiceId|amount|currencyCode|hash1"), both uppercase hex
func (g *HTTPGateway) CheckValue(invoiceID, amount, currencyCode string) string {
	hash1 := sha512.Sum512([]byte(g.config.MerchantToken))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s|%s|%s", g.config.MerchantKey, invoiceID, amount, currencyCode, hash1Hex)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

// Charge implements Gateway
func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	amount := req.Amount.StringFixed(2)
	payload := chargePayload{
		MerchantKey:  g.config.MerchantKey,
		InvoiceID:    req.Reference,
		Amount:       amount,
		CurrencyCode: req.Currency,
		CustomerRef:  req.HolderID,
		CheckValue:   g.CheckValue(req.Reference, amount, req.Currency),
	}
	return g.post(ctx, "/charges", req.Reference, payload)
}

// Refund implements Gateway
func (g *HTTPGateway) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	amount := req.Amount.StringFixed(2)
	payload := refundPayload{
		MerchantKey:   g.config.MerchantKey,
		InvoiceID:     req.Reference,
		TransactionID: req.TransactionID,
		Amount:        amount,
		CurrencyCode:  req.Currency,
		CheckValue:    g.CheckValue(req.Reference, amount, req.Currency),
	}
	return g.post(ctx, "/refunds", req.Reference, payload)
}

func (g *HTTPGateway) post(ctx context.Context, path, reference string, payload interface{}) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.config.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			g.logger.WithField("reference", reference).Warn("Payment gateway call timed out")
			return &Result{Status: StatusTimeout, Message: "deadline exceeded"}, nil
		}
		return nil, fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"reference":   reference,
		"path":        path,
		"status_code": resp.StatusCode,
	}).Debug("Payment gateway response")

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("payment gateway error: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed gatewayResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.StatusCode == http.StatusOK && strings.EqualFold(parsed.Status, "SUCCESS") {
		return &Result{Status: StatusSuccess, TransactionID: parsed.TransactionID}, nil
	}
	return &Result{Status: StatusFailure, TransactionID: parsed.TransactionID, Message: parsed.Message}, nil
}
