// Package stripe implements the payment ledger and webhook decoder against
// the Stripe invoicing API.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hunnyEscape/gaming-cafe-billing/internal/config"
	settlementdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/settlement/domain"
	"go.uber.org/zap"
)

const apiBase = "https://api.stripe.com"

type Client struct {
	apiKey        string
	webhookSecret string
	client        *http.Client
	log           *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		apiKey:        strings.TrimSpace(cfg.Stripe.APIKey),
		webhookSecret: strings.TrimSpace(cfg.Stripe.WebhookSecret),
		client:        &http.Client{Timeout: 12 * time.Second},
		log:           log.Named("stripe"),
	}
}

type stripeInvoice struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Amount   int64             `json:"amount_due"`
	Paid     int64             `json:"amount_paid"`
	Currency string            `json:"currency"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) CreateDraft(ctx context.Context, customerRef string, metadata map[string]string) (settlementdomain.DraftInvoice, error) {
	values := url.Values{}
	values.Set("customer", customerRef)
	values.Set("auto_advance", "false")
	values.Set("collection_method", "charge_automatically")
	for key, value := range metadata {
		values.Set(fmt.Sprintf("metadata[%s]", key), value)
	}

	idempotencyKey := ""
	if invoiceID := metadata[settlementdomain.MetadataInvoiceKey]; invoiceID != "" {
		idempotencyKey = "draft:" + invoiceID
	}
	invoice, err := c.doRequest(ctx, http.MethodPost, "/v1/invoices", values, idempotencyKey)
	if err != nil {
		return settlementdomain.DraftInvoice{}, err
	}
	return settlementdomain.DraftInvoice{ProviderRef: invoice.ID}, nil
}

func (c *Client) AddLineItem(ctx context.Context, customerRef, providerRef string, item settlementdomain.LineItem) error {
	values := url.Values{}
	values.Set("customer", customerRef)
	values.Set("invoice", providerRef)
	values.Set("amount", strconv.FormatInt(item.Amount, 10))
	values.Set("currency", strings.ToLower(item.Currency))
	values.Set("description", item.Description)

	_, err := c.doRequest(ctx, http.MethodPost, "/v1/invoiceitems", values, "item:"+providerRef)
	return err
}

func (c *Client) Finalize(ctx context.Context, providerRef string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/invoices/"+providerRef+"/finalize", url.Values{}, "finalize:"+providerRef)
	return err
}

func (c *Client) Pay(ctx context.Context, providerRef string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/invoices/"+providerRef+"/pay", url.Values{}, "pay:"+providerRef)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, values url.Values, idempotencyKey string) (stripeInvoice, error) {
	if c.apiKey == "" {
		return stripeInvoice{}, &settlementdomain.ProviderError{
			Code:    "missing_api_key",
			Message: "stripe api key is not configured",
		}
	}

	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, bodyReader)
	if err != nil {
		return stripeInvoice{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failures are worth another attempt.
		return stripeInvoice{}, &settlementdomain.ProviderError{
			Code:      "request_failed",
			Message:   err.Error(),
			Transient: true,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return stripeInvoice{}, c.classifyError(resp)
	}

	var invoice stripeInvoice
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return stripeInvoice{}, err
	}
	if invoice.ID == "" {
		return stripeInvoice{}, errors.New("stripe_response_invalid")
	}
	return invoice, nil
}

// classifyError maps an HTTP failure to a retry decision. Rate limits and
// server errors are transient; card declines and bad requests are not.
func (c *Client) classifyError(resp *http.Response) error {
	var stripeErr stripeErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&stripeErr)

	message := strings.TrimSpace(stripeErr.Error.Message)
	if message == "" {
		message = "stripe_request_failed"
	}
	code := strings.TrimSpace(stripeErr.Error.Code)
	if code == "" {
		code = strconv.Itoa(resp.StatusCode)
	}

	transient := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= http.StatusInternalServerError ||
		code == "lock_timeout"

	return &settlementdomain.ProviderError{
		Code:      code,
		Message:   message,
		Transient: transient,
	}
}

func (c *Client) VerifySignature(payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return settlementdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return settlementdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return settlementdomain.ErrInvalidSignature
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (c *Client) ParseEvent(payload []byte) (settlementdomain.WebhookEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return settlementdomain.WebhookEvent{}, settlementdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return settlementdomain.WebhookEvent{}, settlementdomain.ErrInvalidPayload
	}

	var eventType string
	switch strings.TrimSpace(event.Type) {
	case "invoice.paid":
		eventType = settlementdomain.EventInvoicePaid
	case "invoice.payment_failed":
		eventType = settlementdomain.EventInvoicePaymentFailed
	default:
		return settlementdomain.WebhookEvent{}, settlementdomain.ErrEventIgnored
	}

	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return settlementdomain.WebhookEvent{}, settlementdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(invoice.ID) == "" {
		return settlementdomain.WebhookEvent{}, settlementdomain.ErrInvalidPayload
	}

	amount := invoice.Paid
	if amount <= 0 {
		amount = invoice.Amount
	}

	return settlementdomain.WebhookEvent{
		Type:               eventType,
		ProviderEventID:    event.ID,
		ProviderInvoiceRef: invoice.ID,
		InvoiceID:          strings.TrimSpace(invoice.Metadata[settlementdomain.MetadataInvoiceKey]),
		Amount:             amount,
		Currency:           strings.ToUpper(strings.TrimSpace(invoice.Currency)),
		OccurredAt:         eventTimestamp(invoice.Created, event.Created),
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func eventTimestamp(primary, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
