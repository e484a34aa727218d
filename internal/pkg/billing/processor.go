package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
	"github.com/JanKoller/TicketHive/internal/pkg/env"
)

const defaultProcessorAPIBaseURL = "https://api.payproc.example.com/v1"

// ProcessorClient is the outbound surface to the external payment
// processor. Tests inject fakes; production uses the HTTP client below.
type ProcessorClient interface {
	GetSubscription(ctx context.Context, externalSubscriptionID string) (*NormalizedProcessorSubscription, error)
	PayInvoice(ctx context.Context, externalInvoiceID string) (*InvoiceEventInput, error)
}

// HTTPProcessorClient talks to the processor's REST API with bearer-token
// auth.
type HTTPProcessorClient struct {
	APIBaseURL string
	SecretKey  string

	HTTPClient *http.Client
}

// NewProcessorClientFromEnv builds the production client from environment
// configuration.
func NewProcessorClientFromEnv() *HTTPProcessorClient {
	return &HTTPProcessorClient{
		APIBaseURL: strings.TrimRight(strings.TrimSpace(env.GetEnv("PROCESSOR_API_BASE_URL", defaultProcessorAPIBaseURL)), "/"),
		SecretKey:  strings.TrimSpace(env.GetEnv("PROCESSOR_SECRET_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type processorSubscriptionPayload struct {
	ID                 string `json:"id"`
	CustomerID         string `json:"customer"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	TrialStart         int64  `json:"trial_start"`
	TrialEnd           int64  `json:"trial_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
}

type processorInvoicePayload struct {
	ID             string `json:"id"`
	Subscription   string `json:"subscription"`
	Status         string `json:"status"`
	AmountDue      int64  `json:"amount_due"`
	AmountPaid     int64  `json:"amount_paid"`
	Currency       string `json:"currency"`
	Created        int64  `json:"created"`
	DueDate        int64  `json:"due_date"`
	PaidAt         int64  `json:"paid_at"`
	PaymentMethod  string `json:"payment_method"`
	LastPaymentErr string `json:"last_payment_error"`
}

// GetSubscription pulls the canonical subscription state from the
// processor.
func (c *HTTPProcessorClient) GetSubscription(ctx context.Context, externalSubscriptionID string) (*NormalizedProcessorSubscription, error) {
	id := strings.TrimSpace(externalSubscriptionID)
	if id == "" {
		return nil, &apperrors.ProcessorError{Op: "get_subscription", Err: errors.New("external subscription id is required")}
	}

	body, err := c.get(ctx, "get_subscription", "/subscriptions/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	var raw processorSubscriptionPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &apperrors.ProcessorError{Op: "get_subscription", Err: err}
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, &apperrors.ProcessorError{Op: "get_subscription", Err: errors.New("response missing subscription id")}
	}

	return &NormalizedProcessorSubscription{
		ExternalSubscriptionID: raw.ID,
		ExternalCustomerID:     raw.CustomerID,
		Status:                 raw.Status,
		CurrentPeriodStart:     unixTime(raw.CurrentPeriodStart),
		CurrentPeriodEnd:       unixTime(raw.CurrentPeriodEnd),
		TrialStart:             unixTime(raw.TrialStart),
		TrialEnd:               unixTime(raw.TrialEnd),
		CancelAtPeriodEnd:      raw.CancelAtPeriodEnd,
		RawPayloadJSON:         string(body),
	}, nil
}

// PayInvoice asks the processor to charge an open invoice and returns the
// resulting invoice state.
func (c *HTTPProcessorClient) PayInvoice(ctx context.Context, externalInvoiceID string) (*InvoiceEventInput, error) {
	id := strings.TrimSpace(externalInvoiceID)
	if id == "" {
		return nil, &apperrors.ProcessorError{Op: "pay_invoice", Err: errors.New("external invoice id is required")}
	}

	body, err := c.post(ctx, "pay_invoice", "/invoices/"+url.PathEscape(id)+"/pay")
	if err != nil {
		return nil, err
	}

	var raw processorInvoicePayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &apperrors.ProcessorError{Op: "pay_invoice", Err: err}
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, &apperrors.ProcessorError{Op: "pay_invoice", Err: errors.New("response missing invoice id")}
	}

	return &InvoiceEventInput{
		ExternalInvoiceID:      raw.ID,
		ExternalSubscriptionID: raw.Subscription,
		Status:                 raw.Status,
		AmountDueCents:         raw.AmountDue,
		AmountPaidCents:        raw.AmountPaid,
		Currency:               strings.ToUpper(strings.TrimSpace(raw.Currency)),
		BilledAt:               unixTime(raw.Created),
		DueAt:                  unixTime(raw.DueDate),
		PaidAt:                 unixTime(raw.PaidAt),
		PaymentMethodRef:       raw.PaymentMethod,
		FailureReason:          raw.LastPaymentErr,
	}, nil
}

func (c *HTTPProcessorClient) get(ctx context.Context, op, path string) ([]byte, error) {
	return c.do(ctx, op, http.MethodGet, path)
}

func (c *HTTPProcessorClient) post(ctx context.Context, op, path string) ([]byte, error) {
	return c.do(ctx, op, http.MethodPost, path)
}

func (c *HTTPProcessorClient) do(ctx context.Context, op, method, path string) ([]byte, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, &apperrors.ProcessorError{Op: op, Err: errors.New("PROCESSOR_SECRET_KEY is not configured")}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, nil)
	if err != nil {
		return nil, &apperrors.ProcessorError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &apperrors.ProcessorError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperrors.ProcessorError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
		}
	}
	return body, nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
