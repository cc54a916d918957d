package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
	apperrors "github.com/yashrajoria/course-access-service/common/errors"
)

// Event types that can complete a course purchase.
const (
	EventCheckoutCompleted           = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceed = "checkout.session.async_payment_succeeded"
)

// CheckoutSessionRequest carries everything the provider needs to open a
// hosted checkout page for one course.
type CheckoutSessionRequest struct {
	CustomerEmail      string
	ProductName        string
	ProductDescription string
	AmountCents        int64
	Currency           string
	Metadata           map[string]string
	SuccessURL         string
	CancelURL          string
}

// CheckoutSession is the provider's answer to a session request.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentEvent is a verified provider event reduced to the fields the
// processor reads.
type PaymentEvent struct {
	ID            string
	Type          string
	SessionID     string
	PaymentStatus string
	Metadata      map[string]string
	CustomerEmail string
	CustomerName  string
	// DetailsEmail is the address typed on the checkout page, used when the
	// session has no customer_email.
	DetailsEmail string
}

// Paid reports whether the event means the buyer's money was collected.
func (e *PaymentEvent) Paid() bool {
	switch e.Type {
	case EventCheckoutAsyncPaymentSucceed:
		return true
	case EventCheckoutCompleted:
		return e.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid) ||
			e.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusNoPaymentRequired)
	}
	return false
}

// PaymentProvider abstracts the hosted checkout collaborator.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	// ParseEvent authenticates payload against signatureHeader and decodes it.
	// Authentication failures match apperrors.ErrSignatureInvalid.
	ParseEvent(payload []byte, signatureHeader string) (*PaymentEvent, error)
}

// StripeProvider implements PaymentProvider with a per-instance Stripe client.
type StripeProvider struct {
	sc            *client.API
	webhookSecret string
}

// NewStripeProvider creates a StripeProvider. backends may be nil to use the
// default Stripe endpoints.
func NewStripeProvider(secretKey, webhookSecret string, backends *stripe.Backends) *StripeProvider {
	return &StripeProvider{
		sc:            client.New(secretKey, backends),
		webhookSecret: webhookSecret,
	}
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		CustomerEmail:      stripe.String(req.CustomerEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(req.ProductName),
						Description: stripe.String(req.ProductDescription),
					},
					UnitAmount: stripe.Int64(req.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := p.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// ParseEvent verifies the Stripe-Signature header over the raw payload. Events
// from other API versions are accepted; only checkout session fields are read.
func (p *StripeProvider) ParseEvent(payload []byte, signatureHeader string) (*PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSignatureInvalid, err)
	}

	pe := &PaymentEvent{ID: event.ID, Type: string(event.Type)}
	if event.Type != EventCheckoutCompleted && event.Type != EventCheckoutAsyncPaymentSucceed {
		return pe, nil
	}
	if event.Data == nil {
		return nil, fmt.Errorf("event %s has no data", event.ID)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	pe.SessionID = sess.ID
	pe.PaymentStatus = string(sess.PaymentStatus)
	pe.Metadata = sess.Metadata
	pe.CustomerEmail = sess.CustomerEmail
	if sess.CustomerDetails != nil {
		pe.DetailsEmail = sess.CustomerDetails.Email
		pe.CustomerName = sess.CustomerDetails.Name
	}
	return pe, nil
}
