package paddle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/tierkit/pkg/subscription"
)

// Config holds Paddle credentials.
type Config struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// Custom data keys attached to every transaction.
const (
	KeyTenantID  = "tenant_id"
	KeyPlanID    = "plan_id"
	KeyTrialDays = "trial_days"
)

// TransactionsAPI is the part of the Paddle transactions client the provider uses.
type TransactionsAPI interface {
	CreateTransaction(ctx context.Context, req *paddle.CreateTransactionRequest) (*paddle.Transaction, error)
	GetTransaction(ctx context.Context, req *paddle.GetTransactionRequest) (*paddle.Transaction, error)
}

// SubscriptionsAPI is the part of the Paddle subscriptions client the provider uses.
type SubscriptionsAPI interface {
	GetSubscription(ctx context.Context, req *paddle.GetSubscriptionRequest) (*paddle.Subscription, error)
	CancelSubscription(ctx context.Context, req *paddle.CancelSubscriptionRequest) (*paddle.Subscription, error)
}

// PricesAPI is the part of the Paddle prices client the provider uses.
type PricesAPI interface {
	GetPrice(ctx context.Context, req *paddle.GetPriceRequest) (*paddle.Price, error)
}

// OriginResolver finds the checkout transaction that created a subscription.
// Subscription notifications after subscription.created do not carry it.
type OriginResolver interface {
	OriginTransaction(ctx context.Context, subscriptionID string) (string, error)
}

// Clients groups the Paddle API clients a Provider talks to.
type Clients struct {
	Transactions  TransactionsAPI
	Subscriptions SubscriptionsAPI
	Prices        PricesAPI
	Origins       OriginResolver
}

// Provider is a subscription.BillingAuthority backed by Paddle.
type Provider struct {
	transactions  TransactionsAPI
	subscriptions SubscriptionsAPI
	prices        PricesAPI
	origins       OriginResolver
	verifier      *paddle.WebhookVerifier
}

// New creates a Provider with an SDK client for the configured environment.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return NewWithClients(Clients{
		Transactions:  client.TransactionsClient,
		Subscriptions: client.SubscriptionsClient,
		Prices:        client.PricesClient,
		Origins:       transactionOrigins{client: client.TransactionsClient},
	}, cfg.WebhookSecret), nil
}

// NewWithClients creates a Provider over explicit API clients.
func NewWithClients(c Clients, webhookSecret string) *Provider {
	if c.Transactions == nil || c.Subscriptions == nil || c.Prices == nil || c.Origins == nil {
		panic("paddle: transactions, subscriptions, prices and origins clients are required")
	}
	return &Provider{
		transactions:  c.Transactions,
		subscriptions: c.Subscriptions,
		prices:        c.Prices,
		origins:       c.Origins,
		verifier:      paddle.NewWebhookVerifier(webhookSecret),
	}
}

// CreateSubscription opens a checkout transaction for the plan's price.
// The catalog price is used as is when its trial matches the requested
// trial. Otherwise the transaction carries a non-catalog copy of the price
// with the requested trial period, so a plan switch mid-trial or an
// activation after the trial is billed without a second trial.
func (p *Provider) CreateSubscription(ctx context.Context, req subscription.CreateRequest) (*subscription.Approval, error) {
	if req.TenantID == "" {
		return nil, subscription.ErrMissingTenantID
	}

	priceID := req.Plan.ProviderPriceID()
	price, err := p.prices.GetPrice(ctx, &paddle.GetPriceRequest{PriceID: priceID})
	if err != nil {
		return nil, fmt.Errorf("failed to get paddle price %s: %w", priceID, err)
	}

	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*transactionItem(price, req.TrialDays)},
		CustomData: paddle.CustomData{
			KeyTenantID:  req.TenantID,
			KeyPlanID:    req.Plan.ID,
			KeyTrialDays: strconv.Itoa(req.TrialDays),
		},
	}
	if req.ReturnURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.ReturnURL)}
	}

	tx, err := p.transactions.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}
	return &subscription.Approval{ReferenceID: tx.ID, ApprovalURL: *tx.Checkout.URL}, nil
}

func transactionItem(price *paddle.Price, trialDays int) *paddle.CreateTransactionItems {
	if trialMatches(price.TrialPeriod, trialDays) {
		return paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
			PriceID:  price.ID,
			Quantity: 1,
		})
	}

	var trial *paddle.Duration
	if trialDays > 0 {
		trial = &paddle.Duration{Interval: paddle.IntervalDay, Frequency: trialDays}
	}
	return paddle.NewCreateTransactionItemsTransactionItemCreateWithPrice(&paddle.TransactionItemCreateWithPrice{
		Quantity: 1,
		Price: paddle.TransactionPriceCreateWithProductID{
			ProductID:          price.ProductID,
			Description:        price.Description,
			Name:               price.Name,
			BillingCycle:       price.BillingCycle,
			TrialPeriod:        trial,
			TaxMode:            price.TaxMode,
			UnitPrice:          price.UnitPrice,
			UnitPriceOverrides: price.UnitPriceOverrides,
			Quantity:           price.Quantity,
		},
	})
}

// trialMatches reports whether a catalog trial period equals trialDays.
func trialMatches(period *paddle.Duration, trialDays int) bool {
	if period == nil || period.Frequency == 0 {
		return trialDays == 0
	}
	switch period.Interval {
	case paddle.IntervalDay:
		return period.Frequency == trialDays
	case paddle.IntervalWeek:
		return period.Frequency*7 == trialDays
	default:
		// month and year trials have no fixed length in days
		return false
	}
}

// GetSubscriptionStatus maps the transaction, and the subscription it
// produced if any, to a reference status.
func (p *Provider) GetSubscriptionStatus(ctx context.Context, ref string) (subscription.RefStatus, error) {
	tx, err := p.transactions.GetTransaction(ctx, &paddle.GetTransactionRequest{TransactionID: ref})
	if err != nil {
		return "", fmt.Errorf("failed to get paddle transaction %s: %w", ref, err)
	}

	status := transactionStatus(tx.Status)
	if status != subscription.RefActive || tx.SubscriptionID == nil || *tx.SubscriptionID == "" {
		return status, nil
	}

	sub, err := p.subscriptions.GetSubscription(ctx, &paddle.GetSubscriptionRequest{SubscriptionID: *tx.SubscriptionID})
	if err != nil {
		return "", fmt.Errorf("failed to get paddle subscription %s: %w", *tx.SubscriptionID, err)
	}
	return subscriptionStatus(sub.Status), nil
}

// CancelSubscription cancels the subscription produced by the transaction
// immediately. A transaction that never produced a subscription bills
// nothing, so there is nothing to cancel.
func (p *Provider) CancelSubscription(ctx context.Context, ref string) (bool, error) {
	tx, err := p.transactions.GetTransaction(ctx, &paddle.GetTransactionRequest{TransactionID: ref})
	if err != nil {
		return false, fmt.Errorf("failed to get paddle transaction %s: %w", ref, err)
	}
	if tx.SubscriptionID == nil || *tx.SubscriptionID == "" {
		return false, nil
	}

	subID := *tx.SubscriptionID
	sub, err := p.subscriptions.GetSubscription(ctx, &paddle.GetSubscriptionRequest{SubscriptionID: subID})
	if err != nil {
		return false, fmt.Errorf("failed to get paddle subscription %s: %w", subID, err)
	}
	if sub.Status == paddle.SubscriptionStatusCanceled {
		return false, nil
	}

	_, err = p.subscriptions.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromImmediately),
	})
	if err != nil {
		return false, errors.Join(fmt.Errorf("failed to cancel paddle subscription %s", subID), err)
	}
	return true, nil
}

func transactionStatus(s paddle.TransactionStatus) subscription.RefStatus {
	switch s {
	case paddle.TransactionStatusPaid, paddle.TransactionStatusCompleted:
		return subscription.RefActive
	case paddle.TransactionStatusCanceled:
		return subscription.RefCancelled
	default:
		// draft, ready, billed and past_due still wait for the merchant
		return subscription.RefPending
	}
}

func subscriptionStatus(s paddle.SubscriptionStatus) subscription.RefStatus {
	switch s {
	case paddle.SubscriptionStatusActive, paddle.SubscriptionStatusTrialing, paddle.SubscriptionStatusPastDue:
		return subscription.RefActive
	case paddle.SubscriptionStatusCanceled, paddle.SubscriptionStatusPaused:
		return subscription.RefCancelled
	default:
		return subscription.RefPending
	}
}

// transactionOrigins resolves origins through the transactions list endpoint.
type transactionOrigins struct {
	client *paddle.TransactionsClient
}

// OriginTransaction returns the earliest checkout transaction of the
// subscription. Renewals have a subscription_* origin and are skipped.
func (o transactionOrigins) OriginTransaction(ctx context.Context, subscriptionID string) (string, error) {
	res, err := o.client.ListTransactions(ctx, &paddle.ListTransactionsRequest{
		SubscriptionID: []string{subscriptionID},
		Origin:         []string{"api", "web"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to list paddle transactions of %s: %w", subscriptionID, err)
	}

	var origin, createdAt string
	err = res.Iter(ctx, func(tx *paddle.Transaction) (bool, error) {
		if origin == "" || string(tx.CreatedAt) < createdAt {
			origin, createdAt = tx.ID, string(tx.CreatedAt)
		}
		return true, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to list paddle transactions of %s: %w", subscriptionID, err)
	}
	if origin == "" {
		return "", fmt.Errorf("%w: %s", ErrNoOriginTransaction, subscriptionID)
	}
	return origin, nil
}

var _ subscription.BillingAuthority = (*Provider)(nil)
