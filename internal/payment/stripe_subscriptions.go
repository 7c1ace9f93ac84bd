package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/stripe/stripe-go/v82"
)

const (
	stripeTrialDaysKey = "trial_days"
	stripeFeaturesKey  = "features"
)

// CreatePlan creates a recurring price. A plan without ProductID creates its
// product inline from Name.
func (g *StripeGateway) CreatePlan(ctx context.Context, plan domain.SubscriptionPlan) (_ *domain.SubscriptionPlan, err error) {
	cur, err := g.support.Validate(plan.Amount, plan.Currency)
	if err != nil {
		return nil, err
	}

	if !plan.Interval.Valid() {
		return nil, fmt.Errorf("%w: unknown interval %q", domain.ErrValidation, plan.Interval)
	}

	ctx, done := g.support.Start(ctx, "create_plan")
	defer func() { done(err) }()

	intervalCount := plan.IntervalCount
	if intervalCount <= 0 {
		intervalCount = 1
	}

	params := &stripe.PriceParams{
		Currency:   stripe.String(strings.ToLower(cur)),
		UnitAmount: stripe.Int64(plan.Amount),
		Nickname:   stripe.String(plan.Name),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(string(plan.Interval)),
			IntervalCount: stripe.Int64(intervalCount),
		},
	}
	params.Context = ctx

	if plan.ProductID != "" {
		params.Product = stripe.String(plan.ProductID)
	} else {
		params.ProductData = &stripe.PriceProductDataParams{Name: stripe.String(plan.Name)}
	}
	if plan.TrialDays > 0 {
		params.AddMetadata(stripeTrialDaysKey, strconv.FormatInt(plan.TrialDays, 10))
	}
	if len(plan.Features) > 0 {
		params.AddMetadata(stripeFeaturesKey, strings.Join(plan.Features, ","))
	}

	price, err := g.api.Prices.New(params)
	if err != nil {
		return nil, g.support.Fail(ctx, "create_plan", err, map[string]any{"name": plan.Name})
	}

	return stripePlan(price), nil
}

func (g *StripeGateway) GetPlan(ctx context.Context, planID string) (_ *domain.SubscriptionPlan, err error) {
	if planID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "get_plan")
	defer func() { done(err) }()

	params := &stripe.PriceParams{}
	params.Context = ctx

	price, err := g.api.Prices.Get(planID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, g.support.Fail(ctx, "get_plan", err, map[string]any{"plan_id": planID})
	}

	return stripePlan(price), nil
}

func (g *StripeGateway) CreateSubscription(
	ctx context.Context,
	customerID, planID string,
	opts domain.SubscriptionOptions) (_ *domain.Subscription, err error) {

	if customerID == "" || planID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "create_subscription")
	defer func() { done(err) }()

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(planID)},
		},
	}
	params.Context = ctx

	if opts.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(opts.TrialDays)
	}
	if opts.PaymentMethodID != "" {
		params.DefaultPaymentMethod = stripe.String(opts.PaymentMethodID)
	}
	if opts.IdempotencyKey != "" {
		params.SetIdempotencyKey(opts.IdempotencyKey)
	}
	for k, v := range opts.Metadata {
		params.AddMetadata(k, v)
	}

	sub, err := g.api.Subscriptions.New(params)
	if err != nil {
		return nil, g.support.Fail(ctx, "create_subscription", err, map[string]any{
			"customer_id": customerID,
			"plan_id":     planID,
		})
	}

	return stripeSubscription(sub), nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	sub, err := g.fetchSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	return stripeSubscription(sub), nil
}

// CancelSubscription ends the subscription now when immediately is set,
// otherwise at the end of the current period.
func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (_ *domain.Subscription, err error) {
	if subscriptionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "cancel_subscription")
	defer func() { done(err) }()

	var sub *stripe.Subscription
	if immediately {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		sub, err = g.api.Subscriptions.Cancel(subscriptionID, params)
	} else {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		sub, err = g.api.Subscriptions.Update(subscriptionID, params)
	}

	if err != nil {
		return nil, g.subscriptionError(ctx, "cancel_subscription", subscriptionID, err)
	}

	return stripeSubscription(sub), nil
}

func (g *StripeGateway) PauseSubscription(ctx context.Context, subscriptionID string) (_ *domain.Subscription, err error) {
	if subscriptionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "pause_subscription")
	defer func() { done(err) }()

	params := &stripe.SubscriptionParams{
		PauseCollection: &stripe.SubscriptionPauseCollectionParams{
			Behavior: stripe.String("void"),
		},
	}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, g.subscriptionError(ctx, "pause_subscription", subscriptionID, err)
	}

	return stripeSubscription(sub), nil
}

func (g *StripeGateway) ResumeSubscription(ctx context.Context, subscriptionID string) (_ *domain.Subscription, err error) {
	if subscriptionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "resume_subscription")
	defer func() { done(err) }()

	// An empty pause_collection clears the pause.
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExtra("pause_collection", "")

	sub, err := g.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, g.subscriptionError(ctx, "resume_subscription", subscriptionID, err)
	}

	return stripeSubscription(sub), nil
}

func (g *StripeGateway) UpdateSubscription(
	ctx context.Context,
	subscriptionID string,
	update domain.SubscriptionUpdate) (_ *domain.Subscription, err error) {

	current, err := g.fetchSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	ctx, done := g.support.Start(ctx, "update_subscription")
	defer func() { done(err) }()

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: update.CancelAtPeriodEnd}
	params.Context = ctx

	if update.PlanID != "" {
		item := &stripe.SubscriptionItemsParams{Price: stripe.String(update.PlanID)}
		if current.Items != nil && len(current.Items.Data) > 0 {
			item.ID = stripe.String(current.Items.Data[0].ID)
		}
		params.Items = []*stripe.SubscriptionItemsParams{item}
	}
	for k, v := range update.Metadata {
		params.AddMetadata(k, v)
	}

	sub, err := g.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, g.subscriptionError(ctx, "update_subscription", subscriptionID, err)
	}

	return stripeSubscription(sub), nil
}

func (g *StripeGateway) fetchSubscription(ctx context.Context, subscriptionID string) (_ *stripe.Subscription, err error) {
	if subscriptionID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "get_subscription")
	defer func() { done(err) }()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, g.subscriptionError(ctx, "get_subscription", subscriptionID, err)
	}

	return sub, nil
}

func (g *StripeGateway) subscriptionError(ctx context.Context, op, subscriptionID string, err error) error {
	if isStripeNotFound(err) {
		return domain.ErrSubscriptionNotFound
	}

	return g.support.Fail(ctx, op, err, map[string]any{"subscription_id": subscriptionID})
}

func mapStripeSubscriptionStatus(status string) domain.SubscriptionStatus {
	switch status {
	case "incomplete":
		return domain.SubscriptionStatusIncomplete
	case "incomplete_expired":
		return domain.SubscriptionStatusIncompleteExpired
	case "trialing":
		return domain.SubscriptionStatusTrialing
	case "active":
		return domain.SubscriptionStatusActive
	case "past_due":
		return domain.SubscriptionStatusPastDue
	case "paused":
		return domain.SubscriptionStatusPaused
	case "canceled":
		return domain.SubscriptionStatusCanceled
	case "unpaid":
		return domain.SubscriptionStatusUnpaid
	default:
		return domain.SubscriptionStatusIncomplete
	}
}

func stripeSubscription(sub *stripe.Subscription) *domain.Subscription {
	out := &domain.Subscription{
		ID:                sub.ID,
		Driver:            DriverStripe,
		Status:            mapStripeSubscriptionStatus(string(sub.Status)),
		Currency:          domain.NormalizeCurrency(string(sub.Currency)),
		TrialStart:        stripeTime(sub.TrialStart),
		TrialEnd:          stripeTime(sub.TrialEnd),
		CanceledAt:        stripeTime(sub.CanceledAt),
		EndedAt:           stripeTime(sub.EndedAt),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}

	if len(sub.Metadata) > 0 {
		out.Metadata = domain.CloneMetadata(sub.Metadata)
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	// A paused collection keeps Stripe's status at active.
	if sub.PauseCollection != nil && out.Status == domain.SubscriptionStatusActive {
		out.Status = domain.SubscriptionStatusPaused
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.CurrentPeriodStart = stripeTime(item.CurrentPeriodStart)
		out.CurrentPeriodEnd = stripeTime(item.CurrentPeriodEnd)

		if item.Price != nil {
			out.PlanID = item.Price.ID
			out.Amount = item.Price.UnitAmount
			if item.Price.Recurring != nil {
				out.Interval = domain.Interval(item.Price.Recurring.Interval)
				out.IntervalCount = item.Price.Recurring.IntervalCount
			}
		}
	}

	return out
}

func stripePlan(price *stripe.Price) *domain.SubscriptionPlan {
	plan := &domain.SubscriptionPlan{
		ID:       price.ID,
		Name:     price.Nickname,
		Amount:   price.UnitAmount,
		Currency: domain.NormalizeCurrency(string(price.Currency)),
	}

	if price.Product != nil {
		plan.ProductID = price.Product.ID
	}
	if price.Recurring != nil {
		plan.Interval = domain.Interval(price.Recurring.Interval)
		plan.IntervalCount = price.Recurring.IntervalCount
	}
	if days, err := strconv.ParseInt(price.Metadata[stripeTrialDaysKey], 10, 64); err == nil {
		plan.TrialDays = days
	}
	if features := price.Metadata[stripeFeaturesKey]; features != "" {
		plan.Features = strings.Split(features, ",")
	}

	return plan
}
