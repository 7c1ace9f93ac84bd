package payment

import (
	"context"

	"github.com/metinatakli/paygate/internal/domain"
	"github.com/stripe/stripe-go/v82"
)

// Stripe customers have no company object; it travels in metadata.
const (
	stripeCompanyNameKey  = "company_name"
	stripeCompanyTaxIDKey = "company_tax_id"
)

func (g *StripeGateway) CreateCustomer(ctx context.Context, customer *domain.Customer) (_ *domain.Customer, err error) {
	if customer == nil || customer.Email == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "create_customer")
	defer func() { done(err) }()

	params := stripeCustomerParams(customer)
	params.Context = ctx

	c, err := g.api.Customers.New(params)
	if err != nil {
		return nil, g.support.Fail(ctx, "create_customer", err, map[string]any{"email": customer.Email})
	}

	return stripeCustomer(c), nil
}

func (g *StripeGateway) GetCustomer(ctx context.Context, customerID string) (_ *domain.Customer, err error) {
	if customerID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "get_customer")
	defer func() { done(err) }()

	params := &stripe.CustomerParams{}
	params.Context = ctx

	c, err := g.api.Customers.Get(customerID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, g.support.Fail(ctx, "get_customer", err, map[string]any{"customer_id": customerID})
	}

	if c.Deleted {
		return nil, domain.ErrCustomerNotFound
	}

	return stripeCustomer(c), nil
}

func (g *StripeGateway) UpdateCustomer(ctx context.Context, customer *domain.Customer) (_ *domain.Customer, err error) {
	if customer == nil || customer.ID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "update_customer")
	defer func() { done(err) }()

	params := stripeCustomerParams(customer)
	params.Context = ctx

	c, err := g.api.Customers.Update(customer.ID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, g.support.Fail(ctx, "update_customer", err, map[string]any{"customer_id": customer.ID})
	}

	return stripeCustomer(c), nil
}

func (g *StripeGateway) DeleteCustomer(ctx context.Context, customerID string) (_ bool, err error) {
	if customerID == "" {
		return false, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "delete_customer")
	defer func() { done(err) }()

	params := &stripe.CustomerParams{}
	params.Context = ctx

	c, err := g.api.Customers.Del(customerID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return false, domain.ErrCustomerNotFound
		}
		return false, g.support.Fail(ctx, "delete_customer", err, map[string]any{"customer_id": customerID})
	}

	return c.Deleted, nil
}

func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (_ *domain.PaymentMethodData, err error) {
	if customerID == "" || paymentMethodID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "attach_payment_method")
	defer func() { done(err) }()

	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx

	pm, err := g.api.PaymentMethods.Attach(paymentMethodID, params)
	if err != nil {
		return nil, g.support.Fail(ctx, "attach_payment_method", err, map[string]any{
			"customer_id":       customerID,
			"payment_method_id": paymentMethodID,
		})
	}

	data := stripePaymentMethod(pm)
	return &data, nil
}

func (g *StripeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) (_ bool, err error) {
	if paymentMethodID == "" {
		return false, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "detach_payment_method")
	defer func() { done(err) }()

	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx

	pm, err := g.api.PaymentMethods.Detach(paymentMethodID, params)
	if err != nil {
		return false, g.support.Fail(ctx, "detach_payment_method", err, map[string]any{"payment_method_id": paymentMethodID})
	}

	return pm.Customer == nil, nil
}

func (g *StripeGateway) ListPaymentMethods(ctx context.Context, customerID string) (_ []domain.PaymentMethodData, err error) {
	if customerID == "" {
		return nil, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "list_payment_methods")
	defer func() { done(err) }()

	getParams := &stripe.CustomerParams{}
	getParams.Context = ctx
	getParams.AddExpand("invoice_settings.default_payment_method")

	c, err := g.api.Customers.Get(customerID, getParams)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, g.support.Fail(ctx, "list_payment_methods", err, map[string]any{"customer_id": customerID})
	}

	var defaultID string
	if c.InvoiceSettings != nil && c.InvoiceSettings.DefaultPaymentMethod != nil {
		defaultID = c.InvoiceSettings.DefaultPaymentMethod.ID
	}

	params := &stripe.CustomerListPaymentMethodsParams{Customer: stripe.String(customerID)}
	params.Context = ctx

	var methods []domain.PaymentMethodData
	it := g.api.Customers.ListPaymentMethods(params)
	for it.Next() {
		data := stripePaymentMethod(it.PaymentMethod())
		data.IsDefault = data.ID == defaultID
		methods = append(methods, data)
	}

	if err := it.Err(); err != nil {
		return nil, g.support.Fail(ctx, "list_payment_methods", err, map[string]any{"customer_id": customerID})
	}

	return methods, nil
}

func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (_ bool, err error) {
	if customerID == "" || paymentMethodID == "" {
		return false, domain.ErrMissingIdentifier
	}

	ctx, done := g.support.Start(ctx, "set_default_payment_method")
	defer func() { done(err) }()

	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx

	c, err := g.api.Customers.Update(customerID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return false, domain.ErrCustomerNotFound
		}
		return false, g.support.Fail(ctx, "set_default_payment_method", err, map[string]any{
			"customer_id":       customerID,
			"payment_method_id": paymentMethodID,
		})
	}

	return c.InvoiceSettings != nil &&
		c.InvoiceSettings.DefaultPaymentMethod != nil &&
		c.InvoiceSettings.DefaultPaymentMethod.ID == paymentMethodID, nil
}

func stripeCustomerParams(customer *domain.Customer) *stripe.CustomerParams {
	params := &stripe.CustomerParams{}

	if customer.Email != "" {
		params.Email = stripe.String(customer.Email)
	}
	if customer.Name != "" {
		params.Name = stripe.String(customer.Name)
	}
	if customer.Phone != "" {
		params.Phone = stripe.String(customer.Phone)
	}
	if customer.Description != "" {
		params.Description = stripe.String(customer.Description)
	}
	if customer.Address != nil {
		params.Address = &stripe.AddressParams{
			Line1:      stripe.String(customer.Address.Line1),
			Line2:      stripe.String(customer.Address.Line2),
			City:       stripe.String(customer.Address.City),
			State:      stripe.String(customer.Address.State),
			PostalCode: stripe.String(customer.Address.PostalCode),
			Country:    stripe.String(customer.Address.Country),
		}
	}

	for k, v := range customer.Metadata {
		params.AddMetadata(k, v)
	}
	if customer.Company != nil {
		params.AddMetadata(stripeCompanyNameKey, customer.Company.Name)
		if customer.Company.TaxID != "" {
			params.AddMetadata(stripeCompanyTaxIDKey, customer.Company.TaxID)
		}
	}

	return params
}

func stripeCustomer(c *stripe.Customer) *domain.Customer {
	customer := &domain.Customer{
		ID:          c.ID,
		Email:       c.Email,
		Name:        c.Name,
		Phone:       c.Phone,
		Description: c.Description,
	}

	if c.Address != nil {
		customer.Address = &domain.Address{
			Line1:      c.Address.Line1,
			Line2:      c.Address.Line2,
			City:       c.Address.City,
			State:      c.Address.State,
			PostalCode: c.Address.PostalCode,
			Country:    c.Address.Country,
		}
	}

	metadata := domain.CloneMetadata(c.Metadata)
	if name, ok := metadata[stripeCompanyNameKey]; ok {
		customer.Company = &domain.Company{Name: name, TaxID: metadata[stripeCompanyTaxIDKey]}
		delete(metadata, stripeCompanyNameKey)
		delete(metadata, stripeCompanyTaxIDKey)
	}
	if len(metadata) > 0 {
		customer.Metadata = metadata
	}

	return customer
}

func stripePaymentMethod(pm *stripe.PaymentMethod) domain.PaymentMethodData {
	data := domain.PaymentMethodData{
		ID:   pm.ID,
		Type: string(pm.Type),
	}

	if pm.Card != nil {
		data.Brand = string(pm.Card.Brand)
		data.Last4 = pm.Card.Last4
		data.ExpMonth = pm.Card.ExpMonth
		data.ExpYear = pm.Card.ExpYear
	}
	if pm.Customer != nil {
		data.CustomerID = pm.Customer.ID
	}

	return data
}
