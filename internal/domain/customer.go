package domain

type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type Company struct {
	Name    string   `json:"name"`
	TaxID   string   `json:"tax_id,omitempty"`
	Address *Address `json:"address,omitempty"`
}

type Customer struct {
	ID          string            `json:"id,omitempty"`
	Email       string            `json:"email"`
	Name        string            `json:"name,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Description string            `json:"description,omitempty"`
	Company     *Company          `json:"company,omitempty"`
	Address     *Address          `json:"address,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy. Gateways work on clones so a caller's Customer is
// never modified in place.
func (c *Customer) Clone() *Customer {
	if c == nil {
		return nil
	}

	out := *c

	if c.Address != nil {
		addr := *c.Address
		out.Address = &addr
	}

	if c.Company != nil {
		company := *c.Company
		if c.Company.Address != nil {
			addr := *c.Company.Address
			company.Address = &addr
		}
		out.Company = &company
	}

	if c.Metadata != nil {
		out.Metadata = CloneMetadata(c.Metadata)
	}

	return &out
}

// WithID returns a copy of c carrying the provider-assigned id.
func (c *Customer) WithID(id string) *Customer {
	out := c.Clone()
	if out == nil {
		out = &Customer{}
	}
	out.ID = id

	return out
}
