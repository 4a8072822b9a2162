// Package dynamics talks to the Dynamics 365 Web API (OData v4) for the contacts entity set.
package dynamics

import (
	"context"
	"strings"
)

// ContactFields is the fixed $select list and the write whitelist.
var ContactFields = []string{
	"contactid",
	"firstname",
	"lastname",
	"emailaddress1",
	"telephone1",
	"address1_line1",
	"address1_city",
	"address1_stateorprovince",
	"address1_postalcode",
	"address1_country",
}

// Contact is a Dynamics contact record as this service reads it.
type Contact struct {
	ContactID     string `json:"contactid"`
	FirstName     string `json:"firstname"`
	LastName      string `json:"lastname"`
	Email         string `json:"emailaddress1"`
	Phone         string `json:"telephone1"`
	AddressLine1  string `json:"address1_line1"`
	City          string `json:"address1_city"`
	StateProvince string `json:"address1_stateorprovince"`
	PostalCode    string `json:"address1_postalcode"`
	Country       string `json:"address1_country"`
}

// ContactInput is a write payload. Nil fields are left out of the request body,
// so a PATCH only touches what was supplied.
type ContactInput struct {
	FirstName     *string `json:"firstname,omitempty"`
	LastName      *string `json:"lastname,omitempty"`
	Email         *string `json:"emailaddress1,omitempty"`
	Phone         *string `json:"telephone1,omitempty"`
	AddressLine1  *string `json:"address1_line1,omitempty"`
	City          *string `json:"address1_city,omitempty"`
	StateProvince *string `json:"address1_stateorprovince,omitempty"`
	PostalCode    *string `json:"address1_postalcode,omitempty"`
	Country       *string `json:"address1_country,omitempty"`
}

// Apply copies the supplied fields of in onto c.
func (c *Contact) Apply(in ContactInput) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&c.FirstName, in.FirstName)
	set(&c.LastName, in.LastName)
	set(&c.Email, in.Email)
	set(&c.Phone, in.Phone)
	set(&c.AddressLine1, in.AddressLine1)
	set(&c.City, in.City)
	set(&c.StateProvince, in.StateProvince)
	set(&c.PostalCode, in.PostalCode)
	set(&c.Country, in.Country)
}

// String returns a pointer to s, for building ContactInput values.
func String(s string) *string { return &s }

// ContactAPI is implemented by the live Client and the DemoClient.
type ContactAPI interface {
	// FindByEmail returns apperrors.ErrNotFound when no contact matches.
	FindByEmail(ctx context.Context, email string) (*Contact, error)
	Create(ctx context.Context, in ContactInput) (*Contact, error)
	Update(ctx context.Context, id string, in ContactInput) (*Contact, error)
	TestConnection(ctx context.Context) error
}

// Endpoint locates the Web API of one Dynamics organization.
type Endpoint struct {
	ResourceURL string
	APIVersion  string
}

// BaseURL returns <resource>/api/data/v<version>/.
func (e Endpoint) BaseURL() string {
	return strings.TrimRight(e.ResourceURL, "/") + "/api/data/v" + e.APIVersion + "/"
}

// EndpointSource returns the current endpoint, which may change at runtime.
type EndpointSource interface {
	Endpoint(ctx context.Context) (Endpoint, error)
}

// TokenProvider returns an application bearer token for the Dynamics resource.
type TokenProvider interface {
	AppToken(ctx context.Context) (string, error)
}
