package dynamics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
)

// demoNamespace seeds the deterministic demo contact ids.
var demoNamespace = uuid.MustParse("6f1c4f6e-3d4b-4b8e-9a53-5a0c2f1d7e21")

// DemoClient serves canned contacts. Saved contacts are remembered in memory so the
// demo form round-trips.
type DemoClient struct {
	delay time.Duration

	mu       sync.RWMutex
	contacts map[string]Contact
}

var _ ContactAPI = (*DemoClient)(nil)

// NewDemoClient creates a DemoClient that waits delay before every answer.
func NewDemoClient(delay time.Duration) *DemoClient {
	return &DemoClient{delay: delay, contacts: make(map[string]Contact)}
}

// DemoContactID returns the stable demo id for email.
func DemoContactID(email string) string {
	return "demo-" + uuid.NewSHA1(demoNamespace, []byte(strings.ToLower(email))).String()
}

func (d *DemoClient) wait(ctx context.Context) error {
	if d.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return &apperrors.TransportError{Op: "demo", Err: ctx.Err()}
	case <-timer.C:
		return nil
	}
}

func (d *DemoClient) FindByEmail(ctx context.Context, email string) (*Contact, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(email) == "" {
		return nil, apperrors.NewValidationError("email", "is required")
	}

	d.mu.RLock()
	stored, ok := d.contacts[strings.ToLower(email)]
	d.mu.RUnlock()
	if ok {
		return &stored, nil
	}

	return &Contact{
		ContactID:     DemoContactID(email),
		FirstName:     "John",
		LastName:      "Doe",
		Email:         email,
		Phone:         "+1 (555) 123-4567",
		AddressLine1:  "123 Demo Street",
		City:          "San Francisco",
		StateProvince: "California",
		PostalCode:    "94102",
		Country:       "United States",
	}, nil
}

func (d *DemoClient) Create(ctx context.Context, in ContactInput) (*Contact, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	if in.Email == nil || *in.Email == "" {
		return nil, apperrors.NewValidationError("emailaddress1", "is required")
	}

	contact := Contact{ContactID: DemoContactID(*in.Email)}
	contact.Apply(in)
	d.save(contact)

	log.Info().Str("contact_id", contact.ContactID).Msg("Demo Mode: New contact created")
	return &contact, nil
}

func (d *DemoClient) Update(ctx context.Context, id string, in ContactInput) (*Contact, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewValidationError("contactid", "is required")
	}

	contact := Contact{ContactID: id}
	if in.Email != nil {
		d.mu.RLock()
		if stored, ok := d.contacts[strings.ToLower(*in.Email)]; ok {
			contact = stored
		}
		d.mu.RUnlock()
	}
	contact.Apply(in)
	if contact.Email != "" {
		d.save(contact)
	}

	log.Info().Str("contact_id", id).Msg("Demo Mode: Contact updated")
	return &contact, nil
}

func (d *DemoClient) TestConnection(ctx context.Context) error {
	return d.wait(ctx)
}

func (d *DemoClient) save(c Contact) {
	d.mu.Lock()
	d.contacts[strings.ToLower(c.Email)] = c
	d.mu.Unlock()
}
