// Package profile joins a visitor session to the matching Dynamics contact.
package profile

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fuomag9/dynamics-sync-lite/internal/dynamics"
	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
	"github.com/fuomag9/dynamics-sync-lite/internal/session"
)

// Result is a contact as shown to the visitor. IsNew marks a shell that does not
// exist in Dynamics yet.
type Result struct {
	dynamics.Contact
	IsNew bool `json:"isNew"`
}

// Input is the profile form. Email is accepted for compatibility and always ignored.
type Input struct {
	FirstName  string `json:"firstname"`
	LastName   string `json:"lastname"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// IdentityLinker records which contact a signed-in email resolved to.
type IdentityLinker interface {
	LinkContact(ctx context.Context, email, contactID string) error
}

// Service loads and saves the visitor's own contact.
type Service struct {
	contacts dynamics.ContactAPI
	links    IdentityLinker
	now      func() time.Time
}

// NewService creates a Service. links may be nil.
func NewService(contacts dynamics.ContactAPI, links IdentityLinker) *Service {
	return &Service{contacts: contacts, links: links, now: time.Now}
}

func (s *Service) authenticated(sess *session.Session) error {
	if !sess.IsAuthenticated(s.now()) {
		return apperrors.ErrAuthRequired
	}
	return nil
}

// LoadProfile returns the session's contact, or a shell prefilled from the session
// when Dynamics has none.
func (s *Service) LoadProfile(ctx context.Context, sess *session.Session) (*Result, error) {
	if err := s.authenticated(sess); err != nil {
		return nil, err
	}

	contact, err := s.contacts.FindByEmail(ctx, sess.Email)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		log.Debug().Msg("Profile: No contact yet, returning default shell")
		return &Result{
			Contact: dynamics.Contact{
				FirstName: sess.FirstName,
				LastName:  sess.LastName,
				Email:     sess.Email,
			},
			IsNew: true,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	// The session email is authoritative even if Dynamics matched case-insensitively.
	contact.Email = sess.Email
	return &Result{Contact: *contact}, nil
}

// SaveProfile validates in, pins the email to the session and updates or creates the contact.
func (s *Service) SaveProfile(ctx context.Context, sess *session.Session, in Input) (*Result, error) {
	if err := s.authenticated(sess); err != nil {
		return nil, err
	}

	in = normalize(in)
	if in.FirstName == "" {
		return nil, apperrors.NewValidationError("firstname", "First name is required")
	}
	if in.LastName == "" {
		return nil, apperrors.NewValidationError("lastname", "Last name is required")
	}

	payload := dynamics.ContactInput{
		FirstName:     dynamics.String(in.FirstName),
		LastName:      dynamics.String(in.LastName),
		Email:         dynamics.String(sess.Email),
		Phone:         dynamics.String(in.Phone),
		AddressLine1:  dynamics.String(in.Address),
		City:          dynamics.String(in.City),
		StateProvince: dynamics.String(in.State),
		PostalCode:    dynamics.String(in.PostalCode),
		Country:       dynamics.String(in.Country),
	}

	existing, err := s.contacts.FindByEmail(ctx, sess.Email)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	var saved *dynamics.Contact
	if existing != nil {
		saved, err = s.contacts.Update(ctx, existing.ContactID, payload)
		if err == nil && saved.ContactID == "" {
			saved.ContactID = existing.ContactID
		}
	} else {
		saved, err = s.contacts.Create(ctx, payload)
	}
	if err != nil {
		return nil, err
	}

	result := dynamics.Contact{ContactID: saved.ContactID}
	result.Apply(payload)

	if s.links != nil && result.ContactID != "" {
		if err := s.links.LinkContact(ctx, sess.Email, result.ContactID); err != nil {
			log.Warn().Err(err).Str("contact_id", result.ContactID).Msg("Profile: Failed to record contact id")
		}
	}

	return &Result{Contact: result}, nil
}

func normalize(in Input) Input {
	trim := strings.TrimSpace
	return Input{
		FirstName:  trim(in.FirstName),
		LastName:   trim(in.LastName),
		Phone:      trim(in.Phone),
		Address:    trim(in.Address),
		City:       trim(in.City),
		State:      trim(in.State),
		PostalCode: trim(in.PostalCode),
		Country:    trim(in.Country),
	}
}
