package patient

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yago-healz/clinic-core/internal/aggregate"
	"github.com/yago-healz/clinic-core/internal/event"
)

// AggregateType tags every event in a patient stream.
const AggregateType event.AggregateType = "patient"

var (
	ErrEmptyName          = errors.New("patient name is required")
	ErrNoContactInfo      = errors.New("at least one of email or phone is required")
	ErrAlreadyDeactivated = errors.New("patient is already deactivated")
	ErrNotDeactivated     = errors.New("patient is not deactivated")
)

// Patient is the in-memory projection of one patient stream.
type Patient struct {
	aggregate.Root

	FirstName   string
	LastName    string
	Email       string
	Phone       string
	DateOfBirth string
	Active      bool
}

// New returns an empty aggregate for the replay path.
func New(id string) *Patient {
	return &Patient{Root: aggregate.Root{ID: id}}
}

// RegisterInput describes a new patient record.
type RegisterInput struct {
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	DateOfBirth string
}

// Register creates a patient, emitting the stream's first event.
func Register(id string, input RegisterInput, meta event.Meta) (*Patient, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	if input.FirstName == "" || input.LastName == "" {
		return nil, ErrEmptyName
	}
	if input.Email == "" && input.Phone == "" {
		return nil, ErrNoContactInfo
	}

	p := New(id)
	err := p.Record(p, AggregateType, Registered{
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Email:        input.Email,
		Phone:        input.Phone,
		DateOfBirth:  input.DateOfBirth,
		RegisteredAt: time.Now().UTC(),
	}, meta)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateContact replaces the patient's reachable addresses.
func (p *Patient) UpdateContact(email, phone string, meta event.Meta) error {
	if email == "" && phone == "" {
		return ErrNoContactInfo
	}
	return p.Record(p, AggregateType, ContactUpdated{Email: email, Phone: phone}, meta)
}

// Deactivate marks the record inactive. The stream stays; there is no delete.
func (p *Patient) Deactivate(reason string, meta event.Meta) error {
	if !p.Active {
		return ErrAlreadyDeactivated
	}
	return p.Record(p, AggregateType, Deactivated{
		Reason:        reason,
		DeactivatedAt: time.Now().UTC(),
	}, meta)
}

// Reactivate restores a deactivated record.
func (p *Patient) Reactivate(meta event.Meta) error {
	if p.Active {
		return ErrNotDeactivated
	}
	return p.Record(p, AggregateType, Reactivated{ReactivatedAt: time.Now().UTC()}, meta)
}

// Apply mutates the aggregate from one event.
func (p *Patient) Apply(e event.Event) error {
	switch ev := e.Payload.(type) {
	case Registered:
		p.ID = e.AggregateID
		p.TenantID = e.TenantID
		p.ClinicID = e.ClinicID
		p.FirstName = ev.FirstName
		p.LastName = ev.LastName
		p.Email = ev.Email
		p.Phone = ev.Phone
		p.DateOfBirth = ev.DateOfBirth
		p.Active = true
	case ContactUpdated:
		p.Email = ev.Email
		p.Phone = ev.Phone
	case Deactivated:
		p.Active = false
	case Reactivated:
		p.Active = true
	default:
		return fmt.Errorf("unknown event type for Patient: %s", e.Type)
	}
	return nil
}

// Rehydrate rebuilds the aggregate from a persisted stream.
func (p *Patient) Rehydrate(history []event.Event) error {
	for i := range history {
		if history[i].Payload == nil {
			payload, err := decodePayload(history[i].Type, history[i].Data)
			if err != nil {
				return err
			}
			history[i].Payload = payload
		}
	}
	return p.Load(p, history)
}
