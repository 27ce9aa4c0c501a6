// Package record defines the Record data model shared by the dispatcher,
// the worker loop, and the record store.
package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/recordstream/errors"
)

// Record is a single stored entity. ID is immutable once assigned. Version is
// maintained by the store and used by CompareAndPut to detect concurrent
// updates; callers never set it directly.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Age       int       `json:"age"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// CreateRequest carries the fields for a new record
type CreateRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int    `json:"age"`
}

// UpdateRequest carries a partial update; nil fields are left unchanged
type UpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Age   *int    `json:"age,omitempty"`
}

// Validate checks a create request before any side effect occurs
func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.WrapInvalid(errors.ErrValidation, "CreateRequest", "Validate", "name is empty")
	}
	if strings.TrimSpace(r.Email) == "" {
		return errors.WrapInvalid(errors.ErrValidation, "CreateRequest", "Validate", "email is empty")
	}
	if !strings.Contains(r.Email, "@") {
		return errors.WrapInvalid(errors.ErrValidation, "CreateRequest", "Validate",
			fmt.Sprintf("invalid email format: %q", r.Email))
	}
	if r.Age < 0 || r.Age > 150 {
		return errors.WrapInvalid(errors.ErrValidation, "CreateRequest", "Validate",
			fmt.Sprintf("age out of range: %d", r.Age))
	}
	return nil
}

// Validate checks an update request. An update with no fields set is rejected
// so a no-op never reaches the store.
func (r UpdateRequest) Validate() error {
	if r.Name == nil && r.Email == nil && r.Age == nil {
		return errors.WrapInvalid(errors.ErrValidation, "UpdateRequest", "Validate", "no fields to update")
	}
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return errors.WrapInvalid(errors.ErrValidation, "UpdateRequest", "Validate", "name is empty")
	}
	if r.Email != nil {
		if strings.TrimSpace(*r.Email) == "" {
			return errors.WrapInvalid(errors.ErrValidation, "UpdateRequest", "Validate", "email is empty")
		}
		if !strings.Contains(*r.Email, "@") {
			return errors.WrapInvalid(errors.ErrValidation, "UpdateRequest", "Validate",
				fmt.Sprintf("invalid email format: %q", *r.Email))
		}
	}
	if r.Age != nil && (*r.Age < 0 || *r.Age > 150) {
		return errors.WrapInvalid(errors.ErrValidation, "UpdateRequest", "Validate",
			fmt.Sprintf("age out of range: %d", *r.Age))
	}
	return nil
}

// New builds a Record from a validated create request. When id is empty a new
// uuid is assigned. Emails are stored lowercased.
func New(id string, req CreateRequest, now time.Time) Record {
	if id == "" {
		id = uuid.New().String()
	}
	return Record{
		ID:        id,
		Name:      req.Name,
		Email:     strings.ToLower(req.Email),
		Age:       req.Age,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply returns a copy of rec with the update request applied
func (r UpdateRequest) Apply(rec Record, now time.Time) Record {
	if r.Name != nil {
		rec.Name = *r.Name
	}
	if r.Email != nil {
		rec.Email = strings.ToLower(*r.Email)
	}
	if r.Age != nil {
		rec.Age = *r.Age
	}
	rec.UpdatedAt = now
	return rec
}
