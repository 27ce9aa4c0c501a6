package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/recordstream/errors"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestCreateRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateRequest
		wantErr bool
	}{
		{"valid", CreateRequest{Name: "Ada", Email: "ada@example.com", Age: 36}, false},
		{"empty name", CreateRequest{Name: "  ", Email: "ada@example.com", Age: 36}, true},
		{"empty email", CreateRequest{Name: "Ada", Email: "", Age: 36}, true},
		{"email without at", CreateRequest{Name: "Ada", Email: "ada.example.com", Age: 36}, true},
		{"negative age", CreateRequest{Name: "Ada", Email: "ada@example.com", Age: -1}, true},
		{"absurd age", CreateRequest{Name: "Ada", Email: "ada@example.com", Age: 200}, true},
		{"zero age allowed", CreateRequest{Name: "Kid", Email: "kid@example.com", Age: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpdateRequestValidate(t *testing.T) {
	assert.Error(t, UpdateRequest{}.Validate())
	assert.Error(t, UpdateRequest{Email: strPtr("no-at-sign")}.Validate())
	assert.Error(t, UpdateRequest{Age: intPtr(-3)}.Validate())
	assert.NoError(t, UpdateRequest{Name: strPtr("Grace")}.Validate())
}

func TestNewAssignsIDAndLowercasesEmail(t *testing.T) {
	now := time.Now()
	rec := New("", CreateRequest{Name: "Ada", Email: "Ada@Example.COM", Age: 36}, now)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "ada@example.com", rec.Email)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Equal(t, int64(0), rec.Version)

	rec2 := New("fixed-id", CreateRequest{Name: "Ada", Email: "a@b.c", Age: 1}, now)
	assert.Equal(t, "fixed-id", rec2.ID)
}

func TestUpdateRequestApply(t *testing.T) {
	created := time.Now().Add(-time.Hour)
	now := time.Now()
	rec := Record{ID: "x", Name: "Ada", Email: "ada@example.com", Age: 36, CreatedAt: created, UpdatedAt: created}

	out := UpdateRequest{Email: strPtr("New@Example.com"), Age: intPtr(37)}.Apply(rec, now)
	assert.Equal(t, "Ada", out.Name)
	assert.Equal(t, "new@example.com", out.Email)
	assert.Equal(t, 37, out.Age)
	assert.Equal(t, created, out.CreatedAt)
	assert.Equal(t, now, out.UpdatedAt)

	// Original is untouched
	assert.Equal(t, 36, rec.Age)
}
