package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5551234567", "+5551234567"},
		{"+1 (555) 123-4567", "+15551234567"},
		{"++44 20", "+4420"},
		{"", ""},
		{"abc", ""},
		{"٣٤٥", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.in))
		})
	}
}

func TestValidatePhone(t *testing.T) {
	assert.Equal(t, MsgPhoneRequired, ValidatePhone(""))
	assert.Equal(t, MsgPhoneInvalid, ValidatePhone("+123"))
	assert.Equal(t, MsgPhoneInvalid, ValidatePhone("+1234567890123456"))
	assert.Empty(t, ValidatePhone("+5551234567"))
	assert.Empty(t, ValidatePhone("5551234567"))
	assert.Empty(t, ValidatePhone("+123456789012345"))
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"phone": "b", "code": "a"}}
	assert.Equal(t, "validation failed: code: a; phone: b", err.Error())
}
