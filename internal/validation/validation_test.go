package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{
			name:    "valid email",
			email:   "test@example.com",
			wantErr: false,
		},
		{
			name:    "valid email with subdomain",
			email:   "user@mail.example.com",
			wantErr: false,
		},
		{
			name:    "valid email with plus",
			email:   "user+tag@example.com",
			wantErr: false,
		},
		{
			name:    "missing @",
			email:   "testexample.com",
			wantErr: true,
		},
		{
			name:    "missing domain",
			email:   "test@",
			wantErr: true,
		},
		{
			name:    "missing local part",
			email:   "@example.com",
			wantErr: true,
		},
		{
			name:    "empty string",
			email:   "",
			wantErr: true,
		},
		{
			name:    "spaces in email",
			email:   "test @example.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "valid name",
			input:   "John Doe",
			wantErr: false,
		},
		{
			name:    "single name",
			input:   "John",
			wantErr: false,
		},
		{
			name:    "empty name",
			input:   "",
			wantErr: true,
		},
		{
			name:    "name too short",
			input:   "J",
			wantErr: true,
		},
		{
			name:    "name with hyphen",
			input:   "Mary-Jane",
			wantErr: false,
		},
		{
			name:    "name with apostrophe",
			input:   "O'Brien",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "valid password",
			password: "password123",
			wantErr:  false,
		},
		{
			name:     "password exactly 8 characters",
			password: "pass1234",
			wantErr:  false,
		},
		{
			name:     "password too short",
			password: "pass123",
			wantErr:  true,
		},
		{
			name:     "empty password",
			password: "",
			wantErr:  true,
		},
		{
			name:     "long password",
			password: "thisIsAVeryLongPasswordThatShouldBeValid123",
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAnswerFields(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]string
		wantErr bool
	}{
		{name: "primary only", fields: map[string]string{"field1": "I will walk daily"}},
		{name: "primary and extra", fields: map[string]string{"field1": "a", "field2": ""}},
		{name: "empty map", fields: map[string]string{}, wantErr: true},
		{name: "blank primary", fields: map[string]string{"field1": "   "}, wantErr: true},
		{name: "missing primary", fields: map[string]string{"field2": "b"}, wantErr: true},
		{name: "unknown slot", fields: map[string]string{"field1": "a", "notes": "b"}, wantErr: true},
		{name: "too long", fields: map[string]string{"field1": strings.Repeat("あ", 4001)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAnswerFields(tt.fields)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAnswerFields() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ve ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("expected ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestValidateRevivalReason(t *testing.T) {
	if err := ValidateRevivalReason("too short", 20); err == nil {
		t.Error("expected error for short reason")
	}
	// 20 runes of multibyte text counts as 20, not 60 bytes
	if err := ValidateRevivalReason(strings.Repeat("頑", 20), 20); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateRevivalReason("   "+strings.Repeat("a", 19)+"   ", 20); err == nil {
		t.Error("surrounding whitespace must not count")
	}
}

func TestValidateSmallFields(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "brain type ok", err: ValidateBrainType("right_3d")},
		{name: "brain type bad", err: ValidateBrainType("left"), wantErr: true},
		{name: "day ok", err: ValidateDay(21)},
		{name: "day zero", err: ValidateDay(0), wantErr: true},
		{name: "day too large", err: ValidateDay(22), wantErr: true},
		{name: "days ok", err: ValidateDays([]int{1, 3, 21})},
		{name: "days bad", err: ValidateDays([]int{1, 30}), wantErr: true},
		{name: "log date ok", err: ValidateLogDate("2026-03-01")},
		{name: "log date bad", err: ValidateLogDate("2026-3-1"), wantErr: true},
		{name: "score ok", err: ValidateScore(10)},
		{name: "score bad", err: ValidateScore(11), wantErr: true},
		{name: "image ok", err: ValidateImageURL("https://cdn.example.com/v.png")},
		{name: "image relative", err: ValidateImageURL("/v.png"), wantErr: true},
		{name: "image scheme", err: ValidateImageURL("javascript:alert(1)"), wantErr: true},
		{name: "device ok", err: ValidateDeviceID("abc-123")},
		{name: "device empty", err: ValidateDeviceID(" "), wantErr: true},
		{name: "message ok", err: ValidateMessageText("hello")},
		{name: "message blank", err: ValidateMessageText("  "), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if (tt.err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", tt.err, tt.wantErr)
			}
		})
	}
}
