package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"coach21/internal/models"
)

const (
	// MaxProgramDay is the last day of the program
	MaxProgramDay = 21

	maxAnswerRunes  = 4000
	maxMessageRunes = 5000 // LINE text message limit
	maxDeviceID     = 128
	maxFieldsPerDay = 10
)

var (
	emailRegex     = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	fieldSlotRegex = regexp.MustCompile(`^field[1-9][0-9]?$`)
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateEmail checks if an email address is valid
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ValidationError{Field: "email", Message: "email is required"}
	}
	if !emailRegex.MatchString(email) {
		return ValidationError{Field: "email", Message: "invalid email format"}
	}
	return nil
}

// ValidatePassword checks if a password meets requirements
func ValidatePassword(password string) error {
	if password == "" {
		return ValidationError{Field: "password", Message: "password is required"}
	}
	if len(password) < 8 {
		return ValidationError{Field: "password", Message: "password must be at least 8 characters"}
	}
	if len(password) > 72 {
		return ValidationError{Field: "password", Message: "password must be at most 72 bytes"}
	}
	return nil
}

// ValidateName checks if an admin display name is valid
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ValidationError{Field: "name", Message: "name is required"}
	}
	if utf8.RuneCountInString(name) < 2 {
		return ValidationError{Field: "name", Message: "name must be at least 2 characters"}
	}
	return nil
}

func ValidateDeviceID(deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ValidationError{Field: "device_id", Message: "device_id is required"}
	}
	if len(deviceID) > maxDeviceID {
		return ValidationError{Field: "device_id", Message: "device_id is too long"}
	}
	return nil
}

func ValidateBrainType(bt string) error {
	if !models.BrainType(bt).Valid() {
		return ValidationError{Field: "brain_type", Message: "must be one of left_2d, left_3d, right_2d, right_3d"}
	}
	return nil
}

// ValidateDay checks that day is within the program
func ValidateDay(day int) error {
	if day < 1 || day > MaxProgramDay {
		return ValidationError{Field: "day", Message: fmt.Sprintf("day must be between 1 and %d", MaxProgramDay)}
	}
	return nil
}

// ValidateDays checks every entry of an admin-supplied day list
func ValidateDays(days []int) error {
	for _, d := range days {
		if err := ValidateDay(d); err != nil {
			return ValidationError{Field: "days", Message: fmt.Sprintf("invalid day %d", d)}
		}
	}
	return nil
}

// ValidateAnswerFields checks a day submission: slot names must look like
// field1..field99 and the primary slot must be non-blank.
func ValidateAnswerFields(fields map[string]string) error {
	if len(fields) == 0 {
		return ValidationError{Field: "fields", Message: "at least one answer is required"}
	}
	if len(fields) > maxFieldsPerDay {
		return ValidationError{Field: "fields", Message: "too many answers"}
	}
	for slot, v := range fields {
		if !fieldSlotRegex.MatchString(slot) {
			return ValidationError{Field: "fields", Message: fmt.Sprintf("unknown answer slot %q", slot)}
		}
		if utf8.RuneCountInString(v) > maxAnswerRunes {
			return ValidationError{Field: slot, Message: "answer is too long"}
		}
	}
	if strings.TrimSpace(fields[models.PrimaryField]) == "" {
		return ValidationError{Field: models.PrimaryField, Message: "the main answer must not be empty"}
	}
	return nil
}

// ValidateLogDate checks a YYYY-MM-DD daily log key
func ValidateLogDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return ValidationError{Field: "date", Message: "date must be YYYY-MM-DD"}
	}
	return nil
}

func ValidateScore(score int) error {
	if score < 0 || score > 10 {
		return ValidationError{Field: "score", Message: "score must be between 0 and 10"}
	}
	return nil
}

// ValidateImageURL accepts absolute http(s) URLs only
func ValidateImageURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return ValidationError{Field: "url", Message: "must be an absolute http(s) URL"}
	}
	return nil
}

// ValidateRevivalReason requires at least minRunes characters of explanation
func ValidateRevivalReason(reason string, minRunes int) error {
	n := utf8.RuneCountInString(strings.TrimSpace(reason))
	if n < minRunes {
		return ValidationError{Field: "reason", Message: fmt.Sprintf("reason must be at least %d characters", minRunes)}
	}
	if n > maxAnswerRunes {
		return ValidationError{Field: "reason", Message: "reason is too long"}
	}
	return nil
}

func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ValidationError{Field: "text", Message: "message is required"}
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return ValidationError{Field: "text", Message: "message is too long"}
	}
	return nil
}
