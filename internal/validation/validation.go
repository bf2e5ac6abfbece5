package validation

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"duet/internal/constants"
	"duet/internal/errors"
	"duet/internal/models"
)

const maxSignalKindLength = 32

// ValidateIdentifier checks a user, session or item id supplied by a client.
func ValidateIdentifier(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.NewMissingFieldError(field)
	}

	if len(id) > constants.MaxIdentifierLength {
		return errors.NewValidationError(field, id,
			fmt.Sprintf("too long (max %d characters)", constants.MaxIdentifierLength))
	}

	if strings.ContainsFunc(id, unicode.IsControl) {
		return errors.NewValidationError(field, id, "contains invalid characters")
	}

	return nil
}

// ValidateUsername allows letters, digits, dots, dashes and underscores.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.NewMissingFieldError("username")
	}

	if utf8.RuneCountInString(username) > constants.MaxUsernameLength {
		return errors.NewValidationError("username", username,
			fmt.Sprintf("too long (max %d characters)", constants.MaxUsernameLength))
	}

	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != '.' {
			return errors.NewValidationError("username", username,
				"must contain only letters, numbers, dots, underscores, and dashes")
		}
	}

	return nil
}

// ValidateSignalKind requires a short printable tag. Kinds are not restricted to a fixed set.
func ValidateSignalKind(kind string) error {
	if kind == "" {
		return errors.NewMissingFieldError("signalType")
	}
	if len(kind) > maxSignalKindLength || strings.ContainsFunc(kind, unicode.IsControl) {
		return errors.NewValidationError("signalType", kind, "invalid signal type")
	}
	return nil
}

// ValidateSignalPayload checks presence and size; the payload itself is opaque.
func ValidateSignalPayload(payload string, maxKB int) error {
	if payload == "" {
		return errors.NewMissingFieldError("signalData")
	}
	if maxKB > 0 && len(payload) > maxKB*1024 {
		return errors.NewValidationError("signalData", "",
			fmt.Sprintf("too large (max %d KB)", maxKB))
	}
	return nil
}

// ValidateMessageContent rejects blank messages and those over maxLength runes.
func ValidateMessageContent(content string, maxLength int) error {
	if strings.TrimSpace(content) == "" {
		return errors.NewMissingFieldError("content")
	}
	if maxLength > 0 && utf8.RuneCountInString(content) > maxLength {
		return errors.NewValidationError("content", "",
			fmt.Sprintf("too long (max %d characters)", maxLength))
	}
	return nil
}

// ValidateDuration checks a call or recording length in seconds.
func ValidateDuration(field string, seconds int) error {
	return ValidateNumericRange(seconds, field, 0, constants.MaxCallDurationSec)
}

// ValidateTitle checks an item title.
func ValidateTitle(title string) error {
	return ValidateStringLength(title, "title", 0, constants.MaxTitleLength)
}

// ValidateDescription checks an item description.
func ValidateDescription(description string) error {
	return ValidateStringLength(description, "description", 0, constants.MaxDescriptionLength)
}

// ValidatePrice requires a finite, non-negative amount.
func ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return errors.NewValidationError("price", fmt.Sprint(price), "must be a number")
	}
	if price < 0 {
		return errors.NewValidationError("price", fmt.Sprint(price), "cannot be negative")
	}
	if price > constants.MaxPrice {
		return errors.NewValidationError("price", fmt.Sprint(price),
			fmt.Sprintf("too large (max %.0f)", constants.MaxPrice))
	}
	return nil
}

// ValidateCategoryTags limits the number and length of tags.
func ValidateCategoryTags(tags []string) error {
	if len(tags) > constants.MaxCategoryTags {
		return errors.NewValidationError("categoryTags", "",
			fmt.Sprintf("too many tags (max %d)", constants.MaxCategoryTags))
	}
	for _, tag := range tags {
		if strings.TrimSpace(tag) == "" {
			return errors.NewValidationError("categoryTags", tag, "tags cannot be empty")
		}
		if utf8.RuneCountInString(tag) > constants.MaxCategoryTagLength {
			return errors.NewValidationError("categoryTags", tag,
				fmt.Sprintf("tag too long (max %d characters)", constants.MaxCategoryTagLength))
		}
	}
	return nil
}

// ValidateItemPatch validates every metadata and status field a patch sets.
func ValidateItemPatch(patch models.PendingItemPatch) error {
	if patch.IsEmpty() {
		return errors.New(errors.ErrCodeInvalidInput, "no fields to update").
			WithUserMessage("Nothing to update")
	}
	if patch.Title != nil {
		if err := ValidateTitle(*patch.Title); err != nil {
			return err
		}
	}
	if patch.Description != nil {
		if err := ValidateDescription(*patch.Description); err != nil {
			return err
		}
	}
	if patch.Price != nil {
		if err := ValidatePrice(*patch.Price); err != nil {
			return err
		}
	}
	if patch.CategoryTags != nil {
		if err := ValidateCategoryTags(*patch.CategoryTags); err != nil {
			return err
		}
	}
	for field, status := range map[string]*models.ApprovalStatus{
		"user1_status": patch.User1Status,
		"user2_status": patch.User2Status,
	} {
		if status != nil && !status.Valid() {
			return errors.NewValidationError(field, string(*status), "must be pending, approved, or rejected")
		}
	}
	return nil
}

// ValidateEditProposal checks the field name and the proposed value for that field.
func ValidateEditProposal(field, value string) error {
	if !models.IsEditField(field) {
		return errors.NewValidationError("field", field, "must be title, description, or price")
	}
	switch field {
	case models.EditFieldTitle:
		return ValidateTitle(value)
	case models.EditFieldDescription:
		return ValidateDescription(value)
	case models.EditFieldPrice:
		price, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errors.NewValidationError("newValue", value, "price must be a number")
		}
		return ValidatePrice(price)
	}
	return nil
}

// ValidateRecordingExtension checks the upload container against the allowed list.
func ValidateRecordingExtension(ext string, allowed []string) error {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return nil
		}
	}
	return errors.NewValidationError("file", ext, fmt.Sprintf("unsupported recording type: %s", ext))
}

// ValidateRecordingSize validates an upload against the configured limit.
func ValidateRecordingSize(sizeBytes int64, maxSizeMB int) error {
	if sizeBytes <= 0 {
		return errors.New(errors.ErrCodeInvalidInput, "recording file is empty")
	}

	maxSizeBytes := int64(maxSizeMB) * constants.BytesPerMegabyte
	if maxSizeMB > 0 && sizeBytes > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("recording too large: %d bytes (max %d MB)", sizeBytes, maxSizeMB))
	}

	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	n := utf8.RuneCountInString(value)
	if n < minLength {
		return errors.NewValidationError(fieldName, value,
			fmt.Sprintf("too short (min %d characters)", minLength))
	}

	if n > maxLength {
		return errors.NewValidationError(fieldName, "",
			fmt.Sprintf("too long (max %d characters)", maxLength))
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.NewValidationError(fieldName, strconv.Itoa(value),
			fmt.Sprintf("too small (min %d)", min))
	}

	if value > max {
		return errors.NewValidationError(fieldName, strconv.Itoa(value),
			fmt.Sprintf("too large (max %d)", max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	return ValidateNumericRange(timeoutSec, fieldName, 1, 3600)
}

// ValidateRetentionDays validates data retention period
func ValidateRetentionDays(days int) error {
	return ValidateNumericRange(days, "retentionDays", 1, 3650)
}
