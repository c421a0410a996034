package leadveil

import "errors"

// ErrInvalidInput is returned when a request parameter fails validation.
var ErrInvalidInput = errors.New("leadveil: invalid input")

// ErrNotConfigured is returned when a required configuration value is missing.
var ErrNotConfigured = errors.New("leadveil: not configured")

// ErrSchemaMismatch is returned when the lock tab header does not match a
// known schema, or a legacy v1 schema is used with multiple lead tabs.
var ErrSchemaMismatch = errors.New("leadveil: lock tab schema mismatch")

// ErrPhoneColumnMissing is returned when a lead tab has no column whose
// header equals the configured phone label.
var ErrPhoneColumnMissing = errors.New("leadveil: phone column not found")
