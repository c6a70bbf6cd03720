package accounts

import (
	"fmt"

	"github.com/samber/oops"
)

// Error codes carried by every error the service returns.
const (
	CodeValidation         = "VALIDATION"
	CodeDuplicateUsername  = "DUPLICATE_USERNAME"
	CodeDuplicateEmail     = "DUPLICATE_EMAIL"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeAccountDisabled    = "ACCOUNT_DISABLED"
	CodeNotFound           = "NOT_FOUND"
	CodeStorage            = "STORAGE"
	CodeInternal           = "INTERNAL"
)

// User-facing messages for codes that never carry their own.
const (
	MsgInvalidCredentials = "Invalid username or password."
	MsgAccountLocked      = "Account temporarily locked due to too many failed login attempts. Please try again later."
	MsgAccountDisabled    = "Account is disabled."
	MsgStorage            = "Database error occurred."
	MsgInternal           = "Something went wrong. Please try again."
)

// Reasons recorded on INVALID_CREDENTIALS errors. They feed the audit trail
// and are never shown to the caller.
const (
	ReasonMissingInput  = "missing input"
	ReasonUserNotFound  = "user not found"
	ReasonWrongPassword = "wrong password"
	ReasonUnusableHash  = "unusable password hash"
)

// oops context keys.
const (
	publicKey = "public" // message safe to show the caller
	reasonKey = "reason"
	userIDKey = "user_id"
)

// Code returns the error code of err, or "" when err was not produced by this package.
func Code(err error) string {
	if err == nil {
		return ""
	}
	o, ok := oops.AsOops(err)
	if !ok || o.Code() == nil {
		return ""
	}
	return fmt.Sprint(o.Code())
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return Code(err) == code
}

// PublicMessage returns the message to render for err. Storage and internal
// failures always collapse to a generic message so no driver detail leaks.
func PublicMessage(err error) string {
	switch Code(err) {
	case CodeInvalidCredentials:
		return MsgInvalidCredentials
	case CodeAccountLocked:
		return MsgAccountLocked
	case CodeAccountDisabled:
		return MsgAccountDisabled
	case CodeStorage:
		return MsgStorage
	case CodeValidation, CodeDuplicateUsername, CodeDuplicateEmail, CodeNotFound:
		if o, ok := oops.AsOops(err); ok {
			if msg, ok := o.Context()[publicKey].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return MsgInternal
}

// Reason returns the failure reason recorded on err, if any.
func Reason(err error) string {
	return contextString(err, reasonKey)
}

// UserID returns the hex id of the user err concerns, or "" when no user
// record was involved.
func UserID(err error) string {
	return contextString(err, userIDKey)
}

func contextString(err error, key string) string {
	o, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	v, _ := o.Context()[key].(string)
	return v
}

func validation(msg string) error {
	return oops.Code(CodeValidation).With(publicKey, msg).Errorf("validation failed: %s", msg)
}

func invalidCredentials(username, userID, reason string) error {
	b := oops.Code(CodeInvalidCredentials).With("username", username).With(reasonKey, reason)
	if userID != "" {
		b = b.With(userIDKey, userID)
	}
	return b.Errorf("invalid username or password")
}

// Storage marks err, from a store call made on the service's behalf outside
// it, as a STORAGE failure of op.
func Storage(op string, err error) error {
	return storage(op, err)
}

func storage(op string, err error) error {
	return oops.Code(CodeStorage).With("operation", op).Wrap(err)
}
