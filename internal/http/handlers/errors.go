// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Every error response carries one of these codes next to the HTTP status so
// clients (the bounty board web app, operator scripts) can branch on them
// without parsing messages. Codes are lowercase snake_case.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "validation_failed",
//	  "message": "Only the creator can publish this bounty."
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Bounty lifecycle:
	ErrCodeValidationFailed   = "validation_failed"
	ErrCodeTimeout            = "timeout"
	ErrCodeCancelled          = "cancelled"
	ErrCodeUnknownActivity    = "unknown_activity"
	ErrCodeNotificationFailed = "notification_failed"
	ErrCodeListFailed         = "list_failed"
)
