// Stable error codes returned in ErrorResponse.Code. Clients branch on these,
// never on the message.
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "out_of_stock",
//	  "message": "no units left; refill before confirming"
//	}

package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeValidation       = "validation_failed"

	// Dose engine:
	ErrCodeOutOfStock        = "out_of_stock"
	ErrCodeDuplicateDose     = "duplicate_dose"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeNotTracked        = "stock_not_tracked"
	ErrCodePermissionDenied  = "permission_denied"
	ErrCodeKeyMismatch       = "idempotency_key_mismatch"
)
