package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// APIError represents the error body returned by every endpoint
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Error codes returned in APIError.Code
const (
	ErrorCodeInternalServerError = "INTERNAL_SERVER_ERROR"
	ErrorCodeInvalidJSON         = "INVALID_JSON"
	ErrorCodeValidation          = "VALIDATION_ERROR"
	ErrorCodeValueOutOfRange     = "VALUE_OUT_OF_RANGE"
	ErrorCodeInvalidEnumValue    = "INVALID_ENUM_VALUE"
	ErrorCodeNotFound            = "NOT_FOUND"
	ErrorCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrorCodeConflict            = "CONFLICT_ERROR"
	ErrorCodeRemoteCommitFailed  = "REMOTE_COMMIT_FAILED"
	ErrorCodeSessionInitFailed   = "SESSION_INIT_FAILED"
	ErrorCodeSubmissionFailed    = "SUBMISSION_FAILED"
	ErrorCodeSourceUnavailable   = "SOURCE_UNAVAILABLE"
)

// StartSessionRequest selects a flight and date
type StartSessionRequest struct {
	FlightNumber string `json:"flight_number" binding:"required"`
	FlightDate   string `json:"flight_date" binding:"required"`
}

// RowRequest addresses one row of the probability table
type RowRequest struct {
	Category string `json:"category" binding:"required"`
	MealTime string `json:"meal_time" binding:"required"`
	Index    *int   `json:"index" binding:"required"`
}

// EditCellRequest changes one protein percentage in a row; Value is the raw operator input
type EditCellRequest struct {
	RowRequest
	Protein string       `json:"protein" binding:"required"`
	Value   PercentInput `json:"value"`
}

// PercentInput is a percentage as typed by the operator. It accepts a JSON string
// such as "30" or "" as well as a bare number such as 30 or 12.5.
type PercentInput string

// UnmarshalJSON keeps the literal text of numbers and the content of strings
func (p *PercentInput) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*p = ""
		return nil
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PercentInput(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("value must be a number or a string: %w", err)
	}
	*p = PercentInput(n.String())
	return nil
}
