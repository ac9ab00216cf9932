package httpwriter

import "fmt"

// Reason is one of the error taxonomy values a master's HTTP façade
// returns in a 400 body (spec §4.10).
type Reason string

const (
	ReasonTableAlreadyExists   Reason = "TableAlreadyExists"
	ReasonTableNotFound        Reason = "TableNotFound"
	ReasonRecordAlreadyExists  Reason = "RecordAlreadyExists"
	ReasonRequiredFieldMissing Reason = "RequiredEntityFieldIsMissing"
	ReasonJSONParseFail        Reason = "JsonParseFail"
)

// APIError is the decoded {reason, message} body of a 400 response.
type APIError struct {
	StatusCode int    `json:"-"`
	ReasonCode Reason `json:"reason"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("httpwriter: %s (%s): %s", e.ReasonCode, httpStatusName(e.StatusCode), e.Message)
}

// ErrNotFound is returned in place of an APIError for responses the
// spec maps to "not found" rather than a typed 400: a bare 404, or a
// 409 on a table operation.
var ErrNotFound = fmt.Errorf("httpwriter: not found")

func httpStatusName(code int) string {
	if code == 0 {
		return "unknown"
	}
	return fmt.Sprintf("status %d", code)
}
