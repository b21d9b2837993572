package errs

import "net/http"

// HTTPStatus maps an error to the response status the API layer should use.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict, KindDoubleBooking:
		return http.StatusConflict
	case KindLocked:
		return http.StatusLocked
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Payload renders the structured detail for an error response body.
func Payload(err error) map[string]interface{} {
	body := map[string]interface{}{"error": err.Error()}
	e, ok := AsError(err)
	if !ok {
		return body
	}
	body["kind"] = string(e.Kind)
	if len(e.Fields) > 0 {
		body["fields"] = e.Fields
	}
	if e.Slot != nil {
		body["slot"] = e.Slot
	}
	if e.Kind == KindLocked && e.Resource != "" {
		body["resource"] = e.Resource
		body["status"] = e.Status
	}
	return body
}
