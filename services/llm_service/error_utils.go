package llm_service

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/studora/ragpipe/provider"
)

// apiErrorBody matches the error envelope most completion APIs return.
type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// classifyHTTPResponse maps a non-2xx completion response onto the provider
// error taxonomy. 429 carries the Retry-After hint when the vendor sends one.
func classifyHTTPResponse(name string, resp *http.Response) error {
	message := "request failed"
	if body, err := io.ReadAll(resp.Body); err == nil {
		var parsed apiErrorBody
		if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
			message = parsed.Error.Message
		} else if len(body) > 0 {
			message = string(body)
		}
	}

	kind := provider.KindUnavailable
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		kind = provider.KindRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = provider.KindAuth
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		kind = provider.KindInvalidInput
	}

	perr := provider.NewError(name, kind, resp.StatusCode, message)
	perr.RetryAfter = provider.RetryAfterFromResponse(resp)
	return perr
}
