package gotrue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-authstate"
)

// apiError covers both error layouts served by GoTrue: the OAuth one
// ({"error","error_description"}) and the newer ({"code","error_code","msg"}).
type apiError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Code        any    `json:"code"`
	ErrorCode   string `json:"error_code"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
}

func parseAPIError(body []byte) (string, string) {
	var payload apiError
	if err := json.Unmarshal(body, &payload); err == nil {
		code := firstNonEmpty(payload.ErrorCode, payload.Error)
		if code == "" {
			if c, ok := payload.Code.(string); ok {
				code = c
			}
		}
		desc := firstNonEmpty(payload.Description, payload.Msg, payload.Message)
		if code != "" || desc != "" {
			return code, desc
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = "gotrue request failed"
	}
	return "", msg
}

// providerError maps a failed response onto the authstate taxonomy. Known
// credential and registration failures return the authstate sentinels,
// everything else wraps ErrProviderRequest with the response details.
func providerError(operation string, status int, code, description string, err error) error {
	switch {
	case isInvalidCredentials(status, code, description):
		return authstate.ErrInvalidCredentials
	case isAlreadyRegistered(code, description):
		return authstate.ErrEmailRegistered
	}

	meta := map[string]any{
		"provider":  "gotrue",
		"operation": operation,
	}
	if status != 0 {
		meta["status"] = status
	}
	if code != "" {
		meta["code"] = code
	}
	if err != nil {
		meta["error"] = err.Error()
	}

	message := description
	if message == "" && code != "" {
		message = fmt.Sprintf("gotrue %s failed: %s", operation, code)
	}
	return authstate.ProviderError(message, err, meta)
}

func isInvalidCredentials(status int, code, description string) bool {
	switch code {
	case "invalid_credentials":
		return true
	case "invalid_grant":
		return strings.Contains(strings.ToLower(description), "invalid login credentials") ||
			status == 400 && description == ""
	}
	return strings.EqualFold(description, "invalid login credentials")
}

func isAlreadyRegistered(code, description string) bool {
	switch code {
	case "user_already_exists", "email_exists":
		return true
	}
	return strings.Contains(strings.ToLower(description), "already registered")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
