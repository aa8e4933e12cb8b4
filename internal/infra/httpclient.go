package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// PostJSON sends body as JSON and decodes a JSON response into out when out
// is non-nil.
func PostJSON(url string, headers map[string]string, timeout time.Duration, body, out any) error {
	agent := fiber.Post(url)
	if timeout > 0 {
		agent.Timeout(timeout)
	}
	for k, v := range headers {
		agent.Set(k, v)
	}
	agent.JSON(body)

	if err := agent.Parse(); err != nil {
		return fmt.Errorf("prepare request: %w", err)
	}

	code, payload, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("post %s: %w", url, errors.Join(errs...))
	}
	if code < 200 || code >= 300 {
		return &StatusError{Code: code, Body: string(payload)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
