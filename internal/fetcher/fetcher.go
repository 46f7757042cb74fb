// Package fetcher loads recorded sensor data from remote services.
package fetcher

import (
	"encoding/json"
	"fmt"
	"strings"
)

type errorResponse struct {
	Status      int    `json:"status"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("nightscout api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("nightscout api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("nightscout api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("nightscout api error (%d)", status)
}
