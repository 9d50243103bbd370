package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// postJSON sends payload to url and fails on any non-2xx status, including a
// bounded slice of the response body in the error.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// eventTag is the short prefix channels show before the title.
func eventTag(e Event) string {
	switch e {
	case EventEntry:
		return "[ENTRY]"
	case EventExit:
		return "[EXIT]"
	case EventStopMoved:
		return "[STOP]"
	case EventSignal:
		return "[SIGNAL]"
	case EventRiskBlock:
		return "[BLOCKED]"
	case EventError:
		return "[ERROR]"
	default:
		return "[INFO]"
	}
}
