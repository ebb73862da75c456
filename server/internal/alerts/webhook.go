package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	deliveryTimeout = 10 * time.Second
	userAgent       = "pagescore-server"
)

// payloadFunc renders the request body for one webhook type.
type payloadFunc func(a *Alert) ([]byte, error)

var payloads = map[string]payloadFunc{
	"slack": slackPayload,
	"http":  httpPayload,
}

// deliver posts a to every configured webhook. Failures are logged and
// counted per webhook type; they never reach the caller of Evaluate.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		target := wh.URL()
		if target == "" {
			continue
		}
		render, ok := payloads[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		body, err := render(a)
		if err == nil {
			err = e.post(target, body)
		}
		if err != nil {
			e.metrics.WebhookErrors.WithLabelValues(wh.Type).Inc()
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "url", a.URL, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "state", a.State)
	}
}

// slackPayload formats a as an incoming-webhook message. Firing alerts lead
// with the severity tag; resolutions name the rule and page.
func slackPayload(a *Alert) ([]byte, error) {
	var text strings.Builder
	if a.State == StateResolved {
		fmt.Fprintf(&text, "*[RESOLVED]* %s on %s", a.RuleName, a.URL)
		if a.ResolvedAt != nil {
			fmt.Fprintf(&text, " after %s", a.ResolvedAt.Sub(a.FiredAt).Round(time.Second))
		}
	} else {
		fmt.Fprintf(&text, "*%s* %s", severityTag(a.Severity), a.Message)
		if a.ReportID != "" {
			fmt.Fprintf(&text, "\nreport `%s`", a.ReportID)
		}
	}
	return json.Marshal(map[string]string{"text": text.String()})
}

// httpPayload wraps the alert as-is for generic receivers.
func httpPayload(a *Alert) ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
		Alert *Alert `json:"alert"`
	}{Event: "alert." + a.State, Alert: a})
}

func (e *Engine) post(target string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("receiver answered %s", resp.Status)
	}
	return nil
}

func severityTag(s string) string {
	switch s {
	case "critical", "warning":
		return "[" + strings.ToUpper(s) + "]"
	default:
		return "[INFO]"
	}
}
