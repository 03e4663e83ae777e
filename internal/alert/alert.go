// Package alert posts scaling notifications to an operator-configured
// webhook. Alert delivery is best effort: a failed post is logged and
// counted, never allowed to affect the evaluation outcome it reports.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

const service = "byteplus-alb-autoscaling"

// Notifier posts one JSON payload per scaling action. A nil Notifier is
// valid and sends nothing, so callers don't branch on configuration.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	now        func() time.Time
}

func NewNotifier(webhookURL string) *Notifier {
	if webhookURL == "" {
		return nil
	}
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

type payload struct {
	Timestamp string                      `json:"timestamp"`
	Service   string                      `json:"service"`
	Result    interfaces.EvaluationResult `json:"result"`
}

// Notify posts the evaluation result. Only results that changed (or would
// have changed, for dry runs) capacity are worth alerting on; the caller
// filters no-ops.
func (n *Notifier) Notify(ctx context.Context, result interfaces.EvaluationResult) error {
	if n == nil {
		return nil
	}
	log := logr.FromContextOrDiscard(ctx)

	body, err := json.Marshal(payload{
		Timestamp: n.now().UTC().Format(time.RFC3339),
		Service:   service,
		Result:    result,
	})
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	log.V(1).Info("alert sent", "policy", result.PolicyName, "action", result.Action)
	return nil
}
