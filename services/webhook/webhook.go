// Package webhook provides the built-in webhook service: every fire POSTs a
// JSON payload to an HTTP endpoint. It is the reference implementation of
// both service capabilities — it runs on its own schedule and accepts
// standalone tasks whose params name the target.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/internal/httpclient"
	"github.com/cadenzahq/cadenza/registry"
)

// ServiceID is the registry id the webhook service is registered under.
const ServiceID = "webhook"

const requestTimeout = 15 * time.Second

// Service delivers JSON payloads to HTTP endpoints. The zero-cost service:
// it never records spend against its budget key.
type Service struct {
	url    string
	client *httpclient.Client
	log    *zap.SugaredLogger
}

// New creates a webhook service. url is the default target for scheduled
// fires; standalone tasks may override it per task. allowPrivate permits
// loopback/private-network targets.
func New(url string, allowPrivate bool, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		url:    url,
		client: httpclient.New(requestTimeout, httpclient.Options{AllowPrivate: allowPrivate}),
		log:    log,
	}
}

// Start delivers one scheduled-fire payload to the configured URL.
func (s *Service) Start(ctx context.Context) error {
	if s.url == "" {
		return errors.New("webhook service has no configured URL")
	}
	_, err := s.deliver(ctx, s.url, map[string]interface{}{"event": "scheduled_fire"})
	return err
}

func (s *Service) Pause(ctx context.Context) error  { return nil }
func (s *Service) Resume(ctx context.Context) error { return nil }
func (s *Service) Stop(ctx context.Context) error   { return nil }

// RunStandalone delivers one payload for a standalone task. params["url"]
// names the target (falling back to the service default); every other param
// is forwarded in the payload body.
func (s *Service) RunStandalone(ctx context.Context, params map[string]string, model string, budgetKey string) (*registry.RunRecord, error) {
	target := params["url"]
	if target == "" {
		target = s.url
	}
	if target == "" {
		return nil, errors.New("webhook task requires a 'url' param")
	}

	fields := map[string]interface{}{"event": "task_fire", "budget_key": budgetKey}
	for k, v := range params {
		if k == "url" {
			continue
		}
		fields[k] = v
	}

	status, err := s.deliver(ctx, target, fields)
	if err != nil {
		return nil, err
	}
	return &registry.RunRecord{Output: status}, nil
}

// deliver validates the target, POSTs the payload, and treats any non-2xx
// answer as a failed cycle.
func (s *Service) deliver(ctx context.Context, target string, fields map[string]interface{}) (string, error) {
	u, err := s.client.ValidateURL(target)
	if err != nil {
		return "", errors.Wrap(err, "webhook target rejected")
	}

	fields["source"] = "cadenza"
	fields["fired_at"] = time.Now().Format(time.RFC3339)
	body, err := json.Marshal(fields)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cadenza-webhook")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "webhook delivery to %s failed", u.Host)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.Newf("webhook endpoint answered %s", resp.Status)
	}

	s.log.Debugw("Webhook delivered", "target", u.Host, "status", resp.StatusCode)
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)), nil
}
