// Package webhook implements the generic webhook replication driver.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/base"
	"github.com/user/s3db-replicator/pkg/envelope"
)

var defaultRetryStatuses = map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}

// Config is the webhook driver's configuration.
type Config struct {
	Enabled          bool            `json:"enabled"`
	BatchConcurrency int             `json:"batchConcurrency"`
	URL              string          `json:"url"`
	AuthType         string          `json:"authType"` // "bearer" | "basic" | "apikey"
	AuthToken        string          `json:"authToken"`
	AuthUsername     string          `json:"authUsername"`
	AuthPassword     string          `json:"authPassword"`
	APIKeyHeader     string          `json:"apiKeyHeader"`
	RetryBackoff     string          `json:"retryBackoff"` // "fixed" | "exponential"
	MaxRetries       int             `json:"maxRetries"`
	RetryStatuses    []int           `json:"retryStatuses"`
	TimeoutSeconds   float64         `json:"timeoutSeconds"`
	BatchMode        bool            `json:"batchMode"`
	Resources        map[string]bool `json:"resources"`
}

func (c Config) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return 3
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds * float64(time.Second))
	}
	return 5 * time.Second
}

func (c Config) retryStatuses() map[int]bool {
	if len(c.RetryStatuses) == 0 {
		return defaultRetryStatuses
	}
	out := make(map[int]bool, len(c.RetryStatuses))
	for _, s := range c.RetryStatuses {
		out[s] = true
	}
	return out
}

// Driver is the webhook replicator.
type Driver struct {
	*base.Base
	cfg    Config
	client *retryablehttp.Client

	retriedRequestsMu sync.Mutex
	retriedRequests   int
}

// New constructs a webhook Driver.
func New(cfg Config, logger replicator.Logger) *Driver {
	common := base.CommonConfig{Enabled: cfg.Enabled, BatchConcurrency: cfg.BatchConcurrency}
	return &Driver{Base: base.New("webhook", common, logger), cfg: cfg}
}

func (d *Driver) ValidateConfig() replicator.ValidationResult {
	var errs []string
	if d.cfg.URL == "" {
		errs = append(errs, "url is required")
	}
	switch d.cfg.AuthType {
	case "", "bearer", "basic", "apikey":
	default:
		errs = append(errs, fmt.Sprintf("invalid authType %q", d.cfg.AuthType))
	}
	switch d.cfg.RetryBackoff {
	case "", "fixed", "exponential":
	default:
		errs = append(errs, fmt.Sprintf("invalid retryBackoff %q", d.cfg.RetryBackoff))
	}
	errs = append(errs, d.Config().Validate()...)
	return replicator.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func (d *Driver) Initialize(ctx context.Context, source replicator.SourceDB) error {
	d.SetState(replicator.StateInitializing)
	if vr := d.ValidateConfig(); !vr.Valid {
		d.SetState(replicator.StateFailed)
		return replicator.ConfigError("initialize", "", strings.Join(vr.Errors, "; "), fmt.Errorf("invalid configuration"))
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = d.cfg.maxRetries()
	client.HTTPClient.Timeout = d.cfg.timeout()
	if d.cfg.RetryBackoff == "fixed" {
		client.Backoff = func(wait, _ time.Duration, _ int, _ *http.Response) time.Duration {
			return wait
		}
	}
	statuses := d.cfg.retryStatuses()
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err != nil {
			return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		}
		if resp != nil && statuses[resp.StatusCode] {
			return true, nil
		}
		return false, nil
	}
	client.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		if attempt > 0 {
			d.retriedRequestsMu.Lock()
			d.retriedRequests++
			d.retriedRequestsMu.Unlock()
		}
	}
	d.client = client

	if err := d.probe(ctx); err != nil {
		d.SetState(replicator.StateFailed)
		return replicator.ConnectivityError("initialize", "", "verify the webhook URL is reachable", err)
	}

	d.SetState(replicator.StateReady)
	d.Emit("initialized", nil)
	return nil
}

// probe issues a HEAD request, falling back to GET on a 405 Method Not
// Allowed, per the connectivity-probe convention used elsewhere in this
// module.
func (d *Driver) probe(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, d.cfg.URL, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed {
		req2, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, d.cfg.URL, nil)
		if err != nil {
			return err
		}
		resp2, err := d.client.Do(req2)
		if err != nil {
			return err
		}
		defer resp2.Body.Close()
	}
	return nil
}

func (d *Driver) applyAuth(req *retryablehttp.Request) {
	switch d.cfg.AuthType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+d.cfg.AuthToken)
	case "basic":
		req.SetBasicAuth(d.cfg.AuthUsername, d.cfg.AuthPassword)
	case "apikey":
		header := d.cfg.APIKeyHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, d.cfg.AuthToken)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "s3db-webhook-replicator")
}

func (d *Driver) post(ctx context.Context, body []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	d.applyAuth(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (d *Driver) Replicate(ctx context.Context, resource string, op replicator.Operation, data map[string]any, id string, before map[string]any) (*replicator.ReplicateResult, error) {
	if err := d.RequireReady("replicate", resource); err != nil {
		return nil, err
	}
	if d.cfg.Resources != nil && !d.cfg.Resources[resource] {
		return &replicator.ReplicateResult{Skipped: true, Reason: "resource not configured for this webhook"}, nil
	}

	env := envelope.New(resource, string(op), data, before)
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	result := &replicator.ReplicateResult{Success: true}
	if err := d.post(ctx, body); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err)
		result.Results = append(result.Results, replicator.DestinationResult{Target: d.cfg.URL, Success: false, Err: err})
		d.Emit("replicator_error", map[string]any{"resource": resource})
		return result, nil
	}
	result.Tables = append(result.Tables, d.cfg.URL)
	result.Results = append(result.Results, replicator.DestinationResult{Target: d.cfg.URL, Success: true})
	d.Emit("replicated", map[string]any{"resource": resource})
	return result, nil
}

// ReplicateBatch sends one request with a {batch: [...]} body when batchMode
// is enabled; otherwise it dispatches individual requests concurrently.
func (d *Driver) ReplicateBatch(ctx context.Context, resource string, records []replicator.Record) (*replicator.BatchResult, error) {
	if err := d.RequireReady("replicateBatch", resource); err != nil {
		return nil, err
	}

	if d.cfg.BatchMode {
		envs := make([]envelope.Envelope, 0, len(records))
		for _, rec := range records {
			envs = append(envs, envelope.New(resource, string(rec.Operation), rec.Data, rec.Before))
		}
		body, err := json.Marshal(envelope.Batch{Batch: envs})
		if err != nil {
			return nil, fmt.Errorf("marshal batch envelope: %w", err)
		}
		out := &replicator.BatchResult{Total: len(records)}
		if err := d.post(ctx, body); err != nil {
			out.Errors = append(out.Errors, err)
			out.Success = false
			return out, nil
		}
		out.Success = true
		out.Successful = len(records)
		return out, nil
	}

	out := &replicator.BatchResult{Total: len(records)}
	results := make([]replicator.ReplicateResult, len(records))
	errs := make([]error, len(records))
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.Concurrency())
	for i, rec := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, rec replicator.Record) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := d.Replicate(ctx, resource, rec.Operation, rec.Data, rec.ID, rec.Before)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = *res
		}(i, rec)
	}
	wg.Wait()

	failed := false
	for i := range records {
		if errs[i] != nil {
			out.Errors = append(out.Errors, errs[i])
			failed = true
			continue
		}
		out.Results = append(out.Results, results[i])
		if results[i].Success {
			out.Successful++
		} else {
			failed = true
			out.Errors = append(out.Errors, results[i].Errors...)
		}
	}
	out.Success = !failed
	return out, nil
}

func (d *Driver) TestConnection(ctx context.Context) bool {
	if d.client == nil {
		return false
	}
	if err := d.probe(ctx); err != nil {
		d.Emit("connection_error", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

func (d *Driver) GetStatus() replicator.ReplicatorStatus {
	status := d.Status(d.client != nil, nil)
	status.Extra["url"] = d.cfg.URL
	d.retriedRequestsMu.Lock()
	status.Extra["retriedRequests"] = d.retriedRequests
	d.retriedRequestsMu.Unlock()
	return status
}

func (d *Driver) Cleanup(ctx context.Context) error {
	d.client = nil
	d.SetState(replicator.StateClosed)
	return nil
}

func (d *Driver) ShouldReplicateResource(resource string, op *replicator.Operation) bool {
	if d.cfg.Resources == nil {
		return true
	}
	return d.cfg.Resources[resource]
}

var _ replicator.Replicator = (*Driver)(nil)
