// Package sqs implements the SQS message-bus replication driver.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	replicator "github.com/user/s3db-replicator"
	"github.com/user/s3db-replicator/pkg/base"
	"github.com/user/s3db-replicator/pkg/envelope"
)

const maxBatchEntries = 10

// Config is the SQS driver's configuration.
type Config struct {
	Enabled          bool              `json:"enabled"`
	BatchConcurrency int               `json:"batchConcurrency"`
	Region           string            `json:"region"`
	AccessKey        string            `json:"accessKey"`
	SecretKey        string            `json:"secretKey"`
	QueueURL         string            `json:"queueUrl"`
	DefaultQueue     string            `json:"defaultQueue"`
	ResourceQueueMap map[string]string `json:"resourceQueueMap"`
	DeduplicationID  bool              `json:"deduplicationId"`
	MessageGroupID   string            `json:"messageGroupId"`
}

// Driver is the SQS replicator.
type Driver struct {
	*base.Base
	cfg    Config
	client *awssqs.Client
}

// New constructs an SQS Driver.
func New(cfg Config, logger replicator.Logger) *Driver {
	common := base.CommonConfig{Enabled: cfg.Enabled, BatchConcurrency: cfg.BatchConcurrency}
	return &Driver{Base: base.New("sqs", common, logger), cfg: cfg}
}

func (d *Driver) ValidateConfig() replicator.ValidationResult {
	var errs []string
	if d.cfg.Region == "" {
		errs = append(errs, "region is required")
	}
	if d.cfg.QueueURL == "" && d.cfg.DefaultQueue == "" && len(d.cfg.ResourceQueueMap) == 0 {
		errs = append(errs, "one of queueUrl, defaultQueue, or resourceQueueMap is required")
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

	opts := []func(*config.LoadOptions) error{config.WithRegion(d.cfg.Region)}
	if d.cfg.AccessKey != "" && d.cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(d.cfg.AccessKey, d.cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		d.SetState(replicator.StateFailed)
		return replicator.ConfigError("initialize", "", "install AWS SDK credentials", err)
	}
	d.client = awssqs.NewFromConfig(awsCfg)

	queue := d.resolveQueue("")
	if queue != "" {
		if _, err := d.client.GetQueueAttributes(ctx, &awssqs.GetQueueAttributesInput{QueueUrl: aws.String(queue)}); err != nil {
			d.SetState(replicator.StateFailed)
			return replicator.ConnectivityError("initialize", "", "check the queue URL and IAM permissions", err)
		}
	}

	d.SetState(replicator.StateReady)
	d.Emit("initialized", nil)
	return nil
}

// resolveQueue implements the fallback chain: per-resource map entry, then
// single queueUrl, then defaultQueue.
func (d *Driver) resolveQueue(resource string) string {
	if resource != "" {
		if q, ok := d.cfg.ResourceQueueMap[resource]; ok {
			return q
		}
	}
	if d.cfg.QueueURL != "" {
		return d.cfg.QueueURL
	}
	return d.cfg.DefaultQueue
}

func (d *Driver) Replicate(ctx context.Context, resource string, op replicator.Operation, data map[string]any, id string, before map[string]any) (*replicator.ReplicateResult, error) {
	if err := d.RequireReady("replicate", resource); err != nil {
		return nil, err
	}
	queue := d.resolveQueue(resource)
	if queue == "" {
		return &replicator.ReplicateResult{Skipped: true, Reason: "no queue configured for this resource"}, nil
	}

	env := envelope.New(resource, string(op), data, before)
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	input := &awssqs.SendMessageInput{
		QueueUrl:    aws.String(queue),
		MessageBody: aws.String(string(body)),
	}
	if d.cfg.DeduplicationID {
		input.MessageDeduplicationId = aws.String(fmt.Sprintf("%s:%s:%s", resource, op, id))
	}
	if d.cfg.MessageGroupID != "" {
		input.MessageGroupId = aws.String(d.cfg.MessageGroupID)
	}

	result := &replicator.ReplicateResult{Success: true}
	if _, err := d.client.SendMessage(ctx, input); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err)
		result.Results = append(result.Results, replicator.DestinationResult{Target: queue, Success: false, Err: err})
		d.Emit("replicator_error", map[string]any{"resource": resource})
		return result, nil
	}
	result.Tables = append(result.Tables, queue)
	result.Results = append(result.Results, replicator.DestinationResult{Target: queue, Success: true})
	d.Emit("replicated", map[string]any{"resource": resource})
	return result, nil
}

// ReplicateBatch groups records into SendMessageBatch calls of at most ten
// entries, per the provider limit. A transport-level failure on one batch
// call aborts the remaining batches for this call.
func (d *Driver) ReplicateBatch(ctx context.Context, resource string, records []replicator.Record) (*replicator.BatchResult, error) {
	if err := d.RequireReady("replicateBatch", resource); err != nil {
		return nil, err
	}
	queue := d.resolveQueue(resource)
	if queue == "" {
		out := &replicator.BatchResult{Total: len(records), Success: true}
		for range records {
			out.Results = append(out.Results, replicator.ReplicateResult{Skipped: true, Reason: "no queue configured for this resource"})
			out.Successful++
		}
		return out, nil
	}

	out := &replicator.BatchResult{Total: len(records)}
	for start := 0; start < len(records); start += maxBatchEntries {
		end := start + maxBatchEntries
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		entries := make([]types.SendMessageBatchRequestEntry, 0, len(chunk))
		for i, rec := range chunk {
			env := envelope.New(resource, string(rec.Operation), rec.Data, rec.Before)
			body, err := json.Marshal(env)
			if err != nil {
				out.Errors = append(out.Errors, err)
				continue
			}
			entry := types.SendMessageBatchRequestEntry{
				Id:          aws.String(fmt.Sprintf("m%d", start+i)),
				MessageBody: aws.String(string(body)),
			}
			if d.cfg.DeduplicationID {
				entry.MessageDeduplicationId = aws.String(fmt.Sprintf("%s:%s:%s", resource, rec.Operation, rec.ID))
			}
			if d.cfg.MessageGroupID != "" {
				entry.MessageGroupId = aws.String(d.cfg.MessageGroupID)
			}
			entries = append(entries, entry)
		}

		resp, err := d.client.SendMessageBatch(ctx, &awssqs.SendMessageBatchInput{QueueUrl: aws.String(queue), Entries: entries})
		if err != nil {
			// Transport-level failure aborts the remaining batches for this call.
			out.Errors = append(out.Errors, err)
			out.Success = false
			return out, nil
		}
		out.Successful += len(resp.Successful)
		for _, f := range resp.Failed {
			out.Errors = append(out.Errors, fmt.Errorf("entry %s: %s", aws.ToString(f.Id), aws.ToString(f.Message)))
		}
	}
	out.Success = len(out.Errors) == 0
	return out, nil
}

func (d *Driver) TestConnection(ctx context.Context) bool {
	queue := d.resolveQueue("")
	if d.client == nil || queue == "" {
		return false
	}
	if _, err := d.client.GetQueueAttributes(ctx, &awssqs.GetQueueAttributesInput{QueueUrl: aws.String(queue)}); err != nil {
		d.Emit("connection_error", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

func (d *Driver) GetStatus() replicator.ReplicatorStatus {
	resources := make([]string, 0, len(d.cfg.ResourceQueueMap))
	for r := range d.cfg.ResourceQueueMap {
		resources = append(resources, r)
	}
	status := d.Status(d.client != nil, resources)
	status.Extra["region"] = d.cfg.Region
	return status
}

func (d *Driver) Cleanup(ctx context.Context) error {
	d.client = nil
	d.SetState(replicator.StateClosed)
	return nil
}

func (d *Driver) ShouldReplicateResource(resource string, op *replicator.Operation) bool {
	return d.resolveQueue(resource) != ""
}

var _ replicator.Replicator = (*Driver)(nil)
