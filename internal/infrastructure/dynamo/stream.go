package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
)

// Shards are re-listed every rediscoverEvery polls to pick up splits.
const rediscoverEvery = 30

type streamsAPI interface {
	DescribeStream(ctx context.Context, in *dynamodbstreams.DescribeStreamInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error)
	GetShardIterator(ctx context.Context, in *dynamodbstreams.GetShardIteratorInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, in *dynamodbstreams.GetRecordsInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error)
}

// StreamARN returns the latest stream ARN of table.
func StreamARN(ctx context.Context, client *dynamodb.Client, table string) (string, error) {
	out, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		return "", classify("describe table", err)
	}
	if out.Table == nil || out.Table.LatestStreamArn == nil {
		return "", fmt.Errorf("table %s has no stream enabled", table)
	}
	return *out.Table.LatestStreamArn, nil
}

// StreamFeed turns the number_pools DynamoDB stream into change notices.
// Every write is captured by the stream itself, so Notify does nothing.
type StreamFeed struct {
	api       streamsAPI
	streamARN string
	interval  time.Duration
}

func NewStreamFeed(api streamsAPI, streamARN string, interval time.Duration) *StreamFeed {
	if interval <= 0 {
		interval = time.Second
	}
	return &StreamFeed{api: api, streamARN: streamARN, interval: interval}
}

func (f *StreamFeed) Notify(context.Context, string) error { return nil }

// Run tails every open shard from LATEST and calls deliver with the tenant of each record.
func (f *StreamFeed) Run(ctx context.Context, deliver func(tenantID string)) error {
	iters := map[string]*string{}
	finished := map[string]bool{}
	initial := true

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for polls := 0; ; polls++ {
		if polls%rediscoverEvery == 0 || len(iters) == 0 {
			if err := f.discover(ctx, iters, finished, initial); err != nil {
				slog.Warn("stream shard discovery failed", "stream", f.streamARN, "err", err)
			} else {
				initial = false
			}
		}
		for shardID, it := range iters {
			next, err := f.poll(ctx, it, deliver)
			switch {
			case err != nil:
				var expired *streamtypes.ExpiredIteratorException
				if errors.As(err, &expired) {
					delete(iters, shardID)
					continue
				}
				slog.Warn("stream poll failed", "shard", shardID, "err", err)
			case next == nil:
				delete(iters, shardID)
				finished[shardID] = true
			default:
				iters[shardID] = next
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// discover opens iterators for shards not yet tracked. On the first pass only
// open shards are tailed, from LATEST; shards that appear later are read from
// TRIM_HORIZON so records written during a split are not skipped.
func (f *StreamFeed) discover(ctx context.Context, iters map[string]*string, finished map[string]bool, initial bool) error {
	var start *string
	for {
		out, err := f.api.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             aws.String(f.streamARN),
			ExclusiveStartShardId: start,
		})
		if err != nil {
			return err
		}
		if out.StreamDescription == nil {
			return nil
		}
		for _, sh := range out.StreamDescription.Shards {
			id := aws.ToString(sh.ShardId)
			if _, ok := iters[id]; ok || finished[id] {
				continue
			}
			closed := sh.SequenceNumberRange != nil && sh.SequenceNumberRange.EndingSequenceNumber != nil
			itType := streamtypes.ShardIteratorTypeTrimHorizon
			if initial {
				if closed {
					finished[id] = true
					continue
				}
				itType = streamtypes.ShardIteratorTypeLatest
			}
			it, err := f.api.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
				StreamArn:         aws.String(f.streamARN),
				ShardId:           sh.ShardId,
				ShardIteratorType: itType,
			})
			if err != nil {
				return fmt.Errorf("shard iterator %s: %w", id, err)
			}
			iters[id] = it.ShardIterator
		}
		start = out.StreamDescription.LastEvaluatedShardId
		if start == nil {
			return nil
		}
	}
}

func (f *StreamFeed) poll(ctx context.Context, it *string, deliver func(string)) (*string, error) {
	out, err := f.api.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: it})
	if err != nil {
		return it, err
	}
	for _, rec := range out.Records {
		if rec.Dynamodb == nil {
			continue
		}
		if key, ok := rec.Dynamodb.Keys[fieldTenantID].(*streamtypes.AttributeValueMemberS); ok {
			deliver(key.Value)
		}
	}
	return out.NextShardIterator, nil
}
