// Package blockindex 访问全局 block→shard 位置表。
//
// 表结构 (DynamoDB):
//
//	partition key: blockmultihash (string, base58btc(multihash bytes))
//	sort key:      carpath        (string, "{region}/{bucket}/{key}")
//	attributes:    offset, length (非负整数)
//
// 所有读写删都带完整复合键，因此并发处理不同 shard 的 reindexer
// 永远不会互相碰到对方的行。
package blockindex

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multihash"
)

const (
	// DynamoDB 的硬限制: BatchGetItem ≤ 100, BatchWriteItem ≤ 25
	MaxBatchGet   = 100
	MaxBatchWrite = 25

	// unprocessed 子集的重试次数
	maxRetries = 2
)

// MultihashKey 返回分区键的编码形式。
func MultihashKey(mh multihash.Multihash) string {
	return base58.Encode(mh)
}

// Key 是一行的复合主键。
type Key struct {
	BlockMultihash string `dynamodbav:"blockmultihash"`
	CarPath        string `dynamodbav:"carpath"`
}

// Row 是一行完整数据。
type Row struct {
	BlockMultihash string `dynamodbav:"blockmultihash"`
	CarPath        string `dynamodbav:"carpath"`
	Offset         uint64 `dynamodbav:"offset"`
	Length         uint64 `dynamodbav:"length"`
}

// Key 返回行的主键。
func (r Row) Key() Key {
	return Key{BlockMultihash: r.BlockMultihash, CarPath: r.CarPath}
}

// Client 是 Table 用到的 DynamoDB 调用子集，方便测试 Mock。
type Client interface {
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Table 封装一张 block-index 表。
type Table struct {
	client Client
	name   string
}

// Config 用于初始化 Table。
type Config struct {
	Region   string
	Table    string
	Endpoint string // 本地 dynamodb 测试用，生产留空
}

// NewTable 从一个现成的 client 构造 (测试注入用)。
func NewTable(client Client, name string) *Table {
	return &Table{client: client, name: name}
}

// New 按配置构造真实的 DynamoDB 客户端。
func New(ctx context.Context, cfg Config) (*Table, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
	})
	return &Table{client: client, name: cfg.Table}, nil
}

// GetRows 批量点查。按 100 个一批发请求；响应里缺的键静默丢弃
// (multihash 在 legacy carpath 下可能本来就没有行，例如已经迁移过)。
func (t *Table) GetRows(ctx context.Context, keys []Key) ([]Row, error) {
	rows := make([]Row, 0, len(keys))

	for start := 0; start < len(keys); start += MaxBatchGet {
		batch := keys[start:min(start+MaxBatchGet, len(keys))]

		pending := make([]map[string]ddbtypes.AttributeValue, 0, len(batch))
		for _, k := range batch {
			av, err := attributevalue.MarshalMap(k)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal key: %w", err)
			}
			pending = append(pending, av)
		}

		for attempt := 0; ; attempt++ {
			out, err := t.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]ddbtypes.KeysAndAttributes{
					t.name: {Keys: pending},
				},
			})
			if err != nil {
				return nil, fmt.Errorf("batch get failed: %w", err)
			}

			for _, item := range out.Responses[t.name] {
				var row Row
				if err := attributevalue.UnmarshalMap(item, &row); err != nil {
					return nil, fmt.Errorf("failed to unmarshal row: %w", err)
				}
				rows = append(rows, row)
			}

			unprocessed := out.UnprocessedKeys[t.name].Keys
			if len(unprocessed) == 0 {
				break
			}
			if attempt >= maxRetries {
				return nil, fmt.Errorf("batch get left %d unprocessed keys after %d retries", len(unprocessed), maxRetries)
			}
			pending = unprocessed
		}
	}

	return rows, nil
}

// PutRows 批量写入，25 个一批，unprocessed 子集重试 2 次。
func (t *Table) PutRows(ctx context.Context, rows []Row) error {
	reqs := make([]ddbtypes.WriteRequest, 0, len(rows))
	for _, row := range rows {
		item, err := attributevalue.MarshalMap(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		reqs = append(reqs, ddbtypes.WriteRequest{
			PutRequest: &ddbtypes.PutRequest{Item: item},
		})
	}
	return t.batchWrite(ctx, reqs)
}

// DeleteRows 批量删除，同样的重试纪律。
// 删除不存在的行是 no-op，所以重跑是安全的。
func (t *Table) DeleteRows(ctx context.Context, keys []Key) error {
	reqs := make([]ddbtypes.WriteRequest, 0, len(keys))
	for _, k := range keys {
		av, err := attributevalue.MarshalMap(k)
		if err != nil {
			return fmt.Errorf("failed to marshal key: %w", err)
		}
		reqs = append(reqs, ddbtypes.WriteRequest{
			DeleteRequest: &ddbtypes.DeleteRequest{Key: av},
		})
	}
	return t.batchWrite(ctx, reqs)
}

func (t *Table) batchWrite(ctx context.Context, reqs []ddbtypes.WriteRequest) error {
	for start := 0; start < len(reqs); start += MaxBatchWrite {
		pending := reqs[start:min(start+MaxBatchWrite, len(reqs))]

		for attempt := 0; ; attempt++ {
			out, err := t.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]ddbtypes.WriteRequest{
					t.name: pending,
				},
			})
			if err != nil {
				return fmt.Errorf("batch write failed: %w", err)
			}

			unprocessed := out.UnprocessedItems[t.name]
			if len(unprocessed) == 0 {
				break
			}
			// 只重发失败的子集
			if attempt >= maxRetries {
				return fmt.Errorf("batch write left %d unprocessed items after %d retries", len(unprocessed), maxRetries)
			}
			pending = unprocessed
		}
	}
	return nil
}
