package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// partitionAttr holds the document id in every table.
const partitionAttr = "pk"

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore keeps each collection in its own table keyed by "pk".
type DynamoStore struct {
	Client DynamoAPI
	Prefix string
}

// NewDynamoClient builds a DynamoDB client for region, optionally pointed
// at a local endpoint such as DynamoDB Local.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func NewDynamoStore(client DynamoAPI, prefix string) *DynamoStore {
	return &DynamoStore{Client: client, Prefix: prefix}
}

func (d *DynamoStore) table(collection string) *string {
	return aws.String(d.Prefix + collection)
}

func (d *DynamoStore) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	out, err := d.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      d.table(collection),
		Key:            map[string]types.AttributeValue{partitionAttr: &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classifyDynamoError(err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	doc, err := itemToDocument(out.Item)
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

func (d *DynamoStore) Put(ctx context.Context, collection, id string, doc json.RawMessage) error {
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return fmt.Errorf("decode %s.%s: %w", collection, id, err)
	}
	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return fmt.Errorf("marshal %s.%s: %w", collection, id, err)
	}
	item[partitionAttr] = &types.AttributeValueMemberS{Value: id}

	_, err = d.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: d.table(collection),
		Item:      item,
	})
	if err != nil {
		return classifyDynamoError(err)
	}
	return nil
}

func (d *DynamoStore) Delete(ctx context.Context, collection, id string) error {
	_, err := d.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: d.table(collection),
		Key:       map[string]types.AttributeValue{partitionAttr: &types.AttributeValueMemberS{Value: id}},
	})
	if err != nil {
		return classifyDynamoError(err)
	}
	return nil
}

// Query uses the index when q names one and carries its partition value;
// otherwise it scans. Every page is read and the results are re-evaluated in
// memory: sort keys are stored as RFC3339 strings whose lexical order can
// differ from time order, so ordering and limits are applied here.
func (d *DynamoStore) Query(ctx context.Context, q Query) ([]Document, error) {
	expr := newExpression()
	partition, indexed := q.Filter[q.Index.PartitionKey]
	indexed = indexed && q.Index.Name != ""

	var keyCond string
	if indexed {
		keyCond = fmt.Sprintf("%s = %s", expr.name(q.Index.PartitionKey), expr.value(partition))
	}
	var filters []string
	for k, v := range q.Filter {
		if indexed && k == q.Index.PartitionKey {
			continue
		}
		filters = append(filters, fmt.Sprintf("%s = %s", expr.name(k), expr.value(v)))
	}
	for k, v := range q.NotEqual {
		filters = append(filters, fmt.Sprintf("%s <> %s", expr.name(k), expr.value(v)))
	}
	for k, v := range q.Contains {
		filters = append(filters, fmt.Sprintf("contains(%s, %s)", expr.name(k), expr.value(v)))
	}
	if expr.err != nil {
		return nil, expr.err
	}
	sort.Strings(filters)

	var filterExpr *string
	if len(filters) > 0 {
		filterExpr = aws.String(strings.Join(filters, " AND "))
	}
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		var page []map[string]types.AttributeValue
		var next map[string]types.AttributeValue
		if indexed {
			out, err := d.Client.Query(ctx, &dynamodb.QueryInput{
				TableName:                 d.table(q.Collection),
				IndexName:                 aws.String(q.Index.Name),
				KeyConditionExpression:    aws.String(keyCond),
				FilterExpression:          filterExpr,
				ExpressionAttributeNames:  expr.names,
				ExpressionAttributeValues: expr.values,
				ScanIndexForward:          aws.Bool(!q.Desc),
				ExclusiveStartKey:         startKey,
			})
			if err != nil {
				return nil, classifyDynamoError(err)
			}
			page, next = out.Items, out.LastEvaluatedKey
		} else {
			input := &dynamodb.ScanInput{
				TableName:         d.table(q.Collection),
				FilterExpression:  filterExpr,
				ExclusiveStartKey: startKey,
			}
			if len(expr.names) > 0 {
				input.ExpressionAttributeNames = expr.names
				input.ExpressionAttributeValues = expr.values
			}
			out, err := d.Client.Scan(ctx, input)
			if err != nil {
				return nil, classifyDynamoError(err)
			}
			page, next = out.Items, out.LastEvaluatedKey
		}

		items = append(items, page...)
		if len(next) == 0 {
			break
		}
		startKey = next
	}

	docs := make([]Document, 0, len(items))
	for _, item := range items {
		doc, err := itemToDocument(item)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return Evaluate(docs, Query{OrderBy: q.OrderBy, Desc: q.Desc, Limit: q.Limit}), nil
}

func (d *DynamoStore) Ping(ctx context.Context) error {
	_, err := d.Client.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
	if err != nil {
		return classifyDynamoError(err)
	}
	return nil
}

// ProvisionIndex asks DynamoDB to build a global secondary index. An index
// that is already being built counts as success.
func (d *DynamoStore) ProvisionIndex(ctx context.Context, idx IndexSpec) error {
	_, err := d.Client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName:            d.table(idx.Collection),
		AttributeDefinitions: indexAttributes(idx),
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Create: &types.CreateGlobalSecondaryIndexAction{
				IndexName:  aws.String(idx.Name),
				KeySchema:  indexKeySchema(idx),
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		}},
	})
	if err == nil {
		return nil
	}

	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "already exists") {
		return nil
	}
	return classifyDynamoError(err)
}

// EnsureTables creates the collection tables that do not exist yet, waits
// for them and requests every index.
func (d *DynamoStore) EnsureTables(ctx context.Context, collections []string, indexes []IndexSpec) error {
	for _, c := range collections {
		_, err := d.Client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: d.table(c),
			AttributeDefinitions: []types.AttributeDefinition{{
				AttributeName: aws.String(partitionAttr),
				AttributeType: types.ScalarAttributeTypeS,
			}},
			KeySchema: []types.KeySchemaElement{{
				AttributeName: aws.String(partitionAttr),
				KeyType:       types.KeyTypeHash,
			}},
			BillingMode: types.BillingModePayPerRequest,
		})
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("create table %s: %w", c, classifyDynamoError(err))
		}

		waiter := dynamodb.NewTableExistsWaiter(d.Client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: d.table(c)}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", c, err)
		}
	}

	for _, idx := range indexes {
		if err := d.ProvisionIndex(ctx, idx); err != nil {
			return fmt.Errorf("provision index %s: %w", idx.Name, err)
		}
	}
	return nil
}

func indexAttributes(idx IndexSpec) []types.AttributeDefinition {
	attrs := []types.AttributeDefinition{{
		AttributeName: aws.String(idx.PartitionKey),
		AttributeType: types.ScalarAttributeTypeS,
	}}
	if idx.SortKey != "" {
		attrs = append(attrs, types.AttributeDefinition{
			AttributeName: aws.String(idx.SortKey),
			AttributeType: types.ScalarAttributeTypeS,
		})
	}
	return attrs
}

func indexKeySchema(idx IndexSpec) []types.KeySchemaElement {
	schema := []types.KeySchemaElement{{
		AttributeName: aws.String(idx.PartitionKey),
		KeyType:       types.KeyTypeHash,
	}}
	if idx.SortKey != "" {
		schema = append(schema, types.KeySchemaElement{
			AttributeName: aws.String(idx.SortKey),
			KeyType:       types.KeyTypeRange,
		})
	}
	return schema
}

// classifyDynamoError maps a DynamoDB failure onto the storage error classes.
func classifyDynamoError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.ErrorMessage())
		switch apiErr.ErrorCode() {
		case "ValidationException", "ResourceNotFoundException":
			if strings.Contains(msg, "index") {
				return fmt.Errorf("%w: %s", ErrIndexMissing, apiErr.ErrorMessage())
			}
		case "AccessDeniedException", "UnrecognizedClientException", "MissingAuthenticationTokenException":
			return fmt.Errorf("%w: %s", ErrPermissionDenied, apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func itemToDocument(item map[string]types.AttributeValue) (Document, error) {
	var fields map[string]any
	if err := attributevalue.UnmarshalMap(item, &fields); err != nil {
		return Document{}, fmt.Errorf("unmarshal item: %w", err)
	}
	id, _ := fields[partitionAttr].(string)
	delete(fields, partitionAttr)
	data, err := json.Marshal(fields)
	if err != nil {
		return Document{}, fmt.Errorf("encode item %s: %w", id, err)
	}
	return Document{ID: id, Data: data}, nil
}

type expression struct {
	names  map[string]string
	values map[string]types.AttributeValue
	err    error
}

func newExpression() *expression {
	return &expression{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
}

func (e *expression) name(field string) string {
	placeholder := fmt.Sprintf("#n%d", len(e.names))
	e.names[placeholder] = field
	return placeholder
}

func (e *expression) value(v any) string {
	placeholder := fmt.Sprintf(":v%d", len(e.values))
	av, err := attributevalue.Marshal(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("marshal filter value: %w", err)
	}
	e.values[placeholder] = av
	return placeholder
}
