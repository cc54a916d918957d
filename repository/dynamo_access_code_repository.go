package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/yashrajoria/course-access-service/models"
)

// DynamoAPI is the subset of the DynamoDB client used by the store.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Item kinds sharing the table. Everything is keyed by the `code` attribute:
// access codes by their value, event markers by "event#<id>" and
// unreconciled events by "unreconciled#<id>".
const (
	kindAccessCode   = "access_code"
	kindEventMarker  = "event"
	kindUnreconciled = "unreconciled"

	eventKeyPrefix        = "event#"
	unreconciledKeyPrefix = "unreconciled#"

	notExistsCondition = "attribute_not_exists(code)"
)

// DynamoAccessCodeRepository stores access codes in a single DynamoDB table
// with partition key `code`.
type DynamoAccessCodeRepository struct {
	client DynamoAPI
	table  string
}

func NewDynamoAccessCodeRepository(client DynamoAPI, table string) *DynamoAccessCodeRepository {
	return &DynamoAccessCodeRepository{client: client, table: table}
}

type ddbItem struct {
	Code       string `dynamodbav:"code"`
	Kind       string `dynamodbav:"kind"`
	Email      string `dynamodbav:"email,omitempty"`
	Name       string `dynamodbav:"name,omitempty"`
	CourseID   string `dynamodbav:"course_id,omitempty"`
	CreatedAt  string `dynamodbav:"created_at"`
	SessionID  string `dynamodbav:"session_id,omitempty"`
	EventID    string `dynamodbav:"event_id,omitempty"`
	AccessCode string `dynamodbav:"access_code,omitempty"`
	ID         string `dynamodbav:"id,omitempty"`
	Reason     string `dynamodbav:"reason,omitempty"`
}

// Append writes the access code and its event marker in one transaction, both
// guarded by attribute_not_exists so neither can be overwritten.
func (d *DynamoAccessCodeRepository) Append(ctx context.Context, rec *models.AccessCode) error {
	createdAt := rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	codeItem, err := attributevalue.MarshalMap(ddbItem{
		Code:      rec.Code,
		Kind:      kindAccessCode,
		Email:     rec.Email,
		Name:      rec.Name,
		CourseID:  rec.CourseID,
		CreatedAt: createdAt,
		SessionID: rec.SourceSessionID,
		EventID:   rec.SourceEventID,
	})
	if err != nil {
		return fmt.Errorf("marshal access code: %w", err)
	}
	markerItem, err := attributevalue.MarshalMap(ddbItem{
		Code:       eventKeyPrefix + rec.SourceEventID,
		Kind:       kindEventMarker,
		CreatedAt:  createdAt,
		EventID:    rec.SourceEventID,
		AccessCode: rec.Code,
	})
	if err != nil {
		return fmt.Errorf("marshal event marker: %w", err)
	}

	_, err = d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: &d.table, Item: codeItem, ConditionExpression: aws.String(notExistsCondition)}},
			{Put: &types.Put{TableName: &d.table, Item: markerItem, ConditionExpression: aws.String(notExistsCondition)}},
		},
	})
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		reasons := canceled.CancellationReasons
		if conditionFailed(reasons, 1) {
			return ErrEventAlreadyProcessed
		}
		if conditionFailed(reasons, 0) {
			return ErrDuplicateCode
		}
	}
	return fmt.Errorf("dynamodb TransactWriteItems failed: %w", err)
}

func conditionFailed(reasons []types.CancellationReason, i int) bool {
	return i < len(reasons) && aws.ToString(reasons[i].Code) == "ConditionalCheckFailed"
}

func (d *DynamoAccessCodeRepository) FindByCode(ctx context.Context, code string) (*models.AccessCode, error) {
	if code == "" || strings.Contains(code, "#") {
		return nil, ErrNotFound
	}
	key, err := attributevalue.MarshalMap(map[string]string{"code": code})
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{TableName: &d.table, Key: key, ConsistentRead: aws.Bool(true)})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var item ddbItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	if item.Kind != kindAccessCode {
		return nil, ErrNotFound
	}
	rec := item.toAccessCode()
	return &rec, nil
}

func (d *DynamoAccessCodeRepository) FindByEmail(ctx context.Context, email string) ([]models.AccessCode, error) {
	items, err := d.scanKind(ctx, kindAccessCode, email)
	if err != nil {
		return nil, err
	}
	out := make([]models.AccessCode, 0, len(items))
	for _, it := range items {
		out = append(out, it.toAccessCode())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Record is a conditional put; an existing entry for the event is kept.
func (d *DynamoAccessCodeRepository) Record(ctx context.Context, ev *models.UnreconciledEvent) error {
	item, err := attributevalue.MarshalMap(ddbItem{
		Code:      unreconciledKeyPrefix + ev.EventID,
		Kind:      kindUnreconciled,
		ID:        ev.ID,
		EventID:   ev.EventID,
		SessionID: ev.SessionID,
		Email:     ev.Email,
		Name:      ev.Name,
		CourseID:  ev.CourseID,
		Reason:    ev.Reason,
		CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal unreconciled event: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &d.table,
		Item:                item,
		ConditionExpression: aws.String(notExistsCondition),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (d *DynamoAccessCodeRepository) List(ctx context.Context, limit int) ([]models.UnreconciledEvent, error) {
	items, err := d.scanKind(ctx, kindUnreconciled, "")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt > items[j].CreatedAt })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]models.UnreconciledEvent, 0, len(items))
	for _, it := range items {
		out = append(out, models.UnreconciledEvent{
			ID:        it.ID,
			EventID:   it.EventID,
			SessionID: it.SessionID,
			Email:     it.Email,
			Name:      it.Name,
			CourseID:  it.CourseID,
			Reason:    it.Reason,
			CreatedAt: parseTime(it.CreatedAt),
		})
	}
	return out, nil
}

func (d *DynamoAccessCodeRepository) scanKind(ctx context.Context, kind, email string) ([]ddbItem, error) {
	filter := "#k = :kind"
	names := map[string]string{"#k": "kind"}
	values := map[string]types.AttributeValue{":kind": &types.AttributeValueMemberS{Value: kind}}
	if email != "" {
		filter += " AND #e = :email"
		names["#e"] = "email"
		values[":email"] = &types.AttributeValueMemberS{Value: email}
	}

	input := &dynamodb.ScanInput{
		TableName:                 &d.table,
		FilterExpression:          aws.String(filter),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	var items []ddbItem
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan page failed: %w", err)
		}
		var batch []ddbItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal scan page: %w", err)
		}
		items = append(items, batch...)
	}
	return items, nil
}

func (it ddbItem) toAccessCode() models.AccessCode {
	return models.AccessCode{
		Code:            it.Code,
		Email:           it.Email,
		Name:            it.Name,
		CourseID:        it.CourseID,
		CreatedAt:       parseTime(it.CreatedAt),
		SourceSessionID: it.SessionID,
		SourceEventID:   it.EventID,
	}
}
