package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/metinatakli/paygate/internal/domain"
)

const (
	DefaultTransactionsTable = "paygate_transactions"
	DefaultRefundsTable      = "paygate_refunds"

	transactionsProviderIndex = "provider_key-index"
	refundsTransactionIndex   = "transaction_id-index"

	// Ledger writes retry this many times when another writer got there first.
	ledgerWriteAttempts = 3
)

// DynamoDBAPI is the subset of *dynamodb.Client the ledger uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

type transactionItem struct {
	ID             string            `dynamodbav:"id"`
	ProviderKey    string            `dynamodbav:"provider_key"`
	Driver         string            `dynamodbav:"driver"`
	ProviderID     string            `dynamodbav:"provider_id"`
	Amount         int64             `dynamodbav:"amount"`
	AmountRefunded int64             `dynamodbav:"amount_refunded"`
	AmountReserved int64             `dynamodbav:"amount_reserved"`
	Currency       string            `dynamodbav:"currency"`
	Status         string            `dynamodbav:"status"`
	CustomerID     string            `dynamodbav:"customer_id,omitempty"`
	Metadata       map[string]string `dynamodbav:"metadata,omitempty"`
	CreatedAt      string            `dynamodbav:"created_at"`
	UpdatedAt      string            `dynamodbav:"updated_at"`
	Version        int32             `dynamodbav:"version"`
}

type refundItem struct {
	ID            string `dynamodbav:"id"`
	TransactionID string `dynamodbav:"transaction_id"`
	Status        string `dynamodbav:"status"`
	Amount        int64  `dynamodbav:"amount"`
	Currency      string `dynamodbav:"currency"`
	Reason        string `dynamodbav:"reason,omitempty"`
	FailureReason string `dynamodbav:"failure_reason,omitempty"`
	Applied       bool   `dynamodbav:"applied"`
	Reserved      bool   `dynamodbav:"reserved"`
	CreatedAt     string `dynamodbav:"created_at"`
}

// DynamoDBTransactionRepository is the ledger on DynamoDB.
//
// Table requirements:
//   - transactions: PK id (string), GSI provider_key-index (PK: provider_key)
//   - refunds: PK id (string), GSI transaction_id-index (PK: transaction_id)
//
// DynamoDB conditions cannot do arithmetic, so refund increments are guarded
// by the refunded total read just before the write.
type DynamoDBTransactionRepository struct {
	ddb               DynamoDBAPI
	transactionsTable string
	refundsTable      string
	now               func() time.Time
}

var _ domain.TransactionRepository = (*DynamoDBTransactionRepository)(nil)

func NewDynamoDBTransactionRepository(ddb DynamoDBAPI, transactionsTable, refundsTable string) *DynamoDBTransactionRepository {
	if transactionsTable == "" {
		transactionsTable = DefaultTransactionsTable
	}
	if refundsTable == "" {
		refundsTable = DefaultRefundsTable
	}

	return &DynamoDBTransactionRepository{
		ddb:               ddb,
		transactionsTable: transactionsTable,
		refundsTable:      refundsTable,
		now:               time.Now,
	}
}

func (r *DynamoDBTransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	existing, err := r.GetByProviderID(ctx, txn.Driver, txn.ProviderID)
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		return err
	}
	if existing != nil {
		return domain.ErrEditConflict
	}

	now := r.now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	txn.Version = 1

	av, err := attributevalue.MarshalMap(toTransactionItem(txn))
	if err != nil {
		return err
	}

	_, err = r.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.transactionsTable),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": "id",
		},
	})
	if isConditionFailed(err) {
		return domain.ErrEditConflict
	}

	return err
}

func (r *DynamoDBTransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	out, err := r.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.transactionsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, domain.ErrRecordNotFound
	}

	var it transactionItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}

	return fromTransactionItem(it), nil
}

func (r *DynamoDBTransactionRepository) GetByProviderID(ctx context.Context, driver, providerID string) (*domain.Transaction, error) {
	out, err := r.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.transactionsTable),
		IndexName:              aws.String(transactionsProviderIndex),
		KeyConditionExpression: aws.String("provider_key = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: providerKey(driver, providerID)},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, domain.ErrRecordNotFound
	}

	var it transactionItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &it); err != nil {
		return nil, err
	}

	// The index is eventually consistent; read the item itself for the ledger.
	return r.GetByID(ctx, it.ID)
}

func (r *DynamoDBTransactionRepository) UpdateStatus(ctx context.Context, txn *domain.Transaction) error {
	metadata, err := attributevalue.Marshal(metadataOrEmpty(txn.Metadata))
	if err != nil {
		return err
	}

	updatedAt := r.now().UTC()

	_, err = r.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.transactionsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: txn.ID},
		},
		UpdateExpression:    aws.String("SET #status = :status, metadata = :metadata, updated_at = :updated_at, version = version + :one"),
		ConditionExpression: aws.String("version = :version"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(txn.Status)},
			":metadata":   metadata,
			":updated_at": &types.AttributeValueMemberS{Value: updatedAt.Format(time.RFC3339Nano)},
			":one":        numberValue(1),
			":version":    numberValue(int64(txn.Version)),
		},
	})
	if isConditionFailed(err) {
		return domain.ErrEditConflict
	}
	if err != nil {
		return err
	}

	txn.UpdatedAt = updatedAt
	txn.Version++

	return nil
}

// RecordRefund writes the refund and, when it succeeded or is still open,
// the ledger change in one TransactWriteItems call.
func (r *DynamoDBTransactionRepository) RecordRefund(
	ctx context.Context,
	txn *domain.Transaction,
	refund *domain.Refund) (*domain.Transaction, error) {

	createdAt := refund.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}

	item := refundItem{
		ID:            refund.ID,
		TransactionID: txn.ID,
		Status:        string(refund.Status),
		Amount:        refund.Amount,
		Currency:      refund.Currency,
		Reason:        refund.Reason,
		FailureReason: refund.FailureReason,
		Applied:       refund.IsSucceeded(),
		Reserved:      refund.IsOpen(),
		CreatedAt:     createdAt.Format(time.RFC3339Nano),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, err
	}

	put := types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(r.refundsTable),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(#id)"),
			ExpressionAttributeNames: map[string]string{
				"#id": "id",
			},
		},
	}

	switch {
	case refund.IsSucceeded():
		return r.applyLedger(ctx, txn.ID, put, func(t domain.Transaction) (domain.Transaction, error) {
			return t.ApplyRefund(refund.Amount)
		})
	case refund.IsOpen():
		return r.applyLedger(ctx, txn.ID, put, func(t domain.Transaction) (domain.Transaction, error) {
			return t.ReserveRefund(refund.Amount)
		})
	}

	_, err = r.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{put},
	})
	if cancelledAt(err, 0) {
		return nil, domain.ErrDuplicateRefund
	}
	if err != nil {
		return nil, err
	}

	return r.GetByID(ctx, txn.ID)
}

func (r *DynamoDBTransactionRepository) MarkRefundSucceeded(ctx context.Context, refundID string) (*domain.Transaction, error) {
	it, err := r.getRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if it.Applied {
		return nil, domain.ErrDuplicateRefund
	}

	settle := r.refundUpdate(refundID, domain.RefundStatusSucceeded, true)

	return r.applyLedger(ctx, it.TransactionID, settle, func(t domain.Transaction) (domain.Transaction, error) {
		if it.Reserved {
			return t.SettleReservedRefund(it.Amount)
		}
		return t.ApplyRefund(it.Amount)
	})
}

func (r *DynamoDBTransactionRepository) ReleaseRefund(
	ctx context.Context,
	refundID string,
	status domain.RefundStatus) (*domain.Transaction, error) {

	it, err := r.getRefund(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if it.Applied {
		return nil, fmt.Errorf("%w: refund %s already succeeded", domain.ErrInvalidTransition, refundID)
	}

	release := r.refundUpdate(refundID, status, false)

	if !it.Reserved {
		_, err := r.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{release},
		})
		if cancelledAt(err, 0) {
			return nil, fmt.Errorf("%w: refund %s already succeeded", domain.ErrInvalidTransition, refundID)
		}
		if err != nil {
			return nil, err
		}

		return r.GetByID(ctx, it.TransactionID)
	}

	return r.applyLedger(ctx, it.TransactionID, release, func(t domain.Transaction) (domain.Transaction, error) {
		return t.ReleaseReservedRefund(it.Amount), nil
	})
}

func (r *DynamoDBTransactionRepository) getRefund(ctx context.Context, refundID string) (refundItem, error) {
	var it refundItem

	out, err := r.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.refundsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: refundID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return it, err
	}
	if len(out.Item) == 0 {
		return it, domain.ErrRefundNotFound
	}

	err = attributevalue.UnmarshalMap(out.Item, &it)

	return it, err
}

// refundUpdate sets the status of a refund that has not been applied yet and
// drops its reservation.
func (r *DynamoDBTransactionRepository) refundUpdate(refundID string, status domain.RefundStatus, applied bool) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: aws.String(r.refundsTable),
			Key: map[string]types.AttributeValue{
				"id": &types.AttributeValueMemberS{Value: refundID},
			},
			UpdateExpression:    aws.String("SET #status = :status, applied = :applied, reserved = :false"),
			ConditionExpression: aws.String("applied = :false"),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status":  &types.AttributeValueMemberS{Value: string(status)},
				":applied": &types.AttributeValueMemberBOOL{Value: applied},
				":false":   &types.AttributeValueMemberBOOL{Value: false},
			},
		},
	}
}

func (r *DynamoDBTransactionRepository) ListRefunds(ctx context.Context, transactionID string) ([]domain.Refund, error) {
	txn, err := r.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	out, err := r.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.refundsTable),
		IndexName:              aws.String(refundsTransactionIndex),
		KeyConditionExpression: aws.String("transaction_id = :tid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tid": &types.AttributeValueMemberS{Value: transactionID},
		},
	})
	if err != nil {
		return nil, err
	}

	refunds := make([]domain.Refund, 0, len(out.Items))
	for _, raw := range out.Items {
		var it refundItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, err
		}

		createdAt, _ := time.Parse(time.RFC3339Nano, it.CreatedAt)
		refunds = append(refunds, domain.Refund{
			ID:            it.ID,
			TransactionID: txn.ProviderID,
			Status:        domain.RefundStatus(it.Status),
			Amount:        it.Amount,
			Currency:      it.Currency,
			Reason:        it.Reason,
			FailureReason: it.FailureReason,
			CreatedAt:     createdAt,
		})
	}

	return refunds, nil
}

// applyLedger writes refundWrite together with the ledger change computed by
// change. The write is conditioned on the refunded and reserved totals it was
// computed from; when a concurrent writer moved them, the transaction is
// re-read and the write retried.
func (r *DynamoDBTransactionRepository) applyLedger(
	ctx context.Context,
	transactionID string,
	refundWrite types.TransactWriteItem,
	change func(domain.Transaction) (domain.Transaction, error)) (*domain.Transaction, error) {

	for attempt := 1; ; attempt++ {
		current, err := r.GetByID(ctx, transactionID)
		if err != nil {
			return nil, err
		}

		next, err := change(*current)
		if err != nil {
			return nil, err
		}
		next.UpdatedAt = r.now().UTC()
		next.Version++

		_, err = r.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				refundWrite,
				{
					Update: &types.Update{
						TableName: aws.String(r.transactionsTable),
						Key: map[string]types.AttributeValue{
							"id": &types.AttributeValueMemberS{Value: transactionID},
						},
						UpdateExpression: aws.String("SET amount_refunded = :refunded, amount_reserved = :reserved, " +
							"#status = :status, updated_at = :updated_at, version = :next_version"),
						ConditionExpression: aws.String("amount_refunded = :previous AND amount_reserved = :previous_reserved AND :total <= amount"),
						ExpressionAttributeNames: map[string]string{
							"#status": "status",
						},
						ExpressionAttributeValues: map[string]types.AttributeValue{
							":refunded":          numberValue(next.AmountRefunded),
							":reserved":          numberValue(next.AmountReserved),
							":previous":          numberValue(current.AmountRefunded),
							":previous_reserved": numberValue(current.AmountReserved),
							":total":             numberValue(next.AmountRefunded + next.AmountReserved),
							":status":            &types.AttributeValueMemberS{Value: string(next.Status)},
							":updated_at":        &types.AttributeValueMemberS{Value: next.UpdatedAt.Format(time.RFC3339Nano)},
							":next_version":      numberValue(int64(next.Version)),
						},
					},
				},
			},
		})

		switch {
		case err == nil:
			return &next, nil
		case cancelledAt(err, 0):
			return nil, domain.ErrDuplicateRefund
		case cancelledAt(err, 1) && attempt < ledgerWriteAttempts:
			continue
		case cancelledAt(err, 1):
			return nil, fmt.Errorf("%w: ledger of %s kept changing", domain.ErrEditConflict, transactionID)
		default:
			return nil, err
		}
	}
}

func toTransactionItem(txn *domain.Transaction) transactionItem {
	return transactionItem{
		ID:             txn.ID,
		ProviderKey:    providerKey(txn.Driver, txn.ProviderID),
		Driver:         txn.Driver,
		ProviderID:     txn.ProviderID,
		Amount:         txn.Amount,
		AmountRefunded: txn.AmountRefunded,
		AmountReserved: txn.AmountReserved,
		Currency:       txn.Currency,
		Status:         string(txn.Status),
		CustomerID:     txn.CustomerID,
		Metadata:       txn.Metadata,
		CreatedAt:      txn.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      txn.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Version:        txn.Version,
	}
}

func fromTransactionItem(it transactionItem) *domain.Transaction {
	createdAt, _ := time.Parse(time.RFC3339Nano, it.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, it.UpdatedAt)

	return &domain.Transaction{
		ID:             it.ID,
		Driver:         it.Driver,
		ProviderID:     it.ProviderID,
		Amount:         it.Amount,
		AmountRefunded: it.AmountRefunded,
		AmountReserved: it.AmountReserved,
		Currency:       it.Currency,
		Status:         domain.TransactionStatus(it.Status),
		CustomerID:     it.CustomerID,
		Metadata:       it.Metadata,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		Version:        it.Version,
	}
}

func providerKey(driver, providerID string) string {
	return driver + "#" + providerID
}

func numberValue(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func isConditionFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// cancelledAt reports whether a TransactWriteItems call was cancelled because
// the condition of item i failed.
func cancelledAt(err error, i int) bool {
	var cancelErr *types.TransactionCanceledException
	if !errors.As(err, &cancelErr) || i >= len(cancelErr.CancellationReasons) {
		return false
	}

	return aws.ToString(cancelErr.CancellationReasons[i].Code) == "ConditionalCheckFailed"
}
