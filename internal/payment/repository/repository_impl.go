package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payrecon/internal/clock"
	"github.com/smallbiznis/payrecon/internal/payment/domain"
	pkgdb "github.com/smallbiznis/payrecon/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type store struct {
	db       *gorm.DB
	genID    *snowflake.Node
	clock    clock.Clock
	lockRows bool
}

// Provide returns the gorm-backed TransactionStore.
func Provide(db *gorm.DB, genID *snowflake.Node, clk clock.Clock) domain.TransactionStore {
	return &store{
		db:       db,
		genID:    genID,
		clock:    clk,
		lockRows: pkgdb.SupportsRowLocks(db),
	}
}

func (s *store) withDB(tx *gorm.DB) *store {
	return &store{db: tx, genID: s.genID, clock: s.clock, lockRows: s.lockRows}
}

func (s *store) WithinTx(ctx context.Context, fn func(domain.TransactionStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.withDB(tx))
	})
}

func (s *store) Create(ctx context.Context, req domain.CreateTransaction) (snowflake.ID, error) {
	details, err := json.Marshal(req.Details)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	txn := domain.Transaction{
		ID:             s.genID.Generate(),
		GatewayID:      req.GatewayID,
		AlternateID:    req.AlternateID,
		OrderRef:       req.OrderRef,
		CustomerID:     req.CustomerID,
		Status:         req.Status,
		Total:          req.Total,
		RefundedAmount: decimal.Zero,
		Currency:       req.Currency,
		ParentID:       req.ParentID,
		Mode:           req.Mode,
		Details:        datatypes.JSON(details),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&txn).Error; err != nil {
		return 0, err
	}
	return txn.ID, nil
}

func (s *store) UpdateStatus(ctx context.Context, id snowflake.ID, status domain.TransactionStatus) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		s.clock.Now(),
		id,
	)
	return affected(res)
}

func (s *store) AddRefund(ctx context.Context, id snowflake.ID, amount decimal.Decimal) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET refunded_amount = refunded_amount + ?, updated_at = ?
		 WHERE id = ?`,
		amount,
		s.clock.Now(),
		id,
	)
	return affected(res)
}

func (s *store) LinkSubscriber(ctx context.Context, id snowflake.ID, subscriberID string) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET subscriber_id = ?, updated_at = ?
		 WHERE id = ? AND (subscriber_id IS NULL OR subscriber_id = ?)`,
		subscriberID,
		s.clock.Now(),
		id,
		subscriberID,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return domain.ErrSubscriberTaken
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrSubscriberTaken
	}
	return nil
}

func (s *store) UpdateSubscriptionStatus(ctx context.Context, id snowflake.ID, status domain.SubscriptionStatus) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET subscription_status = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		s.clock.Now(),
		id,
	)
	return affected(res)
}

func (s *store) Get(ctx context.Context, id snowflake.ID) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := s.query(ctx).Where("id = ?", id).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionMissing
		}
		return nil, err
	}
	return &txn, nil
}

func (s *store) FindByGatewayID(ctx context.Context, gatewayID string, limit int) ([]domain.Transaction, error) {
	return s.findBy(ctx, "gateway_id", gatewayID, limit)
}

func (s *store) FindByAlternateID(ctx context.Context, alternateID string, limit int) ([]domain.Transaction, error) {
	return s.findBy(ctx, "alternate_id", alternateID, limit)
}

func (s *store) FindBySubscriberID(ctx context.Context, subscriberID string, limit int) ([]domain.Transaction, error) {
	return s.findBy(ctx, "subscriber_id", subscriberID, limit)
}

func (s *store) LatestChild(ctx context.Context, parentID snowflake.ID) (*domain.Transaction, error) {
	var items []domain.Transaction
	err := s.query(ctx).
		Where("parent_id = ?", parentID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (s *store) RecordReceipt(ctx context.Context, receipt domain.Receipt) error {
	return s.db.WithContext(ctx).Create(&receipt).Error
}

func (s *store) ListReceipts(ctx context.Context, transactionID snowflake.ID, afterID string, limit int) ([]domain.Receipt, error) {
	q := s.db.WithContext(ctx).
		Model(&domain.Receipt{}).
		Where("transaction_id = ?", transactionID)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	var items []domain.Receipt
	err := q.Order("id ASC").Limit(limit).Find(&items).Error
	return items, err
}

func (s *store) findBy(ctx context.Context, column, value string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 1
	}
	var items []domain.Transaction
	err := s.query(ctx).
		Where(clause.Eq{Column: clause.Column{Name: column}, Value: value}).
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// query locks selected rows for the rest of the surrounding transaction where the
// dialect supports it.
func (s *store) query(ctx context.Context) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&domain.Transaction{})
	if s.lockRows {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func affected(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrTransactionMissing
	}
	return nil
}
