package domain_test

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payrecon/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

// MySQL refuses keys on TEXT columns without a prefix length, so every indexed
// string column carries an explicit size.
func TestIndexedStringColumnsAreBounded(t *testing.T) {
	for _, model := range []interface{}{&domain.Transaction{}, &domain.Receipt{}} {
		s, err := schema.Parse(model, &sync.Map{}, schema.NamingStrategy{})
		require.NoError(t, err)

		var keyed []*schema.Field
		for _, idx := range s.ParseIndexes() {
			for _, opt := range idx.Fields {
				keyed = append(keyed, opt.Field)
			}
		}
		keyed = append(keyed, s.PrimaryFields...)
		require.NotEmpty(t, keyed, s.Table)

		for _, field := range keyed {
			if field.DataType != schema.String {
				continue
			}
			assert.Positive(t, field.Size, "%s.%s", s.Table, field.DBName)
			assert.Empty(t, field.TagSettings["TYPE"], "%s.%s", s.Table, field.DBName)
		}
	}
}

func TestFullyRefunded(t *testing.T) {
	assert.False(t, domain.Transaction{}.FullyRefunded())

	txn := domain.Transaction{Total: decimal.NewFromInt(50), RefundedAmount: decimal.NewFromInt(20)}
	assert.False(t, txn.FullyRefunded())
	txn.RefundedAmount = decimal.RequireFromString("50.00")
	assert.True(t, txn.FullyRefunded())
}
