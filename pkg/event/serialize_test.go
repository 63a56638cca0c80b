package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppendRequest(t *testing.T) {
	t.Parallel()

	t.Run("LoanDecidedDataで追記リクエストを組み立てられること", func(t *testing.T) {
		t.Parallel()

		req, err := NewAppendRequest("loan-1", AggregateTypeLoan, TypeLoanDecided, LoanDecidedData{
			UserID:          "user-1",
			Status:          "Rejected",
			RejectionReason: "理由",
		})
		require.NoError(t, err)

		assert.Equal(t, "loan-1", req.AggregateID)
		assert.Equal(t, "Loan", req.AggregateType)
		assert.Equal(t, "LoanDecided", req.EventType)
		assert.JSONEq(t, `{"user_id":"user-1","status":"Rejected","rejection_reason":"理由"}`, string(req.Data))
	})

	t.Run("承認時は却下理由がJSONに含まれないこと", func(t *testing.T) {
		t.Parallel()

		req, err := NewAppendRequest("loan-2", AggregateTypeLoan, TypeLoanDecided, LoanDecidedData{UserID: "u", Status: "Approved"})
		require.NoError(t, err)
		assert.NotContains(t, string(req.Data), "rejection_reason")
	})

	t.Run("シリアライズ不可能なデータはエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := NewAppendRequest("x", AggregateTypeLoan, TypeLoanApplied, make(chan int))
		assert.Error(t, err)
	})
}
