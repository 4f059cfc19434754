package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("commit: %w", ItemAlreadySold("item-7"))

	assert.True(t, errors.Is(err, ErrItemAlreadySold))
	assert.False(t, errors.Is(err, ErrPaymentMismatch))

	var domainErr *Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "item-7", domainErr.ItemID)
	assert.Equal(t, KindItemAlreadySold, KindOf(err))
}

func TestPaymentMismatchCarriesSignedBalance(t *testing.T) {
	err := PaymentMismatch(decimal.RequireFromString("-0.5004"))

	var domainErr *Error
	require.True(t, errors.As(err, &domainErr))
	require.NotNil(t, domainErr.Balance)
	assert.Equal(t, "-0.500", domainErr.Balance.StringFixed(FilsPlaces))
}

func TestLineTotalAddsFlatLabor(t *testing.T) {
	total := LineTotal(
		decimal.RequireFromString("10.125"),
		decimal.RequireFromString("22.400"),
		decimal.RequireFromString("15"),
	)
	assert.Equal(t, "241.800", total.StringFixed(FilsPlaces))
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole("branch_manager")
	assert.True(t, ok)
	assert.Equal(t, RoleBranchManager, role)

	_, ok = ParseRole("admin")
	assert.False(t, ok)
	assert.Greater(t, RoleStoreOwner.Rank(), RoleBranchManager.Rank())
	assert.Greater(t, RoleBranchManager.Rank(), RoleSalesMan.Rank())
}

func TestParseKarat(t *testing.T) {
	for _, in := range []string{"21", "21k", " 21K "} {
		k, ok := ParseKarat(in)
		assert.True(t, ok, in)
		assert.Equal(t, Karat21, k)
	}
	_, ok := ParseKarat("14")
	assert.False(t, ok)
	_, ok = ParseKarat("")
	assert.False(t, ok)
}

func TestPriceSnapshotDecodesFeedContract(t *testing.T) {
	payload := `{"Gold":{"24K":24.5,"22K":22.45,"21K":21.4,"18K":18.35,"14K":14},"Silver":0.32,"updated_at":"2026-03-01T10:00:00Z"}`

	var snapshot PriceSnapshot
	require.NoError(t, json.Unmarshal([]byte(payload), &snapshot))

	rate, ok := snapshot.Rate(MetalGold, Karat21)
	require.True(t, ok)
	assert.Equal(t, "21.4", rate.String())

	_, ok = snapshot.Rate(MetalGold, Karat("14K"))
	assert.False(t, ok)

	silver, ok := snapshot.Rate(MetalSilver, "")
	require.True(t, ok)
	assert.Equal(t, "0.32", silver.String())

	_, ok = snapshot.Rate(MetalDiamond, "")
	assert.False(t, ok)
	assert.Equal(t, 2026, snapshot.UpdatedAt.Year())
}

func TestPriceSnapshotRejectsNegativeRates(t *testing.T) {
	var snapshot PriceSnapshot
	err := json.Unmarshal([]byte(`{"Gold":{"24K":-1}}`), &snapshot)
	assert.Error(t, err)
}

func TestPriceSnapshotEncodesNumbers(t *testing.T) {
	snapshot := PriceSnapshot{
		Gold: map[Karat]decimal.Decimal{Karat24: decimal.RequireFromString("24.5")},
		Flat: map[MetalType]decimal.Decimal{MetalSilver: decimal.RequireFromString("0.3")},
	}
	payload, err := json.Marshal(snapshot)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Gold":{"24K":24.5},"Silver":0.3}`, string(payload))
}
