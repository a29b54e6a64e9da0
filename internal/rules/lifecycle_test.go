package rules

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-guard/internal/domain"
	"merchant-guard/internal/storage"
)

func ago(d time.Duration) *time.Time {
	t := evalNow.Add(-d)
	return &t
}

func TestShouldDisable(t *testing.T) {
	tests := []struct {
		name string
		rule domain.Rule
		want bool
	}{
		{name: "low rate stale trigger", rule: domain.Rule{ActionRate: 40, LastTriggeredAt: ago(10 * 24 * time.Hour), Enabled: true}, want: true},
		{name: "low rate recent trigger", rule: domain.Rule{ActionRate: 40, LastTriggeredAt: ago(24 * time.Hour), Enabled: true}, want: false},
		{name: "never triggered", rule: domain.Rule{ActionRate: 0, Enabled: true}, want: false},
		{name: "rate at boundary", rule: domain.Rule{ActionRate: 50, LastTriggeredAt: ago(30 * 24 * time.Hour), Enabled: true}, want: false},
		{name: "exactly seven days", rule: domain.Rule{ActionRate: 10, LastTriggeredAt: ago(StaleAfter), Enabled: true}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldDisable(tt.rule, evalNow))
		})
	}
}

func seedStore(t *testing.T, repo *storage.Memory) uuid.UUID {
	t.Helper()
	store := &domain.Store{Name: "Demo", ShopDomain: "demo.myshopify.com", PaymentAccountID: "acct_1"}
	require.NoError(t, repo.InsertStore(context.Background(), store))
	return store.ID
}

func TestDisableIfNeededIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemory()
	storeID := seedStore(t, repo)

	rule := domain.Rule{StoreID: storeID, Type: domain.RuleRefundSpike, Name: "refunds", Enabled: true, ActionRate: 40}
	require.NoError(t, repo.InsertRule(ctx, &rule))
	require.NoError(t, repo.MarkRuleTriggered(ctx, rule.ID, evalNow.Add(-10*24*time.Hour)))
	rule, err := repo.GetRule(ctx, rule.ID)
	require.NoError(t, err)

	m := NewManager(repo, repo, func() time.Time { return evalNow }, zerolog.Nop())
	changed, err := m.DisableIfNeeded(ctx, rule)
	require.NoError(t, err)
	assert.True(t, changed)

	stored, err := repo.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)

	changed, err = m.DisableIfNeeded(ctx, stored)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReviewRefreshesRateBeforeDisabling(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemory()
	storeID := seedStore(t, repo)

	healthy := domain.Rule{StoreID: storeID, Type: domain.RulePaymentFailureStreak, Name: "streak", Enabled: true}
	stale := domain.Rule{StoreID: storeID, Type: domain.RuleRefundSpike, Name: "refunds", Enabled: true, ActionRate: 90}
	untouched := domain.Rule{StoreID: storeID, Type: domain.RuleUnfulfilled72h, Name: "unfulfilled", Enabled: true}
	for _, r := range []*domain.Rule{&healthy, &stale, &untouched} {
		require.NoError(t, repo.InsertRule(ctx, r))
		require.NoError(t, repo.MarkRuleTriggered(ctx, r.ID, evalNow.Add(-10*24*time.Hour)))
	}
	require.NoError(t, repo.MarkRuleTriggered(ctx, untouched.ID, evalNow.Add(-24*time.Hour)))

	// refund alerts: one of two actions succeeded on one alert, none on the other
	addAlertWithActions(t, repo, storeID, domain.RuleRefundSpike, 1, 2)
	addAlertWithActions(t, repo, storeID, domain.RuleRefundSpike, 0, 1)
	// streak alerts: all actions succeeded
	addAlertWithActions(t, repo, storeID, domain.RulePaymentFailureStreak, 2, 2)

	m := NewManager(repo, repo, func() time.Time { return evalNow }, zerolog.Nop())
	report, err := m.Review(ctx, storeID)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Reviewed)
	assert.Equal(t, 2, report.Refreshed)
	assert.Equal(t, []uuid.UUID{stale.ID}, report.Disabled)

	got, err := repo.GetRule(ctx, stale.ID)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, got.ActionRate, 1e-9)
	assert.False(t, got.Enabled)

	got, err = repo.GetRule(ctx, healthy.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, got.ActionRate, 1e-9)
	assert.True(t, got.Enabled)

	// no alerts with actions and a recent trigger
	got, err = repo.GetRule(ctx, untouched.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
}

func addAlertWithActions(t *testing.T, repo *storage.Memory, storeID uuid.UUID, ruleType domain.RuleType, succeeded, total int) {
	t.Helper()
	ctx := context.Background()
	alert := domain.Alert{StoreID: storeID, RuleType: ruleType, Title: "alert"}
	require.NoError(t, repo.InsertAlert(ctx, &alert))
	for i := 0; i < total; i++ {
		action := domain.Action{AlertID: alert.ID, Type: domain.ActionSendEmail}
		require.NoError(t, repo.InsertAction(ctx, &action))
		_, err := repo.TransitionAction(ctx, action.ID, domain.ActionPending, domain.ActionProcessing, nil, nil)
		require.NoError(t, err)
		to := domain.ActionFailed
		if i < succeeded {
			to = domain.ActionSuccessful
		}
		at := evalNow
		_, err = repo.TransitionAction(ctx, action.ID, domain.ActionProcessing, to, nil, &at)
		require.NoError(t, err)
	}
	_, _, err := repo.RecomputeActionRate(ctx, alert.ID)
	require.NoError(t, err)
}
