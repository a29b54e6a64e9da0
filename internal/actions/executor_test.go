package actions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-guard/internal/alerts"
	"merchant-guard/internal/domain"
	"merchant-guard/internal/storage"
)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type stubClients struct {
	Simulated
	refresh  func() (CallResult, error)
	retry    func() (CallResult, error)
	contacts []string
	mu       sync.Mutex
}

func (s *stubClients) RefreshOrder(ctx context.Context, store domain.Store, orderID string) (CallResult, error) {
	if s.refresh != nil {
		return s.refresh()
	}
	return s.Simulated.RefreshOrder(ctx, store, orderID)
}

func (s *stubClients) RetryPayment(ctx context.Context, store domain.Store, id string) (CallResult, error) {
	if s.retry != nil {
		return s.retry()
	}
	return s.Simulated.RetryPayment(ctx, store, id)
}

func (s *stubClients) ContactCustomer(ctx context.Context, store domain.Store, email string, alert domain.Alert) (CallResult, error) {
	s.mu.Lock()
	s.contacts = append(s.contacts, email)
	s.mu.Unlock()
	return CallResult{Success: true, Reference: "ticket-1"}, nil
}

type harness struct {
	repo      *storage.Memory
	lifecycle *alerts.Lifecycle
	executor  *Executor
	service   *Service
	clients   *stubClients
	storeID   uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := storage.NewMemory()
	store := &domain.Store{Name: "Demo", ShopDomain: "demo.myshopify.com", PaymentAccountID: "acct_1"}
	require.NoError(t, repo.InsertStore(context.Background(), store))

	clock := func() time.Time { return now }
	lifecycle := alerts.NewLifecycle(repo, repo, clock, zerolog.Nop())
	clients := &stubClients{Simulated: *NewSimulated(zerolog.Nop())}
	rem := Remediation{Orders: clients, Payments: clients, Mailer: clients}
	executor := NewExecutor(repo, lifecycle, rem, ExecutorOptions{Now: clock}, zerolog.Nop())
	queue := QueueFunc(ExecuteHandler(executor, zerolog.Nop()))

	return &harness{
		repo:      repo,
		lifecycle: lifecycle,
		executor:  executor,
		service:   NewService(repo, queue, executor, zerolog.Nop()),
		clients:   clients,
		storeID:   store.ID,
	}
}

func (h *harness) alert(t *testing.T, ruleType domain.RuleType, evidence domain.Document) domain.Alert {
	t.Helper()
	rule := domain.Rule{StoreID: h.storeID, Type: ruleType, Name: string(ruleType), Enabled: true}
	require.NoError(t, h.repo.InsertRule(context.Background(), &rule))
	alert, err := h.lifecycle.CreateFromTrigger(context.Background(), rule, evidence)
	require.NoError(t, err)
	return alert
}

func TestContactCustomerWithoutEmailFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alert := h.alert(t, domain.RulePaymentFailureStreak, domain.Document{"failure_count": 3})

	created, err := h.service.Create(ctx, alert.ID, domain.ActionContactCustomer, nil)
	require.NoError(t, err)

	action, err := h.repo.GetAction(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionFailed, action.Status)
	assert.Equal(t, "No customer email found", action.FailureReason())
	require.NotNil(t, action.ExecutedAt)
	assert.Equal(t, now, *action.ExecutedAt)

	updated, err := h.repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, updated.ActionRate)
	assert.Equal(t, 1, updated.ActionsTotal)
	assert.Equal(t, 0, updated.ActionsSucceeded)
	assert.Empty(t, h.clients.contacts)
}

func TestContactCustomerWithEmailSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alert := h.alert(t, domain.RulePaymentFailureStreak, domain.Document{"customer_email": "payer@example.com"})

	created, err := h.service.Create(ctx, alert.ID, domain.ActionContactCustomer, nil)
	require.NoError(t, err)

	action, err := h.repo.GetAction(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSuccessful, action.Status)
	assert.Equal(t, "ticket-1", action.Metadata["reference"])
	assert.Equal(t, []string{"payer@example.com"}, h.clients.contacts)

	updated, err := h.repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, updated.ActionRate)
}

func TestRefreshOrderOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		evidence domain.Document
		refresh  func() (CallResult, error)
		status   domain.ActionStatus
		reason   string
	}{
		{name: "success", evidence: domain.Document{"order_id": "1001"}, status: domain.ActionSuccessful},
		{name: "missing order id", evidence: domain.Document{}, status: domain.ActionFailed, reason: "No order id found"},
		{
			name:     "call error",
			evidence: domain.Document{"order_id": "1001"},
			refresh:  func() (CallResult, error) { return CallResult{}, errors.New("timeout") },
			status:   domain.ActionFailed,
			reason:   "refresh order failed: timeout",
		},
		{
			name:     "call reports failure",
			evidence: domain.Document{"order_id": "1001"},
			refresh:  func() (CallResult, error) { return CallResult{Success: false}, nil },
			status:   domain.ActionFailed,
			reason:   "Failed to refresh order",
		},
		{
			name:     "panic",
			evidence: domain.Document{"order_id": "1001"},
			refresh:  func() (CallResult, error) { panic("client exploded") },
			status:   domain.ActionFailed,
			reason:   "panic: client exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.clients.refresh = tt.refresh
			alert := h.alert(t, domain.RuleRefundSpike, tt.evidence)

			created, err := h.service.Create(context.Background(), alert.ID, domain.ActionRefreshOrder, nil)
			require.NoError(t, err)
			action, err := h.repo.GetAction(context.Background(), created.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, action.Status)
			assert.Equal(t, tt.reason, action.FailureReason())
		})
	}
}

func TestMarkResolvedResolvesAndCalculatesSavings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alert := h.alert(t, domain.RuleUnfulfilled72h, domain.Document{"order_id": "1001", "order_value": "500"})

	created, err := h.service.Create(ctx, alert.ID, domain.ActionMarkResolved, domain.Document{"actor": "ops@example.com"})
	require.NoError(t, err)

	action, err := h.repo.GetAction(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSuccessful, action.Status)
	assert.Equal(t, "50.00", action.Metadata["money_saved"])

	resolved, err := h.repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertResolved, resolved.Status)
	assert.Equal(t, "ops@example.com", resolved.ResolvedBy)
	require.NotNil(t, resolved.TimeSaved)
	assert.Equal(t, 60, *resolved.TimeSaved)
	assert.Equal(t, 100.0, resolved.ActionRate)

	// a second mark-resolved cannot resolve again and fails
	second, err := h.service.Create(ctx, alert.ID, domain.ActionMarkResolved, nil)
	require.NoError(t, err)
	again, err := h.repo.GetAction(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionFailed, again.Status)

	final, err := h.repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, final.ActionRate)
}

func TestExecuteRunsOnlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alert := h.alert(t, domain.RuleRefundSpike, domain.Document{"order_id": "1001"})

	action := domain.Action{AlertID: alert.ID, Type: domain.ActionSendEmail}
	require.NoError(t, h.repo.InsertAction(ctx, &action))

	first, err := h.executor.Execute(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSuccessful, first.Status)

	_, err = h.executor.Execute(ctx, action.ID)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	updated, err := h.repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ActionsSucceeded)
}

func TestCreateRejectsUnknownAlertAndType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.Create(ctx, uuid.New(), domain.ActionSendEmail, nil)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	alert := h.alert(t, domain.RuleRefundSpike, nil)
	_, err = h.service.Create(ctx, alert.ID, domain.ActionType("refund_everything"), nil)
	var invalid *domain.ValidationError
	assert.True(t, errors.As(err, &invalid))
}

type refusingQueue struct{}

func (refusingQueue) Enqueue(context.Context, uuid.UUID) error { return ErrPoolStopped }

func TestCreateFailsActionWhenQueueRefuses(t *testing.T) {
	h := newHarness(t)
	h.service.SetQueue(refusingQueue{})
	alert := h.alert(t, domain.RuleRefundSpike, domain.Document{"order_id": "1"})

	action, err := h.service.Create(context.Background(), alert.ID, domain.ActionRefreshOrder, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionFailed, action.Status)
	assert.Contains(t, action.FailureReason(), "action pool stopped")
}

func TestConcurrentActionsKeepRateConsistent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alert := h.alert(t, domain.RulePaymentFailureStreak, domain.Document{"customer_email": "payer@example.com"})

	var calls sync.Mutex
	n := 0
	h.clients.retry = func() (CallResult, error) {
		calls.Lock()
		defer calls.Unlock()
		n++
		return CallResult{Success: n%2 == 0}, nil
	}

	pool := NewPool(PoolConfig{Workers: 8, QueueSize: 64, Handler: ExecuteHandler(h.executor, zerolog.Nop())}, zerolog.Nop())
	pool.Start()
	h.service.SetQueue(pool)

	const total = 40
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.service.Create(ctx, alert.ID, domain.ActionRetryPayment, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	pool.Stop()

	actions, err := h.repo.ListActions(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, actions, total)
	succeeded := 0
	for _, a := range actions {
		require.True(t, a.Status.Terminal(), "action %s left in %s", a.ID, a.Status)
		if a.Status == domain.ActionSuccessful {
			succeeded++
		}
	}
	assert.Equal(t, total/2, succeeded)

	updated, err := h.repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, total, updated.ActionsTotal)
	assert.Equal(t, succeeded, updated.ActionsSucceeded)
	assert.InDelta(t, 50.0, updated.ActionRate, 1e-9)
	assert.Equal(t, uint64(total), pool.Stats().Processed)
}

// flakyOutcomes rejects work on a cancelled context the way a database driver does
// and fails the first terminal writes with a transient error.
type flakyOutcomes struct {
	*storage.Memory
	mu         sync.Mutex
	failures   int
	terminalTx int
}

func (f *flakyOutcomes) TransitionAction(ctx context.Context, id uuid.UUID, from, to domain.ActionStatus, patch domain.Document, executedAt *time.Time) (domain.Action, error) {
	if err := ctx.Err(); err != nil {
		return domain.Action{}, err
	}
	if to.Terminal() {
		f.mu.Lock()
		f.terminalTx++
		if f.failures > 0 {
			f.failures--
			f.mu.Unlock()
			return domain.Action{}, errors.New("connection reset")
		}
		f.mu.Unlock()
	}
	return f.Memory.TransitionAction(ctx, id, from, to, patch, executedAt)
}

func newFlakyExecutor(t *testing.T, h *harness, failures, attempts int) (*Executor, *flakyOutcomes) {
	t.Helper()
	store := &flakyOutcomes{Memory: h.repo, failures: failures}
	rem := Remediation{Orders: h.clients, Payments: h.clients, Mailer: h.clients}
	executor := NewExecutor(store, h.lifecycle, rem, ExecutorOptions{
		Now:            func() time.Time { return now },
		RecordAttempts: attempts,
		RecordBackoff:  time.Millisecond,
	}, zerolog.Nop())
	return executor, store
}

func TestExecuteRecordsOutcomeAfterCancelAndTransientErrors(t *testing.T) {
	h := newHarness(t)
	alert := h.alert(t, domain.RuleRefundSpike, domain.Document{"order_id": "1001"})
	action := domain.Action{AlertID: alert.ID, Type: domain.ActionRefreshOrder}
	require.NoError(t, h.repo.InsertAction(context.Background(), &action))

	ctx, cancel := context.WithCancel(context.Background())
	h.clients.refresh = func() (CallResult, error) {
		cancel()
		return CallResult{Success: true}, nil
	}
	executor, store := newFlakyExecutor(t, h, 2, 5)

	final, err := executor.Execute(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSuccessful, final.Status)
	assert.Equal(t, 3, store.terminalTx)

	stored, err := h.repo.GetAction(context.Background(), action.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSuccessful, stored.Status)

	updated, err := h.repo.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, updated.ActionRate)
}

func TestExecuteStopsRetryingOutcomeAfterAttempts(t *testing.T) {
	h := newHarness(t)
	alert := h.alert(t, domain.RuleRefundSpike, domain.Document{"order_id": "1001"})
	action := domain.Action{AlertID: alert.ID, Type: domain.ActionSendEmail}
	require.NoError(t, h.repo.InsertAction(context.Background(), &action))

	executor, store := newFlakyExecutor(t, h, 10, 3)

	_, err := executor.Execute(context.Background(), action.ID)
	require.Error(t, err)
	assert.Equal(t, 3, store.terminalTx)
}
