package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-guard/internal/alerts"
	"merchant-guard/internal/domain"
	"merchant-guard/internal/eventlog"
	"merchant-guard/internal/rules"
	"merchant-guard/internal/service"
	"merchant-guard/internal/storage"
)

func TestDecodeEnvelope(t *testing.T) {
	storeID := uuid.New()
	fallback := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	draft, err := Decode([]byte(`{"store_id":"`+storeID.String()+`","event_type":"refund.created","payload":{"id":123,"amount":"9.99"},"received_at":"2024-06-02T10:00:00+02:00"}`), fallback)
	require.NoError(t, err)
	assert.Equal(t, storeID, draft.StoreID)
	assert.Equal(t, domain.EventRefundCreated, draft.Type)
	assert.Equal(t, "123", draft.Payload.String("id"))
	assert.Equal(t, time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC), draft.ReceivedAt)
	assert.Equal(t, "kafka", draft.Source)

	draft, err = Decode([]byte(`{"store_id":"`+storeID.String()+`","event_type":"order.created"}`), fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, draft.ReceivedAt)
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"not json":   `{`,
		"bad store":  `{"store_id":"abc","event_type":"order.created"}`,
		"bad type":   `{"store_id":"` + uuid.NewString() + `","event_type":"cart.created"}`,
		"empty type": `{"store_id":"` + uuid.NewString() + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body), time.Now())
			var invalid *domain.ValidationError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.messages) > 0 {
		msg := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type scriptedIngester struct {
	mu     sync.Mutex
	calls  int
	errs   []error
	drafts []eventlog.Draft
	opts   []service.IngestOptions
}

func (s *scriptedIngester) Ingest(ctx context.Context, draft eventlog.Draft, opts service.IngestOptions) (service.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.drafts = append(s.drafts, draft)
	s.opts = append(s.opts, opts)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return service.IngestResult{}, err
	}
	return service.IngestResult{}, nil
}

func TestConsumerHandlesAndCommitsEveryMessage(t *testing.T) {
	storeID := uuid.NewString()
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte(`{"store_id":"` + storeID + `","event_type":"order.created","payload":{"id":1}}`)},
		{Offset: 2, Value: []byte(`garbage`)},
		{Offset: 3, Value: []byte(`{"store_id":"` + storeID + `","event_type":"payment_intent.payment_failed","payload":{"id":"pi_1"}}`)},
		{Offset: 4, Value: []byte(`{"store_id":"` + storeID + `","event_type":"refund.created","payload":{"id":2}}`)},
	}}
	ingester := &scriptedIngester{errs: []error{
		nil,
		errors.New("connection reset"),
		nil,
		domain.ErrNotFound,
	}}

	consumer := NewConsumer(reader, ingester, ConsumerOptions{
		Stages:       service.IngestOptions{Evaluate: true, Notify: true},
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return len(reader.committed) == 4
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
	assert.True(t, reader.closed)
	assert.Equal(t, 4, ingester.calls)
	assert.True(t, ingester.opts[0].Evaluate)
	assert.Equal(t, domain.EventPaymentFailed, ingester.drafts[1].Type)

	stats := consumer.Stats()
	assert.Equal(t, uint64(2), stats.Ingested)
	assert.Equal(t, uint64(2), stats.Rejected)
	assert.Equal(t, uint64(0), stats.Failed)
}

func TestConsumerGivesUpAfterRetries(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 7, Value: []byte(`{"store_id":"` + uuid.NewString() + `","event_type":"order.created"}`)},
	}}
	down := errors.New("database down")
	ingester := &scriptedIngester{errs: []error{down, down, down}}
	consumer := NewConsumer(reader, ingester, ConsumerOptions{MaxRetries: 2, RetryBackoff: time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()
	require.Eventually(t, func() bool { return consumer.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 3, ingester.calls)
}

func TestDecodeForDefaultsStore(t *testing.T) {
	fallbackStore := uuid.New()
	draft, err := DecodeFor([]byte(`{"event_type":"order.created","payload":{"id":1}}`), fallbackStore, time.Now())
	require.NoError(t, err)
	assert.Equal(t, fallbackStore, draft.StoreID)

	explicit := uuid.New()
	draft, err = DecodeFor([]byte(`{"store_id":"`+explicit.String()+`","event_type":"order.created"}`), fallbackStore, time.Now())
	require.NoError(t, err)
	assert.Equal(t, explicit, draft.StoreID)
}

// unreliableRepo fails the first appends before writing anything and the first
// store lookups after the append has landed.
type unreliableRepo struct {
	*storage.Memory
	mu           sync.Mutex
	appendErrs   int
	getStoreErrs int
}

func (u *unreliableRepo) AppendEvent(ctx context.Context, event *domain.Event, projection domain.Document, at time.Time) error {
	u.mu.Lock()
	if u.appendErrs > 0 {
		u.appendErrs--
		u.mu.Unlock()
		return errors.New("connection reset")
	}
	u.mu.Unlock()
	return u.Memory.AppendEvent(ctx, event, projection, at)
}

func (u *unreliableRepo) GetStore(ctx context.Context, id uuid.UUID) (domain.Store, error) {
	u.mu.Lock()
	if u.getStoreErrs > 0 {
		u.getStoreErrs--
		u.mu.Unlock()
		return domain.Store{}, errors.New("connection reset")
	}
	u.mu.Unlock()
	return u.Memory.GetStore(ctx, id)
}

func TestConsumerRetriesNeverDuplicateEvents(t *testing.T) {
	ctx := context.Background()
	repo := &unreliableRepo{Memory: storage.NewMemory()}
	store := &domain.Store{Name: "Demo", ShopDomain: "demo.myshopify.com", PaymentAccountID: "acct_1"}
	require.NoError(t, repo.InsertStore(ctx, store))

	clock := func() time.Time { return time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC) }
	pipeline := service.New(repo, service.Components{
		Events:    eventlog.New(repo, eventlog.Options{Now: clock}, zerolog.Nop()),
		Lifecycle: alerts.NewLifecycle(repo, repo, clock, zerolog.Nop()),
		Rules:     rules.NewManager(repo, repo, clock, zerolog.Nop()),
	}, service.Options{Now: clock}, zerolog.Nop())

	repo.appendErrs = 1
	repo.getStoreErrs = 1

	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte(`{"store_id":"` + store.ID.String() + `","event_type":"refund.created","payload":{"id":1,"amount":"5.00"}}`)},
		{Offset: 2, Value: []byte(`{"store_id":"` + store.ID.String() + `","event_type":"order.created","payload":{"id":2}}`)},
	}}
	consumer := NewConsumer(reader, pipeline, ConsumerOptions{
		Stages:       service.IngestOptions{Evaluate: true},
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, zerolog.Nop())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(runCtx) }()
	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return len(reader.committed) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	events, err := repo.ListEvents(ctx, storage.EventQuery{StoreID: store.ID})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventRefundCreated, events[0].Type)
	assert.Equal(t, domain.EventOrderCreated, events[1].Type)
	for _, ev := range events {
		assert.True(t, ev.Processed)
	}

	stats := consumer.Stats()
	assert.Equal(t, uint64(2), stats.Ingested)
	assert.Equal(t, uint64(0), stats.Failed)
}
