package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/internal/agent"
	"github.com/spec-kit/support-pipeline/internal/classifier"
	"github.com/spec-kit/support-pipeline/internal/config"
	"github.com/spec-kit/support-pipeline/internal/domain"
	"github.com/spec-kit/support-pipeline/internal/events"
	"github.com/spec-kit/support-pipeline/internal/observability"
	"github.com/spec-kit/support-pipeline/internal/queue"
	"github.com/spec-kit/support-pipeline/internal/service"
	"github.com/spec-kit/support-pipeline/pkg/util"
)

var pgconnUniqueViolation = pgconn.PgError{Code: "23505"}

type fakeSource struct {
	acked []string
}

func (f *fakeSource) EnsureGroup(context.Context) error { return nil }

func (f *fakeSource) Fetch(context.Context) ([]queue.Delivery, error) { return nil, nil }
func (f *fakeSource) Ack(_ context.Context, id string) error {
	f.acked = append(f.acked, id)
	return nil
}

type fakeDeadLetters struct {
	published []*queue.DeadLetterEvent
}

func (f *fakeDeadLetters) PublishDeadLetter(_ context.Context, event *queue.DeadLetterEvent) (string, error) {
	f.published = append(f.published, event)
	return fmt.Sprintf("dlq-%d", len(f.published)), nil
}

type fakeDedup struct {
	duplicate bool
	calls     int
}

func (f *fakeDedup) IsDuplicate(context.Context, domain.MessageChannel, string) bool {
	f.calls++
	return f.duplicate
}

type fakeIdentity struct {
	customer   *domain.Customer
	known      *domain.Customer
	linked     []string
	contacts   int
	sentiments []float64
	resolveErr error
}

func (f *fakeIdentity) ResolveOrCreateCustomer(_ context.Context, _ domain.IdentifierType, _ string, _ *string, _ time.Time) (*domain.Customer, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.customer, nil
}

func (f *fakeIdentity) ResolveByAnyIdentifier(context.Context, *string, *string, *string) (*domain.Customer, error) {
	return f.known, nil
}

func (f *fakeIdentity) LinkIdentifier(_ context.Context, _ string, _ domain.IdentifierType, value string) error {
	f.linked = append(f.linked, value)
	return nil
}

func (f *fakeIdentity) RecordContact(context.Context, string, time.Time) error {
	f.contacts++
	return nil
}

func (f *fakeIdentity) ApplySentiment(_ context.Context, _ string, score float64) error {
	f.sentiments = append(f.sentiments, score)
	return nil
}

type fakeSessions struct {
	conv       *domain.Conversation
	resolveErr error
	repairs    int
	sentiments []float64
}

func (f *fakeSessions) ResolveOrOpenConversation(context.Context, string, domain.MessageChannel, time.Time) (*domain.Conversation, bool, error) {
	if f.resolveErr != nil {
		return nil, false, f.resolveErr
	}
	return f.conv, false, nil
}

func (f *fakeSessions) RepairDuplicateSessions(context.Context, string, time.Time) error {
	f.repairs++
	return nil
}

func (f *fakeSessions) RecordSentiment(_ context.Context, _ string, sentiment float64) error {
	f.sentiments = append(f.sentiments, sentiment)
	return nil
}

type escalationCall struct {
	reason   domain.EscalationReason
	priority domain.TicketPriority
}

type fakeTickets struct {
	ticket      *domain.Ticket
	created     bool
	escalations []escalationCall
	escalateErr error
	inProgress  int
}

func (f *fakeTickets) EnsureTicket(context.Context, string, string, domain.MessageChannel, classifier.Result, time.Time) (*domain.Ticket, bool, error) {
	return f.ticket, f.created, nil
}

func (f *fakeTickets) Escalate(_ context.Context, _ *domain.Ticket, reason domain.EscalationReason, priority domain.TicketPriority, _ time.Time) error {
	if f.escalateErr != nil {
		return f.escalateErr
	}
	f.escalations = append(f.escalations, escalationCall{reason: reason, priority: priority})
	return nil
}

func (f *fakeTickets) MarkInProgress(context.Context, string) error {
	f.inProgress++
	return nil
}

type fakeResponder struct {
	reply    *agent.Reply
	err      error
	failures int
	calls    int
}

func (f *fakeResponder) Respond(context.Context, agent.ConversationContext) (*agent.Reply, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, util.NewTransientError("engine unavailable", errors.New("503"))
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

type fakeMessages struct {
	stored    []*domain.Message
	createErr error
	nextID    int
}

func (f *fakeMessages) Create(_ context.Context, msg *domain.Message) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	msg.ID = fmt.Sprintf("msg-%d", f.nextID)
	f.stored = append(f.stored, msg)
	return nil
}

func (f *fakeMessages) ExistsByDedupKey(_ context.Context, channel domain.MessageChannel, channelMessageID string) (bool, error) {
	for _, msg := range f.stored {
		if msg.Channel == channel && msg.ChannelMessageID != nil && *msg.ChannelMessageID == channelMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMessages) ListByConversation(context.Context, string) ([]domain.Message, error) {
	var out []domain.Message
	for _, msg := range f.stored {
		out = append(out, *msg)
	}
	return out, nil
}

func (f *fakeMessages) Repoint(context.Context, string, string) error { return nil }

type workerFixture struct {
	worker      *IngestWorker
	source      *fakeSource
	deadLetters *fakeDeadLetters
	dedup       *fakeDedup
	identity    *fakeIdentity
	sessions    *fakeSessions
	tickets     *fakeTickets
	responder   *fakeResponder
	messages    *fakeMessages
	metrics     *observability.Metrics
	slept       *[]time.Duration
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	f := &workerFixture{
		source:      &fakeSource{},
		deadLetters: &fakeDeadLetters{},
		dedup:       &fakeDedup{},
		identity: &fakeIdentity{
			customer: &domain.Customer{ID: "cust-1", SentimentScore: 0.5},
		},
		sessions: &fakeSessions{
			conv: &domain.Conversation{ID: "conv-1", CustomerID: "cust-1", InitialChannel: domain.ChannelEmail, Status: domain.ConversationActive},
		},
		tickets: &fakeTickets{
			ticket:  &domain.Ticket{ID: "ticket-1", ConversationID: "conv-1", CustomerID: "cust-1", Status: domain.TicketStatusOpen},
			created: true,
		},
		responder: &fakeResponder{reply: &agent.Reply{Text: "happy to help"}},
		messages:  &fakeMessages{},
		metrics:   observability.NewMetrics(),
		slept:     &[]time.Duration{},
	}

	cfg := config.WorkerConfig{MaxAttempts: 3, BackoffBaseMS: 100, BackoffMaxMS: 1000, JitterFraction: 0}
	agentCfg := config.AgentConfig{TimeoutSeconds: 5}

	f.worker = NewIngestWorker(Dependencies{
		Source:      f.source,
		DeadLetters: f.deadLetters,
		Dedup:       f.dedup,
		Identity:    f.identity,
		Sessions:    f.sessions,
		Tickets:     f.tickets,
		Messages:    f.messages,
		Responder:   f.responder,
		Dispatcher:  events.NewInMemoryDispatcher(zap.NewNop()),
		Metrics:     f.metrics,
	}, cfg, agentCfg, zap.NewNop())
	f.worker.sleep = func(d time.Duration) { *f.slept = append(*f.slept, d) }

	return f
}

func delivery(t *testing.T, event queue.IncomingEvent) queue.Delivery {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return queue.Delivery{ID: "1-0", Payload: payload}
}

func validEvent() queue.IncomingEvent {
	return queue.IncomingEvent{
		Channel:            domain.ChannelEmail,
		ChannelMessageID:   "em-1",
		CustomerIdentifier: "ada@example.com",
		Content:            "where is my order",
		Timestamp:          time.Now(),
	}
}

func TestHandleDeliveryHappyPath(t *testing.T) {
	f := newWorkerFixture(t)

	f.worker.handleDelivery(context.Background(), delivery(t, validEvent()))

	assert.Equal(t, []string{"1-0"}, f.source.acked)
	assert.Empty(t, f.deadLetters.published)
	assert.Equal(t, 1, f.identity.contacts)
	assert.Equal(t, 1, f.sessions.repairs)
	assert.Equal(t, 1, f.responder.calls)
	assert.Equal(t, 1, f.tickets.inProgress)

	// Inbound customer message plus the outbound reply.
	require.Len(t, f.messages.stored, 2)
	assert.Equal(t, domain.DirectionInbound, f.messages.stored[0].Direction)
	assert.Equal(t, domain.DirectionOutbound, f.messages.stored[1].Direction)
	assert.Equal(t, domain.RoleAgent, f.messages.stored[1].Role)
}

func TestHandleDeliveryMalformedPayloadDeadLetters(t *testing.T) {
	f := newWorkerFixture(t)

	f.worker.handleDelivery(context.Background(), queue.Delivery{ID: "1-0", Payload: []byte("{not json")})

	require.Len(t, f.deadLetters.published, 1)
	assert.Equal(t, "ingest_worker", f.deadLetters.published[0].Source)
	assert.Equal(t, []string{"1-0"}, f.source.acked)
	assert.Equal(t, 0, f.dedup.calls)
	assert.Empty(t, *f.slept)
	assert.Equal(t, int64(1), f.metrics.Get(observability.MetricDeadLettered))
}

func TestHandleDeliveryValidationFailureSkipsRetries(t *testing.T) {
	f := newWorkerFixture(t)
	event := validEvent()
	event.CustomerIdentifier = ""

	f.worker.handleDelivery(context.Background(), delivery(t, event))

	require.Len(t, f.deadLetters.published, 1)
	assert.Equal(t, []string{"1-0"}, f.source.acked)
	assert.Equal(t, 0, f.dedup.calls)
	assert.Empty(t, *f.slept)
}

func TestHandleDeliveryRetriesThenDeadLetters(t *testing.T) {
	f := newWorkerFixture(t)
	f.sessions.resolveErr = util.NewTransientError("db down", errors.New("connection refused"))

	f.worker.handleDelivery(context.Background(), delivery(t, validEvent()))

	// MaxAttempts is 3: two sleeps between attempts, then dead-letter and ack.
	require.Len(t, *f.slept, 2)
	assert.Less(t, (*f.slept)[0], (*f.slept)[1])
	require.Len(t, f.deadLetters.published, 1)
	assert.Contains(t, f.deadLetters.published[0].Error, "db down")
	assert.Equal(t, []string{"1-0"}, f.source.acked)
	assert.Equal(t, int64(2), f.metrics.Get(observability.MetricRetries))
	assert.Equal(t, int64(1), f.metrics.Get(observability.MetricDeadLettered))
}

func TestHandleDeliveryNonRetriableFailsFast(t *testing.T) {
	f := newWorkerFixture(t)
	f.sessions.resolveErr = util.NewConflictError("unresolvable", errors.New("constraint"))

	f.worker.handleDelivery(context.Background(), delivery(t, validEvent()))

	assert.Empty(t, *f.slept)
	require.Len(t, f.deadLetters.published, 1)
	assert.Equal(t, []string{"1-0"}, f.source.acked)
}

func TestHandleDeliveryDuplicateSkipsProcessing(t *testing.T) {
	f := newWorkerFixture(t)
	f.dedup.duplicate = true

	f.worker.handleDelivery(context.Background(), delivery(t, validEvent()))

	assert.Equal(t, []string{"1-0"}, f.source.acked)
	assert.Empty(t, f.messages.stored)
	assert.Equal(t, 0, f.responder.calls)
	assert.Equal(t, int64(1), f.metrics.Get(observability.MetricDuplicates))
}

func TestProcessEventDuplicateInsertBackstop(t *testing.T) {
	f := newWorkerFixture(t)
	f.messages.createErr = &pgconnUniqueViolation

	event := validEvent()
	err := f.worker.processEvent(context.Background(), &event, &pipelineState{})

	require.NoError(t, err)
	assert.Equal(t, 0, f.responder.calls)
	assert.Equal(t, int64(1), f.metrics.Get(observability.MetricDuplicates))
}

func TestProcessEventKnownCustomerLinksIdentifier(t *testing.T) {
	f := newWorkerFixture(t)
	f.identity.known = &domain.Customer{ID: "cust-9", SentimentScore: 0.5}

	event := validEvent()
	require.NoError(t, f.worker.processEvent(context.Background(), &event, &pipelineState{}))

	assert.Equal(t, []string{"ada@example.com"}, f.identity.linked)
}

func TestProcessEventEscalatesOnClassifierTrigger(t *testing.T) {
	f := newWorkerFixture(t)
	f.tickets.created = false // existing ticket, so the worker escalates explicitly

	event := validEvent()
	event.Content = "I want a refund right now"
	require.NoError(t, f.worker.processEvent(context.Background(), &event, &pipelineState{}))

	require.Len(t, f.tickets.escalations, 1)
	assert.Equal(t, domain.ReasonRefundRequest, f.tickets.escalations[0].reason)
	assert.Equal(t, domain.TicketPriorityHigh, f.tickets.escalations[0].priority)
}

func TestProcessEventHonorsEngineEscalation(t *testing.T) {
	f := newWorkerFixture(t)
	f.responder.reply = &agent.Reply{Text: "let me get a specialist", Escalate: true}

	event := validEvent()
	require.NoError(t, f.worker.processEvent(context.Background(), &event, &pipelineState{}))

	require.Len(t, f.tickets.escalations, 1)
	assert.Equal(t, domain.ReasonAgentRequested, f.tickets.escalations[0].reason)
	assert.Equal(t, 0, f.tickets.inProgress)
}

func TestProcessEventAppliesReplySentiment(t *testing.T) {
	f := newWorkerFixture(t)
	score := 0.4
	f.responder.reply = &agent.Reply{Text: "sorry about that", Sentiment: &score}

	event := validEvent()
	require.NoError(t, f.worker.processEvent(context.Background(), &event, &pipelineState{}))

	assert.Equal(t, []float64{0.4}, f.identity.sentiments)
	assert.Equal(t, []float64{0.4}, f.sessions.sentiments)
}

func TestProcessEventResponderFailureIsRetriable(t *testing.T) {
	f := newWorkerFixture(t)
	f.responder.err = util.NewTransientError("engine unavailable", errors.New("503"))

	event := validEvent()
	err := f.worker.processEvent(context.Background(), &event, &pipelineState{})

	require.Error(t, err)
	assert.True(t, util.IsRetriable(err))
}

func TestHandleDeliveryRetriesHandoffAfterInboundStored(t *testing.T) {
	f := newWorkerFixture(t)
	// A real existence-backed guard: once attempt one stores the inbound
	// message, a per-attempt check would report the delivery as its own
	// duplicate and ack without ever reaching the engine again.
	f.worker.dedup = service.NewDedupGuard(f.messages, zap.NewNop())
	f.responder.failures = 3

	f.worker.handleDelivery(context.Background(), delivery(t, validEvent()))

	assert.Equal(t, 3, f.responder.calls)
	require.Len(t, f.deadLetters.published, 1)
	assert.Contains(t, f.deadLetters.published[0].Error, "engine unavailable")
	assert.Equal(t, []string{"1-0"}, f.source.acked)
	require.Len(t, f.messages.stored, 1)
	assert.Equal(t, domain.DirectionInbound, f.messages.stored[0].Direction)
	assert.Equal(t, int64(2), f.metrics.Get(observability.MetricRetries))
	assert.Equal(t, int64(0), f.metrics.Get(observability.MetricDuplicates))
}

func TestHandleDeliveryCompletesHandoffOnRetry(t *testing.T) {
	f := newWorkerFixture(t)
	f.worker.dedup = service.NewDedupGuard(f.messages, zap.NewNop())
	f.responder.failures = 1

	f.worker.handleDelivery(context.Background(), delivery(t, validEvent()))

	assert.Equal(t, 2, f.responder.calls)
	assert.Empty(t, f.deadLetters.published)
	assert.Equal(t, []string{"1-0"}, f.source.acked)
	assert.Equal(t, 1, f.tickets.inProgress)

	// The retry resumes after the store: one inbound row, then the reply.
	require.Len(t, f.messages.stored, 2)
	assert.Equal(t, domain.DirectionInbound, f.messages.stored[0].Direction)
	assert.Equal(t, domain.DirectionOutbound, f.messages.stored[1].Direction)
	assert.Equal(t, int64(1), f.metrics.Get(observability.MetricRetries))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	f := newWorkerFixture(t)

	assert.Equal(t, 100*time.Millisecond, f.worker.backoff(1))
	assert.Equal(t, 200*time.Millisecond, f.worker.backoff(2))
	assert.Equal(t, 400*time.Millisecond, f.worker.backoff(3))
	assert.Equal(t, 800*time.Millisecond, f.worker.backoff(4))
	// Capped at the configured maximum.
	assert.Equal(t, time.Second, f.worker.backoff(5))
	assert.Equal(t, time.Second, f.worker.backoff(12))
}

func TestBackoffJitterStaysWithinBound(t *testing.T) {
	f := newWorkerFixture(t)
	f.worker.cfg.JitterFraction = 0.2

	for i := 0; i < 50; i++ {
		d := f.worker.backoff(2)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.Less(t, d, 240*time.Millisecond)
	}
}
