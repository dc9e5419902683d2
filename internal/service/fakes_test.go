package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/support-pipeline/internal/domain"
	"github.com/spec-kit/support-pipeline/internal/queue"
)

var errForced = fmt.Errorf("forced failure")

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

// fakeCustomerRepo is an in-memory CustomerRepository.
type fakeCustomerRepo struct {
	customers   map[string]*domain.Customer
	identifiers map[string]string // "type|value" -> customer id
	nextID      int

	failCreateOnce bool
	failAddOnce    bool
	hideLookupOnce bool
	lookupErr      error
}

func newFakeCustomerRepo() *fakeCustomerRepo {
	return &fakeCustomerRepo{
		customers:   map[string]*domain.Customer{},
		identifiers: map[string]string{},
	}
}

func identKey(t domain.IdentifierType, v string) string {
	return string(t) + "|" + v
}

func (f *fakeCustomerRepo) CreateWithIdentifier(_ context.Context, customer *domain.Customer, ident *domain.Identifier) error {
	if f.failCreateOnce {
		f.failCreateOnce = false
		return uniqueViolation()
	}
	if _, taken := f.identifiers[identKey(ident.Type, ident.Value)]; taken {
		return uniqueViolation()
	}
	f.nextID++
	customer.ID = fmt.Sprintf("cust-%d", f.nextID)
	f.customers[customer.ID] = customer
	f.identifiers[identKey(ident.Type, ident.Value)] = customer.ID
	return nil
}

func (f *fakeCustomerRepo) GetByID(_ context.Context, id string) (*domain.Customer, error) {
	if c, ok := f.customers[id]; ok {
		return c, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeCustomerRepo) GetByIdentifier(_ context.Context, identType domain.IdentifierType, value string) (*domain.Customer, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if f.hideLookupOnce {
		f.hideLookupOnce = false
		return nil, pgx.ErrNoRows
	}
	if id, ok := f.identifiers[identKey(identType, value)]; ok {
		return f.customers[id], nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeCustomerRepo) GetByAnyIdentifier(_ context.Context, email, phone, whatsapp *string) (*domain.Customer, error) {
	candidates := map[domain.IdentifierType]*string{
		domain.IdentifierTypeEmail:    email,
		domain.IdentifierTypePhone:    phone,
		domain.IdentifierTypeWhatsApp: whatsapp,
	}
	for identType, value := range candidates {
		if value == nil {
			continue
		}
		if id, ok := f.identifiers[identKey(identType, *value)]; ok {
			return f.customers[id], nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeCustomerRepo) AddIdentifier(_ context.Context, ident *domain.Identifier) error {
	if f.failAddOnce {
		f.failAddOnce = false
		return uniqueViolation()
	}
	key := identKey(ident.Type, ident.Value)
	if _, taken := f.identifiers[key]; taken {
		return uniqueViolation()
	}
	f.identifiers[key] = ident.CustomerID
	return nil
}

func (f *fakeCustomerRepo) RecordContact(_ context.Context, customerID string, at time.Time) error {
	c, ok := f.customers[customerID]
	if !ok {
		return pgx.ErrNoRows
	}
	c.TotalInteractions++
	if c.FirstContactAt == nil {
		c.FirstContactAt = &at
	}
	c.LastContactAt = &at
	return nil
}

func (f *fakeCustomerRepo) UpdateSentiment(_ context.Context, customerID string, score float64) error {
	c, ok := f.customers[customerID]
	if !ok {
		return pgx.ErrNoRows
	}
	c.SentimentScore = c.SentimentScore*0.7 + score*0.3
	return nil
}

func (f *fakeCustomerRepo) IncrementEscalations(_ context.Context, customerID string) error {
	c, ok := f.customers[customerID]
	if !ok {
		return pgx.ErrNoRows
	}
	c.EscalationCount++
	return nil
}

func (f *fakeCustomerRepo) seed(identType domain.IdentifierType, value string) *domain.Customer {
	f.nextID++
	c := &domain.Customer{ID: fmt.Sprintf("cust-%d", f.nextID), SentimentScore: 0.5}
	f.customers[c.ID] = c
	f.identifiers[identKey(identType, value)] = c.ID
	return c
}

// fakeConversationRepo is an in-memory ConversationRepository enforcing the
// one-active-conversation-per-customer constraint.
type fakeConversationRepo struct {
	conversations []*domain.Conversation
	nextID        int

	failCreateOnce bool
	hideActiveOnce bool
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{}
}

// cloneConversation mirrors the real repository, which returns freshly
// scanned rows rather than aliases into shared state.
func cloneConversation(conv *domain.Conversation) *domain.Conversation {
	snapshot := *conv
	snapshot.ChannelSwitches = append([]domain.ChannelSwitch(nil), conv.ChannelSwitches...)
	return &snapshot
}

func (f *fakeConversationRepo) Create(_ context.Context, conv *domain.Conversation) error {
	if f.failCreateOnce {
		f.failCreateOnce = false
		return uniqueViolation()
	}
	for _, existing := range f.conversations {
		if existing.CustomerID == conv.CustomerID && existing.IsActive() {
			return uniqueViolation()
		}
	}
	f.nextID++
	conv.ID = fmt.Sprintf("conv-%d", f.nextID)
	f.conversations = append(f.conversations, conv)
	return nil
}

func (f *fakeConversationRepo) GetByID(_ context.Context, id string) (*domain.Conversation, error) {
	for _, conv := range f.conversations {
		if conv.ID == id {
			return cloneConversation(conv), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeConversationRepo) FindActiveByCustomer(_ context.Context, customerID string, startedAfter time.Time) (*domain.Conversation, error) {
	if f.hideActiveOnce {
		f.hideActiveOnce = false
		return nil, pgx.ErrNoRows
	}
	for _, conv := range f.conversations {
		if conv.CustomerID == customerID && conv.IsActive() && conv.StartedAt.After(startedAfter) {
			return cloneConversation(conv), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeConversationRepo) ListActiveByCustomer(_ context.Context, customerID string) ([]domain.Conversation, error) {
	var active []domain.Conversation
	for _, conv := range f.conversations {
		if conv.CustomerID == customerID && conv.IsActive() {
			active = append(active, *conv)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].StartedAt.Before(active[j].StartedAt) })
	return active, nil
}

func (f *fakeConversationRepo) AppendChannelSwitch(_ context.Context, conversationID string, sw domain.ChannelSwitch) error {
	for _, conv := range f.conversations {
		if conv.ID == conversationID {
			conv.ChannelSwitches = append(conv.ChannelSwitches, sw)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (f *fakeConversationRepo) Close(_ context.Context, conversationID string, endedAt time.Time) error {
	for _, conv := range f.conversations {
		if conv.ID == conversationID && conv.IsActive() {
			conv.Status = domain.ConversationClosed
			conv.EndedAt = &endedAt
		}
	}
	return nil
}

func (f *fakeConversationRepo) UpdateSentiment(_ context.Context, conversationID string, sentiment float64) error {
	for _, conv := range f.conversations {
		if conv.ID == conversationID {
			conv.OverallSentiment = &sentiment
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (f *fakeConversationRepo) seed(customerID string, channel domain.MessageChannel, startedAt time.Time, status domain.ConversationStatus) *domain.Conversation {
	f.nextID++
	conv := &domain.Conversation{
		ID:             fmt.Sprintf("conv-%d", f.nextID),
		CustomerID:     customerID,
		InitialChannel: channel,
		Status:         status,
		StartedAt:      startedAt,
	}
	f.conversations = append(f.conversations, conv)
	return conv
}

// fakeMessageRepo is an in-memory MessageRepository enforcing the dedup key.
type fakeMessageRepo struct {
	messages []*domain.Message
	nextID   int

	existsErr error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{}
}

func (f *fakeMessageRepo) Create(_ context.Context, msg *domain.Message) error {
	if msg.ChannelMessageID != nil {
		for _, existing := range f.messages {
			if existing.ChannelMessageID != nil &&
				existing.Channel == msg.Channel &&
				*existing.ChannelMessageID == *msg.ChannelMessageID {
				return uniqueViolation()
			}
		}
	}
	f.nextID++
	msg.ID = fmt.Sprintf("msg-%d", f.nextID)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeMessageRepo) ExistsByDedupKey(_ context.Context, channel domain.MessageChannel, channelMessageID string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	for _, msg := range f.messages {
		if msg.Channel == channel && msg.ChannelMessageID != nil && *msg.ChannelMessageID == channelMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMessageRepo) ListByConversation(_ context.Context, conversationID string) ([]domain.Message, error) {
	var out []domain.Message
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeMessageRepo) Repoint(_ context.Context, fromConversationID, toConversationID string) error {
	for _, msg := range f.messages {
		if msg.ConversationID == fromConversationID {
			msg.ConversationID = toConversationID
		}
	}
	return nil
}

func (f *fakeMessageRepo) countIn(conversationID string) int {
	n := 0
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID {
			n++
		}
	}
	return n
}

// fakeTicketRepo is an in-memory TicketRepository with CAS semantics.
type fakeTicketRepo struct {
	tickets []*domain.Ticket
	nextID  int
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{}
}

func (f *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	f.nextID++
	ticket.ID = fmt.Sprintf("ticket-%d", f.nextID)
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now()
	}
	f.tickets = append(f.tickets, ticket)
	return nil
}

func (f *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	for _, t := range f.tickets {
		if t.ID == id {
			snapshot := *t
			return &snapshot, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeTicketRepo) GetLatestByConversation(_ context.Context, conversationID string) (*domain.Ticket, error) {
	for i := len(f.tickets) - 1; i >= 0; i-- {
		if f.tickets[i].ConversationID == conversationID {
			snapshot := *f.tickets[i]
			return &snapshot, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeTicketRepo) EscalateCAS(_ context.Context, id string, reason domain.EscalationReason, priority domain.TicketPriority) (bool, error) {
	for _, t := range f.tickets {
		if t.ID != id {
			continue
		}
		if t.Status != domain.TicketStatusOpen && t.Status != domain.TicketStatusInProgress {
			return false, nil
		}
		r := reason
		t.Status = domain.TicketStatusEscalated
		t.Priority = priority
		t.EscalationReason = &r
		return true, nil
	}
	return false, nil
}

func (f *fakeTicketRepo) ResolveCAS(_ context.Context, id string, resolvedAt time.Time) (bool, error) {
	for _, t := range f.tickets {
		if t.ID != id {
			continue
		}
		if t.Status != domain.TicketStatusOpen && t.Status != domain.TicketStatusInProgress {
			return false, nil
		}
		t.Status = domain.TicketStatusResolved
		t.ResolvedAt = &resolvedAt
		return true, nil
	}
	return false, nil
}

func (f *fakeTicketRepo) MarkInProgressCAS(_ context.Context, id string) (bool, error) {
	for _, t := range f.tickets {
		if t.ID == id && t.Status == domain.TicketStatusOpen {
			t.Status = domain.TicketStatusInProgress
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTicketRepo) Repoint(_ context.Context, fromConversationID, toConversationID string) error {
	for _, t := range f.tickets {
		if t.ConversationID == fromConversationID {
			t.ConversationID = toConversationID
		}
	}
	return nil
}

// fakeEscalations captures escalation publishes.
type fakeEscalations struct {
	published []*queue.EscalationEvent
	err       error
}

func (f *fakeEscalations) PublishEscalation(_ context.Context, event *queue.EscalationEvent) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, event)
	return fmt.Sprintf("entry-%d", len(f.published)), nil
}
