package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/config"
	"github.com/spec-kit/support-relay/internal/contextstore"
	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/observability"
	"github.com/spec-kit/support-relay/internal/platform"
	"github.com/spec-kit/support-relay/internal/service"
	"github.com/spec-kit/support-relay/internal/timer"
	"github.com/spec-kit/support-relay/pkg/util"
)

const selfUserID = int64(999)

type relayEventRepo struct {
	mu     sync.Mutex
	events []domain.TicketEvent
}

func (r *relayEventRepo) Append(ctx context.Context, event *domain.TicketEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *relayEventRepo) ListByTicket(ctx context.Context, ticketID string, limit int) ([]domain.TicketEvent, error) {
	return nil, nil
}

func (r *relayEventRepo) byKind(kind domain.TicketEventKind) []domain.TicketEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TicketEvent
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type relayTicketRepo struct {
	mu      sync.Mutex
	seq     int
	tickets map[string]*domain.Ticket
	events  *relayEventRepo
}

func (r *relayTicketRepo) CreateWithOpenEvent(ctx context.Context, ticket *domain.Ticket, event *domain.TicketEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tickets {
		if existing.ExternalID == ticket.ExternalID && existing.Status != domain.TicketStatusClosed {
			return &pgconn.PgError{Code: "23505", ConstraintName: "tickets_open_external_id_idx"}
		}
		if existing.ThreadID == ticket.ThreadID {
			return &pgconn.PgError{Code: "23505", ConstraintName: "tickets_thread_id_key"}
		}
	}
	r.seq++
	ticket.ID = fmt.Sprintf("t-%d", r.seq)
	ticket.CreatedAt = time.Now()
	copied := *ticket
	r.tickets[ticket.ID] = &copied
	event.TicketID = ticket.ID
	return r.events.Append(ctx, event)
}

func (r *relayTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *ticket
	return &copied, nil
}

func (r *relayTicketRepo) GetOpenByExternalID(ctx context.Context, externalID string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range r.tickets {
		if ticket.ExternalID == externalID && ticket.Status != domain.TicketStatusClosed {
			copied := *ticket
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *relayTicketRepo) GetByThreadID(ctx context.Context, threadID int64) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range r.tickets {
		if ticket.ThreadID == threadID {
			copied := *ticket
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *relayTicketRepo) UpdateStatus(ctx context.Context, id string, status domain.TicketStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	ticket.Status = status
	return nil
}

func (r *relayTicketRepo) seed(ticket *domain.Ticket) *domain.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if ticket.ID == "" {
		ticket.ID = fmt.Sprintf("t-%d", r.seq)
	}
	r.tickets[ticket.ID] = ticket
	return ticket
}

type relayRefRepo struct {
	mu   sync.Mutex
	refs []domain.MessageRef
}

func (r *relayRefRepo) Create(ctx context.Context, ref *domain.MessageRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.refs {
		if existing.Origin == ref.Origin && existing.SourceMessageID == ref.SourceMessageID {
			return &pgconn.PgError{Code: "23505", ConstraintName: "message_refs_origin_source_message_id_key"}
		}
	}
	ref.ID = fmt.Sprintf("ref-%d", len(r.refs)+1)
	r.refs = append(r.refs, *ref)
	return nil
}

func (r *relayRefRepo) GetBySource(ctx context.Context, origin domain.MessageOrigin, sourceMessageID int64) (*domain.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ref := range r.refs {
		if ref.Origin == origin && ref.SourceMessageID == sourceMessageID {
			copied := ref
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *relayRefRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refs)
}

type editCall struct {
	chatID    int64
	threadID  int64
	messageID int64
	text      string
}

type relayPlatform struct {
	mu             sync.Mutex
	sent           []platform.OutgoingMessage
	edits          []editCall
	nextThreadID   int64
	nextMessageID  int64
	failThreadSend bool
	failDMSend     bool
}

func newRelayPlatform() *relayPlatform {
	return &relayPlatform{nextThreadID: 100, nextMessageID: 1000}
}

func (p *relayPlatform) SendMessage(ctx context.Context, msg platform.OutgoingMessage) (*platform.SentMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg.ThreadID != 0 && p.failThreadSend {
		return nil, errors.New("thread send failed")
	}
	if msg.ThreadID == 0 && p.failDMSend {
		return nil, errors.New("dm send failed")
	}
	p.sent = append(p.sent, msg)
	p.nextMessageID++
	return &platform.SentMessage{MessageID: p.nextMessageID}, nil
}

func (p *relayPlatform) EditMessage(ctx context.Context, chatID, threadID, messageID int64, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edits = append(p.edits, editCall{chatID: chatID, threadID: threadID, messageID: messageID, text: text})
	return nil
}

func (p *relayPlatform) CreateThread(ctx context.Context, title string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextThreadID++
	return p.nextThreadID, nil
}

func (p *relayPlatform) ThreadAdmins(ctx context.Context) ([]platform.Admin, error) {
	return nil, nil
}

func (p *relayPlatform) Me(ctx context.Context) (*platform.Identity, error) {
	return &platform.Identity{UserID: selfUserID, Username: "relay_bot"}, nil
}

func (p *relayPlatform) threadSends() []platform.OutgoingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []platform.OutgoingMessage
	for _, msg := range p.sent {
		if msg.ThreadID != 0 {
			out = append(out, msg)
		}
	}
	return out
}

func (p *relayPlatform) dmSends() []platform.OutgoingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []platform.OutgoingMessage
	for _, msg := range p.sent {
		if msg.ThreadID == 0 {
			out = append(out, msg)
		}
	}
	return out
}

type relayQueue struct {
	mu   sync.Mutex
	jobs map[string]string // id -> name
	seq  int
}

func newRelayQueue() *relayQueue {
	return &relayQueue{jobs: make(map[string]string)}
}

func (q *relayQueue) EnqueueDelayed(ctx context.Context, name, payload string, delay time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	id := fmt.Sprintf("job-%d", q.seq)
	q.jobs[id] = name
	return id, nil
}

func (q *relayQueue) Cancel(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, jobID)
	return nil
}

func (q *relayQueue) pendingNames() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := make(map[string]int)
	for _, name := range q.jobs {
		counts[name]++
	}
	return counts
}

type relayPusher struct {
	mu       sync.Mutex
	messages []string
	statuses []domain.TicketStatus
	typing   int
}

func (p *relayPusher) PushMessage(ticketID, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, text)
}

func (p *relayPusher) PushStatus(ticketID string, status domain.TicketStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
}

func (p *relayPusher) PushTyping(ticketID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing++
}

type relayKV struct {
	mu   sync.Mutex
	data map[string]string
}

func (kv *relayKV) Get(ctx context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	val, ok := kv.data[key]
	return val, ok, nil
}

func (kv *relayKV) GetDel(ctx context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	val, ok := kv.data[key]
	delete(kv.data, key)
	return val, ok, nil
}

func (kv *relayKV) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = value
	return nil
}

func (kv *relayKV) Del(ctx context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return nil
}

type relayFixture struct {
	relay   *Relay
	tickets *relayTicketRepo
	events  *relayEventRepo
	refs    *relayRefRepo
	client  *relayPlatform
	queue   *relayQueue
	pusher  *relayPusher
	ctxs    *contextstore.Store
}

func setupRelay(t *testing.T) *relayFixture {
	t.Helper()
	events := &relayEventRepo{}
	tickets := &relayTicketRepo{tickets: make(map[string]*domain.Ticket), events: events}
	refs := &relayRefRepo{}
	client := newRelayPlatform()
	queue := newRelayQueue()
	pusher := &relayPusher{}
	logger := zap.NewNop()

	store := service.NewTicketStore(service.TicketStoreDependencies{
		TicketRepo: tickets,
		EventRepo:  events,
		Logger:     logger,
	})
	timers := timer.NewRegistry(queue, config.SLAConfig{
		FirstReminder:  15 * time.Minute,
		SecondReminder: time.Hour,
		Escalation:     4 * time.Hour,
		AutoClose:      72 * time.Hour,
	}, logger)
	contexts := contextstore.NewStore(&relayKV{data: make(map[string]string)}, logger)

	rel := New(Dependencies{
		Store:    store,
		RefRepo:  refs,
		Platform: client,
		Timers:   timers,
		Contexts: contexts,
		Push:     pusher,
		Metrics:  observability.NewMetrics(),
		Logger:   logger,
		Self:     &platform.Identity{UserID: selfUserID, Username: "relay_bot"},
	})
	return &relayFixture{
		relay:   rel,
		tickets: tickets,
		events:  events,
		refs:    refs,
		client:  client,
		queue:   queue,
		pusher:  pusher,
		ctxs:    contexts,
	}
}

func privateMsg(id int64, text string) InboundMessage {
	return InboundMessage{
		MessageID:    id,
		AuthorID:     42,
		AuthorName:   "Ada",
		AuthorHandle: "ada",
		Text:         text,
	}
}

func TestHandlePrivateMessage_NewContactOpensTicket(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()

	require.NoError(t, f.relay.HandlePrivateMessage(ctx, privateMsg(1, "my invoice is wrong")))

	ticket, err := f.tickets.GetOpenByExternalID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, ticket.Status)
	assert.NotZero(t, ticket.ThreadID)

	opened := f.events.byKind(domain.EventKindOpened)
	require.Len(t, opened, 1)
	require.NotNil(t, opened[0].Payload)
	assert.Equal(t, "my invoice is wrong", *opened[0].Payload)

	// All three reminder timers armed.
	names := f.queue.pendingNames()
	assert.Equal(t, 1, names["timer:sla-first"])
	assert.Equal(t, 1, names["timer:sla-second"])
	assert.Equal(t, 1, names["timer:sla-escalation"])

	// The first message was mirrored into the thread with attribution.
	sends := f.client.threadSends()
	require.Len(t, sends, 1)
	assert.Equal(t, ticket.ThreadID, sends[0].ThreadID)
	assert.Equal(t, "Ada: my invoice is wrong", sends[0].Text)
	assert.Equal(t, 1, f.refs.count())
}

func TestHandlePrivateMessage_StartCommandGreetsWithoutTicket(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()

	require.NoError(t, f.relay.HandlePrivateMessage(ctx, privateMsg(1, "/start")))

	// Greeting only: no ticket, no thread.
	_, err := f.tickets.GetOpenByExternalID(ctx, "42")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	dms := f.client.dmSends()
	require.Len(t, dms, 1)
	assert.Equal(t, int64(42), dms[0].ChatID)

	// A second /start sends the short nudge, still no ticket.
	require.NoError(t, f.relay.HandlePrivateMessage(ctx, privateMsg(2, "/start")))
	assert.Len(t, f.client.dmSends(), 2)

	// The first real message opens the ticket and clears onboarding.
	require.NoError(t, f.relay.HandlePrivateMessage(ctx, privateMsg(3, "my invoice is wrong")))
	_, err = f.tickets.GetOpenByExternalID(ctx, "42")
	require.NoError(t, err)
	state, err := f.ctxs.GetOnboardingState(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestHandlePrivateMessage_ConsumesRedirectContext(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	require.NoError(t, f.ctxs.SetRedirectContext(ctx, "42", contextstore.RedirectContext{
		URL:  "https://example.com/pricing",
		City: "Lisbon",
	}))

	require.NoError(t, f.relay.HandlePrivateMessage(ctx, privateMsg(1, "hello")))

	ticket, err := f.tickets.GetOpenByExternalID(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, ticket.ReferrerURL)
	assert.Equal(t, "https://example.com/pricing", *ticket.ReferrerURL)
	require.NotNil(t, ticket.ReferrerCity)
	assert.Equal(t, "Lisbon", *ticket.ReferrerCity)

	rc, err := f.ctxs.GetRedirectContext(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, rc, "attribution must be consumed by the first read")
}

func TestHandlePrivateMessage_KnownIdentityMirrorsWithoutNewTicket(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	require.NoError(t, f.relay.HandlePrivateMessage(ctx, privateMsg(1, "first")))
	require.NoError(t, f.relay.HandlePrivateMessage(ctx, privateMsg(2, "second")))

	assert.Len(t, f.events.byKind(domain.EventKindOpened), 1)
	assert.Len(t, f.client.threadSends(), 2)
	assert.Equal(t, 2, f.refs.count())
}

func TestHandlePrivateMessage_ReplyPullsTicketBackFromWaiting(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	f.tickets.seed(&domain.Ticket{
		ID:         "t-wait",
		ExternalID: "42",
		Status:     domain.TicketStatusWaitingClient,
		ThreadID:   7,
	})

	require.NoError(t, f.relay.HandlePrivateMessage(ctx, privateMsg(3, "still broken")))

	ticket, err := f.tickets.GetByID(ctx, "t-wait")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)
	assert.Contains(t, f.pusher.statuses, domain.TicketStatusInProgress)

	// Awaiting an operator again: reminders rearmed, auto-close disarmed.
	names := f.queue.pendingNames()
	assert.Equal(t, 1, names["timer:sla-first"])
	assert.Equal(t, 1, names["timer:sla-second"])
	assert.Equal(t, 1, names["timer:sla-escalation"])
	assert.Zero(t, names["timer:autoclose"])
}

func TestHandlePrivateMessage_MirrorFailureKeepsTicketAndNotifies(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	f.client.failThreadSend = true

	require.NoError(t, f.relay.HandlePrivateMessage(ctx, privateMsg(1, "hello")))

	// Ticket exists despite the failed mirror.
	ticket, err := f.tickets.GetOpenByExternalID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, ticket.Status)

	// The failure left an audit trace and a soft notice to the customer.
	assert.Len(t, f.events.byKind(domain.EventKindRelayFailed), 1)
	dms := f.client.dmSends()
	require.Len(t, dms, 1)
	assert.Equal(t, int64(42), dms[0].ChatID)
	assert.Equal(t, 0, f.refs.count())
}

func TestHandleThreadMessage_InternalNoteNeverForwarded(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	f.tickets.seed(&domain.Ticket{ID: "t-1", ExternalID: "42", Status: domain.TicketStatusNew, ThreadID: 7})

	for _, text := range []string{"// checking their account", "#internal escalate to billing"} {
		require.NoError(t, f.relay.HandleThreadMessage(ctx, InboundMessage{
			MessageID: 10, AuthorID: 77, Text: text, ThreadID: 7,
		}))
	}

	assert.Empty(t, f.client.dmSends())
	assert.Empty(t, f.pusher.messages)
	// Status untouched: a note is not a first response.
	ticket, err := f.tickets.GetByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, ticket.Status)
}

func TestHandleThreadMessage_OwnEchoIgnored(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	f.tickets.seed(&domain.Ticket{ID: "t-1", ExternalID: "42", Status: domain.TicketStatusNew, ThreadID: 7})

	require.NoError(t, f.relay.HandleThreadMessage(ctx, InboundMessage{
		MessageID: 10, AuthorID: selfUserID, Text: "Ada: hello", ThreadID: 7,
	}))

	assert.Empty(t, f.client.dmSends())
	assert.Empty(t, f.pusher.messages)
}

func TestHandleThreadMessage_UnboundThreadDropped(t *testing.T) {
	f := setupRelay(t)

	err := f.relay.HandleThreadMessage(context.Background(), InboundMessage{
		MessageID: 10, AuthorID: 77, Text: "anyone here?", ThreadID: 999,
	})
	require.NoError(t, err)
	assert.Empty(t, f.client.dmSends())
}

func TestHandleThreadMessage_ForwardsAndAdvancesStatus(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	f.tickets.seed(&domain.Ticket{ID: "t-1", ExternalID: "42", Status: domain.TicketStatusNew, ThreadID: 7})

	require.NoError(t, f.relay.HandleThreadMessage(ctx, InboundMessage{
		MessageID: 10, AuthorID: 77, Text: "try clearing the cache", ThreadID: 7,
	}))

	dms := f.client.dmSends()
	require.Len(t, dms, 1)
	assert.Equal(t, int64(42), dms[0].ChatID)
	assert.Equal(t, "try clearing the cache", dms[0].Text)

	ticket, err := f.tickets.GetByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusWaitingClient, ticket.Status)
	assert.Len(t, f.events.byKind(domain.EventKindStatusChanged), 2)

	// Reminders disarmed, auto-close armed.
	names := f.queue.pendingNames()
	assert.Zero(t, names["timer:sla-first"])
	assert.Equal(t, 1, names["timer:autoclose"])

	// Web sockets get the same reply.
	assert.Equal(t, []string{"try clearing the cache"}, f.pusher.messages)
	assert.Equal(t, 1, f.refs.count())
}

func TestHandleWebMessage_AckOnlyAfterPlatformSend(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	f.tickets.seed(&domain.Ticket{
		ID:          "t-web",
		ExternalID:  "web:9f2c4a11-b7de-4e3a-8c55-d2f01a6b9c3d",
		DisplayName: "Web visitor",
		Status:      domain.TicketStatusWaitingClient,
		ThreadID:    7,
	})

	require.NoError(t, f.relay.HandleWebMessage(ctx, "t-web", "it still fails"))
	sends := f.client.threadSends()
	require.Len(t, sends, 1)
	assert.Equal(t, "Web visitor: it still fails", sends[0].Text)

	ticket, err := f.tickets.GetByID(ctx, "t-web")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)

	f.client.failThreadSend = true
	err = f.relay.HandleWebMessage(ctx, "t-web", "hello?")
	require.Error(t, err)
	var derr *util.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", derr.Code)
}

func TestOpenWebTicket_NoPrivateChannel(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	sessionID := "9f2c4a11-b7de-4e3a-8c55-d2f01a6b9c3d"

	ticket, err := f.relay.OpenWebTicket(ctx, sessionID, "", "can I pay by invoice?")
	require.NoError(t, err)
	assert.Equal(t, "web:"+sessionID, ticket.ExternalID)
	assert.Equal(t, "Web visitor", ticket.DisplayName)
	assert.Equal(t, domain.TicketStatusNew, ticket.Status)

	sends := f.client.threadSends()
	require.Len(t, sends, 1)
	assert.Equal(t, "Web visitor: can I pay by invoice?", sends[0].Text)
	assert.Empty(t, f.client.dmSends())
}

func TestHandleEdit_PrivateOriginUpdatesThreadCounterpart(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	require.NoError(t, f.relay.HandlePrivateMessage(ctx, privateMsg(1, "my invoice is wrong")))

	ticket, err := f.tickets.GetOpenByExternalID(ctx, "42")
	require.NoError(t, err)
	ref, err := f.refs.GetBySource(ctx, domain.OriginPrivate, 1)
	require.NoError(t, err)

	require.NoError(t, f.relay.HandleEdit(ctx, domain.OriginPrivate, 1, "my invoice is wrong, order #123"))

	require.Len(t, f.client.edits, 1)
	edit := f.client.edits[0]
	assert.Equal(t, ticket.ThreadID, edit.threadID)
	assert.Equal(t, ref.MirroredMessageID, edit.messageID)
	assert.Equal(t, "Ada: my invoice is wrong, order #123", edit.text)
}

func TestHandleEdit_ThreadOriginUpdatesCustomerCopy(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	f.tickets.seed(&domain.Ticket{ID: "t-1", ExternalID: "42", Status: domain.TicketStatusInProgress, ThreadID: 7})
	require.NoError(t, f.relay.HandleThreadMessage(ctx, InboundMessage{
		MessageID: 10, AuthorID: 77, Text: "try rebooting", ThreadID: 7,
	}))
	ref, err := f.refs.GetBySource(ctx, domain.OriginThread, 10)
	require.NoError(t, err)

	require.NoError(t, f.relay.HandleEdit(ctx, domain.OriginThread, 10, "try rebooting the router"))

	require.Len(t, f.client.edits, 1)
	edit := f.client.edits[0]
	assert.Equal(t, int64(42), edit.chatID)
	assert.Equal(t, ref.MirroredMessageID, edit.messageID)
	assert.Equal(t, "try rebooting the router", edit.text)
	assert.Contains(t, f.pusher.messages, "try rebooting the router")
}

func TestHandleEdit_NoMappingIsSilentNoop(t *testing.T) {
	f := setupRelay(t)

	require.NoError(t, f.relay.HandleEdit(context.Background(), domain.OriginThread, 555, "edited note"))
	assert.Empty(t, f.client.edits)
	assert.Empty(t, f.pusher.messages)
}

func TestResolveByCustomer_WrongIdentityRejected(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	f.tickets.seed(&domain.Ticket{ID: "t-1", ExternalID: "42", Status: domain.TicketStatusInProgress, ThreadID: 7})

	err := f.relay.ResolveByCustomer(ctx, "t-1", "43")
	require.Error(t, err)
	var derr *util.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "VALIDATION_FAILED", derr.Code)

	ticket, getErr := f.tickets.GetByID(ctx, "t-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)
	assert.Empty(t, f.pusher.statuses)
}

func TestResolveByCustomer_OwnerCloses(t *testing.T) {
	f := setupRelay(t)
	ctx := context.Background()
	require.NoError(t, f.relay.HandlePrivateMessage(ctx, privateMsg(1, "never mind, fixed it")))
	ticket, err := f.tickets.GetOpenByExternalID(ctx, "42")
	require.NoError(t, err)

	require.NoError(t, f.relay.ResolveByCustomer(ctx, ticket.ID, "42"))

	closed, err := f.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	assert.Contains(t, f.pusher.statuses, domain.TicketStatusClosed)

	// Every pending timer for the ticket is gone.
	assert.Empty(t, f.queue.pendingNames())

	// Resolving again is a quiet no-op.
	require.NoError(t, f.relay.ResolveByCustomer(ctx, ticket.ID, "42"))
}

func TestNotifyTyping_FansOutToSockets(t *testing.T) {
	f := setupRelay(t)

	f.relay.NotifyTyping("t-1")
	assert.Equal(t, 1, f.pusher.typing)
}
