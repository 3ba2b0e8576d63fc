package chat

import (
	"context"
	"sync"
	"time"

	"github.com/streamunity/modbridge/db"
	"github.com/streamunity/modbridge/twitchapi"
)

// In-memory fakes for the store, sink and transport boundaries.

type fakeCredStore struct {
	mu    sync.Mutex
	creds map[string]*db.Credential
}

func newFakeCredStore() *fakeCredStore {
	return &fakeCredStore{creds: make(map[string]*db.Credential)}
}

func (f *fakeCredStore) GetCredential(ctx context.Context, userID string) (*db.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCredStore) UpdateCredentialTokens(ctx context.Context, userID, access, refresh string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return db.ErrNotFound
	}
	c.AccessToken = access
	c.RefreshToken = refresh
	c.ExpiresAt = expiresAt
	return nil
}

func (f *fakeCredStore) put(c *db.Credential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[c.UserID] = c
}

func (f *fakeCredStore) remove(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.creds, userID)
}

type fakeBotStore struct {
	mu      sync.Mutex
	bots    map[string]*db.BotIdentity
	upserts int
}

func newFakeBotStore() *fakeBotStore {
	return &fakeBotStore{bots: make(map[string]*db.BotIdentity)}
}

func (f *fakeBotStore) GetBotIdentity(ctx context.Context, userID string) (*db.BotIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bots[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBotStore) UpsertBotIdentity(ctx context.Context, b *db.BotIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	f.bots[b.UserID] = &cp
	f.upserts++
	return nil
}

func (f *fakeBotStore) DeactivateBotIdentity(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bots[userID]
	if !ok {
		return db.ErrNotFound
	}
	b.AccessToken = ""
	b.RefreshToken = ""
	b.IsActive = false
	return nil
}

type fakeMessageStore struct {
	mu       sync.Mutex
	nextID   int64
	messages map[int64]*db.ChatMessage
	order    []int64
	failNext bool
	actions  []db.ModerationAction
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[int64]*db.ChatMessage)}
}

func (f *fakeMessageStore) InsertChatMessage(ctx context.Context, m *db.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return context.DeadlineExceeded
	}
	f.nextID++
	m.ID = f.nextID
	m.CreatedAt = time.Now()
	cp := *m
	f.messages[m.ID] = &cp
	f.order = append(f.order, m.ID)
	return nil
}

func (f *fakeMessageStore) GetChatMessage(ctx context.Context, id int64) (*db.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessageStore) MarkMessageModerated(ctx context.Context, id int64, deleted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return db.ErrNotFound
	}
	m.IsModerated = true
	m.IsDeleted = deleted
	return nil
}

func (f *fakeMessageStore) InsertModerationAction(ctx context.Context, a *db.ModerationAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.CreatedAt = time.Now()
	f.actions = append(f.actions, *a)
	return nil
}

func (f *fakeMessageStore) insertionOrder() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.order...)
}

type publishRecord struct {
	Room    string
	Event   string
	Payload any
}

type fakeSink struct {
	mu      sync.Mutex
	records []publishRecord
	ch      chan publishRecord
}

func newFakeSink() *fakeSink {
	return &fakeSink{ch: make(chan publishRecord, 64)}
}

func (f *fakeSink) Publish(roomID, event string, payload any) {
	f.mu.Lock()
	f.records = append(f.records, publishRecord{Room: roomID, Event: event, Payload: payload})
	f.mu.Unlock()
	select {
	case f.ch <- publishRecord{Room: roomID, Event: event, Payload: payload}:
	default:
	}
}

func (f *fakeSink) all() []publishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishRecord(nil), f.records...)
}

// waitFor blocks for the next publish or times out.
func (f *fakeSink) waitFor(d time.Duration) (publishRecord, bool) {
	select {
	case r := <-f.ch:
		return r, true
	case <-time.After(d):
		return publishRecord{}, false
	}
}

type fakeTransport struct {
	cfg        TransportConfig
	connectErr error
	mu         sync.Mutex
	connected  bool
	said       []string
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	if t.connectErr != nil {
		return t.connectErr
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Say(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	t.said = append(t.said, text)
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

func (t *fakeTransport) deliver(m InboundMessage) {
	if t.cfg.OnMessage != nil {
		t.cfg.OnMessage(m)
	}
}

// transportRecorder is a TransportFactory that keeps every transport it
// built and can fail connects with a scripted error sequence.
type transportRecorder struct {
	mu         sync.Mutex
	built      []*fakeTransport
	connectErr []error // consumed per build; nil entries connect fine
}

func (r *transportRecorder) factory(cfg TransportConfig) Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &fakeTransport{cfg: cfg}
	if len(r.connectErr) > 0 {
		t.connectErr = r.connectErr[0]
		r.connectErr = r.connectErr[1:]
	}
	r.built = append(r.built, t)
	return t
}

func (r *transportRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.built)
}

func (r *transportRecorder) last() *fakeTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.built) == 0 {
		return nil
	}
	return r.built[len(r.built)-1]
}

type fakeOAuth struct {
	exchangeTok *twitchapi.TokenResult
	exchangeErr error
	refreshTok  *twitchapi.TokenResult
	refreshErr  error
	refreshes   int
}

func (f *fakeOAuth) AuthURL(state string) string { return "https://id.example/authorize?state=" + state }

func (f *fakeOAuth) Exchange(ctx context.Context, code string) (*twitchapi.TokenResult, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.exchangeTok, nil
}

func (f *fakeOAuth) Refresh(ctx context.Context, refreshToken string) (*twitchapi.TokenResult, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshTok, nil
}

type fakeIdentity struct {
	ids      map[string]string // login -> id
	identity *twitchapi.Identity
	err      error
}

func (f *fakeIdentity) GetUserID(ctx context.Context, login string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if id, ok := f.ids[login]; ok {
		return id, nil
	}
	return "", db.ErrNotFound
}

func (f *fakeIdentity) GetIdentity(ctx context.Context, accessToken string) (*twitchapi.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) SendChatMessage(ctx context.Context, userToken, broadcasterID, senderID, message string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	return nil
}
