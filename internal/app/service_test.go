package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"resonate/api/internal/config"
	"resonate/api/internal/resolver"
	"resonate/api/internal/search"
	"resonate/api/internal/store"
	"resonate/api/internal/users"
)

type fakeStore struct {
	createRoomFn    func(context.Context, string, string) (store.Room, error)
	getRoomFn       func(context.Context, string) (store.Room, error)
	roomsFn         func(context.Context) ([]string, error)
	setNowFn        func(context.Context, string, store.Item) (store.Item, error)
	enqueueFn       func(context.Context, string, store.Item) (store.Item, error)
	playerFn        func(context.Context, string) (store.PlayerState, error)
	advanceFn       func(context.Context, string, string) (store.PlayerState, bool, error)
	appendMessageFn func(context.Context, string, string, string, string) (store.ChatMessage, error)
	heartbeatFn     func(context.Context, string, string, string) (store.PresenceEntry, error)
	observeFn       func(context.Context, string, time.Duration) (map[string]store.PresenceEntry, error)
	pingFn          func(context.Context) error
}

func (f *fakeStore) CreateRoom(ctx context.Context, name, createdBy string) (store.Room, error) {
	if f.createRoomFn != nil {
		return f.createRoomFn(ctx, name, createdBy)
	}
	return store.Room{ID: "room-1", Name: name, CreatedBy: createdBy}, nil
}
func (f *fakeStore) GetRoom(ctx context.Context, roomID string) (store.Room, error) {
	if f.getRoomFn != nil {
		return f.getRoomFn(ctx, roomID)
	}
	return store.Room{ID: roomID}, nil
}
func (f *fakeStore) AddMember(context.Context, string, string) error { return nil }
func (f *fakeStore) Members(context.Context, string) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) Rooms(ctx context.Context) ([]string, error) {
	if f.roomsFn != nil {
		return f.roomsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) SetNow(ctx context.Context, roomID string, item store.Item) (store.Item, error) {
	if f.setNowFn != nil {
		return f.setNowFn(ctx, roomID, item)
	}
	return item, nil
}
func (f *fakeStore) Enqueue(ctx context.Context, roomID string, item store.Item) (store.Item, error) {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, roomID, item)
	}
	return item, nil
}
func (f *fakeStore) Player(ctx context.Context, roomID string) (store.PlayerState, error) {
	if f.playerFn != nil {
		return f.playerFn(ctx, roomID)
	}
	return store.PlayerState{}, nil
}
func (f *fakeStore) Advance(ctx context.Context, roomID, finishedURL string) (store.PlayerState, bool, error) {
	if f.advanceFn != nil {
		return f.advanceFn(ctx, roomID, finishedURL)
	}
	return store.PlayerState{}, false, nil
}
func (f *fakeStore) AppendMessage(ctx context.Context, roomID, senderID, senderName, text string) (store.ChatMessage, error) {
	if f.appendMessageFn != nil {
		return f.appendMessageFn(ctx, roomID, senderID, senderName, text)
	}
	return store.ChatMessage{ID: "msg-1", Text: text, SenderID: senderID, SenderName: senderName}, nil
}
func (f *fakeStore) Messages(context.Context, string) ([]store.ChatMessage, error) {
	return nil, nil
}
func (f *fakeStore) Heartbeat(ctx context.Context, roomID, memberID, displayName string) (store.PresenceEntry, error) {
	if f.heartbeatFn != nil {
		return f.heartbeatFn(ctx, roomID, memberID, displayName)
	}
	return store.PresenceEntry{MemberID: memberID, Status: store.StatusOnline, DisplayName: displayName}, nil
}
func (f *fakeStore) Observe(ctx context.Context, roomID string, window time.Duration) (map[string]store.PresenceEntry, error) {
	if f.observeFn != nil {
		return f.observeFn(ctx, roomID, window)
	}
	return nil, nil
}
func (f *fakeStore) Leave(context.Context, string, string) error { return nil }
func (f *fakeStore) SubscribeRoom(context.Context, string) *store.Subscription {
	return nil
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeUsers struct {
	saveUsernameFn func(context.Context, string, string) (users.User, error)
	addFavoriteFn  func(context.Context, string, store.Item) (store.Item, error)
}

func (f *fakeUsers) SaveUsername(ctx context.Context, userID, username string) (users.User, error) {
	if f.saveUsernameFn != nil {
		return f.saveUsernameFn(ctx, userID, username)
	}
	return users.User{ID: userID, Username: username}, nil
}
func (f *fakeUsers) GetUser(context.Context, string) (users.User, error) {
	return users.User{}, users.ErrNotFound
}
func (f *fakeUsers) AddFavorite(ctx context.Context, userID string, item store.Item) (store.Item, error) {
	if f.addFavoriteFn != nil {
		return f.addFavoriteFn(ctx, userID, item)
	}
	return item, nil
}
func (f *fakeUsers) RemoveFavorite(context.Context, string, string, string) error { return nil }
func (f *fakeUsers) ListFavorites(context.Context, string) ([]store.Item, error) {
	return nil, nil
}

type fakeResolver struct {
	resolveFn func(context.Context, string) (string, error)
	resetFn   func() int
}

func (f *fakeResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, ref)
	}
	return "https://stream.example/audio", nil
}
func (f *fakeResolver) Reset() int {
	if f.resetFn != nil {
		return f.resetFn()
	}
	return 0
}

type fakeSearch struct {
	indexed  []search.TrackRecord
	searchFn func(search.Query) search.Response
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeSearch) IndexTrack(t search.TrackRecord) {
	f.indexed = append(f.indexed, t)
}

func newTestService(fs *fakeStore, fu *fakeUsers, fr *fakeResolver, fss *fakeSearch) *Service {
	return &Service{
		cfg:      config.Config{LivenessWindow: 30 * time.Second, HeartbeatInterval: 10 * time.Second},
		store:    fs,
		users:    fu,
		resolver: fr,
		search:   fss,
	}
}

func expectDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status {
		t.Errorf("expected status %d, got %d", status, domainErr.Status)
	}
	if domainErr.Code != code {
		t.Errorf("expected code %s, got %s", code, domainErr.Code)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})

	_, err := svc.CreateRoom(context.Background(), "   ", "someone")
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.CreateRoom(context.Background(), "Friday vibes", "")
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestCreateRoomTrimsName(t *testing.T) {
	var gotName string
	fs := &fakeStore{
		createRoomFn: func(_ context.Context, name, createdBy string) (store.Room, error) {
			gotName = name
			return store.Room{ID: "room-1", Name: name, CreatedBy: createdBy}, nil
		},
	}
	svc := newTestService(fs, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})

	if _, err := svc.CreateRoom(context.Background(), "  Friday vibes  ", "alex"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotName != "Friday vibes" {
		t.Errorf("expected trimmed name, got %q", gotName)
	}
}

func TestPlayRejectsUnknownSource(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})

	_, err := svc.Play(context.Background(), "room-1", PlayInput{
		URL:   "https://example.com/watch?v=abc",
		Title: "Nope",
	})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestPlayIndexesTrack(t *testing.T) {
	fss := &fakeSearch{}
	svc := newTestService(&fakeStore{}, &fakeUsers{}, &fakeResolver{}, fss)

	_, err := svc.Play(context.Background(), "room-1", PlayInput{
		URL:     "https://www.youtube.com/watch?v=abc123",
		Title:   "Track One",
		Channel: "Channel",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fss.indexed) != 1 {
		t.Fatalf("expected 1 indexed track, got %d", len(fss.indexed))
	}
	if fss.indexed[0].Title != "Track One" {
		t.Errorf("unexpected indexed title %q", fss.indexed[0].Title)
	}
}

func TestPlayUnknownRoom(t *testing.T) {
	fs := &fakeStore{
		getRoomFn: func(context.Context, string) (store.Room, error) {
			return store.Room{}, store.ErrNotFound
		},
	}
	svc := newTestService(fs, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})

	_, err := svc.Play(context.Background(), "missing", PlayInput{
		URL:   "https://www.youtube.com/watch?v=abc123",
		Title: "Track",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdvanceRequiresFinishedURL(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})

	_, _, err := svc.Advance(context.Background(), "room-1", "  ")
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestAdvanceReportsLostRace(t *testing.T) {
	fs := &fakeStore{
		advanceFn: func(context.Context, string, string) (store.PlayerState, bool, error) {
			return store.PlayerState{CurrentItem: &store.Item{URL: "https://youtu.be/next"}}, false, nil
		},
	}
	svc := newTestService(fs, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})

	state, advanced, err := svc.Advance(context.Background(), "room-1", "https://youtu.be/done")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advanced {
		t.Error("expected advanced=false for lost race")
	}
	if state.CurrentItem == nil || state.CurrentItem.URL != "https://youtu.be/next" {
		t.Errorf("expected authoritative state from store, got %+v", state.CurrentItem)
	}
}

func TestPostMessageEmptyText(t *testing.T) {
	fs := &fakeStore{
		appendMessageFn: func(context.Context, string, string, string, string) (store.ChatMessage, error) {
			return store.ChatMessage{}, store.ErrEmptyMessage
		},
	}
	svc := newTestService(fs, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})

	_, err := svc.PostMessage(context.Background(), "room-1", MessageInput{SenderID: "user-1", Text: "   "})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestPostMessageRequiresSender(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})

	_, err := svc.PostMessage(context.Background(), "room-1", MessageInput{Text: "hello"})
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestSaveUsernameConflict(t *testing.T) {
	fu := &fakeUsers{
		saveUsernameFn: func(context.Context, string, string) (users.User, error) {
			return users.User{}, users.ErrUsernameTaken
		},
	}
	svc := newTestService(&fakeStore{}, fu, &fakeResolver{}, &fakeSearch{})

	_, err := svc.SaveUsername(context.Background(), "user-1", "alex")
	expectDomainError(t, err, http.StatusConflict, "USERNAME_TAKEN")
}

func TestAddFavoriteConflict(t *testing.T) {
	fu := &fakeUsers{
		addFavoriteFn: func(context.Context, string, store.Item) (store.Item, error) {
			return store.Item{}, users.ErrAlreadyFavorited
		},
	}
	svc := newTestService(&fakeStore{}, fu, &fakeResolver{}, &fakeSearch{})

	_, err := svc.AddFavorite(context.Background(), "user-1", PlayInput{
		URL:   "https://www.youtube.com/watch?v=abc123",
		Title: "Track",
	})
	expectDomainError(t, err, http.StatusConflict, "ALREADY_FAVORITED")
}

func TestResolveAudioFailure(t *testing.T) {
	fr := &fakeResolver{
		resolveFn: func(context.Context, string) (string, error) {
			return "", resolver.ErrResolutionFailed
		},
	}
	svc := newTestService(&fakeStore{}, &fakeUsers{}, fr, &fakeSearch{})

	_, err := svc.ResolveAudio(context.Background(), "https://www.youtube.com/watch?v=abc123")
	expectDomainError(t, err, http.StatusBadGateway, "RESOLVE_FAILED")
}

func TestResolveAudioRejectsUnknownSource(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})

	_, err := svc.ResolveAudio(context.Background(), "https://example.com/song.mp3")
	expectDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestListRoomsSkipsVanished(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		roomsFn: func(context.Context) ([]string, error) {
			return []string{"room-a", "room-b", "room-c"}, nil
		},
		getRoomFn: func(_ context.Context, roomID string) (store.Room, error) {
			if roomID == "room-b" {
				return store.Room{}, store.ErrNotFound
			}
			created := base
			if roomID == "room-c" {
				created = base.Add(time.Hour)
			}
			return store.Room{ID: roomID, CreatedAt: created}, nil
		},
	}
	svc := newTestService(fs, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})

	rooms, err := svc.ListRooms(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
	if rooms[0].ID != "room-c" {
		t.Errorf("expected newest room first, got %s", rooms[0].ID)
	}
}

func TestPresenceSortedByMember(t *testing.T) {
	fs := &fakeStore{
		observeFn: func(context.Context, string, time.Duration) (map[string]store.PresenceEntry, error) {
			return map[string]store.PresenceEntry{
				"zoe":  {MemberID: "zoe", Status: store.StatusOnline},
				"alex": {MemberID: "alex", Status: store.StatusOnline},
			}, nil
		},
	}
	svc := newTestService(fs, &fakeUsers{}, &fakeResolver{}, &fakeSearch{})

	entries, err := svc.Presence(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 || entries[0].MemberID != "alex" {
		t.Errorf("expected sorted presence entries, got %+v", entries)
	}
}
