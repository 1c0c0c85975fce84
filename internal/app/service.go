package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"resonate/api/internal/config"
	"resonate/api/internal/resolver"
	"resonate/api/internal/search"
	"resonate/api/internal/store"
	"resonate/api/internal/users"
)

const (
	maxRoomNameLen = 100
	maxMessageLen  = 1000
	maxMemberIDLen = 100
)

type PlayInput struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Channel   string `json:"channel"`
	Thumbnail string `json:"thumbnail"`
	AddedBy   string `json:"addedBy"`
}

type MessageInput struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
}

type HeartbeatInput struct {
	DisplayName string `json:"displayName"`
}

type roomStore interface {
	CreateRoom(ctx context.Context, name, createdBy string) (store.Room, error)
	GetRoom(ctx context.Context, roomID string) (store.Room, error)
	AddMember(ctx context.Context, roomID, memberID string) error
	Members(ctx context.Context, roomID string) ([]string, error)
	Rooms(ctx context.Context) ([]string, error)
	SetNow(ctx context.Context, roomID string, item store.Item) (store.Item, error)
	Enqueue(ctx context.Context, roomID string, item store.Item) (store.Item, error)
	Player(ctx context.Context, roomID string) (store.PlayerState, error)
	Advance(ctx context.Context, roomID, finishedURL string) (store.PlayerState, bool, error)
	AppendMessage(ctx context.Context, roomID, senderID, senderName, text string) (store.ChatMessage, error)
	Messages(ctx context.Context, roomID string) ([]store.ChatMessage, error)
	Heartbeat(ctx context.Context, roomID, memberID, displayName string) (store.PresenceEntry, error)
	Observe(ctx context.Context, roomID string, window time.Duration) (map[string]store.PresenceEntry, error)
	Leave(ctx context.Context, roomID, memberID string) error
	SubscribeRoom(ctx context.Context, roomID string) *store.Subscription
	Ping(ctx context.Context) error
}

type userStore interface {
	SaveUsername(ctx context.Context, userID, username string) (users.User, error)
	GetUser(ctx context.Context, userID string) (users.User, error)
	AddFavorite(ctx context.Context, userID string, item store.Item) (store.Item, error)
	RemoveFavorite(ctx context.Context, userID, url, title string) error
	ListFavorites(ctx context.Context, userID string) ([]store.Item, error)
}

type audioResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
	Reset() int
}

type trackSearch interface {
	Search(q search.Query) search.Response
	IndexTrack(t search.TrackRecord)
}

type artworkMirror interface {
	MirrorAsync(thumbnailURL string)
	PresignedURL(ctx context.Context, thumbnailURL string, expiry time.Duration) string
}

type Service struct {
	cfg      config.Config
	store    roomStore
	users    userStore
	resolver audioResolver
	search   trackSearch
	artwork  artworkMirror
}

// New wires the service together. search and artwork may be nil when the
// corresponding backends are not configured.
func New(cfg config.Config, roomStore roomStore, userStore userStore, audio audioResolver, trackSearch trackSearch, artwork artworkMirror) *Service {
	return &Service{
		cfg:      cfg,
		store:    roomStore,
		users:    userStore,
		resolver: audio,
		search:   trackSearch,
		artwork:  artwork,
	}
}

// Ping checks the data stores this service cannot run without.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- Rooms ---

func (s *Service) CreateRoom(ctx context.Context, name, createdBy string) (store.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Room{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if len(name) > maxRoomNameLen {
		return store.Room{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is too long", nil)
	}
	createdBy = strings.TrimSpace(createdBy)
	if createdBy == "" {
		return store.Room{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "createdBy is required", nil)
	}
	return s.store.CreateRoom(ctx, name, createdBy)
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (store.Room, error) {
	return s.store.GetRoom(ctx, roomID)
}

// ListRooms returns all known rooms sorted by creation time, newest first.
func (s *Service) ListRooms(ctx context.Context) ([]store.Room, error) {
	ids, err := s.store.Rooms(ctx)
	if err != nil {
		return nil, err
	}
	rooms := make([]store.Room, 0, len(ids))
	for _, id := range ids {
		room, err := s.store.GetRoom(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // registry entry for a room whose hash is gone
			}
			return nil, err
		}
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (s *Service) JoinRoom(ctx context.Context, roomID, memberID string) (store.Room, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" || len(memberID) > maxMemberIDLen {
		return store.Room{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "memberId is required", nil)
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return store.Room{}, err
	}
	if err := s.store.AddMember(ctx, roomID, memberID); err != nil {
		return store.Room{}, err
	}
	return room, nil
}

func (s *Service) Members(ctx context.Context, roomID string) ([]string, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.store.Members(ctx, roomID)
}

// --- Player ---

func (s *Service) itemFromInput(in PlayInput) (store.Item, error) {
	in.URL = strings.TrimSpace(in.URL)
	in.Title = strings.TrimSpace(in.Title)
	if in.URL == "" {
		return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is required", nil)
	}
	if in.Title == "" {
		return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if !store.IsMediaURL(in.URL) {
		return store.Item{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is not a recognized media source", nil)
	}
	return store.Item{
		URL:       in.URL,
		Title:     in.Title,
		Channel:   strings.TrimSpace(in.Channel),
		Thumbnail: strings.TrimSpace(in.Thumbnail),
		AddedBy:   strings.TrimSpace(in.AddedBy),
	}, nil
}

// Play makes the given track the room's current item immediately.
func (s *Service) Play(ctx context.Context, roomID string, in PlayInput) (store.PlayerState, error) {
	item, err := s.itemFromInput(in)
	if err != nil {
		return store.PlayerState{}, err
	}
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return store.PlayerState{}, err
	}
	if _, err := s.store.SetNow(ctx, roomID, item); err != nil {
		return store.PlayerState{}, err
	}
	s.noteTrack(item)
	return s.store.Player(ctx, roomID)
}

// Enqueue appends a track to the end of the room's queue.
func (s *Service) Enqueue(ctx context.Context, roomID string, in PlayInput) (store.PlayerState, error) {
	item, err := s.itemFromInput(in)
	if err != nil {
		return store.PlayerState{}, err
	}
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return store.PlayerState{}, err
	}
	if _, err := s.store.Enqueue(ctx, roomID, item); err != nil {
		return store.PlayerState{}, err
	}
	s.noteTrack(item)
	return s.store.Player(ctx, roomID)
}

func (s *Service) PlayerState(ctx context.Context, roomID string) (store.PlayerState, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return store.PlayerState{}, err
	}
	return s.store.Player(ctx, roomID)
}

// Advance reports the current track finished and promotes the queue head.
// advanced=false means another member won the same race; the returned state
// is authoritative either way.
func (s *Service) Advance(ctx context.Context, roomID, finishedURL string) (store.PlayerState, bool, error) {
	if strings.TrimSpace(finishedURL) == "" {
		return store.PlayerState{}, false, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "finishedUrl is required", nil)
	}
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return store.PlayerState{}, false, err
	}
	return s.store.Advance(ctx, roomID, finishedURL)
}

// noteTrack pushes a track into the search index and artwork mirror.
// Both are fire-and-forget; playback never waits on them.
func (s *Service) noteTrack(item store.Item) {
	if s.search != nil {
		s.search.IndexTrack(search.TrackRecord{
			URL:       item.URL,
			Title:     item.Title,
			Channel:   item.Channel,
			Thumbnail: item.Thumbnail,
		})
	}
	if s.artwork != nil {
		s.artwork.MirrorAsync(item.Thumbnail)
	}
}

// --- Chat ---

func (s *Service) PostMessage(ctx context.Context, roomID string, in MessageInput) (store.ChatMessage, error) {
	if strings.TrimSpace(in.SenderID) == "" {
		return store.ChatMessage{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "senderId is required", nil)
	}
	if len(in.Text) > maxMessageLen {
		return store.ChatMessage{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is too long", nil)
	}
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return store.ChatMessage{}, err
	}
	msg, err := s.store.AppendMessage(ctx, roomID, in.SenderID, in.SenderName, in.Text)
	if err != nil {
		if errors.Is(err, store.ErrEmptyMessage) {
			return store.ChatMessage{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
		}
		return store.ChatMessage{}, err
	}
	return msg, nil
}

func (s *Service) Messages(ctx context.Context, roomID string) ([]store.ChatMessage, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.store.Messages(ctx, roomID)
}

// --- Presence ---

func (s *Service) Heartbeat(ctx context.Context, roomID, memberID string, in HeartbeatInput) (store.PresenceEntry, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" || len(memberID) > maxMemberIDLen {
		return store.PresenceEntry{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "memberId is required", nil)
	}
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return store.PresenceEntry{}, err
	}
	return s.store.Heartbeat(ctx, roomID, memberID, strings.TrimSpace(in.DisplayName))
}

// Presence returns the live members of a room, evicting stale entries as a
// side effect of the read.
func (s *Service) Presence(ctx context.Context, roomID string) ([]store.PresenceEntry, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	entries, err := s.store.Observe(ctx, roomID, s.cfg.LivenessWindow)
	if err != nil {
		return nil, err
	}
	out := make([]store.PresenceEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

func (s *Service) Leave(ctx context.Context, roomID, memberID string) error {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return err
	}
	return s.store.Leave(ctx, roomID, memberID)
}

// --- Resolver ---

// ResolveAudio turns a media page URL into a directly playable stream URL.
func (s *Service) ResolveAudio(ctx context.Context, mediaURL string) (string, error) {
	mediaURL = strings.TrimSpace(mediaURL)
	if mediaURL == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is required", nil)
	}
	if !store.IsMediaURL(mediaURL) {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is not a recognized media source", nil)
	}
	streamURL, err := s.resolver.Resolve(ctx, mediaURL)
	if err != nil {
		if errors.Is(err, resolver.ErrResolutionFailed) {
			return "", domainError(http.StatusBadGateway, "RESOLVE_FAILED", "Could not resolve a playable stream", nil)
		}
		return "", err
	}
	return streamURL, nil
}

// ResetResolver clears the permanently-failed set so previously failing
// tracks get fresh attempts.
func (s *Service) ResetResolver() int {
	n := s.resolver.Reset()
	log.Printf("resolver: cleared %d failed references", n)
	return n
}

// ArtworkURL returns a temporary link to the mirrored copy of a thumbnail,
// or "" when the mirror is disabled or has no copy yet.
func (s *Service) ArtworkURL(ctx context.Context, thumbnailURL string) (string, error) {
	thumbnailURL = strings.TrimSpace(thumbnailURL)
	if thumbnailURL == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is required", nil)
	}
	if s.artwork == nil {
		return "", nil
	}
	return s.artwork.PresignedURL(ctx, thumbnailURL, time.Hour), nil
}

// --- Search ---

func (s *Service) SearchTracks(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// --- Users ---

func (s *Service) SaveUsername(ctx context.Context, userID, username string) (users.User, error) {
	userID = strings.TrimSpace(userID)
	username = strings.TrimSpace(username)
	if userID == "" {
		return users.User{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
	}
	if username == "" {
		return users.User{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "username is required", nil)
	}
	u, err := s.users.SaveUsername(ctx, userID, username)
	if err != nil {
		if errors.Is(err, users.ErrUsernameTaken) {
			return users.User{}, domainError(http.StatusConflict, "USERNAME_TAKEN", "Username is already taken", nil)
		}
		return users.User{}, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (users.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return users.User{}, domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		}
		return users.User{}, err
	}
	return u, nil
}

func (s *Service) AddFavorite(ctx context.Context, userID string, in PlayInput) (store.Item, error) {
	item, err := s.itemFromInput(in)
	if err != nil {
		return store.Item{}, err
	}
	saved, err := s.users.AddFavorite(ctx, userID, item)
	if err != nil {
		if errors.Is(err, users.ErrAlreadyFavorited) {
			return store.Item{}, domainError(http.StatusConflict, "ALREADY_FAVORITED", "Track is already in favorites", nil)
		}
		return store.Item{}, err
	}
	s.noteTrack(saved)
	return saved, nil
}

func (s *Service) RemoveFavorite(ctx context.Context, userID, url, title string) error {
	if strings.TrimSpace(url) == "" || strings.TrimSpace(title) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url and title are required", nil)
	}
	return s.users.RemoveFavorite(ctx, userID, url, title)
}

func (s *Service) ListFavorites(ctx context.Context, userID string) ([]store.Item, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
	}
	return s.users.ListFavorites(ctx, userID)
}
