package store

import (
	"net/url"
	"strings"
	"time"
)

// Item is one playable entry. Immutable once created; two items are the same
// track when URL and title match.
type Item struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Channel   string    `json:"channel"`
	Thumbnail string    `json:"thumbnail"`
	AddedBy   string    `json:"addedBy"`
	AddedAt   time.Time `json:"addedAt"`
}

// SameTrack reports whether two items refer to the same track (URL + title).
func (i Item) SameTrack(other Item) bool {
	return i.URL == other.URL && i.Title == other.Title
}

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// PlayerState is the playback portion of a room document. CurrentItem nil
// means the room is idle.
type PlayerState struct {
	CurrentItem *Item  `json:"currentItem"`
	Queue       []Item `json:"queue"`
	History     []Item `json:"history"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type PresenceEntry struct {
	MemberID    string    `json:"memberId"`
	Status      string    `json:"status"`
	DisplayName string    `json:"displayName"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type ChatMessage struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	CreatedAt  time.Time `json:"createdAt"`
}

var mediaHosts = map[string]struct{}{
	"youtube.com":       {},
	"www.youtube.com":   {},
	"m.youtube.com":     {},
	"music.youtube.com": {},
	"youtu.be":          {},
}

// IsMediaURL reports whether raw points at a recognized media source.
func IsMediaURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	_, ok := mediaHosts[strings.ToLower(u.Hostname())]
	return ok
}
