package models

import (
	"fmt"
	"time"
)

// ItemType is the closed set of sources an item can originate from.
type ItemType string

const (
	ItemTypeGmail ItemType = "gmail"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeGmail:
		return true
	}
	return false
}

// ParseItemType converts a raw string into an ItemType
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown item type %q", s)
	}
	return t, nil
}

// ItemKey identifies an item and correlates it with its chat lines
type ItemKey struct {
	Type ItemType `json:"type"`
	ID   string   `json:"id"`
}

func (k ItemKey) String() string {
	return string(k.Type) + "/" + k.ID
}

// Item is one ingested unit of work, e.g. an email.
// ExternalThread is empty until the first completion has been published.
type Item struct {
	Type            ItemType  `json:"type" db:"type"`
	ID              string    `json:"id" db:"id"`
	Seq             int64     `json:"seq" db:"seq"`
	Content         string    `json:"content" db:"content"`
	ExternalChannel string    `json:"external_channel,omitempty" db:"external_channel"`
	ExternalThread  string    `json:"external_thread,omitempty" db:"external_thread"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Key returns the composite identity of the item
func (i *Item) Key() ItemKey {
	return ItemKey{Type: i.Type, ID: i.ID}
}

// Claimed reports whether the item has been published to the chat platform
func (i *Item) Claimed() bool {
	return i.ExternalThread != ""
}

// Role is the speaker of a chat line
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// ChatLine is one persisted turn of an item's conversation.
// Name is only set on tool invocation and tool result lines.
type ChatLine struct {
	Seq       int64     `json:"seq" db:"seq"`
	Type      ItemType  `json:"type" db:"type"`
	ID        string    `json:"id" db:"id"`
	Role      Role      `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	Name      string    `json:"name,omitempty" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Key returns the key of the item the line belongs to
func (c *ChatLine) Key() ItemKey {
	return ItemKey{Type: c.Type, ID: c.ID}
}

// Classification is the structured record produced by the first turn of a
// conversation and published to the chat platform.
type Classification struct {
	ID           string `json:"id"`
	Author       string `json:"author"`
	TimeReceived string `json:"time_received"`
	Urgent       bool   `json:"urgent"`
	Important    bool   `json:"important"`
	Spam         bool   `json:"spam"`
	Summary      string `json:"summary"`
	Action       string `json:"action"`
}

// ReceivedAt parses TimeReceived as ISO-8601. Offsets are optional.
func (c *Classification) ReceivedAt() (time.Time, error) {
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, c.TimeReceived); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("time_received %q is not ISO-8601", c.TimeReceived)
}

// Thread locates a conversation on the chat platform
type Thread struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}
