package database

import (
	"fmt"
	"regexp"
)

// Scope separates group conversations from private ones. Keys with equal
// IDs in different scopes are distinct conversations.
type Scope string

const (
	ScopeGroup   Scope = "group"
	ScopePrivate Scope = "private"
)

// ConversationKey identifies one conversation's history.
type ConversationKey struct {
	Scope Scope
	ID    string
}

func GroupKey(id string) ConversationKey   { return ConversationKey{Scope: ScopeGroup, ID: id} }
func PrivateKey(id string) ConversationKey { return ConversationKey{Scope: ScopePrivate, ID: id} }

func (k ConversationKey) String() string {
	return string(k.Scope) + ":" + k.ID
}

var keyIDPattern = regexp.MustCompile(`^-?[0-9A-Za-z_]+$`)

// Validate rejects keys that could not be mapped safely to a database file.
func (k ConversationKey) Validate() error {
	if k.Scope != ScopeGroup && k.Scope != ScopePrivate {
		return fmt.Errorf("unknown conversation scope %q", k.Scope)
	}
	if !keyIDPattern.MatchString(k.ID) {
		return fmt.Errorf("invalid conversation id %q", k.ID)
	}
	return nil
}

// Direction tells whether a record was received by the bot or sent by it.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageRecord is one row of a conversation log.
type MessageRecord struct {
	ID        int64     `db:"id"`
	Timestamp int64     `db:"timestamp"` // Unix seconds
	BotID     string    `db:"bot_id"`
	BotName   string    `db:"bot_name"`
	Direction Direction `db:"direction"`
	ChatID    string    `db:"chat_id"`
	UserID    string    `db:"user_id"`
	UserName  string    `db:"user_name"`
	Content   string    `db:"message"`
}
