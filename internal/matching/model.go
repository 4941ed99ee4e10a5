package matching

import "time"

// RequestStatus enumerates the connection-request lifecycle states.
type RequestStatus string

const (
	// StatusPending marks a request awaiting the receiver's decision.
	StatusPending RequestStatus = "pending"
	// StatusAccepted marks a request that produced a match. Terminal.
	StatusAccepted RequestStatus = "accepted"
	// StatusRejected marks a declined request. Terminal, and a
	// permanent tombstone: the pair can never reconnect.
	StatusRejected RequestStatus = "rejected"
)

// MaxMatchesPerUser is the fixed cap on simultaneous co-living matches.
const MaxMatchesPerUser = 2

// ConnectionRequest is a directed request from sender to receiver.
// PairKey is the ordered concatenation of the two user ids; its unique
// index guarantees at most one row per unordered pair at the storage
// layer, so racing duplicate creates surface as constraint violations
// instead of a second pending row. Rematch frees the key by deleting
// the accepted row; a rejected row keeps holding it.
type ConnectionRequest struct {
	ID         string        `gorm:"column:id;primaryKey;size:190;not null"`
	SenderID   string        `gorm:"column:sender_id;size:190;not null;index"`
	ReceiverID string        `gorm:"column:receiver_id;size:190;not null;index"`
	PairKey    string        `gorm:"column:pair_key;size:384;not null;uniqueIndex"`
	Status     RequestStatus `gorm:"column:status;size:16;not null;default:pending"`
	CreatedAt  time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (ConnectionRequest) TableName() string {
	return "connection_requests"
}

// Match is the durable record of a confirmed pairing. UserAID is the
// original request sender, UserBID the receiver.
type Match struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	UserAID   string    `gorm:"column:user_a_id;size:190;not null;index"`
	UserBID   string    `gorm:"column:user_b_id;size:190;not null;index"`
	PairKey   string    `gorm:"column:pair_key;size:384;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Match) TableName() string {
	return "matches"
}

// PartnerOf returns the other participant's id, or "" when userID is
// not part of the match.
func (m Match) PartnerOf(userID string) string {
	switch userID {
	case m.UserAID:
		return m.UserBID
	case m.UserBID:
		return m.UserAID
	default:
		return ""
	}
}

// NotificationTypeConnectionAccepted is emitted to the sender when
// their request is accepted.
const NotificationTypeConnectionAccepted = "connection_accepted"

// Notification is the side-channel record read by the recipient's UI.
type Notification struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	RecipientID  string    `gorm:"column:recipient_id;size:190;not null;index:idx_notifications_recipient_read,priority:1"`
	Type         string    `gorm:"column:type;size:64;not null"`
	Message      string    `gorm:"column:message;type:text;not null"`
	MetadataJSON string    `gorm:"column:metadata_json;type:text;not null;default:''"`
	Read         bool      `gorm:"column:read;not null;default:false;index:idx_notifications_recipient_read,priority:2"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// PairKeyFor builds the order-independent key for a user pair.
func PairKeyFor(userA, userB string) string {
	if userA < userB {
		return userA + ":" + userB
	}
	return userB + ":" + userA
}
