// Package domain defines the persistence models for tracked support cases,
// their secondary index entries, and processed push events. These types are
// mapped with GORM and form the core data layer of the case-sync service.
package domain

import "time"

// Case mirrors one external support ticket and records where its
// notifications are delivered.
//
// Fields:
//   - CaseID: opaque external key; globally unique and immutable once created.
//   - DisplayID: human-facing short id used in notifications and links.
//   - OriginChatID: chat the case was requested from.
//   - CaseChatID: dedicated channel created for the case (optional).
//   - CredentialRef: opaque reference exchanged for scoped ticket-API access.
//   - Status: remote-driven lifecycle status (see status.go).
//   - LastCommunicationTime: delivery watermark, RFC 3339 UTC. Once set it only
//     moves forward; every write is a max-merge, never a blind overwrite.
//   - ResolvedAt: set when the case enters resolved, cleared on reopen.
//   - ChatDissolved / DissolvedAt: dissolution bookkeeping for the dedicated
//     channel; ChatDissolved is only ever true for resolved cases past the
//     configured grace period.
//   - LastChecked: stamped by every reconciliation pass over the case.
//   - RequestingUserID: user who opened the case.
type Case struct {
	CaseID                string     `json:"case_id"                 gorm:"type:varchar(128);primaryKey"`
	DisplayID             string     `json:"display_id"              gorm:"type:varchar(64);not null"`
	OriginChatID          string     `json:"origin_chat_id"          gorm:"type:varchar(64);not null;index:idx_origin_chat"`
	CaseChatID            string     `json:"case_chat_id,omitempty"  gorm:"type:varchar(64);index:idx_case_chat"`
	CredentialRef         string     `json:"credential_ref"          gorm:"type:varchar(256)"`
	Status                CaseStatus `json:"status"                  gorm:"type:varchar(32);not null;default:'opened'"`
	LastCommunicationTime string     `json:"last_communication_time,omitempty" gorm:"type:varchar(40)"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`
	ChatDissolved         bool       `json:"chat_dissolved"          gorm:"not null;default:false"`
	DissolvedAt           *time.Time `json:"dissolved_at,omitempty"`
	LastChecked           *time.Time `json:"last_checked,omitempty"`
	RequestingUserID      string     `json:"requesting_user_id"      gorm:"type:varchar(64);not null"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Case.
func (Case) TableName() string { return "cases" }

// NotifyChatID returns the channel case updates should be delivered to:
// the dedicated case channel when one exists, otherwise the origin chat.
func (c *Case) NotifyChatID() string {
	if c.CaseChatID != "" {
		return c.CaseChatID
	}
	return c.OriginChatID
}

// ChatIndexEntry maps a chat to one of its cases. A chat can reference many
// cases and a case appears under both its origin chat and its dedicated
// channel, so membership is one row per (chat_id, case_id) pair. Entries are
// best-effort dual writes next to the primary record and can always be
// rebuilt from a full case scan.
type ChatIndexEntry struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	ChatID    string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_chat_case,priority:1"`
	CaseID    string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_chat_case,priority:2"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the database table name for ChatIndexEntry.
func (ChatIndexEntry) TableName() string { return "chat_index" }

// UserIndexEntry maps a user to one of their cases, carrying the case
// creation time so per-user listings come back newest-first without touching
// the primary records.
type UserIndexEntry struct {
	ID            string    `gorm:"type:char(36);primaryKey"`
	UserID        string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_case,priority:1;index:idx_user_created,priority:1"`
	CaseID        string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_user_case,priority:2"`
	CaseCreatedAt time.Time `gorm:"not null;index:idx_user_created,priority:2"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TableName returns the database table name for UserIndexEntry.
func (UserIndexEntry) TableName() string { return "user_index" }
