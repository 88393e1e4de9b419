package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"

	MessageStatusStreaming = "streaming"
	MessageStatusDone      = "done"
	MessageStatusError     = "error"
	MessageStatusAborted   = "aborted"
)

// ChatThread is one teacher-facing conversation. Messages are never mutated
// retroactively except for title assignment on the first turn.
type ChatThread struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`

	Title string `gorm:"type:text;not null;default:''" json:"title"`

	LastMessageAt time.Time `gorm:"not null;default:now();index" json:"last_message_at"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ChatThread) TableName() string { return "chat_thread" }

// ChatMessage is one entry in a thread's ordered message list. Seq is
// monotonic within a thread.
type ChatMessage struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ThreadID uuid.UUID `gorm:"type:uuid;not null;index" json:"thread_id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`

	Role    string `gorm:"type:text;not null" json:"role"`
	Content string `gorm:"type:text;not null;default:''" json:"content"`
	Status  string `gorm:"type:text;not null;default:'done'" json:"status"`

	Seq int64 `gorm:"not null;default:0;index" json:"seq"`

	// []ToolInvocation emitted by the model on this turn
	ToolCalls datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"tool_calls"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ChatMessage) TableName() string { return "chat_message" }

// ToolInvocation is a structured tool call extracted from model output.
type ToolInvocation struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
