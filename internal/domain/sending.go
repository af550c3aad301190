package domain

import "time"

// MessageStatus tracks a single scheduled message through the send pipeline.
type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageClaimed   MessageStatus = "claimed"
	MessageSending   MessageStatus = "sending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
	MessageDead      MessageStatus = "dead_letter"
)

// SendSpec is what a MessageGateway adapter needs to place one message.
type SendSpec struct {
	AccountCredential string
	Address           string
	Text              string
	MediaRef          string
	ContextRef        string
}

// SendResult is the adapter's acknowledgement that the provider accepted a
// message for delivery.
type SendResult struct {
	ProviderMessageID string
	AcceptedAt        time.Time
}

// ScheduledMessage is one queued recipient send, claimed atomically by a
// single worker and carried through to a terminal status. It carries the
// selections that produced RenderedText and a copy of the owning
// campaign's pacing bounds, so the dispatch worker can log a
// VariationLogEntry and pace sends without a second lookup against the
// campaign store.
type ScheduledMessage struct {
	ID           string        `db:"id"`
	CampaignID   string        `db:"campaign_id"`
	AccountID    string        `db:"account_id"`
	RecipientIdx int           `db:"recipient_index"`
	Address      string        `db:"address"`
	TemplateRaw  string        `db:"template_raw"`
	RenderedText string        `db:"rendered_text"`
	Selections   []Selection   `db:"-"`
	Status       MessageStatus `db:"status"`
	Attempts     int           `db:"attempts"`
	LastError    string        `db:"last_error"`

	PacingMinIntervalMs int64 `db:"pacing_min_interval_ms"`
	PacingMaxIntervalMs int64 `db:"pacing_max_interval_ms"`

	ProviderMessageID string     `db:"provider_message_id"`
	ClaimedBy         string     `db:"claimed_by"`
	ClaimedAt         *time.Time `db:"claimed_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DeliveryEvent is an asynchronous provider callback (delivered/read/failed)
// keyed by the ProviderMessageID returned from SendResult.
type DeliveryEvent struct {
	ProviderMessageID string        `json:"provider_message_id"`
	Status            MessageStatus `json:"status"`
	Reason            string        `json:"reason,omitempty"`
	OccurredAt        time.Time     `json:"occurred_at"`
}
