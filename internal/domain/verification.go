package domain

// PendingVerification is one entry in a mobile's verification FIFO.
type PendingVerification struct {
	ID          string // uuid, for log correlation only — not persisted semantics
	ChannelID   ChannelID
	MessageID   int64
	VariantIndex string
	Timestamp   int64 // epoch millis; send time, always <= enqueue time
}
