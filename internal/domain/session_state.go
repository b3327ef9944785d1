package domain

// PromotionOutcome is the per-channel send history kept in SessionState.
type PromotionOutcome struct {
	Success             bool   `json:"success"`
	Count               int    `json:"count"`
	ErrorMessage        string `json:"errorMessage,omitempty"`
	LastCheckTimestamp  int64  `json:"lastCheckTimestamp"`
}

// SessionState is the in-memory record kept per mobile.
// Persistence snapshots the exported fields below.
type SessionState struct {
	Mobile Mobile

	Channels     []ChannelID
	ChannelIndex int

	PromotionResults map[ChannelID]PromotionOutcome
	PromoteMsgs      map[string]string // variantIndex -> template, snapshot of TemplateStore at init

	LastMessageTime int64
	LastCheckedTime int64
	SleepTime       int64
	ReleaseTime     int64

	SuccessCount  int
	FailedCount   int
	TempFailCount int
	MessageCount  int
	Converted     int

	DaysLeft int // >= -1; < 0 => wipe outcome history

	IsPromoting bool

	FailureReason string
}

// NewSessionState returns a zeroed SessionState for m.
func NewSessionState(m Mobile) *SessionState {
	return &SessionState{
		Mobile:           m,
		PromotionResults: make(map[ChannelID]PromotionOutcome),
		PromoteMsgs:      make(map[string]string),
		DaysLeft:         -1,
	}
}

// MobileStatsSnapshot is the persisted "mobileStats" block.
type MobileStatsSnapshot struct {
	MessageCount    int   `json:"messageCount"`
	SuccessCount    int   `json:"successCount"`
	FailedCount     int   `json:"failedCount"`
	DaysLeft        int   `json:"daysLeft"`
	LastCheckedTime int64 `json:"lastCheckedTime"`
	SleepTime       int64 `json:"sleepTime"`
	ReleaseTime     int64 `json:"releaseTime"`
	LastMessageTime int64 `json:"lastMessageTime"`
	Converted       int   `json:"converted"`
}

// StateSnapshot is the full on-disk schema for one mobile.
type StateSnapshot struct {
	MobileStats      MobileStatsSnapshot          `json:"mobileStats"`
	PromotionResults map[ChannelID]PromotionOutcome `json:"promotionResults"`
	SavedAt          string                        `json:"savedAt"`
	Version          string                        `json:"version"`
}

const SnapshotVersion = "1.0"
