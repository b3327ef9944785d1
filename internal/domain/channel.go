package domain

// Channel is the metadata owned by the external ChannelStore, consumed and
// mutated by the core.
type Channel struct {
	ChannelID          ChannelID `json:"channelId"`
	Title              string    `json:"title"`
	Username           string    `json:"username,omitempty"`
	ParticipantsCount  int       `json:"participantsCount"`
	Broadcast          bool      `json:"broadcast"`
	Restricted         bool      `json:"restricted"`
	CanSendMsgs        bool      `json:"canSendMsgs"`
	AvailableMsgs      []string  `json:"availableMsgs"`
	Banned             bool      `json:"banned"`
	LastMessageTime    int64     `json:"lastMessageTime"`
	WordRestriction    int       `json:"wordRestriction"`
}

// HasVariant reports whether variant is still in AvailableMsgs.
func (c *Channel) HasVariant(variant string) bool {
	for _, v := range c.AvailableMsgs {
		if v == variant {
			return true
		}
	}
	return false
}

// RemoveVariant returns a copy of AvailableMsgs without variant.
func RemoveVariant(msgs []string, variant string) []string {
	out := make([]string, 0, len(msgs))
	for _, v := range msgs {
		if v != variant {
			out = append(out, v)
		}
	}
	return out
}
