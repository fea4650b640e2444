package domain

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validatorInstance is a package-level validator instance.
// Using a single instance is more efficient as it caches struct information.
var validatorInstance = validator.New()

// UnknownDate is the date-bucket key of messages that carry no sentAtDate.
const UnknownDate = "unknown"

// DateLayout is the layout of ChatMessage.SentAtDate.
const DateLayout = "2006-01-02"

// localTimeLayouts are the display formats accepted for SentAtLocalTime when a
// message needs a comparable timestamp.
var localTimeLayouts = []string{
	"15:04:05",
	"15:04",
	"3:04:05 PM",
	"3:04 PM",
	"03:04 PM",
}

// ChatMessage is one chat line as delivered by the backend.
// Values are copied on every hand-off and never modified after ingestion.
type ChatMessage struct {
	SenderDisplayName string `json:"senderDisplayName" validate:"required"`
	Text              string `json:"text"`
	ID                string `json:"id,omitempty"`
	SenderID          string `json:"senderId,omitempty"`
	SentAtLocalTime   string `json:"sentAtLocalTime,omitempty"`
	SentAtDate        string `json:"sentAtDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// Validate checks the fields a frame payload must carry to be ingested.
func (m ChatMessage) Validate() error {
	return validatorInstance.Struct(m)
}

// Author identifies who wrote the message. The sender id wins when present.
func (m ChatMessage) Author() string {
	if m.SenderID != "" {
		return m.SenderID
	}
	return m.SenderDisplayName
}

// DateKey returns the day bucket the message belongs to.
func (m ChatMessage) DateKey() string {
	if strings.TrimSpace(m.SentAtDate) == "" {
		return UnknownDate
	}
	return m.SentAtDate
}

// SentAt combines SentAtDate and SentAtLocalTime into a comparable instant.
// ok is false when either part is missing or unparseable.
func (m ChatMessage) SentAt() (t time.Time, ok bool) {
	if m.SentAtDate == "" || m.SentAtLocalTime == "" {
		return time.Time{}, false
	}
	day, err := time.Parse(DateLayout, m.SentAtDate)
	if err != nil {
		return time.Time{}, false
	}
	clock := strings.TrimSpace(m.SentAtLocalTime)
	for _, layout := range localTimeLayouts {
		tod, err := time.Parse(layout, clock)
		if err != nil {
			continue
		}
		return day.Add(time.Duration(tod.Hour())*time.Hour +
			time.Duration(tod.Minute())*time.Minute +
			time.Duration(tod.Second())*time.Second), true
	}
	return time.Time{}, false
}

// ContentKey identifies a message that has no ID. Two id-less messages with
// the same key are treated as the same backlog entry.
func (m ChatMessage) ContentKey() string {
	return strings.Join([]string{m.Author(), m.SentAtDate, m.SentAtLocalTime, m.Text}, "\x1f")
}
