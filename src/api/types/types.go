package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the version written by Encode. Records without a version
// were written by the first release and are upgraded on read.
const SchemaVersion = 1

// NewLocationID marks a submission for a place that is not in the index yet.
const NewLocationID = "new"

// newLocationAlias is what the web client sends for an unlisted place.
const newLocationAlias = "new_pandal"

// NormalizeLocationID maps the empty id and the client's unlisted-place
// value to NewLocationID.
func NormalizeLocationID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || id == newLocationAlias {
		return NewLocationID
	}
	return id
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"

	// legacyStatusPending is what the first release stored for pending records.
	legacyStatusPending Status = "unapproved"
)

type ImageCategory string

const (
	CategoryPandal      ImageCategory = "pandal"
	CategoryAtmosphere  ImageCategory = "atmosphere"
	CategoryIdol        ImageCategory = "idol"
	CategoryPerformance ImageCategory = "performance"
	CategoryFood        ImageCategory = "food"
	CategoryOther       ImageCategory = "other"
)

var categories = []ImageCategory{
	CategoryPandal, CategoryAtmosphere, CategoryIdol,
	CategoryPerformance, CategoryFood, CategoryOther,
}

func ParseImageCategory(s string) (ImageCategory, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Coordinates is [lat, lng], serialised as a JSON array.
type Coordinates [2]float64

func (c Coordinates) Lat() float64 { return c[0] }
func (c Coordinates) Lng() float64 { return c[1] }

func (c Coordinates) Valid() bool {
	return c[0] >= -90 && c[0] <= 90 && c[1] >= -180 && c[1] <= 180
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%g,%g", c[0], c[1])
}

// Submission is the stored record under submission:{id}.
type Submission struct {
	Version          int           `json:"v"`
	Revision         int64         `json:"rev"`
	ID               string        `json:"id"`
	Username         string        `json:"username"`
	Email            string        `json:"email,omitempty"`
	RedditUsername   string        `json:"redditUsername,omitempty"`
	Location         string        `json:"location,omitempty"`
	PandalID         string        `json:"pandalId"`
	PandalName       string        `json:"pandalName,omitempty"`
	Coordinates      Coordinates   `json:"coordinates"`
	ImageType        ImageCategory `json:"imageType"`
	PhotoURL         string        `json:"photoUrl"`
	OriginalKey      string        `json:"originalKey"`
	OriginalChecksum uint64        `json:"originalChecksum,omitempty"`
	Status           Status        `json:"status"`
	NotificationRef  string        `json:"notificationRef"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// LocationKey is the location entity the approved set is keyed by.
func (s Submission) LocationKey() string {
	if id := strings.TrimSpace(s.PandalID); id != "" {
		return id
	}
	return NewLocationID
}

func (s Submission) IsPending() bool  { return s.Status == StatusPending }
func (s Submission) IsApproved() bool { return s.Status == StatusApproved }

// record mirrors Submission plus fields that only appear in legacy records.
type record struct {
	Submission
	DiscordMessageID string `json:"discordMessageId,omitempty"`
}

func Encode(s Submission) ([]byte, error) {
	s.Version = SchemaVersion
	return json.Marshal(s)
}

// Decode parses a stored record, upgrading older schema versions.
func Decode(data []byte) (Submission, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return Submission{}, fmt.Errorf("decode submission: %w", err)
	}
	if r.Version > SchemaVersion {
		return Submission{}, fmt.Errorf("decode submission %s: unsupported schema version %d", r.ID, r.Version)
	}
	s := r.Submission
	if s.Version == 0 {
		s = migrateV0(r)
	}
	return s, nil
}

func migrateV0(r record) Submission {
	s := r.Submission
	s.Version = SchemaVersion
	if s.Status == legacyStatusPending || s.Status == "" {
		s.Status = StatusPending
	}
	if s.NotificationRef == "" {
		s.NotificationRef = r.DiscordMessageID
	}
	if s.OriginalKey == "" && s.ID != "" {
		s.OriginalKey = "original/" + s.ID
	}
	return s
}

// ModerationEvent is one row of the moderation audit trail.
type ModerationEvent struct {
	ID           uint64    `gorm:"primaryKey"`
	SubmissionID string    `gorm:"size:64;index;not null"`
	Action       string    `gorm:"size:16;not null"` // approve|reject
	Outcome      string    `gorm:"size:32;not null"` // applied|noop|not_found|conflict|failed
	PandalID     string    `gorm:"size:64"`
	Detail       string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index"`
}

// Setting represents a configuration setting stored in the database
type Setting struct {
	ID     uint8  `gorm:"primaryKey"`
	Name   string `gorm:"size:32;not null"`
	Value  string `gorm:"type:text;not null"`
	Active uint8  `gorm:"not null"`
}
