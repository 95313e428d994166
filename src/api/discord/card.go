package discord

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/bigpicture/pujo-pictures/src/api/types"
)

const (
	cardTitle       = "New Pujo Picture Submission"
	approveField    = "Approve"
	rejectField     = "Disapprove"
	defaultUsername = "big picture"
)

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Marker replaces the expiry notice once the card is finalized.
func (o Outcome) Marker() string {
	switch o {
	case OutcomeApproved:
		return "[APPROVED]"
	case OutcomeRejected:
		return "[REJECTED]"
	default:
		return "[" + strings.ToUpper(string(o)) + "]"
	}
}

var expiryNoticeRe = regexp.MustCompile(`Request expires in \d+ days?`)

// Card is what the synchronizer needs to post a moderation card.
type Card struct {
	Submission types.Submission
	ApproveURL string
	RejectURL  string
	TTL        time.Duration
}

type Identity struct {
	Username  string
	AvatarURL string
}

func expiryNotice(ttl time.Duration) string {
	days := int(ttl.Round(time.Hour).Hours() / 24)
	if days < 1 {
		days = 1
	}
	if days == 1 {
		return "Request expires in 1 day"
	}
	return fmt.Sprintf("Request expires in %d days", days)
}

// BuildCard renders the pending card for a submission.
func BuildCard(c Card, id Identity) *discordgo.WebhookParams {
	s := c.Submission
	username := id.Username
	if username == "" {
		username = defaultUsername
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "Location: %s\n", s.Coordinates)
	if s.Location != "" {
		fmt.Fprintf(&desc, "Place: %s\n", s.Location)
	}
	fmt.Fprintf(&desc, "Pandal: %s\n", s.PandalName)
	fmt.Fprintf(&desc, "Image Type: %s\n", s.ImageType)
	fmt.Fprintf(&desc, "ID: %s\n", s.ID)
	fmt.Fprintf(&desc, "pandalId: %s\n", s.PandalID)
	fmt.Fprintf(&desc, "Reddit Username: %s", s.RedditUsername)

	return &discordgo.WebhookParams{
		Content:   fmt.Sprintf("New submission from @%s!\n%s", s.Username, expiryNotice(c.TTL)),
		Username:  username,
		AvatarURL: id.AvatarURL,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
		Embeds: []*discordgo.MessageEmbed{{
			Title:       cardTitle,
			Description: desc.String(),
			Image:       &discordgo.MessageEmbedImage{URL: s.PhotoURL},
			Fields: []*discordgo.MessageEmbedField{
				{Name: approveField, Value: fmt.Sprintf("[yah](%s)", c.ApproveURL), Inline: true},
				{Name: rejectField, Value: fmt.Sprintf("[nah](%s)", c.RejectURL), Inline: true},
			},
		}},
	}
}

// Finalize strips the action links from msg and swaps the expiry notice for
// the outcome marker. It reports false when msg is already in that state.
func Finalize(msg *discordgo.Message, outcome Outcome) (*discordgo.WebhookEdit, bool) {
	marker := outcome.Marker()
	content := msg.Content
	if expiryNoticeRe.MatchString(content) {
		content = expiryNoticeRe.ReplaceAllString(content, marker)
	} else if !strings.Contains(content, marker) {
		content = strings.TrimRight(content, "\n") + "\n" + marker
	}

	changed := content != msg.Content
	embeds := make([]*discordgo.MessageEmbed, 0, len(msg.Embeds))
	for _, e := range msg.Embeds {
		if e == nil {
			continue
		}
		cp := *e
		if len(cp.Fields) > 0 {
			changed = true
		}
		cp.Fields = nil
		embeds = append(embeds, &cp)
	}
	if !changed {
		return nil, false
	}
	return &discordgo.WebhookEdit{
		Content: &content,
		Embeds:  &embeds,
	}, true
}
