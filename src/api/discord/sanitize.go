package discord

import (
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
)

var bareURL = regexp.MustCompile(`<?https?://[^\s\[\]()<>]+>?`)

// suppressEmbeds wraps bare URLs in angle brackets so Discord does not
// unfurl them. Trailing sentence punctuation stays outside the brackets.
func suppressEmbeds(text string) string {
	if !strings.Contains(text, "http") {
		return text
	}
	return bareURL.ReplaceAllStringFunc(text, func(m string) string {
		if strings.HasPrefix(m, "<") && strings.HasSuffix(m, ">") {
			return m
		}
		lead := ""
		if strings.HasPrefix(m, "<") {
			lead, m = "<", m[1:]
		}
		trail := ""
		if strings.HasSuffix(m, ">") {
			m, trail = m[:len(m)-1], ">"
		}
		url := strings.TrimRight(m, ".,;:!?)")
		if url == "" || strings.HasSuffix(url, "//") {
			return lead + m + trail
		}
		return lead + "<" + url + ">" + m[len(url):] + trail
	})
}

// Description and footer carry user text; link fields are left alone.
func sanitizeEmbeds(embeds []*discordgo.MessageEmbed) {
	for _, e := range embeds {
		if e == nil {
			continue
		}
		e.Description = suppressEmbeds(e.Description)
		if e.Footer != nil {
			e.Footer.Text = suppressEmbeds(e.Footer.Text)
		}
	}
}

func sanitizeWebhookParams(params *discordgo.WebhookParams) {
	if params == nil {
		return
	}
	params.Content = suppressEmbeds(params.Content)
	sanitizeEmbeds(params.Embeds)
}

func sanitizeWebhookEdit(edit *discordgo.WebhookEdit) {
	if edit == nil {
		return
	}
	if edit.Content != nil {
		cleaned := suppressEmbeds(*edit.Content)
		edit.Content = &cleaned
	}
	if edit.Embeds != nil {
		sanitizeEmbeds(*edit.Embeds)
	}
}
