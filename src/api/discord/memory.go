package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// MemoryWebhook keeps messages in process. It backs tests.
type MemoryWebhook struct {
	mu       sync.Mutex
	next     int
	messages map[string]*discordgo.Message
	Edits    int

	// Fail, when set, is consulted before every call.
	Fail func(op string) error
}

func NewMemoryWebhook() *MemoryWebhook {
	return &MemoryWebhook{messages: make(map[string]*discordgo.Message)}
}

func (m *MemoryWebhook) Execute(_ context.Context, params *discordgo.WebhookParams) (*discordgo.Message, error) {
	if err := m.fail("execute"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	msg := &discordgo.Message{
		ID:      fmt.Sprintf("%d", 1000+m.next),
		Content: params.Content,
		Embeds:  cloneEmbeds(params.Embeds),
	}
	m.messages[msg.ID] = msg
	return cloneMessage(msg), nil
}

func (m *MemoryWebhook) Message(_ context.Context, messageID string) (*discordgo.Message, error) {
	if err := m.fail("message"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("unknown message %s", messageID)
	}
	return cloneMessage(msg), nil
}

func (m *MemoryWebhook) Edit(_ context.Context, messageID string, edit *discordgo.WebhookEdit) (*discordgo.Message, error) {
	if err := m.fail("edit"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("unknown message %s", messageID)
	}
	if edit.Content != nil {
		msg.Content = *edit.Content
	}
	if edit.Embeds != nil {
		msg.Embeds = cloneEmbeds(*edit.Embeds)
	}
	m.Edits++
	return cloneMessage(msg), nil
}

// Get returns a copy of a stored message, or nil.
func (m *MemoryWebhook) Get(messageID string) *discordgo.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return nil
	}
	return cloneMessage(msg)
}

func (m *MemoryWebhook) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *MemoryWebhook) fail(op string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(op)
}

func cloneMessage(msg *discordgo.Message) *discordgo.Message {
	cp := *msg
	cp.Embeds = cloneEmbeds(msg.Embeds)
	return &cp
}

func cloneEmbeds(in []*discordgo.MessageEmbed) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(in))
	for _, e := range in {
		if e == nil {
			continue
		}
		cp := *e
		if e.Fields != nil {
			cp.Fields = make([]*discordgo.MessageEmbedField, len(e.Fields))
			for i, f := range e.Fields {
				fc := *f
				cp.Fields[i] = &fc
			}
		}
		out = append(out, &cp)
	}
	return out
}
