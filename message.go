package client

import (
	"context"
	"sync"
	"time"

	"github.com/relaychat/client-go/backend"
)

// Attachment is one file attached to a message.
type Attachment struct {
	Name      string
	URL       string
	MIME      string
	CreatedAt time.Time
}

// AttachmentUpload is the local payload handed to PostMessage before it has
// been uploaded.
type AttachmentUpload struct {
	Name string
	MIME string
	Data []byte
}

// Message mirrors one remote message document. The owning Channel holds the
// message's lifecycle; the back-reference here is non-owning.
type Message struct {
	mu          sync.RWMutex
	id          string
	author      string
	content     string
	createdAt   time.Time
	editedAt    time.Time
	attachments []Attachment
	rev         time.Time

	channel *Channel
}

// MessagePatch is a partial update for a Message. Nil fields are left
// untouched; absence never clears a field.
type MessagePatch struct {
	Author      *string
	Content     *string
	CreatedAt   *time.Time
	EditedAt    *time.Time
	Attachments []Attachment

	// Rev, when non-zero and older than the applied revision, makes Set a
	// no-op. See UserPatch.Rev.
	Rev time.Time
}

func newMessageFromDoc(id string, doc backend.Doc, ch *Channel) *Message {
	m := &Message{id: id, channel: ch}
	m.Set(messagePatchFromDoc(doc))
	return m
}

// ID returns the stable unique identifier.
func (m *Message) ID() string { return m.id }

// Author returns the sender's user id.
func (m *Message) Author() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.author
}

// Content returns the HTML body.
func (m *Message) Content() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.content
}

// CreatedAt returns the creation time.
func (m *Message) CreatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createdAt
}

// EditedAt returns the last edit time; ok is false when never edited.
func (m *Message) EditedAt() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.editedAt, !m.editedAt.IsZero()
}

// Attachments returns a snapshot of the attachment list.
func (m *Message) Attachments() []Attachment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Attachment, len(m.attachments))
	copy(out, m.attachments)
	return out
}

// Channel returns the owning channel, nil on a detached copy.
func (m *Message) Channel() *Channel { return m.channel }

// Set merges p into the message in place and returns the same instance.
func (m *Message) Set(p MessagePatch) *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !p.Rev.IsZero() {
		if p.Rev.Before(m.rev) {
			return m
		}
		m.rev = p.Rev
	}
	if p.Author != nil {
		m.author = *p.Author
	}
	if p.Content != nil {
		m.content = *p.Content
	}
	if p.CreatedAt != nil {
		m.createdAt = *p.CreatedAt
	}
	if p.EditedAt != nil {
		m.editedAt = *p.EditedAt
	}
	if p.Attachments != nil {
		m.attachments = make([]Attachment, len(p.Attachments))
		copy(m.attachments, p.Attachments)
	}
	return m
}

// SetContent replaces the HTML body locally. Call Commit with edit=true to
// persist the edit.
func (m *Message) SetContent(html string) {
	m.mu.Lock()
	m.content = html
	m.mu.Unlock()
}

// Copy returns a detached snapshot with no channel back-reference.
func (m *Message) Copy() *Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := &Message{
		id:        m.id,
		author:    m.author,
		content:   m.content,
		createdAt: m.createdAt,
		editedAt:  m.editedAt,
		rev:       m.rev,
	}
	cp.attachments = make([]Attachment, len(m.attachments))
	copy(cp.attachments, m.attachments)
	return cp
}

// Commit persists the message's fields. With edit=true it stamps a fresh
// edit timestamp and emits the owning channel's message event before the
// remote write is enqueued; a failed write does not revert that local
// notification. The write itself runs on the per-channel FIFO queue and a
// write failure reaches the queue's error handler, not this caller.
func (m *Message) Commit(ctx context.Context, edit bool) error {
	ch := m.channel
	if ch == nil || ch.mgr == nil {
		return ErrDetached
	}
	if edit {
		m.mu.Lock()
		m.editedAt = time.Now().UTC()
		m.mu.Unlock()
		ch.emitMessage(m)
	}
	doc := m.Doc()
	writesEnqueuedTotal.WithLabelValues("message_commit").Inc()
	return ch.mgr.enqueueWrite(ctx, ch.id, func(jobCtx context.Context) error {
		return ch.mgr.store.Update(jobCtx, ch.messageCollection(), m.id, doc)
	})
}

// Delete removes the remote message document. The in-memory list entry is
// not touched here; the message feed's removal record takes it out.
func (m *Message) Delete(ctx context.Context) error {
	ch := m.channel
	if ch == nil || ch.mgr == nil {
		return ErrDetached
	}
	return ch.mgr.store.Delete(ctx, ch.messageCollection(), m.id)
}

// Doc projects the persisted fields, omitting empty ones.
func (m *Message) Doc() backend.Doc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc := backend.Doc{}
	if m.author != "" {
		doc["author"] = m.author
	}
	if m.content != "" {
		doc["content"] = m.content
	}
	if !m.createdAt.IsZero() {
		doc["createdAt"] = m.createdAt.UTC().Format(time.RFC3339Nano)
	}
	if !m.editedAt.IsZero() {
		doc["editedAt"] = m.editedAt.UTC().Format(time.RFC3339Nano)
	}
	if len(m.attachments) > 0 {
		atts := make([]any, 0, len(m.attachments))
		for _, a := range m.attachments {
			atts = append(atts, map[string]any{
				"name":      a.Name,
				"url":       a.URL,
				"mime":      a.MIME,
				"createdAt": a.CreatedAt.UTC().Format(time.RFC3339Nano),
			})
		}
		doc["attachments"] = atts
	}
	return doc
}

// messagePatchFromDoc converts a message document into a patch touching
// only the fields the document carries.
func messagePatchFromDoc(doc backend.Doc) MessagePatch {
	var p MessagePatch
	if doc.Has("author") {
		v := doc.Str("author")
		p.Author = &v
	}
	if doc.Has("content") {
		v := doc.Str("content")
		p.Content = &v
	}
	if doc.Has("createdAt") {
		v := doc.Time("createdAt")
		p.CreatedAt = &v
	}
	if doc.Has("editedAt") {
		v := doc.Time("editedAt")
		p.EditedAt = &v
	}
	if doc.Has("attachments") {
		for _, ad := range doc.Docs("attachments") {
			p.Attachments = append(p.Attachments, Attachment{
				Name:      ad.Str("name"),
				URL:       ad.Str("url"),
				MIME:      ad.Str("mime"),
				CreatedAt: ad.Time("createdAt"),
			})
		}
		if p.Attachments == nil {
			p.Attachments = []Attachment{}
		}
	}
	if doc.Has("updatedAt") {
		p.Rev = doc.Time("updatedAt")
	}
	return p
}
