package client

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/relaychat/client-go/backend"
	"github.com/relaychat/client-go/events"
)

// ChannelEventKind is the closed set of channel-instance events. These are
// distinct from the manager cache's events: the cache says "this channel's
// slot changed", the instance emitter says "something inside this channel
// changed".
type ChannelEventKind int

const (
	// ChannelUpdated fires after a metadata merge via Set.
	ChannelUpdated ChannelEventKind = iota
	// ChannelMessage fires on message arrival, edit, and removal.
	ChannelMessage
	// ChannelParticipant fires when the participant set changes locally.
	ChannelParticipant
)

// ChannelEvent is one notification from a channel instance.
type ChannelEvent struct {
	Kind    ChannelEventKind
	Channel *Channel
	// Message is set for ChannelMessage events.
	Message *Message
}

// Channel mirrors one remote channel document plus its lazily populated
// message list. Exactly one live instance per id exists in the
// ChannelManager's cache.
type Channel struct {
	mu           sync.RWMutex
	id           string
	name         string
	image        string
	description  string
	participants map[string]bool
	bans         map[string]bool
	pins         []string
	msgs         []*Message
	createdAt    time.Time
	voice        map[string]bool
	isDM         bool
	owner        string
	rev          time.Time

	emitter  events.Emitter[ChannelEvent]
	mgr      *ChannelManager
	stopMsgs backend.CancelFunc
}

// ChannelPatch is a partial update for a Channel. Nil fields are left
// untouched; absence never clears a field.
type ChannelPatch struct {
	Name         *string
	Image        *string
	Description  *string
	Participants map[string]bool
	Bans         map[string]bool
	Pins         []string
	CreatedAt    *time.Time
	Voice        map[string]bool
	IsDM         *bool
	Owner        *string

	// Rev, when non-zero and older than the applied revision, makes Set a
	// no-op. See UserPatch.Rev.
	Rev time.Time
}

// NewChannel composes a channel locally, before any write. Persist it with
// ChannelManager.Upset.
func NewChannel(name string) *Channel {
	return &Channel{
		name:         name,
		participants: make(map[string]bool),
		bans:         make(map[string]bool),
		voice:        make(map[string]bool),
		createdAt:    time.Now().UTC(),
	}
}

func newChannelFromDoc(id string, doc backend.Doc, mgr *ChannelManager) *Channel {
	ch := &Channel{
		id:           id,
		participants: make(map[string]bool),
		bans:         make(map[string]bool),
		voice:        make(map[string]bool),
		mgr:          mgr,
	}
	ch.applySilently(channelPatchFromDoc(doc))
	return ch
}

// ID returns the stable unique identifier, empty until the first Upset.
func (c *Channel) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Name returns the channel name.
func (c *Channel) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Image returns the channel icon URL.
func (c *Channel) Image() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.image
}

// Description returns the channel topic.
func (c *Channel) Description() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.description
}

// IsDM reports whether this is a 1:1 direct-message channel.
func (c *Channel) IsDM() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isDM
}

// Owner returns the owning user id, empty for DMs.
func (c *Channel) Owner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

// CreatedAt returns the creation time.
func (c *Channel) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

// Participants returns a snapshot of the membership map.
func (c *Channel) Participants() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyBoolMap(c.participants)
}

// Bans returns a snapshot of the ban map.
func (c *Channel) Bans() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyBoolMap(c.bans)
}

// Voice returns a snapshot of the voice-session membership.
func (c *Channel) Voice() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyBoolMap(c.voice)
}

// Pins returns a snapshot of the pinned-message id list.
func (c *Channel) Pins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.pins))
	copy(out, c.pins)
	return out
}

// Messages returns a snapshot slice of the ordered message list. The
// messages themselves are the live instances.
func (c *Channel) Messages() []*Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Message returns the cached message with the given id, if present.
func (c *Channel) Message(id string) (*Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.msgs {
		if m.id == id {
			return m, true
		}
	}
	return nil, false
}

// Set merges p into the channel in place, returns the same instance, and
// emits ChannelUpdated on the instance emitter. The manager additionally
// emits changed on its cache so consumers of either signal see the merge.
func (c *Channel) Set(p ChannelPatch) *Channel {
	c.merge(p)
	return c
}

// merge is Set reporting whether the patch applied, so feed handlers can
// skip the cache notification when the revision guard rejects a stale
// record.
func (c *Channel) merge(p ChannelPatch) bool {
	c.mu.Lock()
	applied := c.apply(p)
	c.mu.Unlock()
	if applied {
		c.emitter.Emit(ChannelEvent{Kind: ChannelUpdated, Channel: c})
	}
	return applied
}

func (c *Channel) applySilently(p ChannelPatch) {
	c.mu.Lock()
	c.apply(p)
	c.mu.Unlock()
}

func (c *Channel) apply(p ChannelPatch) bool {
	if !p.Rev.IsZero() {
		if p.Rev.Before(c.rev) {
			return false
		}
		c.rev = p.Rev
	}
	if p.Name != nil {
		c.name = *p.Name
	}
	if p.Image != nil {
		c.image = *p.Image
	}
	if p.Description != nil {
		c.description = *p.Description
	}
	if p.Participants != nil {
		c.participants = copyBoolMap(p.Participants)
	}
	if p.Bans != nil {
		c.bans = copyBoolMap(p.Bans)
	}
	if p.Pins != nil {
		c.pins = append([]string(nil), p.Pins...)
	}
	if p.CreatedAt != nil {
		c.createdAt = *p.CreatedAt
	}
	if p.Voice != nil {
		c.voice = copyBoolMap(p.Voice)
	}
	if p.IsDM != nil {
		c.isDM = *p.IsDM
	}
	if p.Owner != nil {
		c.owner = *p.Owner
	}
	return true
}

// AddParticipant marks uid as a member and emits ChannelParticipant.
func (c *Channel) AddParticipant(uid string) {
	c.mu.Lock()
	c.participants[uid] = true
	c.mu.Unlock()
	c.emitter.Emit(ChannelEvent{Kind: ChannelParticipant, Channel: c})
}

// RemoveParticipant clears uid's membership and emits ChannelParticipant.
func (c *Channel) RemoveParticipant(uid string) {
	c.mu.Lock()
	delete(c.participants, uid)
	c.mu.Unlock()
	c.emitter.Emit(ChannelEvent{Kind: ChannelParticipant, Channel: c})
}

// Watch subscribes to this channel instance's events.
func (c *Channel) Watch(fn func(ChannelEvent)) events.Handle {
	return c.emitter.Subscribe(fn)
}

// Unwatch removes a subscription created by Watch or WatchMessage.
func (c *Channel) Unwatch(h events.Handle) {
	c.emitter.Unsubscribe(h)
}

// WatchMessage subscribes to message events for a single message id.
func (c *Channel) WatchMessage(id string, fn func(*Message)) events.Handle {
	return c.emitter.Subscribe(func(ev ChannelEvent) {
		if ev.Kind == ChannelMessage && ev.Message != nil && ev.Message.id == id {
			fn(ev.Message)
		}
	})
}

// Copy returns a detached snapshot. Message pointers are shared with the
// live instance; the metadata is not.
func (c *Channel) Copy() *Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := &Channel{
		id:           c.id,
		name:         c.name,
		image:        c.image,
		description:  c.description,
		participants: copyBoolMap(c.participants),
		bans:         copyBoolMap(c.bans),
		pins:         append([]string(nil), c.pins...),
		createdAt:    c.createdAt,
		voice:        copyBoolMap(c.voice),
		isDM:         c.isDM,
		owner:        c.owner,
		rev:          c.rev,
	}
	cp.msgs = append([]*Message(nil), c.msgs...)
	return cp
}

// Doc projects the persisted fields, omitting empty ones. The message list
// is never persisted.
func (c *Channel) Doc() backend.Doc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc := backend.Doc{}
	if c.name != "" {
		doc["name"] = c.name
	}
	if c.image != "" {
		doc["image"] = c.image
	}
	if c.description != "" {
		doc["description"] = c.description
	}
	if len(c.participants) > 0 {
		doc["participants"] = anyBoolMap(c.participants)
	}
	if len(c.bans) > 0 {
		doc["bans"] = anyBoolMap(c.bans)
	}
	if len(c.pins) > 0 {
		doc["pins"] = append([]string(nil), c.pins...)
	}
	if !c.createdAt.IsZero() {
		doc["createdAt"] = c.createdAt.UTC().Format(time.RFC3339Nano)
	}
	if len(c.voice) > 0 {
		doc["voice"] = anyBoolMap(c.voice)
	}
	if c.isDM {
		doc["isDM"] = true
	}
	if c.owner != "" {
		doc["owner"] = c.owner
	}
	return doc
}

// Commit persists the channel's mutable fields and, separately, the
// participant map. Both writes are attempted even when the first fails;
// there is no transactional guarantee, so a partial failure can leave the
// two stores divergent.
func (c *Channel) Commit(ctx context.Context) error {
	if c.mgr == nil {
		return ErrDetached
	}
	docErr := c.mgr.store.Update(ctx, channelsCollection, c.ID(), c.Doc())
	memberErr := c.mgr.store.Set(ctx, membersCollection, c.ID(), backend.Doc(anyBoolMap(c.Participants())))
	if docErr != nil {
		return docErr
	}
	return memberErr
}

// ListenMessages acquires the channel's message feed, ordered by creation
// time. Incoming records upsert into the local list by id: a known id is
// mutated in place, an unknown one is inserted in sort order; removal
// records drop the entry. Every applied record emits one ChannelMessage
// event. Calling ListenMessages while already listening is a no-op.
func (c *Channel) ListenMessages() error {
	if c.mgr == nil {
		return ErrDetached
	}
	c.mu.Lock()
	if c.stopMsgs != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	cancel, err := c.mgr.store.Watch(backend.Col(c.messageCollection()), c.applyMessageChange)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.stopMsgs = cancel
	c.mu.Unlock()
	return nil
}

// StopListenMessages releases the message feed. No further message events
// fire once it returns. Safe to call without a prior ListenMessages.
func (c *Channel) StopListenMessages() {
	c.mu.Lock()
	cancel := c.stopMsgs
	c.stopMsgs = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// PostMessage uploads the attachments, then enqueues the message document
// write on the per-channel FIFO queue and returns the local Message. The
// returned instance is not inserted into the channel's message list; the
// feed echoing the write back performs the insertion.
func (c *Channel) PostMessage(ctx context.Context, html string, uploads ...AttachmentUpload) (*Message, error) {
	if c.mgr == nil {
		return nil, ErrDetached
	}
	uid, ok := c.mgr.auth.UID()
	if !ok {
		return nil, ErrNotSignedIn
	}
	id := GenerateID()
	now := time.Now().UTC()
	atts := make([]Attachment, 0, len(uploads))
	for _, up := range uploads {
		path := fmt.Sprintf("channels/%s/messages/%s/%s", c.ID(), id, up.Name)
		url, err := c.mgr.store.Upload(ctx, path, up.Data)
		if err != nil {
			return nil, err
		}
		atts = append(atts, Attachment{Name: up.Name, URL: url, MIME: up.MIME, CreatedAt: now})
	}
	msg := &Message{
		id:          id,
		author:      uid,
		content:     html,
		createdAt:   now,
		attachments: atts,
		channel:     c,
	}
	doc := msg.Doc()
	writesEnqueuedTotal.WithLabelValues("message_post").Inc()
	err := c.mgr.enqueueWrite(ctx, c.ID(), func(jobCtx context.Context) error {
		return c.mgr.store.Set(jobCtx, c.messageCollection(), id, doc)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *Channel) messageCollection() string {
	return messagesCollection(c.ID())
}

func (c *Channel) applyMessageChange(change backend.Change) {
	feedChangesTotal.WithLabelValues("messages", change.Kind.String()).Inc()
	switch change.Kind {
	case backend.Added, backend.Modified:
		c.mu.Lock()
		var msg *Message
		for _, m := range c.msgs {
			if m.id == change.ID {
				msg = m
				break
			}
		}
		if msg != nil {
			c.mu.Unlock()
			msg.Set(messagePatchFromDoc(change.Doc))
		} else {
			msg = newMessageFromDoc(change.ID, change.Doc, c)
			at := msg.CreatedAt()
			i := sort.Search(len(c.msgs), func(i int) bool {
				return c.msgs[i].CreatedAt().After(at)
			})
			c.msgs = append(c.msgs, nil)
			copy(c.msgs[i+1:], c.msgs[i:])
			c.msgs[i] = msg
			c.mu.Unlock()
		}
		c.emitMessage(msg)
	case backend.Removed:
		c.mu.Lock()
		var removed *Message
		for i, m := range c.msgs {
			if m.id == change.ID {
				removed = m
				c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		if removed != nil {
			c.emitMessage(removed)
		}
	}
}

func (c *Channel) emitMessage(m *Message) {
	c.emitter.Emit(ChannelEvent{Kind: ChannelMessage, Channel: c, Message: m})
}

func copyBoolMap(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func anyBoolMap(in map[string]bool) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// channelPatchFromDoc converts a channel document into a patch touching
// only the fields the document carries.
func channelPatchFromDoc(doc backend.Doc) ChannelPatch {
	var p ChannelPatch
	if doc.Has("name") {
		v := doc.Str("name")
		p.Name = &v
	}
	if doc.Has("image") {
		v := doc.Str("image")
		p.Image = &v
	}
	if doc.Has("description") {
		v := doc.Str("description")
		p.Description = &v
	}
	if doc.Has("participants") {
		p.Participants = doc.BoolMap("participants")
	}
	if doc.Has("bans") {
		p.Bans = doc.BoolMap("bans")
	}
	if doc.Has("pins") {
		p.Pins = doc.Strings("pins")
	}
	if doc.Has("createdAt") {
		v := doc.Time("createdAt")
		p.CreatedAt = &v
	}
	if doc.Has("voice") {
		p.Voice = doc.BoolMap("voice")
	}
	if doc.Has("isDM") {
		v := doc.Bool("isDM")
		p.IsDM = &v
	}
	if doc.Has("owner") {
		v := doc.Str("owner")
		p.Owner = &v
	}
	if doc.Has("updatedAt") {
		p.Rev = doc.Time("updatedAt")
	}
	return p
}
