package client

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/relaychat/client-go/backend"
)

// Status is a user's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// Activity is the free-text "what I'm doing" descriptor shown next to a
// user's presence.
type Activity struct {
	Text  string
	Emoji string
}

// User mirrors one remote profile document plus its presence value. There is
// exactly one live instance per id in a UserManager's cache; mutations go
// through Set or the field setters so change notifications fire.
type User struct {
	mu            sync.RWMutex
	id            string
	name          string
	discriminator int
	banner        string
	about         string
	image         string
	badges        map[string]struct{}
	createdAt     time.Time
	status        Status
	activity      *Activity
	rev           time.Time

	// notify re-emits a changed event through the owning manager's cache.
	// It is nil on detached copies.
	notify func(id string)
}

// UserPatch is a partial update for a User. Nil fields are left untouched;
// absence never clears a field.
type UserPatch struct {
	Name          *string
	Discriminator *int
	Banner        *string
	About         *string
	Image         *string
	Badges        []string
	CreatedAt     *time.Time
	Status        *Status
	Activity      *Activity

	// Rev is the server revision this patch was derived from. A non-zero
	// Rev older than the last applied revision makes Set a no-op, so a
	// stale feed delivery cannot roll the user backward.
	Rev time.Time
}

func newUser(id string) *User {
	return &User{id: id, badges: make(map[string]struct{}), status: StatusOffline}
}

func newUserFromDoc(id string, doc backend.Doc) *User {
	u := newUser(id)
	u.applyDoc(doc)
	return u
}

// ID returns the stable unique identifier.
func (u *User) ID() string { return u.id }

// Name returns the display name, empty until onboarding completes.
func (u *User) Name() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.name
}

// Discriminator returns the numeric tag disambiguating duplicate names.
func (u *User) Discriminator() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.discriminator
}

// Tag renders "name#0042".
func (u *User) Tag() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return fmt.Sprintf("%s#%04d", u.name, u.discriminator)
}

// Banner returns the profile banner URL.
func (u *User) Banner() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.banner
}

// About returns the profile blurb.
func (u *User) About() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.about
}

// Image returns the avatar URL.
func (u *User) Image() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.image
}

// Badges returns a sorted snapshot of the badge tags.
func (u *User) Badges() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, 0, len(u.badges))
	for b := range u.badges {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// CreatedAt returns the account creation time.
func (u *User) CreatedAt() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.createdAt
}

// Status returns the presence state.
func (u *User) Status() Status {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.status
}

// Activity returns the activity descriptor, or nil.
func (u *User) Activity() *Activity {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.activity == nil {
		return nil
	}
	a := *u.activity
	return &a
}

// Set merges p into the user in place and returns the same instance. It
// emits no notification itself; the owning manager emits changed on its
// cache after a feed merge. Field setters are the notifying mutation path.
func (u *User) Set(p UserPatch) *User {
	u.merge(p)
	return u
}

// merge is Set reporting whether the patch applied; see Channel.merge.
func (u *User) merge(p UserPatch) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.apply(p)
}

func (u *User) apply(p UserPatch) bool {
	if !p.Rev.IsZero() {
		if p.Rev.Before(u.rev) {
			return false
		}
		u.rev = p.Rev
	}
	if p.Name != nil {
		u.name = *p.Name
	}
	if p.Discriminator != nil {
		u.discriminator = *p.Discriminator
	}
	if p.Banner != nil {
		u.banner = *p.Banner
	}
	if p.About != nil {
		u.about = *p.About
	}
	if p.Image != nil {
		u.image = *p.Image
	}
	if p.Badges != nil {
		u.badges = make(map[string]struct{}, len(p.Badges))
		for _, b := range p.Badges {
			u.badges[b] = struct{}{}
		}
	}
	if p.CreatedAt != nil {
		u.createdAt = *p.CreatedAt
	}
	if p.Status != nil {
		u.status = *p.Status
	}
	if p.Activity != nil {
		a := *p.Activity
		u.activity = &a
	}
	return true
}

// SetName updates the display name and notifies the owning cache.
func (u *User) SetName(name string) {
	u.mu.Lock()
	u.name = name
	u.mu.Unlock()
	u.changed()
}

// SetBanner updates the banner URL and notifies the owning cache.
func (u *User) SetBanner(url string) {
	u.mu.Lock()
	u.banner = url
	u.mu.Unlock()
	u.changed()
}

// SetAbout updates the profile blurb and notifies the owning cache.
func (u *User) SetAbout(about string) {
	u.mu.Lock()
	u.about = about
	u.mu.Unlock()
	u.changed()
}

// SetImage updates the avatar URL and notifies the owning cache.
func (u *User) SetImage(url string) {
	u.mu.Lock()
	u.image = url
	u.mu.Unlock()
	u.changed()
}

// SetStatus updates the presence state and notifies the owning cache.
func (u *User) SetStatus(s Status) {
	u.mu.Lock()
	u.status = s
	u.mu.Unlock()
	u.changed()
}

// SetActivity updates the activity descriptor and notifies the owning
// cache. A nil activity clears it.
func (u *User) SetActivity(a *Activity) {
	u.mu.Lock()
	if a == nil {
		u.activity = nil
	} else {
		cp := *a
		u.activity = &cp
	}
	u.mu.Unlock()
	u.changed()
}

// setPresence applies one presence feed record with a single notification,
// however many fields it touches.
func (u *User) setPresence(s Status, a *Activity) {
	u.mu.Lock()
	if s != "" {
		u.status = s
	}
	if a != nil {
		cp := *a
		u.activity = &cp
	}
	u.mu.Unlock()
	u.changed()
}

func (u *User) changed() {
	if u.notify != nil {
		u.notify(u.id)
	}
}

// Copy returns a detached snapshot. Later mutations of the cached original
// do not show through, and the copy never notifies anyone.
func (u *User) Copy() *User {
	u.mu.RLock()
	defer u.mu.RUnlock()
	cp := &User{
		id:            u.id,
		name:          u.name,
		discriminator: u.discriminator,
		banner:        u.banner,
		about:         u.about,
		image:         u.image,
		badges:        make(map[string]struct{}, len(u.badges)),
		createdAt:     u.createdAt,
		status:        u.status,
		rev:           u.rev,
	}
	for b := range u.badges {
		cp.badges[b] = struct{}{}
	}
	if u.activity != nil {
		a := *u.activity
		cp.activity = &a
	}
	return cp
}

// Doc projects the persisted profile fields, omitting empty ones. Presence
// lives in its own document and is not part of the projection.
func (u *User) Doc() backend.Doc {
	u.mu.RLock()
	defer u.mu.RUnlock()
	doc := backend.Doc{"discriminator": u.discriminator}
	if u.name != "" {
		doc["name"] = u.name
	}
	if u.banner != "" {
		doc["banner"] = u.banner
	}
	if u.about != "" {
		doc["about"] = u.about
	}
	if u.image != "" {
		doc["image"] = u.image
	}
	if len(u.badges) > 0 {
		badges := make([]string, 0, len(u.badges))
		for b := range u.badges {
			badges = append(badges, b)
		}
		sort.Strings(badges)
		doc["badges"] = badges
	}
	if !u.createdAt.IsZero() {
		doc["createdAt"] = u.createdAt.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

// applyDoc merges a remote profile document, silently.
func (u *User) applyDoc(doc backend.Doc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.apply(userPatchFromDoc(doc))
}

// applyStatusDoc merges a remote presence document, silently.
func (u *User) applyStatusDoc(doc backend.Doc) {
	s, a := presenceFromDoc(doc)
	u.mu.Lock()
	if s != "" {
		u.status = s
	}
	if a != nil {
		u.activity = a
	}
	u.mu.Unlock()
}

// userPatchFromDoc converts a profile document into a patch touching only
// the fields the document carries.
func userPatchFromDoc(doc backend.Doc) UserPatch {
	var p UserPatch
	if doc.Has("name") {
		v := doc.Str("name")
		p.Name = &v
	}
	if doc.Has("discriminator") {
		v := doc.Int("discriminator")
		p.Discriminator = &v
	}
	if doc.Has("banner") {
		v := doc.Str("banner")
		p.Banner = &v
	}
	if doc.Has("about") {
		v := doc.Str("about")
		p.About = &v
	}
	if doc.Has("image") {
		v := doc.Str("image")
		p.Image = &v
	}
	if doc.Has("badges") {
		p.Badges = doc.Strings("badges")
	}
	if doc.Has("createdAt") {
		v := doc.Time("createdAt")
		p.CreatedAt = &v
	}
	if doc.Has("updatedAt") {
		p.Rev = doc.Time("updatedAt")
	}
	return p
}

// presenceFromDoc decodes a presence document: {"state": ..., "activity":
// {"text": ..., "emoji": ...}}.
func presenceFromDoc(doc backend.Doc) (Status, *Activity) {
	s := Status(doc.Str("state"))
	var a *Activity
	if raw, ok := doc["activity"].(map[string]any); ok {
		a = &Activity{
			Text:  backend.Doc(raw).Str("text"),
			Emoji: backend.Doc(raw).Str("emoji"),
		}
	}
	return s, a
}
