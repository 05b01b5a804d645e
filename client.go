package client

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/relaychat/client-go/backend"
	"github.com/relaychat/client-go/internal/shardqueue"
)

// Collection names shared with the backend.
const (
	usersCollection      = "users"
	statusCollection     = "status"
	channelsCollection   = "channels"
	membersCollection    = "members"
	invitesCollection    = "invites"
	buddyListsCollection = "buddylists"
)

// messagesCollection names a channel's message collection.
func messagesCollection(channelID string) string {
	return "channels/" + channelID + "/messages"
}

// Client is the entry point: it owns the entity managers, the cross-cutting
// stores, and the async write queue, and follows the authentication
// principal across sign-in changes.
type Client struct {
	store backend.Store
	auth  backend.Auth
	exec  executor
	log   zerolog.Logger

	queueCfg shardqueue.Config

	// Users owns the user cache, presence fan-in, and profile feed.
	Users *UserManager
	// Channels owns the channel cache and the membership subscription.
	Channels *ChannelManager
	// Me holds detached snapshots of the signed-in user.
	Me *CurrentUserStore
	// Buddies follows the principal's buddy-list document.
	Buddies *BuddyListStore

	authCancel backend.CancelFunc
	closedOnce uint32
}

// New constructs a Client over the given backend store and auth provider
// and starts the standing subscriptions. Additional behavior is configured
// via functional options.
func New(store backend.Store, auth backend.Auth, opts ...Option) *Client {
	if store == nil {
		panic("store cannot be nil")
	}
	if auth == nil {
		panic("auth cannot be nil")
	}

	c := &Client{
		store: store,
		auth:  auth,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			panic(err)
		}
	}
	if c.exec == nil {
		cfg := c.queueCfg
		if cfg.Shards <= 0 {
			cfg.Shards = 4
		}
		if cfg.QueueSize <= 0 {
			cfg.QueueSize = 1000
		}
		if cfg.ErrorHandler == nil {
			log := c.log
			cfg.ErrorHandler = func(err error) {
				log.Warn().Err(err).Msg("async write failed")
			}
		}
		c.exec = shardqueue.NewShardExecutor(cfg)
	}

	c.Me = newCurrentUserStore()
	c.Users = newUserManager(store, auth, c.log, c.Me)
	c.Channels = newChannelManager(store, auth, c.exec, c.log)
	c.Buddies = newBuddyListStore(store, c.log)

	c.authCancel = auth.WatchUID(func(uid string) {
		c.Users.setPrincipal(uid)
		c.Channels.setPrincipal(uid)
		c.Buddies.setPrincipal(uid)
	})
	return c
}

// Close tears down the standing subscriptions and stops the write queue
// after draining it. Safe to call more than once.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closedOnce, 0, 1) {
		return nil
	}
	if c.authCancel != nil {
		c.authCancel()
	}
	c.Users.close()
	c.Channels.close()
	c.Buddies.close()
	if c.exec != nil {
		c.exec.Stop()
	}
	return nil
}

// Flush blocks until every previously enqueued write for channelID has been
// executed. It submits a no-op job and waits for it to run, relying on the
// queue's per-key FIFO order.
func (c *Client) Flush(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	j := shardqueue.JobFunc(func(context.Context) error {
		close(done)
		return nil
	})
	if err := c.exec.Submit(ctx, channelID, j); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
