package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

// PresenceTopic is the shared channel every signed-in client tracks itself on.
const PresenceTopic = "online-users"

// presenceKey identifies the channel the controller should hold. A change in
// any field tears the channel down.
type presenceKey struct {
	chatting     bool
	userID       string
	tableMissing bool
}

func (k presenceKey) active() bool {
	return k.chatting && k.userID != "" && !k.tableMissing
}

// PresenceController keeps one presence channel open while the session is
// chatting. It follows session snapshots through a latest-wins mailbox on
// its own goroutine, so channel callbacks never wait on channel teardown.
type PresenceController struct {
	realtime core.Realtime
	session  *SessionController
	logger   *slog.Logger
	now      func() time.Time

	mailbox chan SessionSnapshot

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	stopObs func()
}

func NewPresenceController(realtime core.Realtime, session *SessionController, logger *slog.Logger) *PresenceController {
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceController{
		realtime: realtime,
		session:  session,
		logger:   logger,
		now:      time.Now,
		mailbox:  make(chan SessionSnapshot, 1),
	}
}

// Start follows the session until Stop or ctx is done.
func (p *PresenceController) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.stopObs = p.session.Subscribe(p.offer)
	p.mu.Unlock()

	go p.loop(ctx)
	p.offer(p.session.Snapshot())
}

// Stop closes the channel and waits for the loop to exit.
func (p *PresenceController) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel, done, stopObs := p.cancel, p.done, p.stopObs
	p.mu.Unlock()

	stopObs()
	cancel()
	<-done
}

// offer replaces any snapshot still waiting in the mailbox.
func (p *PresenceController) offer(s SessionSnapshot) {
	for {
		select {
		case p.mailbox <- s:
			return
		default:
		}
		select {
		case <-p.mailbox:
		default:
		}
	}
}

func (p *PresenceController) loop(ctx context.Context) {
	defer close(p.done)

	var (
		current presenceKey
		ch      core.Channel
	)
	teardown := func() {
		if ch == nil {
			return
		}
		if err := p.realtime.RemoveChannel(ch); err != nil {
			p.logger.Warn("remove presence channel failed", "error", err)
		}
		ch = nil
	}
	defer teardown()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-p.mailbox:
			key := presenceKey{chatting: s.State == StateChatting, userID: s.UserID(), tableMissing: s.TableMissing}
			if key == current {
				continue
			}
			teardown()
			current = key
			if key.active() {
				ch = p.attach(ctx, key.userID)
			}
		}
	}
}

func (p *PresenceController) attach(ctx context.Context, userID string) core.Channel {
	p.logger.Info("joining presence channel", "topic", PresenceTopic, "user_id", userID)
	ch := p.realtime.Channel(PresenceTopic, core.ChannelOptions{PresenceKey: userID})
	ch.OnPresenceSync(p.session.ApplyPresence).
		OnChange(core.ChangeFilter{Table: "profiles", Event: models.ChangeAny}, func(models.Change) {
			p.session.RefreshPeers(ctx)
		}).
		Subscribe(func(status core.SubscribeStatus, err error) {
			switch status {
			case core.Subscribed:
				meta := map[string]any{"online_at": p.now().UTC().Format(time.RFC3339)}
				if err := ch.Track(ctx, meta); err != nil {
					p.logger.Warn("presence track failed", "user_id", userID, "error", err)
				}
			case core.ChannelError:
				if core.IsSchemaMissing(err) {
					p.session.MarkSchemaMissing()
				}
			}
		})
	return ch
}
