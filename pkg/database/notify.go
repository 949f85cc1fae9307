package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/journeys/pkg/logger"
)

// Notifier turns postgres NOTIFY events on a channel into wake-up signals for
// pollers. A signal carries no payload; receivers re-query the store.
type Notifier struct {
	listener *pq.Listener
	channel  string
	subs     chan chan struct{}
	unsubs   chan chan struct{}
	done     chan struct{}
}

// InstallNotifyTrigger creates a trigger that notifies channel whenever the
// conversations or messages tables change. Postgres only.
func InstallNotifyTrigger(db *gorm.DB, channel string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION notify_conversations_changed() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('%s', TG_TABLE_NAME);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`, channel),
		`DROP TRIGGER IF EXISTS conversations_changed ON conversations`,
		`CREATE TRIGGER conversations_changed AFTER INSERT OR UPDATE OR DELETE ON conversations
			FOR EACH STATEMENT EXECUTE FUNCTION notify_conversations_changed()`,
		`DROP TRIGGER IF EXISTS messages_changed ON messages`,
		`CREATE TRIGGER messages_changed AFTER INSERT OR UPDATE OR DELETE ON messages
			FOR EACH STATEMENT EXECUTE FUNCTION notify_conversations_changed()`,
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return fmt.Errorf("install notify trigger: %w", err)
		}
	}
	return nil
}

// NewNotifier listens on channel using a dedicated pq connection.
func NewNotifier(dsn, channel string) (*Notifier, error) {
	l := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("pq listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	n := &Notifier{
		listener: l,
		channel:  channel,
		subs:     make(chan chan struct{}),
		unsubs:   make(chan chan struct{}),
		done:     make(chan struct{}),
	}
	go n.loop()
	return n, nil
}

func (n *Notifier) loop() {
	subscribers := make(map[chan struct{}]struct{})
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-n.done:
			for ch := range subscribers {
				close(ch)
			}
			return
		case ch := <-n.subs:
			subscribers[ch] = struct{}{}
		case ch := <-n.unsubs:
			if _, ok := subscribers[ch]; ok {
				delete(subscribers, ch)
				close(ch)
			}
		case <-n.listener.Notify:
			// nil 表示重连，同样需要唤醒
			for ch := range subscribers {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		case <-ping.C:
			go func() { _ = n.listener.Ping() }()
		}
	}
}

// Wake returns a signal channel that fires on every notification until ctx is
// done. The channel is closed afterwards.
func (n *Notifier) Wake(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	select {
	case n.subs <- ch:
	case <-n.done:
		close(ch)
		return ch
	}
	go func() {
		select {
		case <-ctx.Done():
			select {
			case n.unsubs <- ch:
			case <-n.done:
			}
		case <-n.done:
		}
	}()
	return ch
}

func (n *Notifier) Close() error {
	close(n.done)
	return n.listener.Close()
}
