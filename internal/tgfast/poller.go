package tgfast

import (
	"context"
	"sync"
	"time"

	"github.com/kapu/snail-tg-bot/internal/obslog"
	"go.uber.org/zap"
)

type MessageCallback func(msg *Message)

// Poller runs the getUpdates long-poll loop and fans messages out to
// registered callbacks.
type Poller struct {
	client  *Client
	timeout int // long-poll window, seconds

	offset int64

	msgCbs []MessageCallback
	cbM    sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPoller(client *Client, timeoutSec int) *Poller {
	if timeoutSec <= 0 {
		timeoutSec = 25
	}
	return &Poller{
		client:  client,
		timeout: timeoutSec,
		stopCh:  make(chan struct{}),
	}
}

func (p *Poller) OnMessage(cb MessageCallback) {
	p.cbM.Lock()
	p.msgCbs = append(p.msgCbs, cb)
	p.cbM.Unlock()
}

// Start launches the poll loop. It returns immediately; updates are
// delivered on a background goroutine in arrival order.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()
	errStreak := 0
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		updates, err := p.client.GetUpdates(ctx, p.offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errStreak++
			obslog.L().Warn("poll_error", zap.Int64("offset", p.offset), zap.Error(err))
			select {
			case <-p.stopCh:
				return
			case <-time.After(pollBackoff(errStreak)):
			}
			continue
		}
		errStreak = 0

		for i := range updates {
			u := &updates[i]
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			if u.Message == nil {
				continue
			}
			p.dispatch(u.Message)
		}
	}
}

func (p *Poller) dispatch(msg *Message) {
	p.cbM.RLock()
	callbacks := make([]MessageCallback, len(p.msgCbs))
	copy(callbacks, p.msgCbs)
	p.cbM.RUnlock()
	for _, cb := range callbacks {
		if cb != nil {
			cb(msg)
		}
	}
}

// Close stops the loop and waits for it to drain.
func (p *Poller) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func pollBackoff(streak int) time.Duration {
	if streak < 1 {
		streak = 1
	}
	if streak > 5 {
		streak = 5
	}
	return time.Duration(1<<uint(streak-1)) * time.Second // 1s, 2s ... 16s
}
