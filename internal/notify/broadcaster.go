package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/stakecast/stakecast/pkg/logging"
)

// subscriberBuffer bounds each subscriber channel; a slow consumer
// drops events rather than blocking the broadcaster
const subscriberBuffer = 16

// Event is a cast-updated notification pushed to UI subscribers
type Event struct {
	Type        string `json:"type"`
	Hash        string `json:"hash"`
	Status      string `json:"status"`
	TotalStaked string `json:"total_staked"`
}

// Broadcaster is the process-wide registry of push subscribers. It is
// advisory fan-out only; missed events are recovered by the read APIs.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int64]chan Event
	nextID int64
	logger *zap.Logger
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[int64]chan Event),
		logger: logging.GetLogger().With(zap.String("component", "broadcaster")),
	}
}

// Subscribe registers a new subscriber and returns its id and channel
func (b *Broadcaster) Subscribe() (int64, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Broadcaster) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Broadcast delivers an event to every subscriber without blocking.
// Subscribers with full buffers miss the event.
func (b *Broadcaster) Broadcast(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug("Dropping event for slow subscriber", zap.Int64("subscriber", id))
		}
	}
}

// Count returns the number of registered subscribers
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
