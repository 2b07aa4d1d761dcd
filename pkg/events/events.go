package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventServerCreated  EventType = "server.created"
	EventServerImported EventType = "server.imported"
	EventServerStarted  EventType = "server.started"
	EventServerStopped  EventType = "server.stopped"
	EventServerExited   EventType = "server.exited"
	EventServerDeleted  EventType = "server.deleted"
	EventBackupStarted  EventType = "backup.started"
	EventBackupFinished EventType = "backup.finished"
	EventBackupFailed   EventType = "backup.failed"
	EventScheduleFired  EventType = "schedule.fired"
	EventPluginChanged  EventType = "plugin.changed"
)

// Event represents one supervisor event. ExitCode and Intentional are only
// meaningful for server.exited: Intentional marks exits the supervisor
// itself requested, so crash handlers can tell a stop from a crash.
type Event struct {
	Type        EventType
	Timestamp   time.Time
	ServerID    int64
	ServerName  string
	ExitCode    int
	Intentional bool
	Message     string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
