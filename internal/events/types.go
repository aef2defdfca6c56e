package events

// EventType identifies a lifecycle event in the swarm
type EventType string

const (
	ItemEnqueued  EventType = "item.enqueued"
	ItemAssigned  EventType = "item.assigned"
	ItemCompleted EventType = "item.completed"
	ItemFailed    EventType = "item.failed"
	ItemRequeued  EventType = "item.requeued"
	AgentOffline  EventType = "agent.offline"
	SyncCycle     EventType = "sync.cycle"
	TaskRouted    EventType = "task.routed"
)

// Event is one lifecycle event published on the bus
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	ItemID    int64     `json:"item_id,omitempty"`
	TaskGID   string    `json:"task_gid,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Message   string    `json:"message,omitempty"`
}
