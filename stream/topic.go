package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names follow a pattern:
//
//	task:<taskID>      — events for a specific task
//	workflow:<runID>   — events for a specific workflow run
//	queue:<name>       — all events for a queue
//	tasks              — all task lifecycle events
//	workflows          — all workflow lifecycle events
//	firehose           — everything
const (
	TopicTasks     = "tasks"
	TopicWorkflows = "workflows"
	TopicFirehose  = "firehose"
)

// TaskTopic returns the topic name for a specific task.
func TaskTopic(taskID string) string { return "task:" + taskID }

// WorkflowTopic returns the topic name for a specific workflow run.
func WorkflowTopic(runID string) string { return "workflow:" + runID }

// QueueTopic returns the topic name for a queue.
func QueueTopic(queue string) string { return "queue:" + queue }

// subscriberSet is the membership of one topic, keyed by subscriber ID.
type subscriberSet map[string]*Subscriber

// TopicRegistry maps topics to their subscriber sets. Safe for
// concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]subscriberSet
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]subscriberSet)}
}

// Subscribe adds a subscriber to a topic, creating the topic on first use.
func (r *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.topics[topic]
	if !ok {
		set = make(subscriberSet)
		r.topics[topic] = set
	}
	set[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe removes a subscriber from one topic. Topics with no
// remaining subscribers are dropped.
func (r *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detach(topic, subscriberID)
}

// UnsubscribeAll removes a subscriber from every topic it is on.
func (r *TopicRegistry) UnsubscribeAll(subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic := range r.topics {
		r.detach(topic, subscriberID)
	}
}

// detach removes one membership and garbage-collects the topic if empty.
// Caller holds the write lock.
func (r *TopicRegistry) detach(topic, subscriberID string) {
	set, ok := r.topics[topic]
	if !ok {
		return
	}
	if sub, exists := set[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(set, subscriberID)
	}
	if len(set) == 0 {
		delete(r.topics, topic)
	}
}

// Publish sends an event to every subscriber on one topic and returns
// how many received it.
func (r *TopicRegistry) Publish(topic string, evt *Event) int {
	return r.Broadcast([]string{topic}, evt)
}

// Broadcast sends an event to every subscriber across the listed topics.
// A subscriber on several of the topics receives the event once. The
// subscriber set is snapshotted first so no lock is held during delivery.
func (r *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	r.mu.RLock()
	targets := make(subscriberSet)
	for _, topic := range topics {
		for subID, sub := range r.topics[topic] {
			targets[subID] = sub
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

// TopicCount returns the number of active topics.
func (r *TopicRegistry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// SubscriberCount returns the number of subscribers on a topic.
func (r *TopicRegistry) SubscriberCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// fanoutTopics lists every topic an event belongs on: the firehose, the
// lifecycle family derived from the event type, and the event's own
// entity topic. Cron events have no family topic and only hit the
// firehose.
func fanoutTopics(evt *Event) []string {
	topics := []string{TopicFirehose}

	switch kind, _, _ := strings.Cut(string(evt.Type), "."); kind {
	case "task":
		topics = append(topics, TopicTasks)
	case "workflow":
		topics = append(topics, TopicWorkflows)
	}

	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return topics
}

// ParseTopicEntity splits an entity topic into its type and ID, so
// "task:task_abc123" yields ("task", "task_abc123"). Global topics like
// "tasks" or "firehose" yield ("", "").
func ParseTopicEntity(topic string) (entityType, entityID string) {
	before, after, found := strings.Cut(topic, ":")
	if !found {
		return "", ""
	}
	return before, after
}

// ValidateTopic checks whether a topic string names a known global topic
// or a well-formed entity topic.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicTasks, TopicWorkflows, TopicFirehose:
		return nil
	}

	entityType, entityID := ParseTopicEntity(topic)
	if entityType == "" || entityID == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}

	switch entityType {
	case "task", "workflow", "queue":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic entity type %q", entityType)
	}
}
