package stream

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xraph/conductor/event"
)

// Global topics.
const (
	TopicFirehose = "firehose"
	TopicJobs     = "jobs"
	TopicAgents   = "agents"
)

// JobTopic returns the topic for one job.
func JobTopic(jobID string) string { return "job:" + jobID }

// AgentTopic returns the topic for one agent.
func AgentTopic(agentID string) string { return "agent:" + agentID }

// ValidateTopic checks that topic names a global topic or an entity topic
// with a non-empty id.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicFirehose, TopicJobs, TopicAgents:
		return nil
	}
	kind, entityID, ok := strings.Cut(topic, ":")
	if !ok || entityID == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch kind {
	case "job", "agent":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic entity type %q", kind)
	}
}

// topicsFor returns every topic env is published on.
func topicsFor(env *event.Envelope) []string {
	topics := []string{TopicFirehose}
	if env.Job != nil {
		topics = append(topics, TopicJobs, JobTopic(env.Job.ID))
	}
	if env.Agent != nil {
		topics = append(topics, TopicAgents, AgentTopic(env.Agent.ID))
	}
	if env.Name == event.AgentsStaleCheck {
		topics = append(topics, TopicAgents)
		for _, agentID := range env.StaleAgentIDs {
			topics = append(topics, AgentTopic(agentID))
		}
	}
	return topics
}

// topicRegistry tracks subscribers per topic. It is safe for concurrent use.
type topicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

func (tr *topicRegistry) subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
}

func (tr *topicRegistry) unsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic, subs := range tr.topics {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// broadcast delivers env once to every subscriber on any of topics and
// returns the number of subscribers that accepted it.
func (tr *topicRegistry) broadcast(topics []string, env *event.Envelope) (delivered, dropped int) {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for subID, sub := range tr.topics[topic] {
			seen[subID] = sub
		}
	}
	tr.mu.RUnlock()

	for _, sub := range seen {
		if sub.send(env) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

func (tr *topicRegistry) count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}
