package conductor

import "fmt"

// ActorKind names the variant of an Actor. It is persisted as a job's
// owner kind.
type ActorKind string

const (
	// KindUser is a human or service account acting through the API.
	KindUser ActorKind = "user"
	// KindAgent is a worker agent.
	KindAgent ActorKind = "agent"
)

// Valid reports whether k is a known kind.
func (k ActorKind) Valid() bool {
	return k == KindUser || k == KindAgent
}

// Actor is the identity on whose behalf an operation runs. It is a closed
// union of User and Agent; a nil Actor denotes a trusted internal caller
// for which no ownership checks apply.
type Actor interface {
	ActorID() string
	Kind() ActorKind

	sealed()
}

// User is an Actor that owns jobs it submits.
type User struct {
	ID string `json:"id"`
}

// ActorID implements Actor.
func (u User) ActorID() string { return u.ID }

// Kind implements Actor.
func (User) Kind() ActorKind { return KindUser }

func (User) sealed() {}

func (u User) String() string { return "user:" + u.ID }

// Agent is an Actor that leases and executes jobs.
type Agent struct {
	ID string `json:"id"`
}

// ActorID implements Actor.
func (a Agent) ActorID() string { return a.ID }

// Kind implements Actor.
func (Agent) Kind() ActorKind { return KindAgent }

func (Agent) sealed() {}

func (a Agent) String() string { return "agent:" + a.ID }

// NewActor builds an Actor from its kind and id, as carried over the wire.
func NewActor(kind ActorKind, actorID string) (Actor, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: empty actor id", ErrInvalidInput)
	}
	switch kind {
	case KindUser:
		return User{ID: actorID}, nil
	case KindAgent:
		return Agent{ID: actorID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown actor kind %q", ErrInvalidInput, kind)
	}
}

// ActorID returns a's id, or "" for the internal caller.
func ActorID(a Actor) string {
	if a == nil {
		return ""
	}
	return a.ActorID()
}

// KindOf returns a's kind, or "" for the internal caller.
func KindOf(a Actor) ActorKind {
	if a == nil {
		return ""
	}
	return a.Kind()
}
