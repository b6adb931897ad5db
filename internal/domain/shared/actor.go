package shared

// ActorType tells who is asking for an operation.
type ActorType string

const (
	ActorUser     ActorType = "user"
	ActorSystem   ActorType = "system"
	ActorExternal ActorType = "external"
)

// Actor is the authenticated party behind a request. External actors are remote
// currency servers acting on behalf of the ledger account in AccountKey.
type Actor struct {
	Type       ActorType `json:"type"`
	UserID     string    `json:"user_id,omitempty"`
	AccountKey string    `json:"account_key,omitempty"`
}

func UserActor(userID string) Actor {
	return Actor{Type: ActorUser, UserID: userID}
}

func SystemActor() Actor {
	return Actor{Type: ActorSystem}
}

func ExternalActor(accountKey string) Actor {
	return Actor{Type: ActorExternal, AccountKey: accountKey}
}

func (a Actor) IsSystem() bool {
	return a.Type == ActorSystem
}

func (a Actor) IsExternal() bool {
	return a.Type == ActorExternal
}
