package log

const (
	NamespaceKey = "resume"

	ExecutionIDKey       = NamespaceKey + ".execution.id"
	ProcessInstanceIDKey = NamespaceKey + ".process_instance.id"
	ProcessKeyKey        = NamespaceKey + ".process.key"
	ActivityIDKey        = NamespaceKey + ".activity.id"

	// StateKey is the correlation state an execution ended up in after a resume or cancel
	StateKey  = NamespaceKey + ".state"
	ReasonKey = NamespaceKey + ".reason"

	ChannelKey = NamespaceKey + ".router.channel"
	HandlerKey = NamespaceKey + ".router.handler"
	MessageKey = NamespaceKey + ".router.message_id"

	HeaderNameKey  = NamespaceKey + ".header.name"
	HeaderValueKey = NamespaceKey + ".header.value"

	AttemptKey  = NamespaceKey + ".attempt"
	DurationKey = NamespaceKey + ".duration_ms"

	// RegisteredAtKey is the time at which an execution started waiting
	RegisteredAtKey = NamespaceKey + ".registered_at"
	// ExpiresAtKey is the time after which a waiting execution is cancelled
	ExpiresAtKey = NamespaceKey + ".expires_at"
)
