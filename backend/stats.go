package backend

type Stats struct {
	// AwaitingExecutions is the number of executions with a live correlation entry
	AwaitingExecutions int64

	// ExpiringExecutions is the number of awaiting executions that have an expiration set
	ExpiringExecutions int64
}
