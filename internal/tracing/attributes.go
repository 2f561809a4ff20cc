package tracing

const (
	ExecutionID       = "resume.execution_id"
	ProcessInstanceID = "resume.process_instance_id"
	ProcessKey        = "resume.process_key"
	ActivityID        = "resume.activity_id"

	State = "resume.state"
)
