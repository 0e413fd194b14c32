package otel

const (
	Prefix                      = "zenflow-"
	AttributeProcessInstanceKey = Prefix + "instance-key"
	AttributeProcessGUID        = Prefix + "process-guid"
	AttributeAppInstanceID      = Prefix + "app-instance-id"
	AttributeActivityGUID       = Prefix + "activity-guid"
	AttributeActivityKey        = Prefix + "activity-key"
	AttributeActivityType       = Prefix + "activity-type"
	AttributeTaskKey            = Prefix + "task-key"
	AttributeUserID             = Prefix + "user-id"

	SpanStatusFeedback = Prefix + "feedback"
)
