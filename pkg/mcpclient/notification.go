package mcpclient

import "encoding/json"

// NotificationKind classifies a server-initiated notification.
type NotificationKind int

const (
	NotificationUnknown NotificationKind = iota
	NotificationToolListChanged
	NotificationResourceListChanged
	NotificationPromptListChanged
	NotificationResourceUpdated
	NotificationLogMessage
	NotificationProgress
	NotificationCancelled
)

// Notification methods a server may send.
const (
	MethodToolListChanged     = "notifications/tools/list_changed"
	MethodResourceListChanged = "notifications/resources/list_changed"
	MethodPromptListChanged   = "notifications/prompts/list_changed"
	MethodResourceUpdated     = "notifications/resources/updated"
	MethodLogMessage          = "notifications/message"
	MethodProgress            = "notifications/progress"
	MethodCancelled           = "notifications/cancelled"
)

var notificationKinds = map[string]NotificationKind{
	MethodToolListChanged:     NotificationToolListChanged,
	MethodResourceListChanged: NotificationResourceListChanged,
	MethodPromptListChanged:   NotificationPromptListChanged,
	MethodResourceUpdated:     NotificationResourceUpdated,
	MethodLogMessage:          NotificationLogMessage,
	MethodProgress:            NotificationProgress,
	MethodCancelled:           NotificationCancelled,
}

// ClassifyNotification maps a notification method to its kind.
func ClassifyNotification(method string) NotificationKind {
	if kind, ok := notificationKinds[method]; ok {
		return kind
	}
	return NotificationUnknown
}

func (k NotificationKind) String() string {
	switch k {
	case NotificationToolListChanged:
		return "tools/list_changed"
	case NotificationResourceListChanged:
		return "resources/list_changed"
	case NotificationPromptListChanged:
		return "prompts/list_changed"
	case NotificationResourceUpdated:
		return "resources/updated"
	case NotificationLogMessage:
		return "message"
	case NotificationProgress:
		return "progress"
	case NotificationCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Notification is a JSON-RPC message from the server with a method and no id.
type Notification struct {
	Kind   NotificationKind
	Method string
	Params json.RawMessage
}

// NotificationHandler receives server notifications in arrival order. It
// runs on a dedicated goroutine, never on the reader loop, so it may issue
// requests on the same session.
type NotificationHandler func(Notification)
