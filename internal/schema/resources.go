package schema

import "github.com/chatwoot/supportsync/internal/chat"

func init() {
	registerMessage()
	registerStatus()
	registerTranscript()
	registerChatEvent()
	registerError()
}

var (
	messageStates = []string{string(chat.StatePending), string(chat.StateConfirmed), string(chat.StateErrored)}
	statuses      = []string{string(chat.StatusNone), string(chat.StatusActive), string(chat.StatusInvalid), string(chat.StatusNonexistent)}
)

func message() *Schema {
	return Object(
		"One message in the conversation, as printed by send, transcript and chat",
		map[string]*Schema{
			"id":             String("Server id; absent until the server confirms the message"),
			"tempId":         String("Client id of a message sent from this machine; kept after confirmation"),
			"conversationId": String("Conversation the message belongs to"),
			"text":           String("Message body"),
			"sender": Object("Who wrote the message", map[string]*Schema{
				"name":    String("Display name"),
				"email":   String("Email, visitor messages only"),
				"isAdmin": Bool("True for support agents"),
			}, "name", "isAdmin"),
			"timestamp": DateTime("Server time for confirmed messages, local send time for pending ones"),
			"state":     Enum("Delivery state", messageStates...),
			"retryOf":   String("tempId of the failed message this one retries"),
		},
		"conversationId", "text", "sender", "timestamp", "state",
	)
}

func registerMessage() {
	Register("message", message())
}

func registerStatus() {
	Register("status", Object(
		"Output of the status command",
		map[string]*Schema{
			"profile":        String("Identity profile"),
			"store":          Enum("Identity store backend", "keyring", "file", "redis", "memory"),
			"status":         Enum("Conversation status", statuses...),
			"conversationId": String("Stored conversation, when active"),
			"name":           String("Visitor name"),
			"email":          String("Visitor email"),
			"savedAt":        DateTime("When the identity was stored"),
			"messages":       Int("Messages in the transcript"),
			"pending":        Int("Messages still sending"),
			"failed":         Int("Messages that failed to send"),
			"warning":        String("Set when the server could not be reached; status is then the last known one"),
			"server":         Enum("Health endpoint result, reported with a warning", "up", "down"),
		},
		"profile", "store", "status", "messages", "pending", "failed",
	))
}

func registerTranscript() {
	Register("transcript", Object(
		"Output of the transcript command",
		map[string]*Schema{
			"conversationId": String("Conversation id"),
			"status":         Enum("Conversation status", statuses...),
			"messages":       Array(message(), "Messages in timestamp order"),
		},
		"conversationId", "status", "messages",
	))
}

func registerChatEvent() {
	Register("chat-event", Object(
		"One line of chat output in json or jsonl mode",
		map[string]*Schema{
			"type":           Enum("Event kind", "message", "status", "connection", "notice"),
			"conversationId": String("Conversation the event concerns"),
			"message":        message(),
			"status":         Enum("New conversation status, for status events", statuses...),
			"connection":     Enum("Push connection state, for connection events", "connecting", "connected", "disconnected"),
			"notice":         String("Recoverable problem, for notice events"),
		},
		"type",
	))
}

func registerError() {
	Register("error", Object(
		"Error written to stderr in json mode",
		map[string]*Schema{
			"code":           String("Machine-readable error code"),
			"message":        String("Human-readable message"),
			"retryable":      Bool("Whether running the command again may succeed"),
			"suggestion":     String("What to try next"),
			"context":        Object("Extra detail such as status_code or request_id", nil),
			"allowed_values": Array(String("Accepted value"), "Accepted values when the error names an invalid choice"),
		},
		"code", "message", "retryable",
	))
}
