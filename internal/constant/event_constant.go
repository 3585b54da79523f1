package constant

const (
	// EventsTopic is the in-process watermill topic all domain events go through.
	EventsTopic = "mindmate.events"

	EventUserRegistered        = "USER_REGISTERED"
	EventUserLogin             = "USER_LOGIN"
	EventChatExchangeCompleted = "CHAT_EXCHANGE_COMPLETED"
	EventChatSessionDeleted    = "CHAT_SESSION_DELETED"
)
