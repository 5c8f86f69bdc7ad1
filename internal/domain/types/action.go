package types

// Log action constants used with the logger wrapper.
const (
	ActionLedgerRequest        = "ledger_request"
	ActionLedgerRetry          = "ledger_retry"
	ActionSessionBootstrap     = "session_bootstrap"
	ActionSessionRefresh       = "session_refresh"
	ActionSessionLogout        = "session_logout"
	ActionRoleSwitch           = "role_switch"
	ActionRealtimeConnected    = "realtime_connected"
	ActionRealtimeDisconnected = "realtime_disconnected"
	ActionChannelSubscribe     = "channel_subscribe"
	ActionChannelUnsubscribe   = "channel_unsubscribe"
	ActionPresenceEnter        = "presence_enter"
	ActionPresenceExit         = "presence_exit"
	ActionTripRequest          = "trip_request"
	ActionTripPoll             = "trip_poll"
	ActionBidReceived          = "bid_received"
	ActionBidSubmit            = "bid_submit"
	ActionBidAccept            = "bid_accept"
	ActionTripStatusUpdate     = "trip_status_update"
	ActionTripCancel           = "trip_cancel"
)
