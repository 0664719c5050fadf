package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status      string          `json:"status"`      // "healthy", "idle"
	Connections ConnectionStats `json:"connections"` // Socket connection stats
	Views       ViewStats       `json:"views"`       // Open conversation views
	Clients     []ClientInfo    `json:"clients"`     // List of connected clients
	OnlineUsers int             `json:"onlineUsers"` // Users with a live presence lease
}

// ConnectionStats holds connection-related statistics
type ConnectionStats struct {
	TotalConnected int `json:"totalConnected"` // Sockets currently connected
	DistinctUsers  int `json:"distinctUsers"`  // Users with at least one socket
}

// ViewStats holds open conversation view statistics
type ViewStats struct {
	TotalOpen   int        `json:"totalOpen"`
	ViewDetails []ViewInfo `json:"viewDetails"`
}

// ViewInfo contains information about one conversation opened by sockets
type ViewInfo struct {
	ConversationID string   `json:"conversationId"`
	Viewers        []string `json:"viewers"` // user ids with the view open
}

// ClientInfo contains information about a connected client
type ClientInfo struct {
	ClientID              string `json:"clientId"`
	UserID                string `json:"userId"`
	CurrentConversationID string `json:"currentConversationId,omitempty"`
	Subscriptions         int    `json:"subscriptions"`
}
