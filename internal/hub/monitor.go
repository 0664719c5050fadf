package hub

import (
	"Boxchat/internal/model"
	"context"
	"sort"
)

// MonitorService provides methods to gather hub statistics
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats(ctx context.Context) model.MonitorResponse {
	clients := ms.hub.allClients()

	connectionStats := ms.getConnectionStats()
	viewStats := getViewStats(clients)
	clientList := getClientList(clients)

	onlineUsers := 0
	if ms.hub.services.Presence != nil {
		if ids, err := ms.hub.services.Presence.OnlineUsers(ctx); err == nil {
			onlineUsers = len(ids)
		}
	}

	// Determine overall health status
	status := "healthy"
	if connectionStats.TotalConnected == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:      status,
		Connections: connectionStats,
		Views:       viewStats,
		Clients:     clientList,
		OnlineUsers: onlineUsers,
	}
}

// getConnectionStats returns connection statistics
func (ms *MonitorService) getConnectionStats() model.ConnectionStats {
	var stats model.ConnectionStats
	for _, bucket := range ms.hub.shards {
		bucket.RLock()
		stats.DistinctUsers += len(bucket.users)
		for _, sockets := range bucket.users {
			stats.TotalConnected += len(sockets)
		}
		bucket.RUnlock()
	}
	return stats
}

// getViewStats groups sockets by the conversation they have open
func getViewStats(clients []*Client) model.ViewStats {
	viewers := make(map[string][]string)
	for _, c := range clients {
		if id := c.CurrentConversationID(); id != "" {
			viewers[id] = append(viewers[id], c.user.ID)
		}
	}

	stats := model.ViewStats{
		TotalOpen:   len(viewers),
		ViewDetails: make([]model.ViewInfo, 0, len(viewers)),
	}
	for id, users := range viewers {
		sort.Strings(users)
		stats.ViewDetails = append(stats.ViewDetails, model.ViewInfo{
			ConversationID: id,
			Viewers:        users,
		})
	}
	sort.Slice(stats.ViewDetails, func(i, j int) bool {
		return stats.ViewDetails[i].ConversationID < stats.ViewDetails[j].ConversationID
	})
	return stats
}

// getClientList returns list of all connected clients
func getClientList(clients []*Client) []model.ClientInfo {
	list := make([]model.ClientInfo, 0, len(clients))
	for _, c := range clients {
		list = append(list, model.ClientInfo{
			ClientID:              c.ID,
			UserID:                c.user.ID,
			CurrentConversationID: c.CurrentConversationID(),
			Subscriptions:         c.subscriptionCount(),
		})
	}
	return list
}
