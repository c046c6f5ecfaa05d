package isapi

import "net/url"

// Device API paths.
const (
	PathCapabilities   = "/ISAPI/System/capabilities"
	PathStatus         = "/ISAPI/System/status?format=json"
	PathSecurity       = "/ISAPI/System/security?format=json"
	PathToken          = "/ISAPI/Security/token"
	PathTokenRenew     = "/ISAPI/Security/token/renew"
	PathEventSubscribe = "/ISAPI/Event/Subscribe"
)

// PathEventPoll is where events for a subscription are collected.
func PathEventPoll(subscriptionID string) string {
	return "/ISAPI/Event/Poll/" + url.PathEscape(subscriptionID)
}

// PathEventHeartbeat keeps a subscription alive on the device.
func PathEventHeartbeat(subscriptionID string) string {
	return "/ISAPI/Event/Heartbeat/" + url.PathEscape(subscriptionID)
}

// PathDoorControl takes door state commands.
func PathDoorControl(doorID string) string {
	return "/ISAPI/AccessControl/DoorControl/" + url.PathEscape(doorID)
}

// PathDoorStatus reports door state.
func PathDoorStatus(doorID string) string {
	return "/ISAPI/AccessControl/DoorStatus/" + url.PathEscape(doorID)
}
