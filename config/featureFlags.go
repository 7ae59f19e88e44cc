package config

import (
	"os"
	"strings"
)

// CardIntegrationEnabled gates the external card side effects on deficiency
// state transitions. Off by default in environments without board credentials.
//
// Set via env:
// - CARD_INTEGRATION_ENABLED=true
func CardIntegrationEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CARD_INTEGRATION_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// PushNotificationsEnabled gates the push fan-out on deficiency state
// transitions.
//
// Set via env:
// - PUSH_NOTIFICATIONS_ENABLED=true
func PushNotificationsEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("PUSH_NOTIFICATIONS_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
