package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

type channelKey struct{}

var ChannelContextKey = channelKey{}

// deriveChannelFromAPIKey maps an API key prefix to the calling channel.
func deriveChannelFromAPIKey(key string) string {
	switch {
	case strings.HasPrefix(key, "admin_"):
		return "admin"
	case strings.HasPrefix(key, "gateway_"):
		return "gateway"
	case strings.HasPrefix(key, "web_"):
		return "web"
	default:
		return "api"
	}
}

// Channel tags every request context with the originating channel based on
// x-api-key. Settlements record it as triggered_by for the audit trail.
func Channel() gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := deriveChannelFromAPIKey(c.GetHeader("x-api-key"))
		ctx := context.WithValue(c.Request.Context(), ChannelContextKey, channel)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetChannel returns the current channel, defaulting to "api".
func GetChannel(ctx context.Context) string {
	ch, ok := ctx.Value(ChannelContextKey).(string)
	if !ok {
		return "api"
	}
	return ch
}

// FromChannel reports whether the context originated from the given channel.
func FromChannel(ctx context.Context, want string) bool {
	ch, ok := ctx.Value(ChannelContextKey).(string)
	return ok && ch == want
}
