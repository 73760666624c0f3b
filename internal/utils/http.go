package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetRealClientIP extracts the caller's IP for audit logs.
// X-Real-IP wins, then the first parseable X-Forwarded-For hop, then c.ClientIP()
func GetRealClientIP(c *gin.Context) string {
	if ip := strings.TrimSpace(c.GetHeader("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}

	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			if ip := strings.TrimSpace(hop); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	return c.ClientIP()
}
