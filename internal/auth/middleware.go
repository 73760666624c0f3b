// Package auth guards the cron endpoints with a shared bearer secret
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"perkwallet/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const bearerPrefix = "Bearer "

// CronAuthMiddleware rejects requests whose Authorization header does not carry
// secret as a bearer token. An empty secret rejects everything.
func CronAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if secret == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			log.WithFields(log.Fields{
				"path":       c.FullPath(),
				"client_ip":  utils.GetRealClientIP(c),
				"has_header": ok,
			}).Warn("Rejected unauthorized cron request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}
