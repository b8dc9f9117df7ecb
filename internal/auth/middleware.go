package auth

import (
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var middlewareTracer = otel.Tracer("auth-middleware")

// RequireAuth is a Gin middleware that validates JWT tokens. WebSocket
// handshakes cannot set headers from browsers, so a token query parameter is
// accepted as a fallback to the Authorization header.
func RequireAuth(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := middlewareTracer.Start(c.Request.Context(), "auth.require_auth")
		defer span.End()

		token := tokenFromRequest(c)
		if token == "" {
			span.SetAttributes(attribute.Bool("auth.token_present", false))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		span.SetAttributes(attribute.Bool("auth.token_present", true))

		claims, err := jwtManager.ValidateToken(ctx, token)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.Bool("auth.token_valid", false))
			log.Warn("rejected invalid token", "path", c.Request.URL.Path, "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		span.SetAttributes(
			attribute.Bool("auth.token_valid", true),
			attribute.String("operator.id", claims.OperatorID),
			attribute.String("operator.email", claims.Email),
		)

		// Attach operator context to Gin context
		c.Set("operator_id", claims.OperatorID)
		c.Set("email", claims.Email)
		c.Set("operator_roles", claims.Roles)
		c.Set("claims", claims)

		log.Debug("operator authenticated",
			"operator_id", claims.OperatorID,
			"path", c.Request.URL.Path,
			"method", c.Request.Method)

		c.Next()
	}
}

// RequireRole is a Gin middleware that checks if the authenticated operator
// has the required role. Must run after RequireAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := middlewareTracer.Start(c.Request.Context(), "auth.require_role")
		defer span.End()

		span.SetAttributes(attribute.String("required.role", role))

		rolesValue, exists := c.Get("operator_roles")
		if !exists {
			span.SetAttributes(attribute.Bool("auth.role_authorized", false))
			c.JSON(http.StatusForbidden, gin.H{"error": "Operator roles not found"})
			c.Abort()
			return
		}

		roles, ok := rolesValue.([]string)
		if !ok {
			span.SetAttributes(attribute.Bool("auth.role_authorized", false))
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid operator roles"})
			c.Abort()
			return
		}

		hasRole := false
		for _, operatorRole := range roles {
			if operatorRole == role {
				hasRole = true
				break
			}
		}

		if !hasRole {
			operatorID, _ := c.Get("operator_id")
			span.SetAttributes(attribute.Bool("auth.role_authorized", false))
			log.Warn("insufficient permissions",
				"operator_id", operatorID, "required_role", role)
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			c.Abort()
			return
		}

		span.SetAttributes(attribute.Bool("auth.role_authorized", true))
		c.Next()
	}
}

// tokenFromRequest extracts a bearer token from the Authorization header or,
// failing that, from the token query parameter.
func tokenFromRequest(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(authHeader) > len(prefix) && strings.HasPrefix(authHeader, prefix) {
		return strings.TrimSpace(authHeader[len(prefix):])
	}
	return c.Query("token")
}
