package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/witcon/backend/internal/auth"
	"github.com/witcon/backend/pkg/response"
)

// ContextCaller is the gin context key holding the auth.Caller.
const ContextCaller = "caller"

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Authenticate resolves the caller from an optional bearer token. Requests without an
// Authorization header continue as anonymous; a malformed or invalid token is rejected.
func Authenticate(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Set(ContextCaller, auth.Caller{})
			c.Next()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := validator.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextCaller, claims.Caller())
		c.Next()
	}
}

// Authorize evaluates policy for op before the handler runs.
// Anonymous callers get 401, authenticated callers lacking the capability get 403.
func Authorize(policy auth.Policy, op auth.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerFrom(c)
		if policy.Allowed(op, caller) {
			c.Next()
			return
		}
		if !caller.Authenticated() {
			response.Unauthorized(c, "authentication credentials were not provided")
		} else {
			response.Forbidden(c, "you do not have permission to perform this action")
		}
		c.Abort()
	}
}

// AuthorizeOwner is Authorize for routes addressing a single attendee: a caller
// denied op still passes when the route parameter equals its subject and policy
// allows selfOp.
func AuthorizeOwner(policy auth.Policy, op, selfOp auth.Operation, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerFrom(c)
		if policy.Allowed(op, caller) ||
			(caller.Authenticated() && c.Param(param) == caller.Subject && policy.Allowed(selfOp, caller)) {
			c.Next()
			return
		}
		if !caller.Authenticated() {
			response.Unauthorized(c, "authentication credentials were not provided")
		} else {
			response.Forbidden(c, "you do not have permission to perform this action")
		}
		c.Abort()
	}
}

// CallerFrom returns the caller stored by Authenticate, or an anonymous caller.
func CallerFrom(c *gin.Context) auth.Caller {
	v, ok := c.Get(ContextCaller)
	if !ok {
		return auth.Caller{}
	}
	caller, _ := v.(auth.Caller)
	return caller
}
