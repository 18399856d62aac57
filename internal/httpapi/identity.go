package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"saytruth/internal/domain"
)

const identityKey = "identity"

// IdentityResolver turns a request into an optional identity. Credential
// checks happen elsewhere; a resolver only reads their result.
type IdentityResolver interface {
	Resolve(r *http.Request) domain.OptionalIdentity
}

// HeaderResolver trusts identity headers set by an authenticating gateway.
// The id header carries the identity id, the handle header its handle.
type HeaderResolver struct {
	IDHeader     string
	HandleHeader string
}

// NewHeaderResolver reads the id from header and the handle from
// header + "-Handle".
func NewHeaderResolver(header string) HeaderResolver {
	return HeaderResolver{IDHeader: header, HandleHeader: header + "-Handle"}
}

func (h HeaderResolver) Resolve(r *http.Request) domain.OptionalIdentity {
	id := strings.TrimSpace(r.Header.Get(h.IDHeader))
	if id == "" {
		return domain.Guest()
	}
	handle := strings.TrimSpace(r.Header.Get(h.HandleHeader))
	return domain.Authenticated(domain.Identity{ID: id, Handle: handle})
}

func resolveIdentity(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(identityKey, resolver.Resolve(c.Request))
	}
}

// requireIdentity rejects guests with 401.
func requireIdentity(c *gin.Context) {
	if injectIdentity(c).IsGuest() {
		APIError(c, errUnauthorized)
	}
}

func injectIdentity(c *gin.Context) domain.OptionalIdentity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(domain.OptionalIdentity); ok {
			return id
		}
	}
	return domain.Guest()
}

// rateKey is the resolved identity, or the client address for guests.
func rateKey(c *gin.Context) string {
	if id := injectIdentity(c); !id.IsGuest() {
		return "user:" + id.ID()
	}
	return "ip:" + c.ClientIP()
}
