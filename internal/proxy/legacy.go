package proxy

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/saidutt46/switchboard-relay/internal/repository"
)

// handleLegacy serves a token-protected route. Legacy routes carry no
// quota; they share the forwarding and failure logging of services.
func (d *Dispatcher) handleLegacy(c *gin.Context, id, requestID string) {
	ctx := c.Request.Context()

	route, err := d.repos.Routes.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		abortJSON(c, http.StatusNotFound, msgRouteNotFound)
		return
	}
	if err != nil {
		d.internalError(c, err)
		return
	}
	if !route.Active {
		abortJSON(c, http.StatusNotFound, msgRouteNotFound)
		return
	}

	expected, err := d.repos.Routes.GetToken(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		d.internalError(c, err)
		return
	}

	presented := c.GetHeader(headerUserToken)
	if expected == nil || expected.Token == "" || presented == "" ||
		subtle.ConstantTimeCompare([]byte(presented), []byte(expected.Token)) != 1 {
		abortJSON(c, http.StatusUnauthorized, msgUserTokenInvalid)
		return
	}

	if route.Method != "" && route.Method != repository.MethodAny && c.Request.Method != route.Method {
		abortJSON(c, http.StatusMethodNotAllowed, "Method harus "+route.Method)
		return
	}

	d.relay(c, requestID, upstreamCall{
		routeID:    route.ID,
		targetURL:  route.TargetURL,
		credential: headerUserToken,
	})
}
