package api

// auth.go holds the three authentication paths: JWT bearer tokens for
// clients, session tokens for miners, and a shared secret for operator and
// cross-service calls.

import (
	"crypto/subtle"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/julienschmidt/httprouter"

	"github.com/oib/AITBC-sub002/crypto"
	"github.com/oib/AITBC-sub002/types"
)

// clientIdentity is the authenticated caller of a job endpoint.
type clientIdentity struct {
	TenantID string
	Address  types.Address
}

// clientHandle is an httprouter handle that additionally receives the
// authenticated client.
type clientHandle func(http.ResponseWriter, *http.Request, httprouter.Params, clientIdentity)

// sessionHandle is an httprouter handle that additionally receives the
// authenticated miner id.
type sessionHandle func(http.ResponseWriter, *http.Request, httprouter.Params, string)

// bearerToken extracts a bearer token from the Authorization header.
func bearerToken(req *http.Request) (string, bool) {
	h := req.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}

// authenticateClient resolves the caller from either an api key or a JWT.
// Api keys identify tenants; JWTs carry the client address in their subject.
func (api *API) authenticateClient(req *http.Request) (clientIdentity, error) {
	if key := req.Header.Get("X-API-Key"); key != "" {
		hash := crypto.HashBytes([]byte(key)).String()
		tenant, ok := api.coordinator.TenantByKeyHash(hash)
		if !ok || tenant.Disabled {
			return clientIdentity{}, types.NewCodedError(types.ErrCodeAuth, "unknown or disabled api key")
		}
		return clientIdentity{TenantID: tenant.ID, Address: tenant.Address}, nil
	}

	raw, ok := bearerToken(req)
	if !ok {
		return clientIdentity{}, types.NewCodedError(types.ErrCodeAuth, "missing credentials")
	}
	if len(api.jwtSecret) == 0 {
		return clientIdentity{}, types.NewCodedError(types.ErrCodeAuth, "token auth is not configured")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, types.NewCodedError(types.ErrCodeAuth, "unexpected token signing method")
		}
		return api.jwtSecret, nil
	})
	if err != nil {
		return clientIdentity{}, types.NewCodedError(types.ErrCodeAuth, "invalid token: "+err.Error())
	}

	sub, _ := claims["sub"].(string)
	var addr types.Address
	if err := addr.LoadString(sub); err != nil {
		return clientIdentity{}, types.NewCodedError(types.ErrCodeAuth, "token subject is not an address")
	}
	tenantID, _ := claims["tenant"].(string)
	return clientIdentity{TenantID: tenantID, Address: addr}, nil
}

// requireClient wraps a handle with client authentication.
func (api *API) requireClient(h clientHandle) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		id, err := api.authenticateClient(req)
		if err != nil {
			writeError(w, err)
			return
		}
		h(w, req, ps, id)
	}
}

// requireSession wraps a handle with miner session authentication. The token
// travels in the X-Session-Token header.
func (api *API) requireSession(h sessionHandle) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		token := req.Header.Get("X-Session-Token")
		if token == "" {
			token, _ = bearerToken(req)
		}
		minerID, ok := api.hub.ResolveSession(token)
		if !ok {
			writeError(w, types.NewCodedError(types.ErrCodeAuth, "unknown or expired session token"))
			return
		}
		h(w, req, ps, minerID)
	}
}

// requireSharedSecret wraps a handle with constant-time shared secret
// comparison. An unset secret closes the endpoints entirely.
func (api *API) requireSharedSecret(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		token, _ := bearerToken(req)
		if api.sharedSecret == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(api.sharedSecret)) != 1 {
			writeError(w, types.NewCodedError(types.ErrCodeAuth, "shared secret mismatch"))
			return
		}
		h(w, req, ps)
	}
}

// SignClientToken mints a JWT for a client address. The CLI's devnet tooling
// uses it; production deployments mint tokens in their identity provider.
func SignClientToken(secret string, addr types.Address, tenantID string) (string, error) {
	claims := jwt.MapClaims{"sub": addr.String()}
	if tenantID != "" {
		claims["tenant"] = tenantID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
