package http

import (
	"github.com/prazos-api/internal/application/account"
	"github.com/prazos-api/internal/application/numbering"
	jwtinfra "github.com/prazos-api/internal/infrastructure/jwt"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps holds everything the router serves. The numbering controller is built
// in main because it also needs the account service as its identity provider.
type Deps struct {
	Accounts    account.Service
	JWTProvider *jwtinfra.Provider
	Controller  *numbering.Controller
	Sessions    *numbering.Sessions
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}
