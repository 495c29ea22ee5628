// Package server implements the HTTP server and routing logic.
package server

import (
	"net/http"

	"github.com/maruel/arena/internal/clans"
	"github.com/maruel/arena/internal/server/handlers"
)

// NewRouter creates and configures the HTTP router serving the clan registry
// API under /api/.
func NewRouter(svc *clans.Service, cfg *Config, version, engine string) http.Handler {
	mux := &http.ServeMux{}
	hh := handlers.NewHealthHandler(version, engine)
	ch := handlers.NewClanHandler(svc)

	mux.Handle("GET /api/health", Wrap(hh.Health, cfg))
	mux.Handle("GET /api/schema/clan", Wrap(ch.Schema, cfg))

	// Clans
	mux.Handle("GET /api/clans", Wrap(ch.List, cfg))
	mux.Handle("POST /api/clans", Wrap(ch.Register, cfg))
	mux.Handle("GET /api/clans/{id}", Wrap(ch.Get, cfg))
	mux.Handle("PATCH /api/clans/{id}", Wrap(ch.Update, cfg))
	mux.Handle("DELETE /api/clans/{id}", Wrap(ch.Delete, cfg))

	// Members
	mux.Handle("GET /api/clans/{id}/members", Wrap(ch.ListMembers, cfg))
	mux.Handle("POST /api/clans/{id}/members", Wrap(ch.AddMember, cfg))
	mux.Handle("DELETE /api/clans/{id}/members/{memberID}", Wrap(ch.RemoveMember, cfg))

	// Applications
	mux.Handle("GET /api/clans/{id}/applications", Wrap(ch.ListApplications, cfg))
	mux.Handle("POST /api/clans/{id}/applications", Wrap(ch.Apply, cfg))
	mux.Handle("POST /api/clans/{id}/applications/{appID}/decision", Wrap(ch.DecideApplication, cfg))

	return mux
}
