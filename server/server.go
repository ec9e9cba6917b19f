package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	catalogx "github.com/mptask/erp-copilot/copilot/catalog"
	servicex "github.com/mptask/erp-copilot/copilot/service"
)

// ReloadFunc re-reads the catalog source and swaps it in; it returns the
// post-reload summary.
type ReloadFunc func() (catalogx.Summary, error)

// Server exposes the copilot over HTTP.
type Server struct {
	svc     *servicex.Service
	catalog *catalogx.Catalog
	reload  ReloadFunc
}

// New builds the HTTP surface. reload may be nil; the reload endpoint then
// answers with a summary of the unchanged catalog.
func New(svc *servicex.Service, catalog *catalogx.Catalog, reload ReloadFunc) *Server {
	return &Server{svc: svc, catalog: catalog, reload: reload}
}

// Router assembles the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)

	r.Post("/action", s.handleAction)
	r.Post("/action/confirm", s.handleConfirm)
	r.Post("/action/reject", s.handleReject)
	r.Get("/action/pending", s.handlePending)
	r.Get("/action/details/{actionID}", s.handleActionDetails)

	r.Get("/store", s.handleListStore)
	r.Get("/store/{key}", s.handleGetStore)

	r.Post("/copilot/suggest", s.handleSuggest)

	r.Get("/endpoints", s.handleEndpoints)
	r.Post("/endpoints/reload", s.handleReloadEndpoints)

	return r
}
