package a2a

import (
	"net/http"

	sdk "github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server bundles the A2A SDK transport, the agent card and the legacy RPC table.
type Server struct {
	card     *sdk.AgentCard
	handler  a2asrv.RequestHandler
	jsonrpc  http.Handler
	cardHTTP http.Handler
	rpc      *RPC
}

// NewServer builds the A2A front end. A nil store keeps tasks in memory.
func NewServer(deps Deps, cfg CardConfig, store a2asrv.TaskStore, logger *zap.Logger) *Server {
	card := BuildCard(cfg, deps.Skills)
	var opts []a2asrv.RequestHandlerOption
	if store != nil {
		opts = append(opts, a2asrv.WithTaskStore(store))
	}
	handler := a2asrv.NewHandler(NewExecutor(deps, logger), opts...)
	return &Server{
		card:     card,
		handler:  handler,
		jsonrpc:  a2asrv.NewJSONRPCHandler(handler),
		cardHTTP: a2asrv.NewStaticAgentCardHandler(card),
		rpc:      NewRPC(deps, cfg, logger),
	}
}

// Card returns the advertised agent card.
func (s *Server) Card() *sdk.AgentCard { return s.card }

// Handler returns the SDK request handler.
func (s *Server) Handler() a2asrv.RequestHandler { return s.handler }

// Mount registers the agent card, the SDK JSON-RPC transport at /a2a and the
// legacy method table at /a2a/rpc.
func (s *Server) Mount(r chi.Router) {
	r.Handle(a2asrv.WellKnownAgentCardPath, s.cardHTTP)
	r.Handle("/.well-known/agent.json", s.cardHTTP)
	r.Handle("/a2a", s.jsonrpc)
	r.Post("/a2a/rpc", s.rpc.ServeHTTP)
}
