package mcp

import (
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keyforge/keyforge/internal/service"
)

// MCPServer wraps the mcp-go server with keyforge tool and resource
// registrations. It lets AI agents generate, activate, verify and manage
// license keys and tier prices. Every call runs as a fixed identity.
type MCPServer struct {
	licenses *service.LicenseService
	ledger   *service.LedgerService
	identity service.Identity
	logger   *slog.Logger
	server   *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all keyforge tools and
// resources. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(licenses *service.LicenseService, ledger *service.LedgerService, identity service.Identity, version string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		licenses: licenses,
		ledger:   ledger,
		identity: identity,
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"KeyForge License Keys",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// keyforge as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode", "identity", s.identity.Username)
	return server.ServeStdio(s.server)
}

// HTTPHandler returns a Streamable HTTP handler for mounting in the main
// router.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func destructiveAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
