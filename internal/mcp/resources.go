package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keyforge/keyforge/internal/model"
)

const (
	pricesURI       = "keyforge://prices"
	keysTemplateURI = "keyforge://keys/{prefix}"
	keysURIPrefix   = "keyforge://keys/"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// keyforge://prices: the configured tier prices
	srv.AddResource(
		mcp.NewResource(
			pricesURI,
			"Tier Prices",
			mcp.WithResourceDescription(
				"Per-key price charged to moderators for each validity tier, in days.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handlePricesResource,
	)

	// keyforge://keys/{prefix}: keys with an exact prefix (template)
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			keysTemplateURI,
			"License Keys by Prefix",
			mcp.WithTemplateDescription(
				"All license keys whose prefix equals {prefix}, with activation state and expiration.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleKeysResource,
	)
}

func (s *MCPServer) handlePricesResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	prices, err := s.ledger.ListPrices(ctx, s.identity)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	return jsonResource(request.Params.URI, prices)
}

func (s *MCPServer) handleKeysResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	prefix := strings.TrimPrefix(uri, keysURIPrefix)
	if prefix == "" || prefix == uri {
		return nil, fmt.Errorf("invalid keys URI %q: expected %s", uri, keysTemplateURI)
	}

	keys, err := s.licenses.ListKeys(ctx, s.identity, model.KeyFilter{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys for prefix %q: %w", prefix, err)
	}
	return jsonResource(uri, keys)
}

func jsonResource(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
