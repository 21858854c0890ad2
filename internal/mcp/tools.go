package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keyforge/keyforge/internal/model"
	"github.com/keyforge/keyforge/internal/service"
)

// maxListedKeys bounds the keys returned by keyforge_list_keys.
const maxListedKeys = 1000

// registerTools registers all keyforge MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Key lifecycle -----

	srv.AddTool(
		mcp.NewTool("keyforge_generate_keys",
			mcp.WithDescription(
				"Generate a batch of inactive license keys. Each key is the prefix, a dash "+
					"and 32 uppercase hex characters. Validity starts counting when the key "+
					"is activated, not when it is generated.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("prefix",
				mcp.Required(),
				mcp.Description("Key prefix: letters, digits, '_' or '-', at most 32 characters"),
			),
			mcp.WithNumber("count",
				mcp.Required(),
				mcp.Description("Number of keys to generate (1-100)"),
			),
			mcp.WithNumber("validity_days",
				mcp.Required(),
				mcp.Description("Days of validity granted at activation (36500 or more means unlimited)"),
			),
		),
		s.handleGenerateKeys,
	)

	srv.AddTool(
		mcp.NewTool("keyforge_activate_key",
			mcp.WithDescription(
				"Activate a license key. The expiration date is today's UTC date plus the "+
					"key's validity. A key can only be activated once.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("The license key to activate"),
			),
		),
		s.handleActivateKey,
	)

	srv.AddTool(
		mcp.NewTool("keyforge_verify_key",
			mcp.WithDescription(
				"Check whether a license key is activated and not expired. The expiration "+
					"day itself is still valid. Never changes the key.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key",
				mcp.Required(),
				mcp.Description("The license key to verify"),
			),
		),
		s.handleVerifyKey,
	)

	srv.AddTool(
		mcp.NewTool("keyforge_list_keys",
			mcp.WithDescription("List license keys, newest first, optionally filtered by exact prefix or creator."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("prefix",
				mcp.Description("Exact key prefix to filter by"),
			),
			mcp.WithString("created_by",
				mcp.Description("Creator username to filter by"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of keys to return (default 100, max 1000)"),
			),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("keyforge_delete_keys",
			mcp.WithDescription(
				"Delete a single key, or every key whose prefix equals the given prefix "+
					"exactly. Exactly one of key or prefix must be given. Returns the number removed.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("key",
				mcp.Description("The license key to delete"),
			),
			mcp.WithString("prefix",
				mcp.Description("Delete all keys with exactly this prefix"),
			),
		),
		s.handleDeleteKeys,
	)

	// ----- Pricing and moderators -----

	srv.AddTool(
		mcp.NewTool("keyforge_list_prices",
			mcp.WithDescription("List the price charged to moderators per key for each validity tier."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListPrices,
	)

	srv.AddTool(
		mcp.NewTool("keyforge_set_price",
			mcp.WithDescription("Set the per-key price of a validity tier. Tiers without a price are free."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("validity_days",
				mcp.Required(),
				mcp.Description("Validity tier in days"),
			),
			mcp.WithNumber("price",
				mcp.Required(),
				mcp.Description("Non-negative price per key, e.g. 2.50"),
			),
		),
		s.handleSetPrice,
	)

	srv.AddTool(
		mcp.NewTool("keyforge_list_moderators",
			mcp.WithDescription("List moderator accounts with their outstanding debt."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListModerators,
	)

	srv.AddTool(
		mcp.NewTool("keyforge_clear_debt",
			mcp.WithDescription("Reset a moderator's outstanding debt to zero after payment."),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("username",
				mcp.Required(),
				mcp.Description("Moderator username"),
			),
		),
		s.handleClearDebt,
	)
}

// =========================================================================
// Tool handlers
// =========================================================================

func (s *MCPServer) handleGenerateKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix, err := requireString(request, "prefix")
	if err != nil {
		return toolError("%v", err)
	}
	count, err := request.RequireInt("count")
	if err != nil {
		return toolError("missing required parameter \"count\"")
	}
	days, err := request.RequireInt("validity_days")
	if err != nil {
		return toolError("missing required parameter \"validity_days\"")
	}

	result, err := s.licenses.Generate(ctx, s.identity, service.GenerateRequest{
		Prefix:       strings.TrimSpace(prefix),
		Count:        count,
		ValidityDays: days,
	})
	if err != nil {
		return serviceError("generate keys", err)
	}
	return successJSON(result)
}

func (s *MCPServer) handleActivateKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "key")
	if err != nil {
		return toolError("%v", err)
	}
	result, err := s.licenses.Activate(ctx, key)
	if err != nil {
		return serviceError("activate "+key, err)
	}
	return successJSON(result)
}

func (s *MCPServer) handleVerifyKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "key")
	if err != nil {
		return toolError("%v", err)
	}

	result, err := s.licenses.Verify(ctx, key)
	switch {
	case err == nil:
		return successJSON(result)
	case errors.Is(err, service.ErrNotFound):
		return successJSON(service.VerifyResult{Valid: false, Message: "License key not found"})
	case errors.Is(err, service.ErrNotActivated):
		return successJSON(service.VerifyResult{Valid: false, Message: "License key has not been activated"})
	case errors.Is(err, service.ErrExpired):
		return successJSON(result)
	default:
		return serviceError("verify "+key, err)
	}
}

func (s *MCPServer) handleListKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := model.KeyFilter{
		Prefix:    optionalString(request, "prefix"),
		CreatedBy: optionalString(request, "created_by"),
	}
	limit := clamp(optionalInt(request, "limit", 100), 1, maxListedKeys)

	keys, err := s.licenses.ListKeys(ctx, s.identity, filter)
	if err != nil {
		return serviceError("list keys", err)
	}
	total := len(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return successJSON(map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
		"total": total,
	})
}

func (s *MCPServer) handleDeleteKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := optionalString(request, "key")
	prefix := optionalString(request, "prefix")
	if (key == "") == (prefix == "") {
		return toolError("exactly one of \"key\" or \"prefix\" is required")
	}

	var (
		removed int64
		err     error
	)
	if key != "" {
		removed, err = s.licenses.DeleteKey(ctx, s.identity, key)
	} else {
		removed, err = s.licenses.DeleteByPrefix(ctx, s.identity, prefix)
	}
	if err != nil {
		return serviceError("delete keys", err)
	}
	return successJSON(map[string]int64{"removed": removed})
}

func (s *MCPServer) handleListPrices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prices, err := s.ledger.ListPrices(ctx, s.identity)
	if err != nil {
		return serviceError("list prices", err)
	}
	return successJSON(prices)
}

func (s *MCPServer) handleSetPrice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days, err := request.RequireInt("validity_days")
	if err != nil {
		return toolError("missing required parameter \"validity_days\"")
	}
	price, err := request.RequireFloat("price")
	if err != nil {
		return toolError("missing required parameter \"price\"")
	}

	result, err := s.ledger.UpsertPrices(ctx, s.identity, []service.PriceEntry{service.FormatPriceEntry(days, price)})
	if err != nil {
		return serviceError("set price", err)
	}
	if len(result.Skipped) > 0 {
		return toolError("price for %d days rejected: %s", days, result.Skipped[0].Reason)
	}
	return successJSON(map[string]interface{}{
		"validity_days": days,
		"price":         model.MoneyFromFloat(price),
	})
}

func (s *MCPServer) handleListModerators(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mods, err := s.ledger.ListModerators(ctx, s.identity)
	if err != nil {
		return serviceError("list moderators", err)
	}
	return successJSON(mods)
}

func (s *MCPServer) handleClearDebt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	m, err := s.ledger.ModeratorByUsername(ctx, s.identity, username)
	if err != nil {
		return serviceError(fmt.Sprintf("find moderator %q", username), err)
	}
	if err := s.ledger.ClearDebt(ctx, s.identity, m.ID); err != nil {
		return serviceError("clear debt", err)
	}
	s.logger.Info("debt cleared via MCP", "username", username, "previous_debt", m.Debt.String())
	return successJSON(map[string]interface{}{
		"username":      username,
		"debt":          model.Money(0),
		"previous_debt": m.Debt,
	})
}
