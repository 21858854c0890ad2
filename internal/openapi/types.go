package openapi

import "github.com/getkin/kin-openapi/openapi3"

func stringSchema(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: desc}}
}

func dateSchema(desc string, nullable bool) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Format:      "date",
		Description: desc,
		Nullable:    nullable,
	}}
}

func integerSchema(desc string, min, max *float64) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"integer"},
		Format:      "int32",
		Description: desc,
		Min:         min,
		Max:         max,
	}}
}

func moneySchema(desc string) *openapi3.SchemaRef {
	zero := 0.0
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"number"},
		Format:      "double",
		Description: desc,
		Min:         &zero,
	}}
}

func boolSchema(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}, Description: desc}}
}

func objectSchema(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func arrayOf(ref string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: openapi3.NewSchemaRef(ref, nil),
	}}
}

// listOf wraps an array of ref in the {"resource": [...], "meta": {...}}
// list envelope.
func listOf(ref string) *openapi3.SchemaRef {
	return objectSchema(openapi3.Schemas{
		"resource": arrayOf(ref),
		"meta": objectSchema(openapi3.Schemas{
			"count": integerSchema("Number of items returned.", float(0), nil),
		}),
	}, "resource")
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func float(f float64) *float64 { return &f }

// componentSchemas returns every named schema referenced by the document.
func componentSchemas() openapi3.Schemas {
	return openapi3.Schemas{
		"KeyRequest": objectSchema(openapi3.Schemas{
			"key": stringSchema("License key string."),
		}, "key"),

		"ActivateResponse": objectSchema(openapi3.Schemas{
			"success": boolSchema("Always true on success."),
			"message": stringSchema("Human-readable outcome."),
			"expires": dateSchema("Expiration date bound at activation.", false),
		}, "success", "message", "expires"),

		"VerifyResponse": objectSchema(openapi3.Schemas{
			"valid":   boolSchema("Whether the key is currently valid."),
			"message": stringSchema("Human-readable outcome."),
			"expires": dateSchema("Expiration date; present when valid.", false),
		}, "valid", "message"),

		"PublicError": objectSchema(openapi3.Schemas{
			"error": stringSchema("Error message."),
		}, "error"),

		"ErrorResponse": objectSchema(openapi3.Schemas{
			"error": objectSchema(openapi3.Schemas{
				"code":    integerSchema("HTTP status code.", nil, nil),
				"message": stringSchema("Error message."),
				"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
			}, "code", "message"),
		}, "error"),

		"LoginRequest": objectSchema(openapi3.Schemas{
			"username": stringSchema(""),
			"password": stringSchema(""),
		}, "username", "password"),

		"Identity": objectSchema(openapi3.Schemas{
			"role":       &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []interface{}{"admin", "moderator"}}},
			"username":   stringSchema(""),
			"account_id": stringSchema("Moderator account id; empty for the admin."),
			"debt":       moneySchema("Current debt; moderators only."),
		}, "role", "username"),

		"Key": objectSchema(openapi3.Schemas{
			"key":             stringSchema("Prefix, a dash and 32 uppercase hex characters."),
			"prefix":          stringSchema(""),
			"validity_days":   integerSchema("Requested validity in days.", float(1), nil),
			"price":           moneySchema("Unit price charged at creation."),
			"activation_date": dateSchema("Set at activation.", true),
			"expires":         dateSchema("Set at activation.", true),
			"is_active":       boolSchema(""),
			"created_by":      stringSchema("Creator username."),
			"created_at":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}},
		}, "key", "prefix", "validity_days", "is_active", "created_by"),

		"GenerateRequest": objectSchema(openapi3.Schemas{
			"prefix": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type:      &openapi3.Types{"string"},
				Pattern:   "^[A-Za-z0-9_-]+$",
				MinLength: 1,
				MaxLength: openapi3.Uint64Ptr(32),
			}},
			"count":         integerSchema("Number of keys to create.", float(1), float(100)),
			"validity_days": integerSchema("Validity granted at activation.", float(1), nil),
		}, "prefix", "count", "validity_days"),

		"GenerateResponse": objectSchema(openapi3.Schemas{
			"keys": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type: &openapi3.Types{"array"},
				Items: objectSchema(openapi3.Schemas{
					"key":           stringSchema(""),
					"validity_days": integerSchema("", nil, nil),
					"price":         moneySchema(""),
				}),
			}},
			"total_cost": moneySchema("Amount added to the caller's debt."),
		}, "keys", "total_cost"),

		"DeleteResponse": objectSchema(openapi3.Schemas{
			"removed": integerSchema("Number of records removed.", float(0), nil),
		}, "removed"),

		"Moderator": objectSchema(openapi3.Schemas{
			"id":         stringSchema(""),
			"username":   stringSchema(""),
			"role":       stringSchema(""),
			"debt":       moneySchema(""),
			"created_at": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}},
		}, "id", "username", "debt"),

		"CreateModeratorRequest": objectSchema(openapi3.Schemas{
			"username": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, MinLength: 3, MaxLength: openapi3.Uint64Ptr(32)}},
			"password": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, MinLength: 8}},
		}, "username", "password"),

		"Price": objectSchema(openapi3.Schemas{
			"validity_days": integerSchema("", float(1), nil),
			"price":         moneySchema(""),
		}, "validity_days", "price"),

		"PriceUpdateResponse": objectSchema(openapi3.Schemas{
			"applied": integerSchema("", float(0), nil),
			"skipped": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type: &openapi3.Types{"array"},
				Items: objectSchema(openapi3.Schemas{
					"index":         integerSchema("", nil, nil),
					"validity_days": stringSchema(""),
					"price":         stringSchema(""),
					"reason":        stringSchema(""),
				}),
			}},
		}, "applied", "skipped"),
	}
}
