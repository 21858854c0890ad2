// Package openapi builds the OpenAPI 3.1 document describing the public
// license API and the dashboard API.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Generate returns the OpenAPI document for a server reachable at baseURL.
func Generate(version, baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "KeyForge API",
			Description: "License key activation and verification, plus the cookie-authenticated dashboard API.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"sessionCookie": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "cookie",
				Name: "keyforge_session",
			},
		},
	}
	doc.Components = &components
	doc.Paths = openapi3.NewPaths()

	addPublicPaths(doc)
	addDashboardPaths(doc)
	return doc
}

func addPublicPaths(doc *openapi3.T) {
	activate := &openapi3.Operation{
		Tags:        []string{"public"},
		Summary:     "Activate a license key",
		Description: "Binds an unactivated key to an expiration date computed from today's UTC date.",
		OperationID: "activateKey",
		RequestBody: jsonBody("#/components/schemas/KeyRequest"),
		Responses: publicResponses("200", "Key activated", ref("ActivateResponse"),
			map[string]string{
				"400": "Missing key or malformed body",
				"404": "Key not found or already activated",
			}),
	}
	activate.Security = &openapi3.SecurityRequirements{}

	verify := &openapi3.Operation{
		Tags:        []string{"public"},
		Summary:     "Verify a license key",
		Description: "Reports whether an activated key is within its validity. The expiration day itself is valid.",
		OperationID: "verifyKey",
		RequestBody: jsonBody("#/components/schemas/KeyRequest"),
		Responses: publicResponses("200", "Verification result; valid is false for unknown, unactivated or expired keys", ref("VerifyResponse"),
			map[string]string{
				"400": "Missing key or malformed body",
			}),
	}
	verify.Security = &openapi3.SecurityRequirements{}

	doc.Paths.Set("/api/activate", &openapi3.PathItem{Post: activate})
	doc.Paths.Set("/api/verify", &openapi3.PathItem{Post: verify})
}

func addDashboardPaths(doc *openapi3.T) {
	session := openapi3.SecurityRequirements{{"sessionCookie": {}}}
	secured := func(op *openapi3.Operation) *openapi3.Operation {
		op.Tags = []string{"dashboard"}
		op.Security = &session
		return op
	}

	login := &openapi3.Operation{
		Tags:        []string{"dashboard"},
		Summary:     "Log in and receive a session cookie",
		OperationID: "login",
		RequestBody: jsonBody("#/components/schemas/LoginRequest"),
		Responses:   newResponses("200", "Logged in", ref("Identity")),
	}
	doc.Paths.Set("/dashboard/session", &openapi3.PathItem{
		Post: login,
		Delete: secured(&openapi3.Operation{
			Summary:     "Log out",
			OperationID: "logout",
			Responses:   newResponses("204", "Logged out", nil),
		}),
	})

	doc.Paths.Set("/dashboard/me", &openapi3.PathItem{
		Get: secured(&openapi3.Operation{
			Summary:     "Current identity",
			OperationID: "me",
			Responses:   newResponses("200", "Identity of the session", ref("Identity")),
		}),
	})

	prefixParam := &openapi3.ParameterRef{Value: openapi3.NewQueryParameter("prefix").
		WithDescription("Exact key prefix").WithSchema(openapi3.NewStringSchema())}

	doc.Paths.Set("/dashboard/keys", &openapi3.PathItem{
		Get: secured(&openapi3.Operation{
			Summary:     "List keys, newest first",
			OperationID: "listKeys",
			Parameters:  openapi3.Parameters{prefixParam},
			Responses:   newResponses("200", "Keys visible to the caller", listOf("#/components/schemas/Key")),
		}),
		Post: secured(&openapi3.Operation{
			Summary:     "Generate keys",
			OperationID: "generateKeys",
			RequestBody: jsonBody("#/components/schemas/GenerateRequest"),
			Responses:   newResponses("201", "Keys created", ref("GenerateResponse")),
		}),
		Delete: secured(&openapi3.Operation{
			Summary:     "Delete all keys with an exact prefix",
			OperationID: "deleteKeysByPrefix",
			Parameters:  openapi3.Parameters{prefixParam},
			Responses:   newResponses("200", "Keys removed", ref("DeleteResponse")),
		}),
	})

	doc.Paths.Set("/dashboard/keys/export", &openapi3.PathItem{
		Get: secured(&openapi3.Operation{
			Summary:     "Download keys as text, one per line",
			OperationID: "exportKeys",
			Parameters:  openapi3.Parameters{prefixParam},
			Responses:   textResponses("Key list"),
		}),
	})

	doc.Paths.Set("/dashboard/keys/{key}", &openapi3.PathItem{
		Delete: secured(&openapi3.Operation{
			Summary:     "Delete one key",
			OperationID: "deleteKey",
			Parameters:  openapi3.Parameters{pathParam("key")},
			Responses:   newResponses("200", "Key removed", ref("DeleteResponse")),
		}),
	})

	doc.Paths.Set("/dashboard/moderators", &openapi3.PathItem{
		Get: secured(&openapi3.Operation{
			Summary:     "List moderators (admin)",
			OperationID: "listModerators",
			Responses:   newResponses("200", "Moderator accounts", listOf("#/components/schemas/Moderator")),
		}),
		Post: secured(&openapi3.Operation{
			Summary:     "Create a moderator (admin)",
			OperationID: "createModerator",
			RequestBody: jsonBody("#/components/schemas/CreateModeratorRequest"),
			Responses:   newResponses("201", "Moderator created", ref("Moderator")),
		}),
	})

	doc.Paths.Set("/dashboard/moderators/{id}", &openapi3.PathItem{
		Delete: secured(&openapi3.Operation{
			Summary:     "Delete a moderator and all of its keys (admin)",
			OperationID: "deleteModerator",
			Parameters:  openapi3.Parameters{pathParam("id")},
			Responses:   newResponses("200", "Moderator removed", ref("DeleteResponse")),
		}),
	})

	doc.Paths.Set("/dashboard/moderators/{id}/clear-debt", &openapi3.PathItem{
		Post: secured(&openapi3.Operation{
			Summary:     "Reset a moderator's debt to zero (admin)",
			OperationID: "clearDebt",
			Parameters:  openapi3.Parameters{pathParam("id")},
			Responses:   newResponses("200", "Updated moderator", ref("Moderator")),
		}),
	})

	doc.Paths.Set("/dashboard/prices", &openapi3.PathItem{
		Get: secured(&openapi3.Operation{
			Summary:     "List tier prices",
			OperationID: "listPrices",
			Responses:   newResponses("200", "Configured tiers", listOf("#/components/schemas/Price")),
		}),
		Put: secured(&openapi3.Operation{
			Summary:     "Upsert tier prices (admin)",
			OperationID: "upsertPrices",
			RequestBody: &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
				Required: true,
				Content:  openapi3.NewContentWithJSONSchemaRef(arrayOf("#/components/schemas/Price")),
			}},
			Responses: newResponses("200", "Applied and skipped rows", ref("PriceUpdateResponse")),
		}),
	})
}

func jsonBody(schemaRef string) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: true,
			Content:  openapi3.NewContentWithJSONSchemaRef(openapi3.NewSchemaRef(schemaRef, nil)),
		},
	}
}

func pathParam(name string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema())}
}

// publicResponses builds responses using the flat {"error": "..."} body of
// the public API.
func publicResponses(statusCode, description string, schema *openapi3.SchemaRef, errors map[string]string) *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription(description).WithContent(openapi3.NewContentWithJSONSchemaRef(schema)),
	})

	errorRef := ref("PublicError")
	for code, desc := range errors {
		responses.Set(code, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription(desc).WithContent(openapi3.NewContentWithJSONSchemaRef(errorRef)),
		})
	}
	responses.Set("429", &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription("Rate limit exceeded")})
	responses.Set("500", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription("Internal server error").WithContent(openapi3.NewContentWithJSONSchemaRef(errorRef)),
	})
	return responses
}

// newResponses builds a Responses map with a success response and standard
// dashboard error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	success := openapi3.NewResponse().WithDescription(description)
	if schema != nil {
		success.Content = openapi3.NewContentWithJSONSchemaRef(schema)
	}
	responses.Set(statusCode, &openapi3.ResponseRef{Value: success})

	errorRef := ref("ErrorResponse")
	for code, desc := range map[string]string{
		"400": "Bad request",
		"401": "Unauthorized",
		"403": "Forbidden",
		"404": "Not found",
		"500": "Internal server error",
	} {
		responses.Set(code, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription(desc).WithContent(openapi3.NewContentWithJSONSchemaRef(errorRef)),
		})
	}
	return responses
}

func textResponses(description string) *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set("200", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription(description).WithContent(openapi3.Content{
			"text/plain": openapi3.NewMediaType().WithSchema(openapi3.NewStringSchema()),
		}),
	})
	return responses
}
