// Package docs registers the OpenAPI document served at /swagger. Regenerate
// with `swag init -g cmd/api/main.go` after changing handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "tags": ["System"],
                "summary": "Health check",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/api/v1/webhooks/stripe": {
            "post": {
                "tags": ["Webhook"],
                "summary": "Stripe Webhook",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "Stripe-Signature", "in": "header", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "string"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/api/v1/cron/reconcile": {
            "post": {
                "tags": ["Cron"],
                "summary": "Run reconciliation",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "Authorization", "in": "header"},
                    {"type": "string", "name": "x-cron-secret", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/api/v1/billing/checkout": {
            "post": {
                "tags": ["Billing"],
                "summary": "Start checkout",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "X-User-ID", "in": "header", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CheckoutRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/api/v1/billing/cancel": {
            "post": {
                "tags": ["Billing"],
                "summary": "Cancel subscription",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "X-User-ID", "in": "header", "required": true},
                    {"name": "request", "in": "body", "schema": {"$ref": "#/definitions/handlers.CancelRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/api/v1/billing/change-plan": {
            "post": {
                "tags": ["Billing"],
                "summary": "Change plan",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "X-User-ID", "in": "header", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ChangePlanRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/api/v1/billing/portal": {
            "post": {
                "tags": ["Billing"],
                "summary": "Billing portal",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "X-User-ID", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/api/v1/billing/subscription": {
            "get": {
                "tags": ["Billing"],
                "summary": "Current subscription",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "X-User-ID", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/api/v1/admin/subscriptions": {
            "post": {
                "tags": ["Admin"],
                "summary": "List Subscriptions (Admin)",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "X-Admin-Token", "in": "header", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ListRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/api/v1/admin/payments": {
            "post": {
                "tags": ["Admin"],
                "summary": "List Payments (Admin)",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "X-Admin-Token", "in": "header", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ListRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        },
        "/api/v1/admin/statistics": {
            "post": {
                "tags": ["Admin"],
                "summary": "Get Billing Statistics (Admin)",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "X-Admin-Token", "in": "header", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/statistics.StatisticRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.Envelope"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.Envelope": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "message": {"type": "string"},
                "data": {}
            }
        },
        "handlers.CheckoutRequest": {
            "type": "object",
            "required": ["billing_cycle"],
            "properties": {
                "billing_cycle": {"type": "string", "enum": ["MONTHLY", "YEARLY"]}
            }
        },
        "handlers.CancelRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string", "maxLength": 500}
            }
        },
        "handlers.ChangePlanRequest": {
            "type": "object",
            "required": ["billing_cycle"],
            "properties": {
                "billing_cycle": {"type": "string", "enum": ["MONTHLY", "YEARLY"]}
            }
        },
        "handlers.ListRequest": {
            "type": "object",
            "properties": {
                "filters": {"type": "array", "items": {"$ref": "#/definitions/types.CommonFilter"}},
                "from": {"type": "integer"},
                "size": {"type": "integer"},
                "sort_by": {"type": "string"},
                "sort_order": {"type": "string", "enum": ["asc", "desc"]}
            }
        },
        "types.CommonFilter": {
            "type": "object",
            "properties": {
                "field": {"type": "string"},
                "operator": {"type": "string", "enum": ["eq", "not_eq", "lt", "lte", "gt", "gte", "date_range", "range", "in"]},
                "values": {"type": "array", "items": {}}
            }
        },
        "statistics.StatisticRequest": {
            "type": "object",
            "required": ["data_items"],
            "properties": {
                "from": {"type": "string", "format": "date-time"},
                "to": {"type": "string", "format": "date-time"},
                "data_items": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {"id": {"type": "string", "enum": ["subscription_count", "payment_totals"]}}
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8888",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Billsync API",
	Description:      "Subscription billing backed by a card payment gateway.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
