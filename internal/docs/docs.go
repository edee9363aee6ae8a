// Package docs registers the OpenAPI document served by gin-swagger.
// Regenerate with: swag init -g internal/http/router.go -o internal/docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/activities": {
            "post": {
                "description": "Runs an activity as the calling user, exactly as if it had been issued as a chat command.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Activities"],
                "summary": "Run a bounty activity",
                "operationId": "postActivity",
                "parameters": [
                    {"type": "string", "description": "Platform user id of the actor", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Workspace id (or workspace_id in the body)", "name": "X-Workspace-ID", "in": "header"},
                    {"type": "string", "description": "Idempotency key for safe retries", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Activity payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ActivityRequest"}}
                ],
                "responses": {
                    "200": {"description": "Activity applied", "schema": {"$ref": "#/definitions/services.Result"}},
                    "201": {"description": "Bounty created", "schema": {"$ref": "#/definitions/services.Result"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Missing actor", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "Actor not allowed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Bounty not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Concurrent modification", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "422": {"description": "Guard or input violation", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/bounties/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Bounties"],
                "summary": "Get a bounty",
                "operationId": "getBounty",
                "parameters": [
                    {"type": "string", "description": "Workspace id", "name": "X-Workspace-ID", "in": "header"},
                    {"type": "string", "format": "uuid", "description": "Bounty ID (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Bounty not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/workspaces/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Workspaces"],
                "summary": "Get workspace configuration",
                "operationId": "getWorkspace",
                "parameters": [
                    {"type": "string", "description": "Workspace id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Workspace not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Workspaces"],
                "summary": "Create or update workspace configuration",
                "operationId": "putWorkspace",
                "parameters": [
                    {"type": "string", "description": "Workspace id", "name": "id", "in": "path", "required": true},
                    {"description": "Workspace configuration", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.WorkspaceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/workspaces/{id}/bounties": {
            "get": {
                "description": "Returns bounties newest first. Supports weak ETag via If-None-Match and may return 304.",
                "produces": ["application/json"],
                "tags": ["Bounties"],
                "summary": "List a workspace's bounties (paginated)",
                "operationId": "listWorkspaceBounties",
                "parameters": [
                    {"type": "string", "description": "Workspace id", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"},
                    {"type": "string", "description": "Comma-separated statuses", "name": "status", "in": "query"},
                    {"type": "string", "description": "Creator user id", "name": "created_by", "in": "query"},
                    {"type": "string", "description": "Claimant or applicant user id", "name": "claimed_by", "in": "query"},
                    {"type": "string", "description": "Keyword substring", "name": "tag", "in": "query"},
                    {"type": "string", "description": "Channel category substring", "name": "category", "in": "query"},
                    {"type": "boolean", "default": false, "description": "Include IOU records", "name": "include_iou", "in": "query"},
                    {"type": "boolean", "default": false, "description": "Include repeat templates", "name": "include_templates", "in": "query"},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListBountiesResponse"}, "headers": {"ETag": {"type": "string", "description": "Weak ETag for the workspace's current state"}}},
                    "304": {"description": "Not Modified", "schema": {"type": "string"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/web/bounties/{id}/activities": {
            "post": {
                "description": "Appends an activity entry written by the web board. The bot applies it from the change feed.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Web"],
                "summary": "Record a board intent on a bounty",
                "operationId": "postWebActivity",
                "parameters": [
                    {"type": "string", "description": "Platform user id of the actor", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "format": "uuid", "description": "Bounty ID (UUID)", "name": "id", "in": "path", "required": true},
                    {"description": "Intent", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.WebActivityRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handlers.WebActivityResponse"}},
                    "404": {"description": "Bounty not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Stale revision", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ActivityRequest": {
            "type": "object",
            "required": ["activity"],
            "properties": {
                "activity": {"type": "string", "example": "claim"},
                "workspace_id": {"type": "string", "example": "T0123"},
                "bounty_id": {"type": "string"},
                "channel_id": {"type": "string"},
                "handle": {"type": "string", "example": "bob"},
                "params": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string"}
            }
        },
        "handlers.ListBountiesResponse": {
            "type": "object",
            "properties": {
                "bounties": {"type": "array", "items": {"type": "object"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"},
                "has_next": {"type": "boolean"}
            }
        },
        "handlers.WebActivityRequest": {
            "type": "object",
            "required": ["activity"],
            "properties": {
                "activity": {"type": "string", "example": "claim"},
                "revision": {"type": "integer"},
                "params": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "handlers.WebActivityResponse": {
            "type": "object",
            "properties": {
                "bounty_id": {"type": "string"},
                "revision": {"type": "integer"}
            }
        },
        "handlers.WorkspaceRequest": {
            "type": "object",
            "required": ["bounty_channel"],
            "properties": {
                "name": {"type": "string"},
                "bounty_channel": {"type": "string"},
                "fallback_channel": {"type": "string"}
            }
        },
        "services.Result": {
            "type": "object",
            "properties": {
                "bounty": {"type": "object"},
                "card": {"type": "object"},
                "message": {"type": "string"},
                "skipped": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Bounty Bot API",
	Description:      "Bounty lifecycle API: run activities, read bounties and record board intents.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
