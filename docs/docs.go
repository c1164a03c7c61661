// Package docs registers the OpenAPI document served under /swagger when
// SWAGGER_ENABLED is set. Regenerate with:
//
//	swag init -g cmd/dosed/main.go -o docs
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
        "/doses/today": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Doses"],
                "summary": "Today's doses",
                "operationId": "getToday",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "X-User-ID", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.TodayView"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/doses/{id}/confirm": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Doses"],
                "summary": "Confirm a dose",
                "operationId": "confirmDose",
                "parameters": [
                    {"type": "string", "description": "Dose ID", "name": "id", "in": "path", "required": true},
                    {"description": "Confirm options", "name": "body", "in": "body", "schema": {"$ref": "#/definitions/handlers.ConfirmDoseRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.DoseInstance"}},
                    "404": {"description": "Dose not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Out of stock, duplicate dose or terminal state", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/doses/{id}/snooze": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Doses"],
                "summary": "Snooze a dose",
                "operationId": "snoozeDose",
                "parameters": [
                    {"type": "string", "description": "Dose ID", "name": "id", "in": "path", "required": true},
                    {"description": "Snooze payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SnoozeDoseRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.DoseInstance"}},
                    "409": {"description": "Dose no longer scheduled", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "422": {"description": "Minutes out of range", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/doses/{id}/skip": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Doses"],
                "summary": "Skip a dose",
                "operationId": "skipDose",
                "parameters": [
                    {"type": "string", "description": "Dose ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.DoseInstance"}},
                    "409": {"description": "Dose already taken or missed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/doses/{id}/events": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Doses"],
                "summary": "Dose audit trail",
                "operationId": "doseEvents",
                "parameters": [
                    {"type": "string", "description": "Dose ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.DoseEventsResponse"}},
                    "404": {"description": "Dose not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/settings/quiet-hours": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Settings"],
                "summary": "Read quiet hours",
                "operationId": "getQuietHours",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.QuietHoursResponse"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Settings"],
                "summary": "Replace quiet hours",
                "operationId": "putQuietHours",
                "parameters": [
                    {"description": "Quiet hours", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.QuietHoursRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.QuietHoursResponse"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/stock/{item_id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Stock"],
                "summary": "Read stock",
                "operationId": "getStock",
                "parameters": [
                    {"type": "string", "description": "Item ID", "name": "item_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.StockRecord"}},
                    "404": {"description": "Unknown or untracked item", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/stock/{item_id}/refill": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Stock"],
                "summary": "Refill stock",
                "operationId": "refillStock",
                "parameters": [
                    {"type": "string", "description": "Item ID", "name": "item_id", "in": "path", "required": true},
                    {"description": "Units", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RefillRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.StockRecord"}}
                }
            }
        },
        "/dose-actions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Sync"],
                "summary": "Apply a dose action",
                "operationId": "applyAction",
                "parameters": [
                    {"type": "string", "description": "dose_id:action:unix_ms", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Action", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/domain.ActionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.ActionResult"}}
                }
            }
        },
        "/sync": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Sync"],
                "summary": "Replay queued actions",
                "operationId": "syncNow",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SyncResponse"}}
                }
            }
        },
        "/sync/pending": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sync"],
                "summary": "List unsynced actions",
                "description": "Records refused by the remote side are listed with rejected=true and retry_after, when they will be tried again.",
                "operationId": "pendingActions",
                "parameters": [
                    {"type": "integer", "description": "Max records (1..500)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.PendingActionsResponse"}}
                }
            }
        },
        "/delivery/reschedule": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Delivery"],
                "summary": "Run a delivery pass",
                "operationId": "reschedule",
                "parameters": [
                    {"type": "string", "description": "Look-ahead, e.g. 24h", "name": "horizon", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.WindowResult"}},
                    "403": {"description": "Notification permission denied", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/delivery/pending": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Delivery"],
                "summary": "Notifications waiting to fire",
                "operationId": "pendingNotifications",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.PendingNotificationsResponse"}}
                }
            }
        },
        "/push/registration": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Push"],
                "summary": "Register the device push token",
                "operationId": "registerPush",
                "parameters": [
                    {"description": "Registration", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.PushRegistrationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.PushRegistration"}},
                    "202": {"description": "Stored, delivery pending", "schema": {"$ref": "#/definitions/domain.PushRegistration"}}
                }
            }
        },
        "/notification-profiles": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Profiles"],
                "summary": "List notification profiles",
                "operationId": "listProfiles",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/notification-profiles/{type}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Profiles"],
                "summary": "Read a notification profile",
                "operationId": "getProfile",
                "parameters": [
                    {"type": "string", "description": "gentle, standard or critical", "name": "type", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Unknown type"}}
            }
        },
        "/classify": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Profiles"],
                "summary": "Preview the profile of a reminder",
                "operationId": "classify",
                "parameters": [
                    {"type": "string", "description": "RFC3339 due time", "name": "due_at", "in": "query", "required": true},
                    {"type": "string", "name": "category", "in": "query"},
                    {"type": "string", "name": "notes", "in": "query"},
                    {"type": "string", "name": "type", "in": "query"},
                    {"type": "string", "name": "name", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ClassifyResponse"}}}
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string"},
                "message": {"type": "string"},
                "previous_taken_at": {"type": "string", "format": "date-time"}
            }
        },
        "handlers.ConfirmDoseRequest": {
            "type": "object",
            "properties": {
                "force": {"type": "boolean", "example": false},
                "taken_at": {"type": "string", "format": "date-time"}
            }
        },
        "handlers.SnoozeDoseRequest": {
            "type": "object",
            "required": ["minutes"],
            "properties": {"minutes": {"type": "integer", "example": 15}}
        },
        "handlers.QuietHoursRequest": {
            "type": "object",
            "required": ["enabled", "start", "end"],
            "properties": {
                "enabled": {"type": "boolean"},
                "start": {"type": "string", "example": "22:00"},
                "end": {"type": "string", "example": "07:00"}
            }
        },
        "handlers.QuietHoursResponse": {
            "type": "object",
            "properties": {
                "enabled": {"type": "boolean"},
                "start": {"type": "string"},
                "end": {"type": "string"},
                "overnight": {"type": "boolean"}
            }
        },
        "handlers.RefillRequest": {
            "type": "object",
            "required": ["units"],
            "properties": {"units": {"type": "integer", "example": 30}}
        },
        "handlers.PushRegistrationRequest": {
            "type": "object",
            "required": ["token"],
            "properties": {
                "token": {"type": "string"},
                "enabled": {"type": "boolean"}
            }
        },
        "handlers.SyncResponse": {
            "type": "object",
            "properties": {
                "report": {"type": "object"},
                "error": {"type": "string"}
            }
        },
        "handlers.PendingActionsResponse": {
            "type": "object",
            "properties": {
                "actions": {"type": "array", "items": {"type": "object"}},
                "total": {"type": "integer"},
                "rejected": {"type": "integer"}
            }
        },
        "handlers.DoseEventsResponse": {
            "type": "object",
            "properties": {
                "dose_id": {"type": "string"},
                "events": {"type": "array", "items": {"type": "object"}}
            }
        },
        "handlers.PendingNotificationsResponse": {
            "type": "object",
            "properties": {
                "notifications": {"type": "array", "items": {"type": "object"}},
                "total": {"type": "integer"}
            }
        },
        "handlers.ClassifyResponse": {
            "type": "object",
            "properties": {
                "due_at": {"type": "string", "format": "date-time"},
                "profile": {"type": "object"},
                "title": {"type": "string"}
            }
        },
        "domain.ActionRequest": {
            "type": "object",
            "required": ["dose_id", "action", "timestamp"],
            "properties": {
                "dose_id": {"type": "string"},
                "action": {"type": "string", "enum": ["taken", "snooze", "skip"]},
                "minutes": {"type": "integer"},
                "timestamp": {"type": "string", "format": "date-time"}
            }
        },
        "domain.DoseInstance": {"type": "object"},
        "domain.StockRecord": {
            "type": "object",
            "properties": {
                "item_id": {"type": "string"},
                "units_left": {"type": "integer"},
                "units_total": {"type": "integer"},
                "last_refill_at": {"type": "string", "format": "date-time"}
            }
        },
        "domain.PushRegistration": {"type": "object"},
        "services.TodayView": {"type": "object"},
        "services.ActionResult": {
            "type": "object",
            "properties": {
                "dose": {"$ref": "#/definitions/domain.DoseInstance"},
                "replayed": {"type": "boolean"}
            }
        },
        "services.WindowResult": {"type": "object"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "dosed API",
	Description:      "Dose lifecycle and notification delivery engine.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
