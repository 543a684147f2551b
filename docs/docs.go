// Package docs holds the OpenAPI document served under /swagger.
// Regenerate with: swag init -g cmd/main.go
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
        "/api/matches/{matchID}/score": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Stores the score and advances the winner. Equal scores are kept as a tie awaiting a tie-break.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["brackets"],
                "summary": "Record a match result",
                "parameters": [
                    {"type": "integer", "description": "Match ID", "name": "matchID", "in": "path", "required": true},
                    {"description": "Scores of both slots", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SubmitScoreInput"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.ScoreResult"}},
                    "400": {"description": "Invalid score"},
                    "401": {"description": "Unauthorized"},
                    "403": {"description": "Forbidden"},
                    "404": {"description": "Match not found"},
                    "409": {"description": "Match not ready, concurrent write or inconsistent bracket"},
                    "503": {"description": "Match store unavailable"}
                }
            }
        },
        "/api/sports/{sportID}/bracket": {
            "get": {
                "description": "Returns rounds, standings and status. Inconsistent bracket data is reported with status \"structural_error\".",
                "produces": ["application/json"],
                "tags": ["brackets"],
                "summary": "Bracket snapshot of a sport",
                "parameters": [
                    {"type": "integer", "description": "Sport ID", "name": "sportID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.Snapshot"}},
                    "400": {"description": "Invalid sport ID"},
                    "503": {"description": "Match store unavailable"}
                }
            }
        },
        "/api/sports/{sportID}/bracket/reconcile": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Rewrites every downstream slot from its parent's result and clears scores that no longer apply.",
                "produces": ["application/json"],
                "tags": ["brackets"],
                "summary": "Repair propagated slots",
                "parameters": [
                    {"type": "integer", "description": "Sport ID", "name": "sportID", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.ScoreResult"}},
                    "400": {"description": "Invalid sport ID"},
                    "401": {"description": "Unauthorized"},
                    "403": {"description": "Forbidden"},
                    "409": {"description": "Inconsistent bracket or concurrent write"},
                    "503": {"description": "Match store unavailable"}
                }
            }
        },
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Liveness check",
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "handlers.SubmitScoreInput": {
            "type": "object",
            "properties": {
                "team1_score": {"type": "integer"},
                "team2_score": {"type": "integer"}
            }
        },
        "services.ScoreResult": {
            "type": "object",
            "properties": {
                "sport_id": {"type": "integer"},
                "match_id": {"type": "integer"},
                "outcome": {"type": "string"},
                "winner_team_id": {"type": "integer"},
                "affected_matches": {"type": "array", "items": {"type": "integer"}},
                "message": {"type": "string"}
            }
        },
        "services.Snapshot": {
            "type": "object",
            "properties": {
                "sport_id": {"type": "integer"},
                "status": {"type": "string"},
                "message": {"type": "string"},
                "rounds": {"type": "array", "items": {"type": "object"}},
                "third_place": {"type": "object"},
                "issues": {"type": "array", "items": {"type": "object"}},
                "standings": {"type": "object"},
                "stale": {"type": "boolean"},
                "sequence": {"type": "integer"},
                "generated_at": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "League Portal Bracket API",
	Description:      "Single-elimination brackets, score entry and live bracket updates.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
