// Package docs registers the OpenAPI document served at /openapi.json.
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
        "/api/analyze": {
            "post": {
                "description": "Analyze a plant photo sent as a data URI or bare base64 string",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Analysis"],
                "summary": "Diagnose a plant (JSON)",
                "parameters": [
                    {
                        "description": "Image payload",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/analyze.AnalyzeRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/diagnosis.Record"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/analyze.ErrorResponse"}},
                    "405": {"description": "Method Not Allowed", "schema": {"$ref": "#/definitions/analyze.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/analyze.ErrorResponse"}}
                }
            }
        },
        "/analyze": {
            "post": {
                "description": "Analyze a plant photo uploaded as the multipart field \"image\"",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["Analysis"],
                "summary": "Diagnose a plant (multipart)",
                "parameters": [
                    {
                        "type": "file",
                        "description": "Plant photo",
                        "name": "image",
                        "in": "formData",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/diagnosis.Record"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/analyze.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/analyze.ErrorResponse"}}
                }
            }
        },
        "/api/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["System"],
                "summary": "Service status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.APIResponse"}}
                }
            }
        }
    },
    "definitions": {
        "analyze.AnalyzeRequest": {
            "type": "object",
            "required": ["image"],
            "properties": {
                "image": {"type": "string", "example": "data:image/jpeg;base64,/9j/4AAQ..."}
            }
        },
        "analyze.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "details": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "diagnosis.CareInstructions": {
            "type": "object",
            "properties": {
                "light": {"type": "string"},
                "water": {"type": "string"},
                "environment": {"type": "string"},
                "temperature": {"type": "string"}
            }
        },
        "diagnosis.Diagnostics": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "description": {"type": "string"},
                "recommendations": {"type": "array", "items": {"type": "string"}}
            }
        },
        "diagnosis.Record": {
            "type": "object",
            "properties": {
                "plant_name": {"type": "string"},
                "is_healthy": {"type": "boolean"},
                "summary": {"type": "string"},
                "care_instructions": {"$ref": "#/definitions/diagnosis.CareInstructions"},
                "diagnostics": {"$ref": "#/definitions/diagnosis.Diagnostics"}
            }
        },
        "httptransport.APIResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "data": {},
                "message": {"type": "string"},
                "code": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Garden Doctor API",
	Description:      "Plant photo diagnosis service.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
