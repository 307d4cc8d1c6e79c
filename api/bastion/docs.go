// Package bastion holds the OpenAPI document served under /swagger/.
// Regenerate it with: swag init -g internal/auth/http/router.go -o api/bastion
package bastion

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "AussieBroadWAN Team",
            "url": "https://github.com/aussiebroadwan/bastion"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/oauth/token": {
            "post": {
                "security": [{"ClientBasic": []}],
                "description": "Issues an access token for the authorization_code, client_credentials, password or refresh_token grant. The client authenticates with HTTP Basic or client_id and client_secret form fields.",
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "Token endpoint",
                "parameters": [
                    {"type": "string", "description": "Grant type", "name": "grant_type", "in": "formData", "required": true},
                    {"type": "string", "description": "Space delimited scopes", "name": "scope", "in": "formData"},
                    {"type": "string", "description": "Authorization code", "name": "code", "in": "formData"},
                    {"type": "string", "description": "Redirect URI used to obtain the code", "name": "redirect_uri", "in": "formData"},
                    {"type": "string", "description": "PKCE code verifier", "name": "code_verifier", "in": "formData"},
                    {"type": "string", "description": "Refresh token", "name": "refresh_token", "in": "formData"},
                    {"type": "string", "description": "Resource owner username", "name": "username", "in": "formData"},
                    {"type": "string", "description": "Resource owner password", "name": "password", "in": "formData"},
                    {"type": "string", "description": "One-time code", "name": "otp", "in": "formData"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.TokenResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/oauth/check_token": {
            "post": {
                "security": [{"ClientBasic": []}],
                "description": "Resolves an access token. Unknown or expired tokens report active=false.",
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "Check token",
                "parameters": [
                    {"type": "string", "description": "Access token", "name": "token", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.CheckTokenResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/oauth/revoke": {
            "post": {
                "security": [{"ClientBasic": []}],
                "description": "Revokes an access or refresh token issued to the calling client. Always answers 200.",
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "Revoke token",
                "parameters": [
                    {"type": "string", "description": "Token to revoke", "name": "token", "in": "formData", "required": true},
                    {"type": "string", "description": "access_token or refresh_token", "name": "token_type_hint", "in": "formData"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/oauth/authorize": {
            "get": {
                "description": "Redirects the signed-in user back to the client with an authorization code or, for response_type=token, an access token in the fragment.",
                "tags": ["OAuth2"],
                "summary": "Authorization endpoint",
                "parameters": [
                    {"type": "string", "description": "code or token", "name": "response_type", "in": "query", "required": true},
                    {"type": "string", "description": "Client ID", "name": "client_id", "in": "query", "required": true},
                    {"type": "string", "description": "Registered redirect URI", "name": "redirect_uri", "in": "query"},
                    {"type": "string", "description": "Space delimited scopes", "name": "scope", "in": "query"},
                    {"type": "string", "description": "Opaque client state", "name": "state", "in": "query"},
                    {"type": "string", "description": "PKCE challenge", "name": "code_challenge", "in": "query"},
                    {"type": "string", "description": "plain or S256", "name": "code_challenge_method", "in": "query"}
                ],
                "responses": {
                    "302": {"description": "Redirect to the client or to /signin"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/.well-known/jwks.json": {
            "get": {
                "description": "Public signing keys. Only served when access tokens are JWTs.",
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "JSON Web Key Set",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.JWKSResponse"}}
                }
            }
        },
        "/": {
            "get": {
                "produces": ["text/html"],
                "tags": ["Web"],
                "summary": "Home page",
                "responses": {"200": {"description": "HTML page", "schema": {"type": "string"}}}
            }
        },
        "/signin": {
            "get": {
                "description": "Fixed HTML form posting to /signin/authenticate.",
                "produces": ["text/html"],
                "tags": ["Web"],
                "summary": "Sign-in page",
                "responses": {"200": {"description": "HTML form", "schema": {"type": "string"}}}
            }
        },
        "/signup": {
            "get": {
                "produces": ["text/html"],
                "tags": ["Web"],
                "summary": "Sign-up page",
                "responses": {"200": {"description": "HTML form", "schema": {"type": "string"}}}
            },
            "post": {
                "description": "Creates a user and redirects to the sign-in page, or back to the form with an error.",
                "consumes": ["application/x-www-form-urlencoded"],
                "tags": ["Web"],
                "summary": "Create an account",
                "parameters": [
                    {"type": "string", "description": "Username", "name": "username", "in": "formData", "required": true},
                    {"type": "string", "description": "Password", "name": "password", "in": "formData", "required": true}
                ],
                "responses": {"302": {"description": "Redirect to /signin or /signup", "schema": {"type": "string"}}}
            }
        },
        "/api/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns the principal, client, authorities and scopes behind the bearer token.",
                "produces": ["application/json"],
                "tags": ["Resources"],
                "summary": "Current principal",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.MeResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/api/clients": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns all registered clients. Secrets are never returned.",
                "produces": ["application/json"],
                "tags": ["Clients"],
                "summary": "List OAuth2 Clients",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.ListClientsResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Registers a client. Confidential clients get a generated secret which is only returned here.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Clients"],
                "summary": "Create OAuth2 Client",
                "parameters": [
                    {"description": "Client registration", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/authsdk.CreateClientRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/authsdk.CreateClientResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/api/clients/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "description": "Deletes a client and every token issued to it. Protected clients cannot be deleted.",
                "produces": ["application/json"],
                "tags": ["Clients"],
                "summary": "Delete OAuth2 Client",
                "parameters": [
                    {"type": "string", "description": "Client ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "Client deleted"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/v1/bootstrap": {
            "post": {
                "description": "Creates the first administrator (ROLE_ADMIN) and a protected OAuth2 client. Only available when a bootstrap token is configured, and only once.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Bootstrap"],
                "summary": "Bootstrap the authorization server",
                "parameters": [
                    {"type": "string", "description": "Bootstrap token for authorization", "name": "X-Bootstrap-Token", "in": "header", "required": true},
                    {"description": "Bootstrap configuration", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/authsdk.BootstrapRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created admin user and client", "schema": {"$ref": "#/definitions/authsdk.BootstrapResponse"}},
                    "400": {"description": "Invalid request body or validation failed", "schema": {"$ref": "#/definitions/authsdk.ValidationErrorResponse"}},
                    "401": {"description": "Missing or invalid bootstrap token, or system already bootstrapped", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "404": {"description": "Bootstrap not enabled (no token configured)", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/livez": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Liveness probe",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.HealthResponse"}}}
            }
        },
        "/readyz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/authsdk.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/authsdk.HealthResponse"}}
                }
            }
        }
    },
    "definitions": {
        "authsdk.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "error_description": {"type": "string"}
            }
        },
        "authsdk.ValidationErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "authsdk.TokenResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "token_type": {"type": "string"},
                "expires_in": {"type": "integer"},
                "refresh_token": {"type": "string"},
                "scope": {"type": "string"}
            }
        },
        "authsdk.CheckTokenResponse": {
            "type": "object",
            "properties": {
                "active": {"type": "boolean"},
                "client_id": {"type": "string"},
                "user_name": {"type": "string"},
                "scope": {"type": "string"},
                "authorities": {"type": "array", "items": {"type": "string"}},
                "aud": {"type": "array", "items": {"type": "string"}},
                "grant_type": {"type": "string"},
                "exp": {"type": "integer"}
            }
        },
        "authsdk.BootstrapRequest": {
            "type": "object",
            "properties": {
                "admin_username": {"type": "string"},
                "admin_password": {"type": "string"},
                "client_id": {"type": "string"},
                "client_scopes": {"type": "array", "items": {"type": "string"}},
                "redirect_uris": {"type": "array", "items": {"type": "string"}}
            }
        },
        "authsdk.BootstrapResponse": {
            "type": "object",
            "properties": {
                "admin_user_id": {"type": "string"},
                "client_id": {"type": "string"},
                "client_secret": {"type": "string"}
            }
        },
        "authsdk.MeResponse": {
            "type": "object",
            "properties": {
                "principal": {"type": "string"},
                "client_id": {"type": "string"},
                "authorities": {"type": "array", "items": {"type": "string"}},
                "scope": {"type": "array", "items": {"type": "string"}}
            }
        },
        "authsdk.CreateClientRequest": {
            "type": "object",
            "properties": {
                "client_id": {"type": "string"},
                "name": {"type": "string"},
                "public": {"type": "boolean"},
                "scopes": {"type": "array", "items": {"type": "string"}},
                "grant_types": {"type": "array", "items": {"type": "string"}},
                "redirect_uris": {"type": "array", "items": {"type": "string"}},
                "authorities": {"type": "array", "items": {"type": "string"}},
                "resource_ids": {"type": "array", "items": {"type": "string"}},
                "access_token_ttl_sec": {"type": "integer"},
                "refresh_token_ttl_sec": {"type": "integer"}
            }
        },
        "authsdk.CreateClientResponse": {
            "type": "object",
            "properties": {
                "client_id": {"type": "string"},
                "client_secret": {"type": "string"}
            }
        },
        "authsdk.ClientInfo": {
            "type": "object",
            "properties": {
                "client_id": {"type": "string"},
                "name": {"type": "string"},
                "public": {"type": "boolean"},
                "scopes": {"type": "array", "items": {"type": "string"}},
                "grant_types": {"type": "array", "items": {"type": "string"}},
                "redirect_uris": {"type": "array", "items": {"type": "string"}},
                "authorities": {"type": "array", "items": {"type": "string"}},
                "resource_ids": {"type": "array", "items": {"type": "string"}},
                "protected": {"type": "boolean"},
                "created_at": {"type": "integer"}
            }
        },
        "authsdk.ListClientsResponse": {
            "type": "object",
            "properties": {
                "clients": {"type": "array", "items": {"$ref": "#/definitions/authsdk.ClientInfo"}}
            }
        },
        "authsdk.HealthChecks": {
            "type": "object",
            "properties": {
                "store": {"type": "string"},
                "token_store": {"type": "string"},
                "signer": {"type": "string"}
            }
        },
        "authsdk.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "uptime": {"type": "string"},
                "version": {"type": "string"},
                "checks": {"$ref": "#/definitions/authsdk.HealthChecks"}
            }
        },
        "authsdk.JWKSResponse": {
            "type": "object",
            "properties": {
                "keys": {"type": "array", "items": {"type": "object"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Access token. Format: \"Bearer {token}\".",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        },
        "ClientBasic": {
            "type": "basic"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Bastion Authorization Server API",
	Description:      "OAuth2 authorization server protected by a configurable security filter chain.\n\nAccess tokens are opaque by default and resolvable through /oauth/check_token.\nWith BASTION_ACCESS_TOKEN_FORMAT=jwt they are EdDSA signed and verifiable against the JWKS endpoint.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
