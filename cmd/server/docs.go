// Package main Parley API
//
//	@title			Parley API
//	@version		1.0
//	@description	Chat backend with a realtime socket relay, presence and per-user send throttling
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	Parley Support
//	@contact.url	https://github.com/observer/parley
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT token (format: Bearer <token>)
//
//	@externalDocs.description	OpenAPI
//	@externalDocs.url			https://swagger.io/resources/open-api/
package main
