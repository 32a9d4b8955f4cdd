// Package docs provides generated OpenAPI documentation.
//
// labscan API
//
//	@title			labscan API
//	@version		1.0
//	@description	Lab report extraction service: upload an image or PDF and receive parameter/value/unit records.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/labscan
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/labscan/serve.go -o ./swagger --parseDependency --parseInternal
