package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           nexd API
// @version         1.0
// @description     HTTP API for hybrid local/cloud model routing and inference.
//
// @contact.name   nexd maintainers
// @contact.url    https://github.com/your-org/nexd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
