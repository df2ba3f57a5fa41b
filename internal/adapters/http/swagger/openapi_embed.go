package swagger

import (
	"embed"
)

// OpenAPI contains the embedded OpenAPI YAML specification.
//
//go:embed openapi.yaml
var OpenAPI []byte

//go:embed all:static
var static embed.FS

const (
	redocAsset = "static/redoc.standalone.js"
	redocCDN   = "https://cdn.redoc.ly/redoc/v2.1.5/bundles/redoc.standalone.js"
)

// RedocJS is the embedded ReDoc bundle; empty when the build carries none.
var RedocJS = readOptional(redocAsset)

func readOptional(name string) []byte {
	b, err := static.ReadFile(name)
	if err != nil {
		return nil
	}
	return b
}
