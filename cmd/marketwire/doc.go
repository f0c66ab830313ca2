// Command marketwire sends one request through the pooled transport and
// prints a JSON summary of the response.
//
// Usage:
//
//	marketwire [flags] URL
//
// Flags:
//
//	-X string            HTTP method (default GET)
//	-H "Name: value"     request header, repeatable
//	-d string            request body
//	-data-file path      send a file as the request body
//	-content-type type   body content type
//	-config path         YAML or TOML config file; the environment is used otherwise
//	-admin addr          keep the admin listener up on addr until interrupted
//	-body=false          omit the decoded body from the output
//
// Failures exit non-zero with the error kind, for example:
//
//	marketwire: redirect_blocked: redirect robots: redirect blocked (https://shop.example.com/private)
package main
