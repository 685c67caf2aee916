// Command beanbridge runs the HTTP management-bean bridge.
//
// beanbridge exposes the management beans of the hosting process over a
// firewall-friendly JSON/HTTP protocol: attribute reads and writes,
// operation invocation, bean search and metadata listing, plus agent
// version discovery.
//
// Install:
//
//	go install github.com/nuetzliches/beanbridge/cmd/beanbridge@latest
//
// Usage:
//
//	beanbridge run --config ./beanbridge.yaml
package main
