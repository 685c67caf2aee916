/*
Package beanbridge documents the beanbridge module.

This module is CLI-first and ships the beanbridge command:

	go install github.com/nuetzliches/beanbridge/cmd/beanbridge@latest

beanbridge exposes the management beans of a running process over a
firewall-friendly JSON/HTTP protocol: clients read and write bean
attributes, invoke operations, search and list registered beans, and query
agent version information without a native management connection.

Most implementation packages in this repository are internal and are not a
stable public Go API.
*/
package beanbridge
