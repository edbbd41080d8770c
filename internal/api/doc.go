// Package api provides the REST API server exposing the memory engine
// over HTTP for agents and tooling.
package api
