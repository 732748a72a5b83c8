// Package testutil provides helpers shared by the package tests.
//
// StartNATS runs a real JetStream server in a container through
// testcontainers-go; integration tests call it behind the integration build
// tag:
//
//	//go:build integration
//
//	func TestIntegration_Flow(t *testing.T) {
//		url := testutil.StartNATS(t)
//		client, err := natsclient.NewClient(url)
//		...
//	}
//
// The request builders produce collector requests in each transport, and
// the Sample constants hold equivalent payloads for them.
package testutil
