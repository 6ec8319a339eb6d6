// Package protocol defines the wire contract spoken with the Allow2 platform:
// environments and hosts, endpoint paths, activity ids and JSON payloads.
// It is importable by embedding applications that want to build requests themselves.
package protocol

import (
	"fmt"
	"net/url"
	"strings"
)

// Environment selects which pair of hosts the device talks to.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvStaging    Environment = "staging"
)

// Endpoint paths. API paths are relative to APIURL, the check path to ServiceURL.
const (
	PathPairDevice     = "/api/pairDevice"
	PathCheckPairing   = "/api/checkPairing"
	PathIsDevicePaired = "/api/isDevicePaired"
	PathRequest        = "/api/request"
	PathCheck          = "/serviceapi/check"
	PathGenQR          = "/genqr"
)

// ParseEnvironment accepts "production"/"prod" and "staging" (case-insensitive).
// An empty string selects production.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "production", "prod":
		return EnvProduction, nil
	case "staging":
		return EnvStaging, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// APIURL returns the API host for the environment.
func (e Environment) APIURL() string {
	if e == EnvStaging {
		return "https://staging-api.allow2.com"
	}
	return "https://api.allow2.com"
}

// ServiceURL returns the check-service host for the environment.
func (e Environment) ServiceURL() string {
	if e == EnvStaging {
		return "https://staging-service.allow2.com"
	}
	return "https://service.allow2.com"
}

// QRPath builds the genqr path for a device. Each segment is path-escaped.
func QRPath(deviceToken, uuid, name string) string {
	return PathGenQR + "/" + url.PathEscape(deviceToken) + "/" + url.PathEscape(uuid) + "/" + url.PathEscape(name)
}
