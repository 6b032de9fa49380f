// Generic helpers.

package main

import (
	"net"
	"net/http"
	"strings"
)

// isRoutableIP checks if the address is a public IP address.
func isRoutableIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	return !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsUnspecified() &&
		!ip.IsLinkLocalUnicast() && !ip.IsLinkLocalMulticast()
}

// getRemoteAddr returns the client's address. X-Forwarded-For is trusted only when
// enabled in the config and only if it holds a routable IP.
func getRemoteAddr(req *http.Request) string {
	if globals.useXForwardedFor {
		// The left-most address is the original client.
		addr := strings.TrimSpace(strings.Split(req.Header.Get("X-Forwarded-For"), ",")[0])
		if isRoutableIP(addr) {
			return addr
		}
	}
	return req.RemoteAddr
}
