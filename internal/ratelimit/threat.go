package ratelimit

import (
	"net/http"
	"strings"
)

// Curated substrings seen in injection and traversal probes. Matched against
// the lower-cased path and raw query.
var attackSubstrings = []string{
	"../",
	"..\\",
	"<script",
	"javascript:",
	"union select",
	"union+select",
	"union%20select",
	"/etc/passwd",
	"cmd.exe",
	"eval(",
	"base64_decode",
	"xp_cmdshell",
	"sleep(",
	"benchmark(",
	"information_schema",
	"%3cscript",
	"onerror=",
	"${jndi:",
}

// Known scanner user-agent fragments.
var scannerUserAgents = []string{
	"sqlmap",
	"nikto",
	"nmap",
	"masscan",
	"dirbuster",
	"gobuster",
	"wpscan",
	"acunetix",
	"nessus",
	"zgrab",
}

const maxURLLength = 2048

// SuspicionReason is why a request tripped the heuristics; empty means clean.
type SuspicionReason string

const (
	SuspicionNone      SuspicionReason = ""
	SuspicionPayload   SuspicionReason = "attack_payload"
	SuspicionLongURL   SuspicionReason = "url_too_long"
	SuspicionScannerUA SuspicionReason = "scanner_user_agent"
)

// Inspect applies the abuse heuristics to a request.
func Inspect(r *http.Request) SuspicionReason {
	if len(r.URL.String()) > maxURLLength {
		return SuspicionLongURL
	}

	probe := strings.ToLower(r.URL.Path + "?" + r.URL.RawQuery)
	for _, sig := range attackSubstrings {
		if strings.Contains(probe, sig) {
			return SuspicionPayload
		}
	}

	ua := strings.ToLower(r.UserAgent())
	for _, sig := range scannerUserAgents {
		if strings.Contains(ua, sig) {
			return SuspicionScannerUA
		}
	}

	return SuspicionNone
}
