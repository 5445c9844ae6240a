package demand

import (
	"strings"
)

// Matcher decides whether a demand signal concerns the workload's hostname.
// Comparison ignores case and a trailing dot.
type Matcher struct {
	host string
}

// NewMatcher creates a matcher for hostname. An empty hostname matches
// every signal.
func NewMatcher(hostname string) *Matcher {
	return &Matcher{host: normalize(hostname)}
}

// Hostname returns the normalized hostname
func (m *Matcher) Hostname() string {
	return m.host
}

// MatchName reports whether a queried DNS name is the hostname
func (m *Matcher) MatchName(name string) bool {
	if m.host == "" {
		return true
	}
	return normalize(name) == m.host
}

// MatchLine reports whether a log line refers to the hostname. Route 53
// query log lines are matched on their query-name field; anything else
// falls back to searching for the hostname as a whole name.
func (m *Matcher) MatchLine(line string) bool {
	if m.host == "" {
		return true
	}
	if entry, ok := ParseQueryLogLine(line); ok {
		return m.MatchName(entry.QueryName)
	}
	return containsName(strings.ToLower(line), m.host)
}

// containsName finds host in text where it is neither preceded nor
// followed by another label
func containsName(text, host string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], host)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(host)
		if (i == 0 || !isNameChar(text[i-1])) && !continuesName(text[end:]) {
			return true
		}
		start = i + 1
	}
}

// continuesName reports whether rest starts another label of the same
// name. A lone trailing dot ends the name.
func continuesName(rest string) bool {
	if rest == "" {
		return false
	}
	if rest[0] == '.' {
		return len(rest) > 1 && isNameChar(rest[1]) && rest[1] != '.'
	}
	return isNameChar(rest[0])
}

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.'
}

func normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// QueryLogEntry is one line of a Route 53 public DNS query log:
//
//	1.0 2017-12-13T08:15:50.235Z Z123412341234 example.com A NOERROR UDP Region 192.168.1.1 -
type QueryLogEntry struct {
	Version      string
	Timestamp    string
	HostedZoneID string
	QueryName    string
	QueryType    string
	ResponseCode string
	Protocol     string
	EdgeLocation string
	ResolverIP   string
	ClientSubnet string
}

// ParseQueryLogLine parses a Route 53 query log line
func ParseQueryLogLine(line string) (QueryLogEntry, bool) {
	f := strings.Fields(line)
	if len(f) < 9 || f[0] != "1.0" {
		return QueryLogEntry{}, false
	}
	e := QueryLogEntry{
		Version:      f[0],
		Timestamp:    f[1],
		HostedZoneID: f[2],
		QueryName:    f[3],
		QueryType:    f[4],
		ResponseCode: f[5],
		Protocol:     f[6],
		EdgeLocation: f[7],
		ResolverIP:   f[8],
	}
	if len(f) > 9 {
		e.ClientSubnet = f[9]
	}
	return e, true
}
