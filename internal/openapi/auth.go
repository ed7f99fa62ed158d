package openapi

import (
	"sort"
	"strings"
)

// detectAuth picks the integration's auth placement from the document's
// security schemes. Priority: bearer > apiKey-header > apiKey-query > basic.
// Schemes named by the document-level security requirements are considered
// first, then the remaining declared schemes in name order so the result is
// stable across runs. OAuth2 and OpenID Connect degrade to bearer: the vault
// holds an access token, not a refresh flow.
func detectAuth(schemes map[string]rawSecurityScheme, requirements []map[string][]string) AuthSpec {
	var ordered []string
	seen := make(map[string]bool)
	for _, req := range requirements {
		names := make([]string, 0, len(req))
		for name := range req {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, ok := schemes[name]; ok && !seen[name] {
				seen[name] = true
				ordered = append(ordered, name)
			}
		}
	}
	rest := make([]string, 0, len(schemes))
	for name := range schemes {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	best := AuthSpec{Scheme: AuthNone}
	for _, name := range ordered {
		candidate := authFromScheme(schemes[name])
		if authPriority(candidate.Scheme) < authPriority(best.Scheme) {
			best = candidate
		}
	}
	return best
}

func authFromScheme(s rawSecurityScheme) AuthSpec {
	switch strings.ToLower(s.Type) {
	case "http":
		switch strings.ToLower(s.Scheme) {
		case "basic":
			return AuthSpec{Scheme: AuthBasic}
		default:
			// bearer and unknown http schemes both carry a bearer token.
			return AuthSpec{Scheme: AuthBearer}
		}
	case "apikey":
		switch strings.ToLower(s.In) {
		case "query":
			return AuthSpec{Scheme: AuthAPIKeyQuery, QueryName: s.Name}
		case "header":
			return AuthSpec{Scheme: AuthAPIKeyHeader, HeaderName: s.Name}
		default:
			// Cookie placement is not dispatchable.
			return AuthSpec{Scheme: AuthNone}
		}
	case "oauth2", "openidconnect":
		return AuthSpec{Scheme: AuthBearer}
	default:
		return AuthSpec{Scheme: AuthNone}
	}
}

func authPriority(s AuthScheme) int {
	switch s {
	case AuthBearer:
		return 0
	case AuthAPIKeyHeader:
		return 1
	case AuthAPIKeyQuery:
		return 2
	case AuthBasic:
		return 3
	default:
		return 4
	}
}
