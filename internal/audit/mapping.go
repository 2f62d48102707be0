package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// Route overrides: responses are audited as "respond" on the alert they answer.
var routeOverrides = map[string]ActionResource{
	"POST /v1/alerts/:id/responses": {Action: "respond", Resource: "alert"},
}

// ParseRoute returns action and resource for an HTTP method and route template
// (e.g. POST /v1/checkins/:id/confirm -> confirm, checkin).
// The resource is the singular of the first path segment after the version prefix. The action is the
// trailing verb segment when present, otherwise derived from the method.
func ParseRoute(method, route string) ActionResource {
	if ar, ok := routeOverrides[method+" "+route]; ok {
		return ar
	}
	segments := strings.Split(strings.Trim(route, "/"), "/")
	if len(segments) > 0 && isVersion(segments[0]) {
		segments = segments[1:]
	}
	if len(segments) == 0 || segments[0] == "" {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	resource := singular(segments[0])
	last := segments[len(segments)-1]
	if len(segments) > 2 && !strings.HasPrefix(last, ":") {
		return ActionResource{Action: strings.ReplaceAll(last, "-", "_"), Resource: resource}
	}
	return ActionResource{Action: methodToAction(method, len(segments) > 1), Resource: resource}
}

func isVersion(s string) bool {
	return len(s) > 1 && s[0] == 'v' && strings.Trim(s[1:], "0123456789") == ""
}

func singular(segment string) string {
	s := strings.ReplaceAll(segment, "-", "_")
	return strings.TrimSuffix(s, "s")
}

func methodToAction(method string, hasID bool) string {
	switch method {
	case "GET":
		if hasID {
			return "get"
		}
		return "list"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
