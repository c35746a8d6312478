// Package params handles {{ mustache }} parameters embedded in query text.
package params

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// RequestPrefix marks parameter values passed as request arguments (p_name=value)
const RequestPrefix = "p_"

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// MissingParametersError lists parameters the query needs but the request did not supply
type MissingParametersError struct {
	Names []string
}

func (e *MissingParametersError) Error() string {
	return fmt.Sprintf("Missing parameter value for: %s", strings.Join(e.Names, ", "))
}

// Find returns the parameter names used in text, in order of first appearance
func Find(text string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// FromValues collects p_-prefixed request arguments into a name -> value map
func FromValues(values url.Values) map[string]string {
	out := make(map[string]string)
	for key, vals := range values {
		if !strings.HasPrefix(key, RequestPrefix) || len(vals) == 0 {
			continue
		}
		name := strings.TrimPrefix(key, RequestPrefix)
		if name == "" {
			continue
		}
		out[name] = vals[0]
	}
	return out
}

// Missing reports which parameters of text have no value
func Missing(text string, values map[string]string) []string {
	var missing []string
	for _, name := range Find(text) {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Apply renders text with the given values. It fails with a
// *MissingParametersError when any parameter has no value.
func Apply(text string, values map[string]string) (string, error) {
	if missing := Missing(text, values); len(missing) > 0 {
		sort.Strings(missing)
		return "", &MissingParametersError{Names: missing}
	}
	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		return values[name]
	}), nil
}
