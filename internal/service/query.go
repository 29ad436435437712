package service

import "net/url"

// parseQueryString parses a raw "a=1&b=2" query string (as carried in an
// If-None-Exist header or a Bundle.entry.request.url query) into the
// map[string][]string shape internal/searchengine.Engine.Compile expects.
func parseQueryString(raw string) (map[string][]string, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, err
	}
	return map[string][]string(values), nil
}
