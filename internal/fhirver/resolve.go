// Package fhirver implements the VersionResolver (C4): a pure function
// that matches a request path against the server's two routing patterns
// and yields the FHIR version that applies, with no I/O of its own.
package fhirver

import (
	"errors"
	"strings"

	"github.com/fhir-core/server/internal/registry"
)

// ErrMalformedPath is returned when path does not match either routing
// pattern of spec §4.4.
var ErrMalformedPath = errors.New("fhirver: malformed FHIR path")

// Resolution is the outcome of resolving a request path.
type Resolution struct {
	Version      registry.Version
	Explicit     bool // true if the path named the version explicitly (/fhir/r5/...)
	ResourceType string
	TailPath     string // the remainder of the path after /fhir[/version]/ResourceType
}

var explicitPrefixes = map[string]registry.Version{
	"r4b": registry.R4B,
	"r5":  registry.R5,
}

// Resolve matches path against:
//   - /fhir/(r4b|r5)/(rest...)   -> explicit version
//   - /fhir/(<ResourceType>)(rest...) -> implicit; reg.DefaultVersion(ResourceType)
//
// Leading/trailing slashes are tolerated. reg is consulted only for the
// implicit-version case.
func Resolve(path string, reg *registry.Registry) (Resolution, error) {
	trimmed := strings.Trim(path, "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) < 2 || segments[0] != "fhir" {
		return Resolution{}, ErrMalformedPath
	}

	rest := segments[1:]
	if v, ok := explicitPrefixes[strings.ToLower(rest[0])]; ok {
		if len(rest) < 2 {
			return Resolution{}, ErrMalformedPath
		}
		return Resolution{
			Version:      v,
			Explicit:     true,
			ResourceType: rest[1],
			TailPath:     strings.Join(rest[2:], "/"),
		}, nil
	}

	resourceType := rest[0]
	v, err := reg.DefaultVersion(resourceType)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Version:      v,
		Explicit:     false,
		ResourceType: resourceType,
		TailPath:     strings.Join(rest[1:], "/"),
	}, nil
}
