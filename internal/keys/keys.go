// Package keys maps (namespace, identifier, params) to cache keys and back.
//
// Key format:
//
//	{namespace}:{identifier}               without params
//	{namespace}:{identifier}:{paramsHash}  with params
//
// '%' and ':' inside namespace and identifier are percent-escaped so that a
// key always splits back into its parts. paramsHash is the 16 hex digit
// xxhash64 of the params sorted by name and serialized as "k=v&k=v". The hash
// only shortens keys and must not be relied on for security.
package keys

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"goflare.io/pixcache/internal/models"
)

// Separator joins the parts of a key.
const Separator = ":"

var (
	escaper   = strings.NewReplacer("%", "%25", Separator, "%3A")
	unescaper = strings.NewReplacer("%3A", Separator, "%25", "%")
)

// Params are the optional key/value parameters of a cached resource,
// e.g. width, height, format and quality of a transcoded image.
type Params map[string]string

// Parsed is the diagnostic view of a key.
type Parsed struct {
	Namespace  string
	Identifier string
	ParamsHash string
}

// Generate builds the cache key for (namespace, identifier, params).
func Generate(namespace, identifier string, params Params) (string, error) {
	if namespace == "" {
		return "", models.ErrEmptyNamespace
	}
	if identifier == "" {
		return "", models.ErrEmptyIdentifier
	}

	key := escaper.Replace(namespace) + Separator + escaper.Replace(identifier)
	if len(params) == 0 {
		return key, nil
	}
	return key + Separator + Hash(SerializeParams(params)), nil
}

// Parse recovers the namespace and identifier of a key built by Generate.
func Parse(key string) (Parsed, error) {
	parts := strings.Split(key, Separator)
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Parsed{}, fmt.Errorf("%w: %q", models.ErrInvalidKey, key)
	}

	parsed := Parsed{
		Namespace:  unescaper.Replace(parts[0]),
		Identifier: unescaper.Replace(parts[1]),
	}
	if len(parts) == 3 {
		parsed.ParamsHash = parts[2]
	}
	return parsed, nil
}

// SerializeParams renders params in a stable, sorted order.
func SerializeParams(params Params) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}
	return b.String()
}

// Hash is the non-cryptographic hash used to shorten keys and file names.
func Hash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// ImageParams builds Params for a transcode request. Zero values are omitted.
func ImageParams(width, height int, format string, quality int) Params {
	p := Params{}
	if width > 0 {
		p["w"] = strconv.Itoa(width)
	}
	if height > 0 {
		p["h"] = strconv.Itoa(height)
	}
	if format != "" {
		p["f"] = format
	}
	if quality > 0 {
		p["q"] = strconv.Itoa(quality)
	}
	return p
}
