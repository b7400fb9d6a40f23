// Package driveurl parses Google Drive share links into canonical
// resource references.
package driveurl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Kind distinguishes file and folder references.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "file"
}

// DefaultHost is the host accepted when the parser is constructed with
// an empty host.
const DefaultHost = "drive.google.com"

// Drive identifiers are opaque but have a fixed character class and a
// practical length range.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{10,44}$`)

var (
	filePathPattern   = regexp.MustCompile(`^/file/d/([A-Za-z0-9_-]+)/view$`)
	folderPathPattern = regexp.MustCompile(`^/(?:drive/)?folders/([A-Za-z0-9_-]+)$`)
)

// ValidID reports whether s has the shape of a Drive identifier.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// Ref is a canonical reference to a remote file or folder. Immutable
// once parsed: a File and a Folder built from the same id are distinct
// entities until upstream confirms the kind.
type Ref struct {
	Kind     Kind
	ID       string
	Original string
}

// Parser validates and parses share links for one exact host.
type Parser struct {
	host string
}

// NewParser creates a parser for the given host. Matching is exact: a
// subdomain of the host is rejected.
func NewParser(host string) *Parser {
	if host == "" {
		host = DefaultHost
	}
	return &Parser{host: host}
}

// Parse turns a raw locator into a canonical reference, or nil when the
// locator does not match one of the accepted shapes:
//
//	https://{host}/file/d/{id}/view[?...]
//	https://{host}/open?id={id}[&...]
//	https://{host}/drive/folders/{id}[?...]  (also /folders/{id})
//
// There are no partial matches: wrong host, wrong scheme, malformed
// path or an out-of-range id all yield nil.
func (p *Parser) Parse(locator string) *Ref {
	raw := strings.TrimSpace(locator)
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	// Full-host comparison, so a port-qualified locator never matches.
	if strings.ToLower(u.Host) != p.host {
		return nil
	}

	if m := filePathPattern.FindStringSubmatch(u.Path); m != nil {
		return makeRef(KindFile, m[1], raw)
	}
	if u.Path == "/open" {
		return makeRef(KindFile, u.Query().Get("id"), raw)
	}
	if m := folderPathPattern.FindStringSubmatch(u.Path); m != nil {
		return makeRef(KindFolder, m[1], raw)
	}
	return nil
}

func makeRef(kind Kind, id, original string) *Ref {
	if !idPattern.MatchString(id) {
		return nil
	}
	return &Ref{Kind: kind, ID: id, Original: original}
}

// IsValid reports whether the locator parses. It is definitionally
// Parse(locator) != nil; there is no separate validation path.
func (p *Parser) IsValid(locator string) bool {
	return p.Parse(locator) != nil
}

// Reconstruct emits the canonical locator for a reference, regardless
// of which accepted shape originally produced it. The result re-parses
// to the same kind and id.
func (p *Parser) Reconstruct(ref *Ref) string {
	if ref.Kind == KindFolder {
		return fmt.Sprintf("https://%s/drive/folders/%s", p.host, ref.ID)
	}
	return fmt.Sprintf("https://%s/file/d/%s/view", p.host, ref.ID)
}
