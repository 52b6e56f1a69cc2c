// Package urn parses and constructs metadata entity identifiers.
//
// Supported shapes:
//
//	urn:li:dataset:(urn:li:dataPlatform:<platform>,<db>.<schema>.<table>,<ENV>)
//	urn:li:schemaField:(<dataset urn>,<field.path>)
//	urn:li:chart:(<platform>,<id>)
//	urn:li:dashboard:(<platform>,<id>)
//	urn:li:<kind>:<id>
//
// Urn values are immutable and comparable.
package urn

import (
	"errors"
	"fmt"
	"strings"
)

// Prefix is the namespace prefix shared by every urn.
const Prefix = "urn:li:"

// DefaultEnv is the fabric used when constructing datasets without one.
const DefaultEnv = "PROD"

// Kind is the entity type encoded in an urn.
type Kind string

// Known entity kinds.
const (
	KindDataset      Kind = "dataset"
	KindSchemaField  Kind = "schemaField"
	KindChart        Kind = "chart"
	KindDashboard    Kind = "dashboard"
	KindAssertion    Kind = "assertion"
	KindContainer    Kind = "container"
	KindTag          Kind = "tag"
	KindDataPlatform Kind = "dataPlatform"
	KindCorpUser     Kind = "corpuser"
	KindCorpGroup    Kind = "corpGroup"
)

// ErrInvalid is returned for strings that are not well formed urns.
var ErrInvalid = errors.New("invalid urn")

// Urn is a parsed entity identifier.
type Urn struct {
	kind      Kind
	platform  string
	name      string
	env       string
	fieldPath string
	parent    string // raw parent dataset urn for schema fields
	raw       string
}

// Parse parses s into an Urn.
func Parse(s string) (Urn, error) {
	if !strings.HasPrefix(s, Prefix) {
		return Urn{}, fmt.Errorf("%w: missing %q prefix: %s", ErrInvalid, Prefix, s)
	}
	rest := s[len(Prefix):]
	idx := strings.IndexByte(rest, ':')
	if idx <= 0 || idx == len(rest)-1 {
		return Urn{}, fmt.Errorf("%w: missing entity kind or key: %s", ErrInvalid, s)
	}
	u := Urn{kind: Kind(rest[:idx]), raw: s}
	key := rest[idx+1:]

	switch u.kind {
	case KindDataset:
		parts, err := tuple(key, 3)
		if err != nil {
			return Urn{}, fmt.Errorf("%w: %s: %v", ErrInvalid, s, err)
		}
		u.platform = platformName(parts[0])
		u.name = parts[1]
		u.env = parts[2]
		if u.platform == "" || u.name == "" {
			return Urn{}, fmt.Errorf("%w: empty platform or name: %s", ErrInvalid, s)
		}

	case KindSchemaField:
		parts, err := tuple(key, 2)
		if err != nil {
			return Urn{}, fmt.Errorf("%w: %s: %v", ErrInvalid, s, err)
		}
		parent, err := Parse(parts[0])
		if err != nil {
			return Urn{}, err
		}
		if parent.kind != KindDataset {
			return Urn{}, fmt.Errorf("%w: schema field parent is %s: %s", ErrInvalid, parent.kind, s)
		}
		u.platform = parent.platform
		u.name = parent.name
		u.env = parent.env
		u.parent = parent.raw
		u.fieldPath = SimplifyFieldPath(parts[1])

	case KindChart, KindDashboard:
		if strings.HasPrefix(key, "(") {
			parts, err := tuple(key, 2)
			if err != nil {
				return Urn{}, fmt.Errorf("%w: %s: %v", ErrInvalid, s, err)
			}
			u.platform = platformName(parts[0])
			u.name = parts[1]
		} else {
			u.name = key
		}

	default:
		u.name = key
	}

	return u, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Urn {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Dataset builds a dataset urn.
func Dataset(platform, name, env string) Urn {
	if env == "" {
		env = DefaultEnv
	}
	return Urn{
		kind:     KindDataset,
		platform: platform,
		name:     name,
		env:      env,
		raw:      fmt.Sprintf("%sdataset:(%sdataPlatform:%s,%s,%s)", Prefix, Prefix, platform, name, env),
	}
}

// SchemaField builds a schema field urn under the given dataset.
func SchemaField(dataset Urn, fieldPath string) Urn {
	return Urn{
		kind:      KindSchemaField,
		platform:  dataset.platform,
		name:      dataset.name,
		env:       dataset.env,
		parent:    dataset.raw,
		fieldPath: fieldPath,
		raw:       fmt.Sprintf("%sschemaField:(%s,%s)", Prefix, dataset.raw, fieldPath),
	}
}

// Chart builds a chart urn.
func Chart(platform, id string) Urn {
	return Urn{kind: KindChart, platform: platform, name: id,
		raw: fmt.Sprintf("%schart:(%s,%s)", Prefix, platform, id)}
}

// Dashboard builds a dashboard urn.
func Dashboard(platform, id string) Urn {
	return Urn{kind: KindDashboard, platform: platform, name: id,
		raw: fmt.Sprintf("%sdashboard:(%s,%s)", Prefix, platform, id)}
}

// Kind returns the entity kind.
func (u Urn) Kind() Kind { return u.kind }

// Platform returns the platform name. Schema fields report their dataset's platform.
func (u Urn) Platform() string { return u.platform }

// Name returns the qualified name for datasets and schema fields, the platform id for
// charts and dashboards, and the raw key for every other kind.
func (u Urn) Name() string { return u.name }

// Env returns the dataset fabric.
func (u Urn) Env() string { return u.env }

// FieldPath returns the simplified field path of a schema field.
func (u Urn) FieldPath() string { return u.fieldPath }

// Parent returns the dataset a schema field belongs to.
func (u Urn) Parent() (Urn, bool) {
	if u.kind != KindSchemaField {
		return Urn{}, false
	}
	parent, err := Parse(u.parent)
	if err != nil {
		return Urn{}, false
	}
	return parent, true
}

// String returns the urn text.
func (u Urn) String() string { return u.raw }

// IsZero reports whether u is the zero value.
func (u Urn) IsZero() bool { return u.raw == "" }

// IsDataset reports whether u identifies a dataset.
func (u Urn) IsDataset() bool { return u.kind == KindDataset }

// Excluded reports whether u belongs to a namespace that never becomes a graph node.
func (u Urn) Excluded() bool {
	switch u.kind {
	case KindContainer, KindTag, KindAssertion:
		return true
	}
	return false
}

// WithPlatform returns the sibling of u in another platform namespace.
// Only datasets and schema fields have siblings; other kinds are returned unchanged.
func (u Urn) WithPlatform(platform string) Urn {
	switch u.kind {
	case KindDataset:
		return Dataset(platform, u.name, u.env)
	case KindSchemaField:
		return SchemaField(Dataset(platform, u.name, u.env), u.fieldPath)
	}
	return u
}

// NameParts splits the qualified name on dots.
func (u Urn) NameParts() []string {
	if u.name == "" {
		return nil
	}
	return strings.Split(u.name, ".")
}

// SimplifyFieldPath strips v2 annotations such as "[version=2.0].[type=struct]" from a path.
func SimplifyFieldPath(path string) string {
	if !strings.Contains(path, "[") {
		return path
	}
	segments := strings.Split(path, ".")
	kept := segments[:0]
	inBracket := false
	for _, seg := range segments {
		switch {
		case inBracket:
			if strings.HasSuffix(seg, "]") {
				inBracket = false
			}
		case strings.HasPrefix(seg, "["):
			if !strings.HasSuffix(seg, "]") {
				inBracket = true
			}
		default:
			kept = append(kept, seg)
		}
	}
	return strings.Join(kept, ".")
}

// platformName accepts either a bare platform or a dataPlatform urn.
func platformName(s string) string {
	return strings.TrimPrefix(s, Prefix+string(KindDataPlatform)+":")
}

// tuple splits "(a,b,c)" into n parts, respecting nested parentheses.
// The last part absorbs any extra commas.
func tuple(s string, n int) ([]string, error) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, errors.New("expected parenthesised tuple")
	}
	body := s[1 : len(s)-1]

	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, errors.New("unbalanced parentheses")
			}
		case ',':
			if depth == 0 && len(parts) < n-1 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, errors.New("unbalanced parentheses")
	}
	parts = append(parts, body[start:])
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d parts, got %d", n, len(parts))
	}
	return parts, nil
}
