// Package manifest describes native bindings and calls in a YAML (or TOML)
// file so they can be run without writing Go.
//
//	version: 1
//	minVersion: v0.1.0
//	libraries:
//	  - name: libc
//	    path: libc.so.6
//	structs:
//	  - name: pair
//	    members:
//	      - {name: a, type: uint8}
//	      - {name: b, type: uint32}
//	functions:
//	  - name: strlen
//	    library: libc
//	    params: 1
//	    returns: uint64
//	calls:
//	  - function: strlen
//	    args:
//	      - {type: char*, value: hello}
//	    expect: "5"
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Version is the manifest runner's version, compared against minVersion.
const Version = "v0.1.0"

type Manifest struct {
	Version    int    `yaml:"version" toml:"version"`
	MinVersion string `yaml:"minVersion,omitempty" toml:"minVersion"`

	Libraries []Library   `yaml:"libraries" toml:"libraries"`
	Structs   []Composite `yaml:"structs,omitempty" toml:"structs"`
	Unions    []Composite `yaml:"unions,omitempty" toml:"unions"`
	Functions []Function  `yaml:"functions" toml:"functions"`
	Variables []Variable  `yaml:"variables,omitempty" toml:"variables"`
	Calls     []Call      `yaml:"calls" toml:"calls"`
}

type Library struct {
	Name string `yaml:"name" toml:"name"`
	Path string `yaml:"path" toml:"path"`
}

type Member struct {
	Name   string `yaml:"name" toml:"name"`
	Type   string `yaml:"type" toml:"type"`
	Inline bool   `yaml:"inline,omitempty" toml:"inline"`
	Size   int    `yaml:"size,omitempty" toml:"size"`
}

// Composite declares a struct or a union.
type Composite struct {
	Name    string   `yaml:"name" toml:"name"`
	Members []Member `yaml:"members" toml:"members"`
}

type Function struct {
	Name    string `yaml:"name" toml:"name"`
	Library string `yaml:"library" toml:"library"`
	// Symbol defaults to Name.
	Symbol   string `yaml:"symbol,omitempty" toml:"symbol"`
	Params   int    `yaml:"params" toml:"params"`
	Returns  string `yaml:"returns,omitempty" toml:"returns"`
	Variadic bool   `yaml:"variadic,omitempty" toml:"variadic"`
}

// Variable reads an exported variable and reports its value.
type Variable struct {
	Name    string `yaml:"name" toml:"name"`
	Library string `yaml:"library" toml:"library"`
	Type    string `yaml:"type" toml:"type"`
	Expect  string `yaml:"expect,omitempty" toml:"expect"`
}

type Call struct {
	Function string `yaml:"function" toml:"function"`
	Args     []Arg  `yaml:"args,omitempty" toml:"args"`
	// Expect, when set, must equal the formatted return value.
	Expect string `yaml:"expect,omitempty" toml:"expect"`
}

// Arg is one call argument.
//
// Without a type the value is promoted the way Go arguments are: integers
// become int64, floats double and strings terminated char*. A struct or
// union type builds an instance from Fields. Out allocates a zeroed value of
// the pointed-to type and reports it after the call. Null passes a null
// pointer.
type Arg struct {
	Type   string         `yaml:"type,omitempty" toml:"type"`
	Value  any            `yaml:"value,omitempty" toml:"value"`
	Fields map[string]any `yaml:"fields,omitempty" toml:"fields"`
	Out    bool           `yaml:"out,omitempty" toml:"out"`
	Null   bool           `yaml:"null,omitempty" toml:"null"`
}

// UnmarshalYAML reads an unquoted null key as the name "null" instead of the
// null scalar, so {null: true} sets Null.
func (a *Arg) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if key := node.Content[i]; key.Kind == yaml.ScalarNode && key.ShortTag() == "!!null" {
				key.Tag = "!!str"
				key.Value = "null"
			}
		}
	}
	type plain Arg
	return node.Decode((*plain)(a))
}

func (m *Manifest) normalize() {
	if m.Version == 0 {
		m.Version = 1
	}
	for i := range m.Functions {
		if m.Functions[i].Symbol == "" {
			m.Functions[i].Symbol = m.Functions[i].Name
		}
		if m.Functions[i].Returns == "" {
			m.Functions[i].Returns = "int64"
		}
	}
	if len(m.Libraries) == 1 {
		lib := m.Libraries[0].Name
		for i := range m.Functions {
			if m.Functions[i].Library == "" {
				m.Functions[i].Library = lib
			}
		}
		for i := range m.Variables {
			if m.Variables[i].Library == "" {
				m.Variables[i].Library = lib
			}
		}
	}
}

// Validate checks references between sections and the version gate.
func (m *Manifest) Validate() error {
	if m.Version != 1 {
		return fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	if m.MinVersion != "" {
		if !semver.IsValid(m.MinVersion) {
			return fmt.Errorf("invalid minVersion %q", m.MinVersion)
		}
		if semver.Compare(Version, m.MinVersion) < 0 {
			return fmt.Errorf("manifest requires %s, running %s", m.MinVersion, Version)
		}
	}

	libs := make(map[string]bool)
	for _, lib := range m.Libraries {
		if lib.Name == "" || lib.Path == "" {
			return fmt.Errorf("library needs a name and a path")
		}
		if libs[lib.Name] {
			return fmt.Errorf("duplicate library %s", lib.Name)
		}
		libs[lib.Name] = true
	}
	funcs := make(map[string]bool)
	for _, fn := range m.Functions {
		if !libs[fn.Library] {
			return fmt.Errorf("function %s: unknown library %q", fn.Name, fn.Library)
		}
		if fn.Params < 0 {
			return fmt.Errorf("function %s: negative parameter count", fn.Name)
		}
		if funcs[fn.Name] {
			return fmt.Errorf("duplicate function %s", fn.Name)
		}
		funcs[fn.Name] = true
	}
	for _, v := range m.Variables {
		if !libs[v.Library] {
			return fmt.Errorf("variable %s: unknown library %q", v.Name, v.Library)
		}
	}
	for i, c := range m.Calls {
		if !funcs[c.Function] {
			return fmt.Errorf("call %d: unknown function %q", i, c.Function)
		}
		for j, a := range c.Args {
			if a.Null && (a.Value != nil || a.Out) {
				return fmt.Errorf("call %d arg %d: null excludes value and out", i, j)
			}
		}
	}
	return nil
}

// Parse decodes a manifest. format is "yaml" or "toml".
func Parse(data []byte, format string) (*Manifest, error) {
	var m Manifest
	switch format {
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
	m.normalize()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads a manifest, choosing the format by file extension.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if format != "toml" {
		format = "yaml"
	}
	return Parse(data, format)
}
