package seed

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/shopadmin/pkg/rbac"
)

//go:embed default.yaml
var defaultFile []byte

// File is the seed document
type File struct {
	Commands    []rbac.Command `yaml:"commands"`
	Functions   []Function     `yaml:"functions"`
	Roles       []Role         `yaml:"roles"`
	Users       []User         `yaml:"users"`
	Permissions []RoleGrants   `yaml:"permissions"`
}

// Function is a function plus the commands applicable to it
type Function struct {
	ID        string   `yaml:"id"`
	ParentID  string   `yaml:"parentId"`
	Name      string   `yaml:"name"`
	URL       string   `yaml:"url"`
	Icon      string   `yaml:"icon"`
	SortOrder int      `yaml:"sortOrder"`
	Commands  []string `yaml:"commands"`
}

// Role is a seeded role
type Role struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// User is a seeded user and the roles it holds
type User struct {
	ID       string   `yaml:"id"`
	Username string   `yaml:"username"`
	Email    string   `yaml:"email"`
	FullName string   `yaml:"fullName"`
	Roles    []string `yaml:"roles"`
}

// RoleGrants lists what one role may do. All grants every command
// associated with every seeded function.
type RoleGrants struct {
	Role   string  `yaml:"role"`
	All    bool    `yaml:"all"`
	Grants []Grant `yaml:"grants"`
}

// Grant is a set of commands on one function
type Grant struct {
	Function string   `yaml:"function"`
	Commands []string `yaml:"commands"`
}

// Default returns the embedded default seed
func Default() (*File, error) {
	return Parse(defaultFile)
}

// Load reads a seed file. An empty path loads the embedded default.
func Load(path string) (*File, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and checks a seed document
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	seen := map[string]bool{}
	for _, fn := range f.Functions {
		if fn.ID == "" {
			return fmt.Errorf("seed function without id")
		}
		if seen[fn.ID] {
			return fmt.Errorf("seed function %s listed twice", fn.ID)
		}
		seen[fn.ID] = true
	}
	if _, err := f.orderedFunctions(); err != nil {
		return err
	}
	for _, r := range f.Roles {
		if r.ID == "" {
			return fmt.Errorf("seed role without id")
		}
	}
	for _, u := range f.Users {
		if u.ID == "" || u.Username == "" {
			return fmt.Errorf("seed user needs id and username")
		}
	}
	for _, p := range f.Permissions {
		if p.Role == "" {
			return fmt.Errorf("seed permission entry without role")
		}
	}
	return nil
}

// orderedFunctions returns the functions with every parent listed before
// its children. Parents outside the file are assumed to exist already.
func (f *File) orderedFunctions() ([]Function, error) {
	byID := make(map[string]Function, len(f.Functions))
	for _, fn := range f.Functions {
		byID[fn.ID] = fn
	}

	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}
	ordered := make([]Function, 0, len(f.Functions))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("seed functions form a cycle at %s", id)
		}
		state[id] = visiting
		fn := byID[id]
		if _, inFile := byID[fn.ParentID]; fn.ParentID != "" && inFile {
			if err := visit(fn.ParentID); err != nil {
				return err
			}
		}
		state[id] = done
		ordered = append(ordered, fn)
		return nil
	}

	for _, fn := range f.Functions {
		if err := visit(fn.ID); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
