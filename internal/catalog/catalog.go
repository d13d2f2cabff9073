// Package catalog loads the static model and role definitions (C2) from
// an embedded YAML file. Catalog data is tunable configuration, not
// logic: operators ship a new catalog.yaml to add a model or adjust a
// role's budget without touching code.
package catalog

import (
	_ "embed"
	"fmt"

	"go.yaml.in/yaml/v3"

	gateway "github.com/dynamoworks/gateway/internal"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the resolved, indexed set of models and roles.
type Catalog struct {
	models map[string]gateway.Model
	roles  map[string]gateway.Role
}

type yamlFile struct {
	Models []yamlModel `yaml:"models"`
	Roles  []yamlRole  `yaml:"roles"`
}

type yamlModel struct {
	ID                   string  `yaml:"id"`
	DisplayName          string  `yaml:"display_name"`
	Tier                 int     `yaml:"tier"`
	InputCostPerMillion  float64 `yaml:"input_cost_per_million"`
	OutputCostPerMillion float64 `yaml:"output_cost_per_million"`
}

type yamlRole struct {
	Name                string   `yaml:"name"`
	PermittedModels     []string `yaml:"permitted_models"`
	MaxTokensPerRequest *int     `yaml:"max_tokens_per_request"`
	MonthlyTokenBudget  *int64   `yaml:"monthly_token_budget"`
}

// Default loads the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// Parse builds a Catalog from YAML bytes. Default calls it on the
// embedded catalog; the gateway loads no other catalog file at runtime.
func Parse(data []byte) (*Catalog, error) {
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	c := &Catalog{
		models: make(map[string]gateway.Model, len(f.Models)),
		roles:  make(map[string]gateway.Role, len(f.Roles)),
	}
	for _, m := range f.Models {
		c.models[m.ID] = gateway.Model{
			ID:                   m.ID,
			DisplayName:          m.DisplayName,
			Tier:                 m.Tier,
			InputCostPerMillion:  m.InputCostPerMillion,
			OutputCostPerMillion: m.OutputCostPerMillion,
		}
	}
	for _, r := range f.Roles {
		c.roles[r.Name] = gateway.Role{
			Name:                r.Name,
			PermittedModels:     r.PermittedModels,
			MaxTokensPerRequest: r.MaxTokensPerRequest,
			MonthlyTokenBudget:  r.MonthlyTokenBudget,
		}
	}
	if _, ok := c.roles[gateway.DefaultRole]; !ok {
		return nil, fmt.Errorf("catalog: missing default role %q", gateway.DefaultRole)
	}
	return c, nil
}

// Model returns the model by id and whether it is known.
func (c *Catalog) Model(id string) (gateway.Model, bool) {
	m, ok := c.models[id]
	return m, ok
}

// Role returns the role by name, falling back to the default role for
// unknown or empty names.
func (c *Catalog) Role(name string) gateway.Role {
	if r, ok := c.roles[name]; ok {
		return r
	}
	return c.roles[gateway.DefaultRole]
}

// RoleExists reports whether name is a recognized role.
func (c *Catalog) RoleExists(name string) bool {
	_, ok := c.roles[name]
	return ok
}

// HighestTierPermitted returns the permitted model with the highest tier
// for role, and whether any permitted model exists.
func (c *Catalog) HighestTierPermitted(role gateway.Role) (string, bool) {
	best := ""
	bestTier := -1
	for _, id := range role.PermittedModels {
		m, ok := c.models[id]
		if !ok {
			continue
		}
		if m.Tier > bestTier {
			bestTier = m.Tier
			best = id
		}
	}
	return best, best != ""
}
