package monitoring

import (
	"context"

	"github.com/harsxv/tinystatus/internal/config"
)

// CheckDefinition is one configured probe target.
type CheckDefinition struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	Host            string `json:"host"`
	Port            int    `json:"port,omitempty"`
	ExpectedCode    int    `json:"expected_code,omitempty"`
	AllowSelfSigned bool   `json:"ssc,omitempty"`
	URL             string `json:"url,omitempty"`
}

// Group is an ordered, titled set of checks.
type Group struct {
	Title  string            `json:"title"`
	Checks []CheckDefinition `json:"checks"`
}

// GroupSource supplies the current check configuration. It is consulted on
// every refresh.
type GroupSource interface {
	LoadGroups(ctx context.Context) ([]Group, error)
}

// FileGroupSource re-reads a checks YAML file on each call.
type FileGroupSource struct {
	Path string
}

func (s FileGroupSource) LoadGroups(ctx context.Context) ([]Group, error) {
	cfgs, err := config.LoadChecks(s.Path)
	if err != nil {
		return nil, err
	}
	return groupsFromConfig(cfgs), nil
}

// StaticGroups serves a fixed configuration.
type StaticGroups []Group

func (s StaticGroups) LoadGroups(ctx context.Context) ([]Group, error) {
	return append([]Group(nil), s...), nil
}

func groupsFromConfig(cfgs []config.GroupConfig) []Group {
	groups := make([]Group, 0, len(cfgs))
	for _, gc := range cfgs {
		group := Group{Title: gc.Title, Checks: make([]CheckDefinition, 0, len(gc.Checks))}
		for _, cc := range gc.Checks {
			group.Checks = append(group.Checks, CheckDefinition{
				Name:            cc.Name,
				Type:            cc.Type,
				Host:            cc.Host,
				Port:            cc.Port,
				ExpectedCode:    cc.ExpectedCode,
				AllowSelfSigned: cc.SSC,
				URL:             cc.URL,
			})
		}
		groups = append(groups, group)
	}
	return groups
}
