// Package permissions renders the least-privilege policies cloudtail needs.
package permissions

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
)

type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

type Statement struct {
	Sid      string   `json:"Sid"`
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource string   `json:"Resource"`
}

// RoleDefinition is an Azure custom role. AssignableScopes is filled with one entry per
// subscription.
type RoleDefinition struct {
	Name             string   `json:"Name"`
	IsCustom         bool     `json:"IsCustom"`
	Description      string   `json:"Description"`
	Actions          []string `json:"Actions"`
	NotActions       []string `json:"NotActions"`
	AssignableScopes []string `json:"AssignableScopes"`
}

// Actions returns the sorted, deduplicated actions p needs for features. No features
// means all of them.
func Actions(p normalize.Provider, features []Feature) ([]string, error) {
	var catalog map[Feature][]string
	switch p {
	case normalize.AWS:
		catalog = awsCatalog
	case normalize.Azure:
		catalog = azureCatalog
	default:
		return nil, fmt.Errorf("unknown provider %q", p)
	}
	if len(features) == 0 {
		features = Features()
	}

	desired := make(map[string]bool)
	for _, f := range features {
		if !slices.Contains(Features(), f) {
			return nil, fmt.Errorf("unknown feature %q", f)
		}
		for _, a := range catalog[f] {
			desired[a] = true
		}
	}
	actions := make([]string, 0, len(desired))
	for a := range desired {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	return actions, nil
}

// GeneratePolicy renders an IAM policy for AWS or a custom role for Azure.
func GeneratePolicy(p normalize.Provider, features []Feature, subscriptionIDs []string) ([]byte, error) {
	actions, err := Actions(p, features)
	if err != nil {
		return nil, err
	}

	if p == normalize.Azure {
		scopes := make([]string, 0, len(subscriptionIDs))
		for _, id := range subscriptionIDs {
			scopes = append(scopes, "/subscriptions/"+id)
		}
		if len(scopes) == 0 {
			scopes = append(scopes, "/subscriptions/<subscription-id>")
		}
		return json.MarshalIndent(RoleDefinition{
			Name:             "CloudtailActivityLogReader",
			IsCustom:         true,
			Description:      "Read the Activity Log for cloudtail",
			Actions:          actions,
			NotActions:       []string{},
			AssignableScopes: scopes,
		}, "", "  ")
	}

	return json.MarshalIndent(PolicyDocument{
		Version: "2012-10-17",
		Statement: []Statement{{
			Sid:      "CloudtailReadOnly",
			Effect:   "Allow",
			Action:   actions,
			Resource: "*",
		}},
	}, "", "  ")
}
