package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/DrSkyle/cloudtail/pkg/engine/source"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"gopkg.in/yaml.v3"
)

// Source names as they appear in the data sources file.
const (
	SourceCloudTrail  = "AWS CloudTrail"
	SourceActivityLog = "Azure Activity Log"
)

// ErrNoDataSources is returned when the file declares no data sources.
var ErrNoDataSources = errors.New("no data sources configured")

// Sources is the data sources file.
type Sources struct {
	DataSources []DataSource `json:"dataSources" yaml:"dataSources" toml:"dataSources" hcl:"data_source,block"`
}

// DataSource is one provider feed and the rules run against it.
type DataSource struct {
	Source          string               `json:"source" yaml:"source" toml:"source" hcl:"source,label"`
	Accounts        []AccountProfilePair `json:"account_profile_pairs,omitempty" yaml:"account_profile_pairs,omitempty" toml:"account_profile_pairs,omitempty" hcl:"account_profile_pair,block"`
	SubscriptionIDs []string             `json:"subscription_ids,omitempty" yaml:"subscription_ids,omitempty" toml:"subscription_ids,omitempty" hcl:"subscription_ids,optional"`
	Rules           []LookupAttribute    `json:"lookup_Attributes" yaml:"lookup_Attributes" toml:"lookup_Attributes" hcl:"lookup_attribute,block"`
}

// AccountProfilePair binds an expected AWS account id to a shared-config profile.
type AccountProfilePair struct {
	AccountID   string `json:"account_id,omitempty" yaml:"account_id,omitempty" toml:"account_id,omitempty" hcl:"account_id,optional"`
	ProfileName string `json:"profile_name,omitempty" yaml:"profile_name,omitempty" toml:"profile_name,omitempty" hcl:"profile_name,optional"`
	Region      string `json:"region,omitempty" yaml:"region,omitempty" toml:"region,omitempty" hcl:"region,optional"`
}

// LookupAttribute is a detection rule.
type LookupAttribute struct {
	AttributeKey   string `json:"AttributeKey,omitempty" yaml:"AttributeKey,omitempty" toml:"AttributeKey,omitempty" hcl:"attribute_key,optional"`
	AttributeValue string `json:"AttributeValue,omitempty" yaml:"AttributeValue,omitempty" toml:"AttributeValue,omitempty" hcl:"attribute_value,optional"`
	RuleName       string `json:"RuleName,omitempty" yaml:"RuleName,omitempty" toml:"RuleName,omitempty" hcl:"rule_name,optional"`
	JMESFilter     string `json:"jmes_filter,omitempty" yaml:"jmes_filter,omitempty" toml:"jmes_filter,omitempty" hcl:"jmes_filter,optional"`
	CELFilter      string `json:"cel_filter,omitempty" yaml:"cel_filter,omitempty" toml:"cel_filter,omitempty" hcl:"cel_filter,optional"`
}

// LoadSources reads a data sources file. The encoding follows the extension: .json,
// .yaml/.yml, .toml or .hcl.
func LoadSources(path string) (*Sources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	s, err := ParseSources(filepath.Base(path), data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

// ParseSources decodes data in the encoding implied by name's extension.
func ParseSources(name string, data []byte) (*Sources, error) {
	var s Sources
	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&s)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&s)
	case ".toml":
		var md toml.MetaData
		md, err = toml.Decode(string(data), &s)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown keys %v", undecoded)
			}
		}
	case ".hcl":
		err = hclsimple.Decode(name, data, nil, &s)
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .json, .yaml, .toml or .hcl)", filepath.Ext(name))
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Provider maps the source name. ok is false for unknown sources.
func (d DataSource) Provider() (p normalize.Provider, ok bool) {
	switch d.Source {
	case SourceCloudTrail:
		return normalize.AWS, true
	case SourceActivityLog:
		return normalize.Azure, true
	}
	return "", false
}

// AccountRefs lists the accounts to poll. An AWS source without pairs polls the
// default credential chain once; an Azure source without subscriptions polls nothing.
func (d DataSource) AccountRefs() []source.AccountRef {
	p, _ := d.Provider()
	switch p {
	case normalize.AWS:
		if len(d.Accounts) == 0 {
			return []source.AccountRef{{}}
		}
		refs := make([]source.AccountRef, 0, len(d.Accounts))
		for _, a := range d.Accounts {
			refs = append(refs, source.AccountRef{ID: a.AccountID, Profile: a.ProfileName, Region: a.Region})
		}
		return refs
	case normalize.Azure:
		refs := make([]source.AccountRef, 0, len(d.SubscriptionIDs))
		for _, id := range d.SubscriptionIDs {
			refs = append(refs, source.AccountRef{ID: id})
		}
		return refs
	}
	return nil
}

// SourceRules converts the configured lookup attributes.
func (d DataSource) SourceRules() []source.Rule {
	rules := make([]source.Rule, 0, len(d.Rules))
	for _, r := range d.Rules {
		rules = append(rules, source.Rule{
			Name:           r.RuleName,
			AttributeKey:   r.AttributeKey,
			AttributeValue: r.AttributeValue,
			JMESFilter:     r.JMESFilter,
			CELFilter:      r.CELFilter,
		})
	}
	return rules
}

// Validate reports every structural problem. Individual rules are checked when they are
// compiled and only skip themselves.
func Validate(s *Sources) error {
	if s == nil || len(s.DataSources) == 0 {
		return ErrNoDataSources
	}
	var errs []error
	for i, d := range s.DataSources {
		where := fmt.Sprintf("dataSources[%d]", i)
		if d.Source == "" {
			errs = append(errs, fmt.Errorf("%s: source is required", where))
			continue
		}
		p, ok := d.Provider()
		if !ok {
			errs = append(errs, fmt.Errorf("%s: unknown source %q (want %q or %q)", where, d.Source, SourceCloudTrail, SourceActivityLog))
			continue
		}
		switch p {
		case normalize.AWS:
			if len(d.SubscriptionIDs) > 0 {
				errs = append(errs, fmt.Errorf("%s (%s): subscription_ids only apply to %q", where, d.Source, SourceActivityLog))
			}
			for j, a := range d.Accounts {
				if a.AccountID == "" && a.ProfileName == "" {
					errs = append(errs, fmt.Errorf("%s.account_profile_pairs[%d]: account_id or profile_name is required", where, j))
				}
			}
		case normalize.Azure:
			if len(d.Accounts) > 0 {
				errs = append(errs, fmt.Errorf("%s (%s): account_profile_pairs only apply to %q", where, d.Source, SourceCloudTrail))
			}
			for j, id := range d.SubscriptionIDs {
				if strings.TrimSpace(id) == "" {
					errs = append(errs, fmt.Errorf("%s.subscription_ids[%d] is empty", where, j))
				}
			}
		}
	}
	return errors.Join(errs...)
}
