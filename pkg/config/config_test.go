package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/DrSkyle/cloudtail/pkg/engine/source"
	"github.com/DrSkyle/cloudtail/pkg/store"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSources_AllEncodingsAgree(t *testing.T) {
	want, err := LoadSources(filepath.Join("testdata", "sources.json"))
	require.NoError(t, err)
	require.NoError(t, Validate(want))

	for _, name := range []string{"sources.yaml", "sources.toml", "sources.hcl"} {
		t.Run(name, func(t *testing.T) {
			got, err := LoadSources(filepath.Join("testdata", name))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestLoadSources_Errors(t *testing.T) {
	_, err := LoadSources(filepath.Join("testdata", "missing.json"))
	assert.ErrorContains(t, err, "config file not found")

	_, err = ParseSources("sources.ini", []byte("x"))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = ParseSources("sources.json", []byte(`{"dataSources": [], "extra": 1}`))
	assert.Error(t, err, "unknown fields must be rejected")

	_, err = ParseSources("sources.toml", []byte("[[dataSources]]\nsource = \"AWS CloudTrail\"\nregion = \"x\"\n"))
	assert.ErrorContains(t, err, "unknown keys")
}

func TestDataSource_Conversion(t *testing.T) {
	s, err := LoadSources(filepath.Join("testdata", "sources.json"))
	require.NoError(t, err)

	aws := s.DataSources[0]
	p, ok := aws.Provider()
	require.True(t, ok)
	assert.Equal(t, normalize.AWS, p)
	assert.Equal(t, []source.AccountRef{{ID: "123456789012", Profile: "prod", Region: "eu-west-1"}}, aws.AccountRefs())
	assert.Equal(t, source.Rule{Name: "Root activity", JMESFilter: "userIdentity.type == 'Root'"}, aws.SourceRules()[1])

	// No pairs means one default-credentials account.
	assert.Equal(t, []source.AccountRef{{}}, DataSource{Source: SourceCloudTrail}.AccountRefs())
	// No subscriptions means nothing to poll.
	assert.Empty(t, DataSource{Source: SourceActivityLog}.AccountRefs())
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate(&Sources{}), ErrNoDataSources)
	assert.ErrorIs(t, Validate(nil), ErrNoDataSources)

	err := Validate(&Sources{DataSources: []DataSource{
		{Source: "GCP Audit"},
		{Source: SourceCloudTrail, Accounts: []AccountProfilePair{{Region: "us-east-1"}}, SubscriptionIDs: []string{"s"}},
		{Source: SourceActivityLog, SubscriptionIDs: []string{" "}},
		{},
	}})
	require.Error(t, err)
	for _, part := range []string{
		`unknown source "GCP Audit"`,
		"account_profile_pairs[0]: account_id or profile_name is required",
		"subscription_ids only apply",
		"subscription_ids[0] is empty",
		"dataSources[3]: source is required",
	} {
		assert.ErrorContains(t, err, part)
	}
}

func TestLoadSettings_DefaultsAndEnv(t *testing.T) {
	t.Setenv("CLOUDTAIL_DATABASE_DRIVER", "postgres")
	t.Setenv("CLOUDTAIL_DATABASE_DSN", "postgres://cloudtail@localhost/cloudtail")
	t.Setenv("CLOUDTAIL_WATERMARK_SAFETY_LAG", "10m")

	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	s, err := LoadSettings(v)
	require.NoError(t, err)

	assert.Equal(t, "postgres", s.StoreConfig().Driver)
	assert.Equal(t, 10*time.Minute, s.Policy().SafetyLag)
	assert.Equal(t, DefaultSettings().Watermark.Backfill, s.Policy().Backfill)
	assert.Equal(t, 4, s.Concurrency)
	assert.Equal(t, "json", s.Log.Format)
}

func TestSettings_Validate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	bad := s
	bad.Database.Driver = "mysql"
	assert.ErrorIs(t, bad.Validate(), store.ErrUnsupportedDriver)

	bad = s
	bad.Concurrency = 0
	assert.Error(t, bad.Validate())

	bad = s
	bad.Schedule = "every now and then"
	assert.Error(t, bad.Validate())

	_, err := LoadSettings(viper.New())
	assert.ErrorIs(t, err, store.ErrUnsupportedDriver, "settings without defaults must not validate")
}
