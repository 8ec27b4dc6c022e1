// Package config implements the configuration surface described in spec
// §6.4: an enumerated settings object loaded once at startup, with
// documented defaults for every recognized option.
//
// Grounded on spf13/viper (direct dependency of pack members firestige-Otus
// and grafana-tempo), used for its layered file/env/default resolution.
// Gollum's own core/config.go is a bespoke YAML-into-per-plugin-map
// reader purpose-built for gollum's plugin system, which this repo has no
// analogue of, so it is not reused (see DESIGN.md).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the enumerated configuration surface for both the siphon and
// rcache binaries (spec §6.4). Every field has a documented default;
// empty/unset values fall back to it.
type Settings struct {
	// Shared
	AlsPostgresDSN   string
	CachePostgresDSN string
	PostgresPasswordFile string

	// Siphon (C5)
	KafkaBrokers       []string
	KafkaGroupID       string
	AlsTopic           string
	LogTopicExcludePattern string
	MaxBundlesPerFetch int
	MaxRequestsPerFetch int
	AlsMaxAgeSec       int
	ProgressReportInterval time.Duration
	SubscriptionRefreshInterval time.Duration

	// Shared metrics/observability (spec §6.2 ambient concern, not a named
	// module)
	MetricsPort int

	// Response cache / rcache (C6-C10)
	RcachePort          int
	DBCreatorURL        string
	PrecomputeQuota     int
	AfcReqURL           string
	RulesetsURL         string
	ConfigRetrievalURL  string
	KeyholeTemplate     string
	KeyholeTemplateFile string
	UpdateOnSend        bool
	AfcStateVendorExtensions []string
	UpdateQueueCapacity int
	BatcherMaxBatch     int
}

// Defaults returns the documented default values for every recognized
// option (spec §6.4).
func Defaults() Settings {
	return Settings{
		KafkaGroupID:                "afc-siphon",
		AlsTopic:                    "ALS",
		LogTopicExcludePattern:      "^ALS$",
		MaxBundlesPerFetch:          1000,
		MaxRequestsPerFetch:         1000,
		AlsMaxAgeSec:                1000,
		ProgressReportInterval:      5 * time.Second,
		SubscriptionRefreshInterval: 5 * time.Second,
		MetricsPort:                 9090,
		RcachePort:                  8080,
		PrecomputeQuota:             10,
		UpdateOnSend:                false,
		UpdateQueueCapacity:         10000,
		BatcherMaxBatch:             1000,
	}
}

// Load reads configuration from the given YAML file path (if non-empty),
// environment variables prefixed AFC_, and falls back to Defaults() for
// anything left unset.
func Load(path string) (Settings, error) {
	s := Defaults()

	v := viper.New()
	v.SetEnvPrefix("AFC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return s, err
		}
	}

	bindDefaults(v, s)

	if v.IsSet("als_postgres_dsn") {
		s.AlsPostgresDSN = v.GetString("als_postgres_dsn")
	}
	if v.IsSet("cache_postgres_dsn") {
		s.CachePostgresDSN = v.GetString("cache_postgres_dsn")
	}
	if v.IsSet("postgres_password_file") {
		s.PostgresPasswordFile = v.GetString("postgres_password_file")
	}
	if v.IsSet("kafka_brokers") {
		s.KafkaBrokers = v.GetStringSlice("kafka_brokers")
	}
	if v.IsSet("kafka_group_id") {
		s.KafkaGroupID = v.GetString("kafka_group_id")
	}
	if v.IsSet("als_topic") {
		s.AlsTopic = v.GetString("als_topic")
	}
	if v.IsSet("log_topic_exclude_pattern") {
		s.LogTopicExcludePattern = v.GetString("log_topic_exclude_pattern")
	}
	if v.IsSet("max_bundles_per_fetch") {
		s.MaxBundlesPerFetch = v.GetInt("max_bundles_per_fetch")
	}
	if v.IsSet("max_requests_per_fetch") {
		s.MaxRequestsPerFetch = v.GetInt("max_requests_per_fetch")
	}
	if v.IsSet("als_max_age_sec") {
		s.AlsMaxAgeSec = v.GetInt("als_max_age_sec")
	}
	if v.IsSet("metrics_port") {
		s.MetricsPort = v.GetInt("metrics_port")
	}
	if v.IsSet("rcache_port") {
		s.RcachePort = v.GetInt("rcache_port")
	}
	if v.IsSet("db_creator_url") {
		s.DBCreatorURL = v.GetString("db_creator_url")
	}
	if v.IsSet("precompute_quota") {
		s.PrecomputeQuota = v.GetInt("precompute_quota")
	}
	if v.IsSet("afc_req_url") {
		s.AfcReqURL = v.GetString("afc_req_url")
	}
	if v.IsSet("rulesets_url") {
		s.RulesetsURL = v.GetString("rulesets_url")
	}
	if v.IsSet("config_retrieval_url") {
		s.ConfigRetrievalURL = v.GetString("config_retrieval_url")
	}
	if v.IsSet("keyhole_template") {
		s.KeyholeTemplate = v.GetString("keyhole_template")
	}
	if v.IsSet("keyhole_template_file") {
		s.KeyholeTemplateFile = v.GetString("keyhole_template_file")
	}
	if v.IsSet("update_on_send") {
		s.UpdateOnSend = v.GetBool("update_on_send")
	}
	if v.IsSet("afc_state_vendor_extensions") {
		s.AfcStateVendorExtensions = v.GetStringSlice("afc_state_vendor_extensions")
	}
	if v.IsSet("update_queue_capacity") {
		s.UpdateQueueCapacity = v.GetInt("update_queue_capacity")
	}
	if v.IsSet("batcher_max_batch") {
		s.BatcherMaxBatch = v.GetInt("batcher_max_batch")
	}

	return s, nil
}

// bindDefaults seeds viper with Defaults() so AutomaticEnv/file overrides
// layer on top cleanly.
func bindDefaults(v *viper.Viper, d Settings) {
	v.SetDefault("kafka_group_id", d.KafkaGroupID)
	v.SetDefault("als_topic", d.AlsTopic)
	v.SetDefault("log_topic_exclude_pattern", d.LogTopicExcludePattern)
	v.SetDefault("max_bundles_per_fetch", d.MaxBundlesPerFetch)
	v.SetDefault("max_requests_per_fetch", d.MaxRequestsPerFetch)
	v.SetDefault("als_max_age_sec", d.AlsMaxAgeSec)
	v.SetDefault("metrics_port", d.MetricsPort)
	v.SetDefault("rcache_port", d.RcachePort)
	v.SetDefault("precompute_quota", d.PrecomputeQuota)
	v.SetDefault("update_on_send", d.UpdateOnSend)
	v.SetDefault("update_queue_capacity", d.UpdateQueueCapacity)
	v.SetDefault("batcher_max_batch", d.BatcherMaxBatch)
}
