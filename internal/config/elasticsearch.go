package config

import (
	"time"

	"github.com/spf13/viper"
)

// ElasticsearchConfig содержит конфигурацию для подключения к Elasticsearch
type ElasticsearchConfig struct {
	Enabled    bool
	URL        string
	Index      string
	Username   string
	Password   string
	MaxRetries int
	Timeout    time.Duration
}

// loadElasticsearchConfig читает настройки хранилища активностей
func loadElasticsearchConfig(v *viper.Viper) ElasticsearchConfig {
	v.SetDefault("ELASTICSEARCH_ENABLED", true)
	v.SetDefault("ELASTICSEARCH_URL", "http://localhost:9200")
	v.SetDefault("ELASTICSEARCH_INDEX", "activities")
	v.SetDefault("ELASTICSEARCH_MAX_RETRIES", 3)
	v.SetDefault("ELASTICSEARCH_TIMEOUT", 30*time.Second)

	return ElasticsearchConfig{
		Enabled:    v.GetBool("ELASTICSEARCH_ENABLED"),
		URL:        v.GetString("ELASTICSEARCH_URL"),
		Index:      v.GetString("ELASTICSEARCH_INDEX"),
		Username:   v.GetString("ELASTICSEARCH_USERNAME"),
		Password:   v.GetString("ELASTICSEARCH_PASSWORD"),
		MaxRetries: v.GetInt("ELASTICSEARCH_MAX_RETRIES"),
		Timeout:    v.GetDuration("ELASTICSEARCH_TIMEOUT"),
	}
}
