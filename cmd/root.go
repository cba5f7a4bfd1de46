package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Ashfaaq98/assetintel/internal/lookup"
	"github.com/Ashfaaq98/assetintel/internal/tokencache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "assetintel",
	Short: "Enrich IPs, domains and CVEs with asset inventory data",
	Long: `assetintel looks up IPv4 addresses, domains and CVE identifiers against an
asset inventory API and reports which assets they match.

Features:
- One-shot batch lookups from the command line
- Redis Streams worker that enriches OCSF events
- Folder ingest (one-shot or watch) of OCSF JSON/JSONL files
- Session token caching in memory or Redis
- SQLite lookup history`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.assetintel.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info)")
	pf.String("url", "", "Asset inventory API base URL")
	pf.String("security-token", "", "API security token")
	pf.Int("max-concurrent", lookup.DefaultMaxConcurrent, "Maximum in-flight lookup requests per batch")
	pf.String("failure-policy", string(lookup.FailFast), "What a failed lookup does to its batch: fail-fast or isolate")
	pf.String("cache-redis", "", "Redis URL for a shared token cache (empty: in-memory)")
	pf.String("redis", "", "Redis URL for the event streams (default redis://localhost:6379)")
	pf.String("history-db", "", "SQLite path for lookup history (empty: disabled)")
	pf.String("proxy", "", "HTTP(S) proxy URL for API requests")
	pf.String("ca", "", "PEM CA bundle used to verify the API")
	pf.String("cert", "", "PEM client certificate")
	pf.String("key", "", "PEM client private key")
	pf.String("passphrase", "", "Passphrase for an encrypted client key")
	pf.Bool("reject-unauthorized", true, "Verify the API server certificate")

	// Bind flags to viper
	viper.BindPFlag("log.level", pf.Lookup("log-level"))
	viper.BindPFlag("lookup.url", pf.Lookup("url"))
	viper.BindPFlag("lookup.security_token", pf.Lookup("security-token"))
	viper.BindPFlag("lookup.max_concurrent", pf.Lookup("max-concurrent"))
	viper.BindPFlag("lookup.failure_policy", pf.Lookup("failure-policy"))
	viper.BindPFlag("cache.redis_url", pf.Lookup("cache-redis"))
	viper.BindPFlag("redis.url", pf.Lookup("redis"))
	viper.BindPFlag("history.db", pf.Lookup("history-db"))
	viper.BindPFlag("transport.proxy", pf.Lookup("proxy"))
	viper.BindPFlag("transport.ca", pf.Lookup("ca"))
	viper.BindPFlag("transport.cert", pf.Lookup("cert"))
	viper.BindPFlag("transport.key", pf.Lookup("key"))
	viper.BindPFlag("transport.passphrase", pf.Lookup("passphrase"))
	viper.BindPFlag("transport.reject_unauthorized", pf.Lookup("reject-unauthorized"))

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("lookup.max_concurrent", lookup.DefaultMaxConcurrent)
	v.SetDefault("lookup.request_timeout", 30*time.Second)
	v.SetDefault("lookup.failure_policy", string(lookup.FailFast))
	v.SetDefault("cache.ttl", tokencache.DefaultTTL)
	v.SetDefault("cache.size", 1000)
	v.SetDefault("transport.reject_unauthorized", true)
	v.SetDefault("transport.timeout", 30*time.Second)
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("serve.group", "assetintel")
	v.SetDefault("serve.consumer", defaultConsumer())
}

func defaultConsumer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "assetintel-1"
	}
	return "assetintel-" + host
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search config in home directory with name ".assetintel" (without extension).
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".assetintel")
	}

	viper.SetEnvPrefix("ASSETINTEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// GetConfig returns the current configuration values
func GetConfig() Config {
	return configFrom(viper.GetViper())
}

func configFrom(v *viper.Viper) Config {
	cfg := Config{
		Lookup: LookupConfig{
			URL:            v.GetString("lookup.url"),
			SecurityToken:  v.GetString("lookup.security_token"),
			MaxConcurrent:  v.GetInt("lookup.max_concurrent"),
			RequestTimeout: v.GetDuration("lookup.request_timeout"),
			FailurePolicy:  v.GetString("lookup.failure_policy"),
		},
		Cache: CacheConfig{
			TTL:      v.GetDuration("cache.ttl"),
			Size:     v.GetInt("cache.size"),
			RedisURL: v.GetString("cache.redis_url"),
		},
		Transport: lookup.TransportConfig{
			Cert:       v.GetString("transport.cert"),
			Key:        v.GetString("transport.key"),
			Passphrase: v.GetString("transport.passphrase"),
			CA:         v.GetString("transport.ca"),
			Proxy:      v.GetString("transport.proxy"),
			Timeout:    v.GetDuration("transport.timeout"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis.url"),
		},
		Serve: ServeConfig{
			Group:    v.GetString("serve.group"),
			Consumer: v.GetString("serve.consumer"),
		},
		History: HistoryConfig{
			DB: v.GetString("history.db"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
	}
	reject := v.GetBool("transport.reject_unauthorized")
	cfg.Transport.RejectUnauthorized = &reject
	return cfg
}

// Config represents the application configuration
type Config struct {
	Lookup    LookupConfig           `mapstructure:"lookup"`
	Cache     CacheConfig            `mapstructure:"cache"`
	Transport lookup.TransportConfig `mapstructure:"transport"`
	Redis     RedisConfig            `mapstructure:"redis"`
	Serve     ServeConfig            `mapstructure:"serve"`
	History   HistoryConfig          `mapstructure:"history"`
	Log       LogConfig              `mapstructure:"log"`
}

type LookupConfig struct {
	URL            string        `mapstructure:"url"`
	SecurityToken  string        `mapstructure:"security_token"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	FailurePolicy  string        `mapstructure:"failure_policy"`
}

// Options returns the per-call API options.
func (c LookupConfig) Options() lookup.Options {
	return lookup.Options{BaseURL: c.URL, SecurityToken: c.SecurityToken}
}

type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Size     int           `mapstructure:"size"`
	RedisURL string        `mapstructure:"redis_url"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type ServeConfig struct {
	Group    string `mapstructure:"group"`
	Consumer string `mapstructure:"consumer"`
}

type HistoryConfig struct {
	DB string `mapstructure:"db"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
