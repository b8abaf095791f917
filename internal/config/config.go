package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rankland/broadcast-hub/internal/core"
)

// Config is the full application configuration, loaded from an optional
// yaml file with BHUB_* environment overrides.
type Config struct {
	Env     core.Environment
	Address string

	Redis      RedisConfig
	Auth       AuthConfig
	Membership MembershipConfig
	Broadcast  BroadcastConfig
	Peer       PeerConfig
	RTC        RTCConfig
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type AuthConfig struct {
	// DirectorToken is a single global secret shared across all
	// contests. Known temporary simplification, kept on purpose.
	DirectorToken string
	ShotToken     string
	APIToken      string
}

type MembershipConfig struct {
	// Mode selects the directory backend: "api" or "db".
	Mode        string
	APIBaseURL  string
	APIToken    string
	DatabaseURL string
}

type BroadcastConfig struct {
	// StateTTL bounds stored broadcaster state; refreshed on every
	// write so abandoned state self-expires.
	StateTTL time.Duration
}

type RTCConfig struct {
	ICEPortRangeStart uint32
	ICEPortRangeEnd   uint32
	PublicIP          string
}

type CodecSpec struct {
	Mime     string
	FmtpLine string
}

type PeerConfig struct {
	EnabledCodecs []CodecSpec
}

// Load reads configuration from path (may be empty) and the
// environment, falling back to defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("bhub")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", string(core.DevelopmentEnv))
	v.SetDefault("address", ":3001")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "rl_broadcast_hub:")
	v.SetDefault("membership.mode", "api")
	v.SetDefault("membership.api_base_url", "https://rl-api-v2.algoux.cn/api")
	v.SetDefault("broadcast.state_ttl", "6h")
	v.SetDefault("rtc.ice_port_range_start", 40000)
	v.SetDefault("rtc.ice_port_range_end", 49999)
	v.SetDefault("rtc.public_ip", "127.0.0.1")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Env:     core.Environment(v.GetString("env")),
		Address: v.GetString("address"),
		Redis: RedisConfig{
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Auth: AuthConfig{
			DirectorToken: v.GetString("auth.director_token"),
			ShotToken:     v.GetString("auth.shot_token"),
			APIToken:      v.GetString("auth.api_token"),
		},
		Membership: MembershipConfig{
			Mode:        v.GetString("membership.mode"),
			APIBaseURL:  v.GetString("membership.api_base_url"),
			APIToken:    v.GetString("membership.api_token"),
			DatabaseURL: v.GetString("membership.database_url"),
		},
		Broadcast: BroadcastConfig{
			StateTTL: v.GetDuration("broadcast.state_ttl"),
		},
		RTC: RTCConfig{
			ICEPortRangeStart: v.GetUint32("rtc.ice_port_range_start"),
			ICEPortRangeEnd:   v.GetUint32("rtc.ice_port_range_end"),
			PublicIP:          v.GetString("rtc.public_ip"),
		},
		Peer: PeerConfig{
			EnabledCodecs: DefaultEnabledCodecs(),
		},
	}

	return cfg, nil
}
