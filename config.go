/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the file-loadable shape of a Client's configuration (spec.md
// §6.5). Token loading is still a caller concern (spec.md §1 Non-goal —
// perch never reads an env var or secrets store itself), but the rest of a
// bot's ambient configuration is commonly kept in one YAML file alongside
// the binary, the way TheRockettek/Sandwich-Daemon loads its own bot
// configuration through gopkg.in/yaml.v2.
type Config struct {
	Token string `yaml:"token"`

	// Intents lists Gateway intent names (e.g. "guilds", "guild_messages")
	// rather than a raw bitmask, so a config file stays readable.
	Intents []string `yaml:"intents"`

	// TotalShards overrides the recommended shard count when non-zero.
	TotalShards int `yaml:"total_shards"`

	// UseCompression enables zlib-stream payload compression on the
	// gateway connection (spec.md §4.4).
	UseCompression bool `yaml:"use_compression"`

	LogLevel string `yaml:"log_level"`
}

var configIntentNames = map[string]GatewayIntent{
	"guilds":                       GatewayIntentGuilds,
	"guild_members":                GatewayIntentGuildMembers,
	"guild_moderation":             GatewayIntentGuildModeration,
	"guild_expressions":            GatewayIntentGuildExpressions,
	"guild_integrations":           GatewayIntentGuildIntegrations,
	"guild_webhooks":               GatewayIntentGuildWebhooks,
	"guild_invites":                GatewayIntentGuildInvites,
	"guild_voice_states":           GatewayIntentGuildVoiceStates,
	"guild_presences":              GatewayIntentGuildPresences,
	"guild_messages":               GatewayIntentGuildMessages,
	"guild_message_reactions":      GatewayIntentGuildMessageReactions,
	"guild_message_typing":         GatewayIntentGuildMessageTyping,
	"direct_messages":              GatewayIntentDirectMessages,
	"direct_message_reactions":     GatewayIntentDirectMessageReactions,
	"direct_message_typing":        GatewayIntentDirectMessageTyping,
	"message_content":              GatewayIntentMessageContent,
	"guild_scheduled_events":       GatewayIntentGuildScheduledEvents,
	"auto_moderation_configuration": GatewayIntentAutoModerationConfiguration,
	"auto_moderation_execution":    GatewayIntentAutoModerationExecution,
	"guild_message_polls":          GatewayIntentGuildMessagePolls,
	"direct_message_polls":         GatewayIntentDirectMessagePolls,
}

func configLogLevel(name string) LogLevel {
	switch name {
	case "debug":
		return LogLevelDebugLevel
	case "warn":
		return LogLevelWarnLevel
	case "error":
		return LogLevelErrorLevel
	case "fatal":
		return LogLevelFatalLevel
	default:
		return LogLevelInfoLevel
	}
}

// LoadConfigFile reads and parses a YAML configuration file into a Config.
func LoadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("perch: reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("perch: parsing config file: %w", err)
	}
	return &cfg, nil
}

// WithConfig applies every field of cfg to a Client, translating intent
// names and the textual log level into perch's native types. Options are
// applied in order: WithConfig overrides what earlier options set for the
// token, intents, total shards and logger when cfg sets them, always
// overrides compression, and is itself overridden by later options.
func WithConfig(cfg *Config) clientOption {
	var names []GatewayIntent
	for _, name := range cfg.Intents {
		names = append(names, configIntentNames[name])
	}
	intents := BitFieldAdd(GatewayIntent(0), names...)
	return func(c *Client) {
		if cfg.Token != "" {
			c.token = normalizeToken(cfg.Token)
		}
		if intents != 0 {
			c.intents = intents
		}
		if cfg.TotalShards > 0 {
			c.configuredTotalShards = cfg.TotalShards
		}
		c.useCompression = cfg.UseCompression
		if cfg.LogLevel != "" {
			c.Logger = NewDefaultLogger(os.Stdout, configLogLevel(cfg.LogLevel))
		}
	}
}
