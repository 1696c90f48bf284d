// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/plainclass/plain-rtc/pkg/logger"
)

const (
	generatedCLIFlagUsage = "generated"
	envVarPrefix          = "PLAINRTC"
)

var (
	ErrKeyFileIncorrectPermission = errors.New("key file others permissions must be set to 0")
	ErrKeysNotSet                 = errors.New("one of key-file or keys must be provided")
)

type Config struct {
	Port           uint32            `yaml:"port,omitempty"`
	BindAddresses  []string          `yaml:"bind_addresses,omitempty"`
	PrometheusPort uint32            `yaml:"prometheus_port,omitempty"`
	Redis          RedisConfig       `yaml:"redis,omitempty"`
	WebSocket      WebSocketConfig   `yaml:"websocket,omitempty"`
	Room           RoomConfig        `yaml:"room,omitempty"`
	Chat           ChatConfig        `yaml:"chat,omitempty"`
	Auth           AuthConfig        `yaml:"auth,omitempty"`
	CORS           CORSConfig        `yaml:"cors,omitempty"`
	KeyFile        string            `yaml:"key_file,omitempty"`
	Keys           map[string]string `yaml:"keys,omitempty"`
	Logging        LoggingConfig     `yaml:"logging,omitempty"`

	Development bool `yaml:"development,omitempty"`
}

type RedisConfig struct {
	Address  string `yaml:"address,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

func (r RedisConfig) IsConfigured() bool {
	return r.Address != ""
}

type WebSocketConfig struct {
	// interval between server pings
	PingInterval time.Duration `yaml:"ping_interval,omitempty"`
	// connection is reaped when nothing, including a pong, arrives within this window
	PongTimeout    time.Duration `yaml:"pong_timeout,omitempty"`
	WriteTimeout   time.Duration `yaml:"write_timeout,omitempty"`
	SendQueueSize  int           `yaml:"send_queue_size,omitempty"`
	MaxMessageSize int64         `yaml:"max_message_size,omitempty"`
	// require a token on /ws/chat as well as /ws/meeting
	AuthenticateChat bool `yaml:"authenticate_chat,omitempty"`
}

type RoomConfig struct {
	// rooms without live meeting connections for this long are closed, 0 disables
	IdleTimeout       time.Duration `yaml:"idle_timeout,omitempty"`
	RosterDebounce    time.Duration `yaml:"roster_debounce,omitempty"`
	ChatHistoryLimit  int64         `yaml:"chat_history_limit,omitempty"`
	ReplaySignalState bool          `yaml:"replay_signal_state,omitempty"`
}

type ChatConfig struct {
	DBPath       string `yaml:"db_path,omitempty"`
	MessageLimit int    `yaml:"message_limit,omitempty"`
}

type AuthConfig struct {
	TokenCacheSize int           `yaml:"token_cache_size,omitempty"`
	TokenCacheTTL  time.Duration `yaml:"token_cache_ttl,omitempty"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
}

var DefaultConfig = Config{
	Port: 7880,
	WebSocket: WebSocketConfig{
		PingInterval:     10 * time.Second,
		PongTimeout:      30 * time.Second,
		WriteTimeout:     5 * time.Second,
		SendQueueSize:    64,
		MaxMessageSize:   64 * 1024,
		AuthenticateChat: true,
	},
	Room: RoomConfig{
		IdleTimeout:       10 * time.Minute,
		RosterDebounce:    100 * time.Millisecond,
		ChatHistoryLimit:  500,
		ReplaySignalState: true,
	},
	Chat: ChatConfig{
		DBPath:       "chat.db",
		MessageLimit: 100,
	},
	Auth: AuthConfig{
		TokenCacheSize: 1024,
		TokenCacheTTL:  time.Minute,
	},
	CORS: CORSConfig{
		AllowedOrigins: []string{"*"},
	},
	Logging: LoggingConfig{
		Config: logger.Config{
			JSON: false,
		},
	},
	Keys: map[string]string{},
}

func NewConfig(confString string, strictMode bool, c *cli.Context, baseFlags []cli.Flag) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	err = yaml.Unmarshal(marshalled, &conf)
	if err != nil {
		return nil, err
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c, baseFlags); err != nil {
			return nil, err
		}
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}

	// expand env vars in filenames
	file, err := homedir.Expand(os.ExpandEnv(conf.KeyFile))
	if err != nil {
		return nil, err
	}
	conf.KeyFile = file

	if conf.Chat.DBPath != ":memory:" {
		dbPath, err := homedir.Expand(os.ExpandEnv(conf.Chat.DBPath))
		if err != nil {
			return nil, err
		}
		conf.Chat.DBPath = dbPath
	}

	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}

	return &conf, nil
}

func (conf *Config) validate() error {
	ws := conf.WebSocket
	if ws.PingInterval <= 0 || ws.PongTimeout <= 0 {
		return errors.New("websocket ping_interval and pong_timeout must be positive")
	}
	if ws.PongTimeout <= ws.PingInterval {
		return fmt.Errorf("websocket pong_timeout (%s) must be longer than ping_interval (%s)", ws.PongTimeout, ws.PingInterval)
	}
	if ws.SendQueueSize <= 0 {
		return errors.New("websocket send_queue_size must be positive")
	}
	return nil
}

type configNode struct {
	TypeNode  reflect.Value
	TagPrefix string
}

func (conf *Config) ToCLIFlagNames(existingFlags []cli.Flag) map[string]reflect.Value {
	existingFlagNames := map[string]bool{}
	for _, flag := range existingFlags {
		for _, flagName := range flag.Names() {
			existingFlagNames[flagName] = true
		}
	}

	flagNames := map[string]reflect.Value{}
	var currNode configNode
	nodes := []configNode{{reflect.ValueOf(conf).Elem(), ""}}
	for len(nodes) > 0 {
		currNode, nodes = nodes[0], nodes[1:]
		for i := 0; i < currNode.TypeNode.NumField(); i++ {
			// inspect yaml tag from struct field to get path
			field := currNode.TypeNode.Type().Field(i)
			yamlTagArray := strings.SplitN(field.Tag.Get("yaml"), ",", 2)
			yamlTag := yamlTagArray[0]
			isInline := false
			if len(yamlTagArray) > 1 && yamlTagArray[1] == "inline" {
				isInline = true
			}
			if (yamlTag == "" && (!isInline || currNode.TagPrefix == "")) || yamlTag == "-" {
				continue
			}
			yamlPath := yamlTag
			if currNode.TagPrefix != "" {
				if isInline {
					yamlPath = currNode.TagPrefix
				} else {
					yamlPath = fmt.Sprintf("%s.%s", currNode.TagPrefix, yamlTag)
				}
			}
			if existingFlagNames[yamlPath] {
				continue
			}

			// map flag name to value
			value := currNode.TypeNode.Field(i)
			if value.Kind() == reflect.Struct {
				nodes = append(nodes, configNode{value, yamlPath})
			} else {
				flagNames[yamlPath] = value
			}
		}
	}

	return flagNames
}

func (conf *Config) ValidateKeys() error {
	// prefer keyfile if set
	if conf.KeyFile != "" {
		var otherFilter os.FileMode = 0o007
		if st, err := os.Stat(conf.KeyFile); err != nil {
			return err
		} else if st.Mode().Perm()&otherFilter != 0o000 {
			return ErrKeyFileIncorrectPermission
		}
		f, err := os.Open(conf.KeyFile)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		decoder := yaml.NewDecoder(f)
		conf.Keys = map[string]string{}
		if err = decoder.Decode(conf.Keys); err != nil {
			return err
		}
	}

	if len(conf.Keys) == 0 {
		return ErrKeysNotSet
	}

	if !conf.Development {
		for key, secret := range conf.Keys {
			if len(secret) < 32 {
				logger.Errorw("secret is too short, should be at least 32 characters for security", nil, "apiKey", key)
			}
		}
	}
	return nil
}

func GenerateCLIFlags(existingFlags []cli.Flag, hidden bool) ([]cli.Flag, error) {
	blankConfig := &Config{}
	flags := make([]cli.Flag, 0)
	for name, value := range blankConfig.ToCLIFlagNames(existingFlags) {
		kind := value.Kind()
		if kind == reflect.Ptr {
			kind = value.Type().Elem().Kind()
		}

		var flag cli.Flag
		envVar := fmt.Sprintf("%s_%s", envVarPrefix, strings.ToUpper(strings.Replace(name, ".", "_", -1)))

		switch kind {
		case reflect.Bool:
			flag = &cli.BoolFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.String:
			flag = &cli.StringFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int, reflect.Int32:
			flag = &cli.IntFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int64:
			if value.Type() == reflect.TypeOf(time.Duration(0)) {
				flag = &cli.DurationFlag{
					Name:    name,
					EnvVars: []string{envVar},
					Usage:   generatedCLIFlagUsage,
					Hidden:  hidden,
				}
				break
			}
			flag = &cli.Int64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint8, reflect.Uint16, reflect.Uint32:
			flag = &cli.UintFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint64:
			flag = &cli.Uint64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Float32, reflect.Float64:
			flag = &cli.Float64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Slice:
			if value.Type().Elem().Kind() != reflect.String {
				continue
			}
			flag = &cli.StringSliceFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Map:
			// keys are handled by --keys
			continue
		default:
			return flags, fmt.Errorf("cli flag generation unsupported for config type: %s is a %s", name, kind.String())
		}

		flags = append(flags, flag)
	}

	return flags, nil
}

func (conf *Config) updateFromCLI(c *cli.Context, baseFlags []cli.Flag) error {
	generatedFlagNames := conf.ToCLIFlagNames(baseFlags)
	for _, flag := range c.App.Flags {
		flagName := flag.Names()[0]

		if !c.IsSet(flagName) {
			continue
		}

		configValue, ok := generatedFlagNames[flagName]
		if !ok {
			continue
		}

		kind := configValue.Kind()
		if kind == reflect.Ptr {
			// instantiate value to be set
			configValue.Set(reflect.New(configValue.Type().Elem()))

			kind = configValue.Type().Elem().Kind()
			configValue = configValue.Elem()
		}

		switch kind {
		case reflect.Bool:
			configValue.SetBool(c.Bool(flagName))
		case reflect.String:
			configValue.SetString(c.String(flagName))
		case reflect.Int, reflect.Int32:
			configValue.SetInt(int64(c.Int(flagName)))
		case reflect.Int64:
			if configValue.Type() == reflect.TypeOf(time.Duration(0)) {
				configValue.SetInt(int64(c.Duration(flagName)))
			} else {
				configValue.SetInt(c.Int64(flagName))
			}
		case reflect.Uint8, reflect.Uint16, reflect.Uint32:
			configValue.SetUint(uint64(c.Uint(flagName)))
		case reflect.Uint64:
			configValue.SetUint(c.Uint64(flagName))
		case reflect.Float32, reflect.Float64:
			configValue.SetFloat(c.Float64(flagName))
		case reflect.Slice:
			configValue.Set(reflect.ValueOf(c.StringSlice(flagName)))
		default:
			return fmt.Errorf("unsupported generated cli flag type for config: %s is a %s", flagName, kind.String())
		}
	}

	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("key-file") {
		conf.KeyFile = c.String("key-file")
	}
	if c.IsSet("keys") {
		if err := conf.unmarshalKeys(c.String("keys")); err != nil {
			return errors.New("Could not parse keys, it needs to be exactly, \"key: secret\", including the space")
		}
	}
	if c.IsSet("redis-host") {
		conf.Redis.Address = c.String("redis-host")
	}
	if c.IsSet("redis-password") {
		conf.Redis.Password = c.String("redis-password")
	}
	if c.IsSet("bind") {
		conf.BindAddresses = c.StringSlice("bind")
	}
	return nil
}

func (conf *Config) unmarshalKeys(keys string) error {
	temp := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(keys), temp); err != nil {
		return err
	}

	conf.Keys = make(map[string]string, len(temp))

	for key, val := range temp {
		if secret, ok := val.(string); ok {
			conf.Keys[key] = secret
		}
	}
	return nil
}

func InitLoggerFromConfig(conf *Config) {
	logger.InitFromConfig(conf.Logging.Config, "plainrtc", conf.Development)
}
