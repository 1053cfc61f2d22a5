package config

import (
	"fmt"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"log"
	"os"
	"reflect"
	"strings"
)

var Config *MainConfig
var ConfigChanged bool

// SiteConfig carries per-site tuning. Everything a site understands
// beyond the fixed fields (http headers, proxy, geo override, api
// hosts) travels in ExtraConfig.
type SiteConfig struct {
	Name        string
	Disabled    bool
	ExtraConfig map[string]interface{}
}

type MainConfig struct {
	LogFile         string
	LogFileSize     int
	LogLevel        string
	DownloadDir     string
	OutputTemplate  string
	DownloadQuality string
	RequestPerSec   int
	RateLimitKBps   int
	HLSWorkers      int
	RedisHost       string
	NotifyChannel   string
	PprofHost       string
	Sites           []SiteConfig
	ExtraConfig     map[string]interface{}
}

func defaultConfig() *MainConfig {
	return &MainConfig{
		LogFile:         "plugdl.log",
		LogFileSize:     50,
		LogLevel:        "info",
		DownloadDir:     ".",
		OutputTemplate:  "%(title)s [%(id)s].%(ext)s",
		DownloadQuality: "best",
		RequestPerSec:   10,
		HLSWorkers:      8,
	}
}

// InitConfig reads the config file if one is present. An explicitly
// given path must exist, the default search is allowed to come up
// empty and we run on defaults.
func InitConfig(path string) {
	log.Print("Init config!")
	explicit := initConfig(path)
	_, err := ReloadConfig()
	if err != nil && explicit {
		fmt.Printf("config file error: %s\n", err)
		os.Exit(1)
	}
}

func initConfig(path string) bool {
	explicit := path != ""
	if explicit {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("plugdl")
		viper.SetConfigType("json")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.config/plugdl")
		}
	}
	err := viper.ReadInConfig()
	if err != nil {
		if explicit {
			fmt.Printf("config file error: %s\n", err)
			os.Exit(1)
		}
		Config = defaultConfig()
		return explicit
	}
	viper.WatchConfig()
	ConfigChanged = true
	viper.OnConfigChange(func(in fsnotify.Event) {
		ConfigChanged = true
	})
	return explicit
}

func ReloadConfig() (bool, error) {
	if !ConfigChanged {
		return false, nil
	}
	ConfigChanged = false
	if viper.ConfigFileUsed() == "" {
		if Config == nil {
			Config = defaultConfig()
		}
		return true, nil
	}
	err := viper.ReadInConfig()
	if err != nil {
		return true, err
	}
	config := defaultConfig()
	err = viper.Unmarshal(config, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			func(inType reflect.Type, outType reflect.Type, input interface{}) (interface{}, error) {
				if inType.Kind() == reflect.Map && outType.Kind() == reflect.Struct { // we'll decoding a struct
					fieldsMap := make(map[string]reflect.StructField, 10)
					for i := 0; i < outType.NumField(); i++ {
						fieldsMap[strings.ToLower(outType.Field(i).Name)] = outType.Field(i)
					}
					inputMap, ok := input.(map[string]interface{})
					if !ok {
						return input, nil
					}
					extraConfig := make(map[string]interface{}, 5)
					inputMap["ExtraConfig"] = extraConfig
					for key := range inputMap {
						_, ok := fieldsMap[strings.ToLower(key)]
						if !ok {
							extraConfig[key] = inputMap[key]
						}
					}
				}
				return input, nil
			},
			c.DecodeHook)
	})
	if err != nil {
		return true, err
	}
	Config = config

	UpdateLogLevel()
	return true, nil
}

func UpdateLogLevel() {
	level := logrus.InfoLevel
	if Config.LogLevel == "debug" {
		level = logrus.DebugLevel
	} else if Config.LogLevel == "info" {
		level = logrus.InfoLevel
	} else if Config.LogLevel == "warn" {
		level = logrus.WarnLevel
	} else if Config.LogLevel == "error" {
		level = logrus.ErrorLevel
	}
	logrus.SetLevel(level)
	log.Printf("Set log level to %s", level)
}

// GetSite looks up the per-site block by name, nil when unconfigured.
func GetSite(name string) *SiteConfig {
	if Config == nil {
		return nil
	}
	for i := range Config.Sites {
		if strings.EqualFold(Config.Sites[i].Name, name) {
			return &Config.Sites[i]
		}
	}
	return nil
}
