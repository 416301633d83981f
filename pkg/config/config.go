package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load reads config/{service}.yaml (or ./{service}.yaml) into out. Keys can be
// overridden from the environment, e.g. QUOTES_GATEWAY_HTTP_ADDR for http.addr.
// A missing file is not an error: defaults and environment still apply.
//
// When onChange is non-nil the file is watched and out is re-unmarshalled on
// every change before onChange runs.
func Load(service string, out interface{}, defaults map[string]interface{}, onChange func()) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(envPrefix(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fromFile := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fromFile = false
		log.Printf("[%s] no config file, using defaults and environment", service)
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	if !fromFile {
		return v, nil
	}
	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())

	if onChange != nil {
		v.OnConfigChange(func(e fsnotify.Event) {
			log.Printf("[%s] config file changed: %s", service, e.Name)
			if err := v.Unmarshal(out); err != nil {
				log.Printf("[%s] reload config error: %v", service, err)
				return
			}
			onChange()
		})
		v.WatchConfig()
	}
	return v, nil
}

func envPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
