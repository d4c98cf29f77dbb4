package config

import (
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CustomHooks is passed to viper.Unmarshal. Viper keeps only the last DecodeHook option, so the hooks are composed
// into one. Types implementing encoding.TextUnmarshaler (log levels, ssl modes, executor modes) decode themselves.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)),
}
