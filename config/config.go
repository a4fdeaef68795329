/* Copyright (c) 2016 Jason Ish
 * All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions
 * are met:
 *
 * 1. Redistributions of source code must retain the above copyright
 *    notice, this list of conditions and the following disclaimer.
 * 2. Redistributions in binary form must reproduce the above copyright
 *    notice, this list of conditions and the following disclaimer in the
 *    documentation and/or other materials provided with the distribution.
 *
 * THIS SOFTWARE IS PROVIDED ``AS IS'' AND ANY EXPRESS OR IMPLIED
 * WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
 * MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
 * DISCLAIMED. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY DIRECT,
 * INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES
 * (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
 * SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION)
 * HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT,
 * STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING
 * IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
 * POSSIBILITY OF SUCH DAMAGE.
 */

package config

import (
	"io/ioutil"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const EnvPrefix = "ICSDPI"

const (
	PolicyFirstMatch = "first-match"
	PolicyAllMatches = "all-matches"
)

// Vars are the address and port groups referenced from Suricata rules as
// $NAME. Names are upper case.
type Vars struct {
	AddressGroups map[string]string `mapstructure:"address-groups" yaml:"address-groups"`
	PortGroups    map[string]string `mapstructure:"port-groups" yaml:"port-groups"`
}

type Config struct {
	ModbusPort int  `mapstructure:"modbus-port" yaml:"modbus-port"`
	Strict     bool `mapstructure:"strict" yaml:"strict"`
	MaxLayers  int  `mapstructure:"max-layers" yaml:"max-layers"`

	Policy string `mapstructure:"policy" yaml:"policy"`

	IcsRules      string   `mapstructure:"ics-rules" yaml:"ics-rules"`
	SuricataRules []string `mapstructure:"suricata-rules" yaml:"suricata-rules"`

	// A suricata.yaml style file to read vars from, merged under Vars.
	VarsFile string `mapstructure:"vars-file" yaml:"vars-file"`

	Reload         bool          `mapstructure:"reload" yaml:"reload"`
	ReloadDebounce time.Duration `mapstructure:"reload-debounce" yaml:"reload-debounce"`

	Workers  int    `mapstructure:"workers" yaml:"workers"`
	LogLevel string `mapstructure:"log-level" yaml:"log-level"`

	Vars Vars `mapstructure:"vars" yaml:"vars"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("modbus-port", 502)
	v.SetDefault("strict", false)
	v.SetDefault("max-layers", 16)
	v.SetDefault("policy", PolicyFirstMatch)
	v.SetDefault("ics-rules", "")
	v.SetDefault("suricata-rules", []string{})
	v.SetDefault("vars-file", "")
	v.SetDefault("reload", false)
	v.SetDefault("reload-debounce", "500ms")
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("log-level", "info")
}

// AddFlags registers a command line flag for each setting. Flags bound with
// BindFlags override the config file and environment.
func AddFlags(flagset *pflag.FlagSet) {
	flagset.StringP("config", "c", "", "Configuration filename")
	flagset.Int("modbus-port", 502, "TCP/UDP port carrying Modbus")
	flagset.Bool("strict", false, "Treat unknown payloads and rule keywords as errors")
	flagset.Int("max-layers", 16, "Maximum number of layers to decode")
	flagset.String("policy", PolicyFirstMatch, "Match policy: first-match or all-matches")
	flagset.String("ics-rules", "", "ICS JSON rule file")
	flagset.StringSlice("suricata-rules", nil, "Suricata rule files, directories or globs")
	flagset.String("vars-file", "", "suricata.yaml to read address and port groups from")
	flagset.Bool("reload", false, "Reload rules when the files change")
	flagset.Duration("reload-debounce", 500*time.Millisecond, "Delay before reloading changed rules")
	flagset.Int("workers", runtime.NumCPU(), "Number of inspection workers")
	flagset.String("log-level", "info", "Log level: error, warning, info, debug")
}

func BindFlags(v *viper.Viper, flagset *pflag.FlagSet) error {
	var err error
	flagset.VisitAll(func(flag *pflag.Flag) {
		if flag.Name == "config" || err != nil {
			return
		}
		err = v.BindPFlag(flag.Name, flag)
	})
	return err
}

// LoadFlags loads the file named by the config flag with the flags
// registered by AddFlags on top.
func LoadFlags(flagset *pflag.FlagSet) (*Config, error) {
	filename, _ := flagset.GetString("config")
	v := viper.New()
	if err := BindFlags(v, flagset); err != nil {
		return nil, err
	}
	return Load(v, filename)
}

// Load layers defaults, the config file, ICSDPI_* environment variables
// and bound flags. With an empty filename icsdpi.yaml is looked for in the
// current directory and /etc/icsdpi, and it is not an error if there is
// none.
func Load(v *viper.Viper, filename string) (*Config, error) {
	SetDefaults(v)

	if filename != "" {
		v.SetConfigFile(filename)
		v.SetConfigType("yaml")
	} else {
		v.SetConfigName("icsdpi")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/icsdpi")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || filename != "" {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	var config Config
	err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if config.VarsFile != "" {
		vars, err := LoadVars(config.VarsFile)
		if err != nil {
			return nil, err
		}
		config.Vars.merge(vars)
	}
	config.Vars.normalize()

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.ModbusPort < 1 || c.ModbusPort > 65535 {
		return errors.Errorf("modbus-port out of range: %d", c.ModbusPort)
	}
	if c.MaxLayers < 1 {
		return errors.Errorf("max-layers must be positive: %d", c.MaxLayers)
	}
	switch c.Policy {
	case PolicyFirstMatch, PolicyAllMatches:
	default:
		return errors.Errorf("unknown policy: %s", c.Policy)
	}
	if c.Workers < 1 {
		return errors.Errorf("workers must be positive: %d", c.Workers)
	}
	if c.ReloadDebounce < 0 {
		return errors.Errorf("negative reload-debounce: %s", c.ReloadDebounce)
	}
	return nil
}

func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Viper lower cases keys; rules reference vars in upper case.
func (v *Vars) normalize() {
	upper := func(in map[string]string) map[string]string {
		out := make(map[string]string, len(in))
		for name, value := range in {
			out[strings.ToUpper(name)] = value
		}
		return out
	}
	v.AddressGroups = upper(v.AddressGroups)
	v.PortGroups = upper(v.PortGroups)
}

// merge adds the groups of other that are not already set.
func (v *Vars) merge(other *Vars) {
	if v.AddressGroups == nil {
		v.AddressGroups = map[string]string{}
	}
	if v.PortGroups == nil {
		v.PortGroups = map[string]string{}
	}
	for name, value := range other.AddressGroups {
		if _, ok := v.AddressGroups[strings.ToLower(name)]; !ok {
			v.AddressGroups[strings.ToLower(name)] = value
		}
	}
	for name, value := range other.PortGroups {
		if _, ok := v.PortGroups[strings.ToLower(name)]; !ok {
			v.PortGroups[strings.ToLower(name)] = value
		}
	}
}

// LoadVars reads the vars section of a suricata.yaml.
func LoadVars(filename string) (*Vars, error) {
	var doc struct {
		Vars Vars `yaml:"vars"`
	}
	if err := LoadConfigTo(filename, &doc); err != nil {
		return nil, errors.Wrapf(err, "failed to load vars from %s", filename)
	}
	doc.Vars.normalize()
	return &doc.Vars, nil
}

func LoadConfigTo(filename string, output interface{}) error {
	buf, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(buf, output)
}
