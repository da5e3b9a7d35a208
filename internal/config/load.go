// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"ip":              "listen.ip",
	"port":            "listen.port",
	"autostart":       "listen.autostart",
	"max-connections": "connections.max",
	"prompt":          "shell.prompt",
	"script":          "shell.script",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"metrics-addr":    "metrics.addr",
	"control-socket":  "control.socket",
}

// RegisterFlags adds the configuration flags to fs. Only flags the user
// sets override the file.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("ip", "i", d.Listen.IP, "interface address for the telnet listener")
	fs.IntP("port", "p", d.Listen.Port, "telnet port")
	fs.Bool("autostart", d.Listen.Autostart, "start the telnet listener with the server")
	fs.Int("max-connections", d.Connections.Max, "maximum concurrent connections")
	fs.String("prompt", d.Shell.Prompt, "builtin shell prompt")
	fs.String("script", "", "Lua script with extra shell commands")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("control-socket", "", "control socket path (default: XDG runtime dir)")
}

// Load builds the configuration from defaults, the YAML file at path
// (skipped when path is empty) and the changed flags in fs (may be nil).
// A missing file is an error only when required is true.
func Load(path string, required bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		switch {
		case errors.Is(err, fs.ErrNotExist) && !required:
		case err != nil:
			return nil, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "reading config")
		default:
			if err := ValidateYAML(data); err != nil {
				return nil, oops.Code(CodeInvalid).With("path", path).Wrap(err)
			}
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "loading config")
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", nil, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeInvalid).Wrapf(err, "loading flags")
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
