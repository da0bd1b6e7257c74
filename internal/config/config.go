// Package config parses the LTFS configuration-file grammar described in
// §6 (plugin/default/option/include directives) and loads the simulated
// tape backend's options via viper, matching the teacher's viper-based
// config loading idiom.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	lerrors "github.com/deploymenttheory/go-ltfs/internal/errors"
)

// PluginType enumerates the plugin categories the directive grammar
// accepts.
type PluginType string

const (
	PluginIOSched PluginType = "iosched"
	PluginDriver  PluginType = "driver"
	PluginKMI     PluginType = "kmi"
	PluginDCache  PluginType = "dcache"
	PluginChanger PluginType = "changer"
	PluginCrepos  PluginType = "crepos"
)

var validPluginTypes = map[PluginType]bool{
	PluginIOSched: true, PluginDriver: true, PluginKMI: true,
	PluginDCache: true, PluginChanger: true, PluginCrepos: true,
}

// pluginKey identifies one declared plugin by type+name.
type pluginKey struct {
	Type PluginType
	Name string
}

// Config is the parsed result of one configuration file (with includes
// flattened in).
type Config struct {
	Plugins  map[pluginKey]string       // type+name -> path
	Defaults map[PluginType]string      // type -> default plugin name, or "none"
	Options  map[PluginType][]string    // type -> accumulated option strings
}

func newConfig() *Config {
	return &Config{
		Plugins:  make(map[pluginKey]string),
		Defaults: make(map[PluginType]string),
		Options:  make(map[PluginType][]string),
	}
}

// reservedOptionTypes are the plugin types whose options are passed
// through verbatim rather than prefixed with "-o".
var reservedOptionTypes = map[PluginType]bool{
	PluginDriver: true,
}

// Parse reads a configuration file (and any included files) from path.
func Parse(path string) (*Config, error) {
	cfg := newConfig()
	if err := parseInto(cfg, path, false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseInto(cfg *Config, path string, noErrorIfMissing bool) error {
	const op = "config.Parse"
	f, err := os.Open(path)
	if err != nil {
		if noErrorIfMissing && os.IsNotExist(err) {
			return nil
		}
		return lerrors.Wrap(op, lerrors.KindBadArg, err)
	}
	defer f.Close()
	return parseStream(cfg, f, path)
}

func parseStream(cfg *Config, r io.Reader, sourcePath string) error {
	const op = "config.Parse"
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimRight(line, " \t")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := applyDirective(cfg, line, sourcePath); err != nil {
			return lerrors.Wrap(op, lerrors.KindBadArg, fmt.Errorf("%s:%d: %w", sourcePath, lineNo, err))
		}
	}
	return scanner.Err()
}

func applyDirective(cfg *Config, line, sourcePath string) error {
	fields := strings.Fields(line)
	directive := fields[0]
	args := fields[1:]

	switch directive {
	case "plugin":
		if len(args) != 3 {
			return fmt.Errorf("plugin directive wants TYPE NAME PATH")
		}
		t := PluginType(args[0])
		if !validPluginTypes[t] {
			return fmt.Errorf("unknown plugin type %q", args[0])
		}
		cfg.Plugins[pluginKey{t, args[1]}] = args[2]

	case "-plugin":
		if len(args) != 2 {
			return fmt.Errorf("-plugin directive wants TYPE NAME")
		}
		delete(cfg.Plugins, pluginKey{PluginType(args[0]), args[1]})

	case "default":
		if len(args) != 2 {
			return fmt.Errorf("default directive wants TYPE NAME")
		}
		t := PluginType(args[0])
		if !validPluginTypes[t] {
			return fmt.Errorf("unknown plugin type %q", args[0])
		}
		if args[1] != "none" {
			if _, ok := cfg.Plugins[pluginKey{t, args[1]}]; !ok {
				return fmt.Errorf("default plugin %s/%s was never declared", args[0], args[1])
			}
		}
		cfg.Defaults[t] = args[1]

	case "-default":
		if len(args) != 1 {
			return fmt.Errorf("-default directive wants TYPE")
		}
		delete(cfg.Defaults, PluginType(args[0]))

	case "option":
		if len(args) < 2 {
			return fmt.Errorf("option directive wants TYPE OPT")
		}
		t := PluginType(args[0])
		opt := strings.Join(args[1:], " ")
		if !reservedOptionTypes[t] && !strings.HasPrefix(opt, "-o") {
			opt = "-o " + opt
		}
		cfg.Options[t] = append(cfg.Options[t], opt)

	case "include":
		return parseInto(cfg, resolveInclude(sourcePath, args), false)

	case "include_noerror":
		return parseInto(cfg, resolveInclude(sourcePath, args), true)

	default:
		return fmt.Errorf("unknown directive %q", directive)
	}
	return nil
}

func resolveInclude(sourcePath string, args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
