package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/tally/internal/support/util/exception"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

// Load reads the optional .env file, the audit catalog and the runtime
// config, and applies environment overrides to the runtime config. The
// catalog is parsed verbatim: its ${...} tokens are job placeholders
// resolved at expansion time, never environment references.
func Load(envFile, catalogPath, dbPath string) (*Catalog, *DBConfig, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, nil, err
	}
	catalog, err := LoadCatalog(catalogPath)
	if err != nil {
		return nil, nil, err
	}
	dbCfg, err := LoadDBConfig(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return catalog, dbCfg, nil
}

// loadDotEnv loads envFile into the process environment. An explicitly
// named file must exist; the default .env is best-effort.
func loadDotEnv(envFile string) error {
	const op = "config.loadDotEnv"
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			logger.Debugf("%s: no .env file found, skipping", op)
		}
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return exception.NewAuditErrorf(moduleName, "failed to load env file '%s'", envFile, err)
	}
	return nil
}

// LoadCatalog parses and validates the audit catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	const op = "config.LoadCatalog"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "failed to read catalog file '%s'", path, err)
	}
	catalog := NewCatalog()
	if err := yaml.Unmarshal(data, catalog); err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "failed to parse catalog file '%s'", path, err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "invalid catalog '%s'", path, err)
	}
	logger.Debugf("%s: loaded %d schedule(s) from '%s'", op, len(catalog.Schedules), path)
	return catalog, nil
}

// LoadDBConfig parses the runtime config at path, expanding ${VAR}
// references from the environment and then applying per-field environment
// overrides.
func LoadDBConfig(path string) (*DBConfig, error) {
	const op = "config.LoadDBConfig"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "failed to read runtime config '%s'", path, err)
	}
	expanded := NewOsEnvironmentExpander().Expand(string(data))
	cfg := NewDBConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "failed to parse runtime config '%s'", path, err)
	}
	if err := loadStructFromEnv("", reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "failed to apply environment overrides", err)
	}
	applyTargetedEnv(cfg)
	logger.Debugf("%s: loaded runtime config from '%s'", op, path)
	return cfg, nil
}

// loadStructFromEnv overrides struct fields from environment variables named
// after the yaml tag path, upper-cased and joined with underscores
// (mysql.pool_size -> MYSQL_POOL_SIZE). Slices and unexported fields are
// skipped.
func loadStructFromEnv(prefix string, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		tag := t.Field(i).Tag.Get("yaml")
		if tag == "" || tag == "-" {
			continue
		}
		tag = strings.Split(tag, ",")[0]
		key := strings.ToUpper(prefix + tag)
		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(key+"_", field); err != nil {
				return err
			}
			continue
		}
		raw, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("environment variable %s: %w", key, err)
		}
		logger.Debugf("config: %s overridden from environment", key)
	}
	return nil
}

// setField assigns a string environment value to a scalar struct field.
func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer '%s'", raw)
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid float '%s'", raw)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean '%s'", raw)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// applyTargetedEnv applies the well-known deployment variables that do not
// map onto the yaml tag scheme. CLICKHOUSE_HOST and HDFS_COUNTER_JAR
// override the config; JAVA_HOME and HADOOP_CONF_DIR only fill gaps because
// they are ambient on most Hadoop edge nodes.
func applyTargetedEnv(cfg *DBConfig) {
	if hosts := os.Getenv("CLICKHOUSE_HOST"); hosts != "" {
		var parsed []string
		for _, h := range strings.Split(hosts, ",") {
			if h = strings.TrimSpace(h); h != "" {
				parsed = append(parsed, h)
			}
		}
		if len(parsed) > 0 {
			cfg.ClickHouse.Hosts = parsed
		}
	}
	if jar := os.Getenv("HDFS_COUNTER_JAR"); jar != "" {
		cfg.Counter.JarPath = jar
	}
	if cfg.Counter.JavaHome == "" {
		cfg.Counter.JavaHome = os.Getenv("JAVA_HOME")
	}
	if cfg.Counter.HadoopConfDir == "" {
		cfg.Counter.HadoopConfDir = os.Getenv("HADOOP_CONF_DIR")
	}
}

// ResolveWatermarkPath returns the effective watermark file path. An empty
// configured path defaults to a watermark.json sibling of the catalog file;
// relative paths resolve against the catalog directory.
func (d *DBConfig) ResolveWatermarkPath(catalogPath string) string {
	p := d.Watermark.Path
	if p == "" {
		p = "watermark.json"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(catalogPath), p)
}
