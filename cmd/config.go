package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	configForce bool
	configYAML  bool
)

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "opsassist"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage opsassist configuration.

Running bare 'opsassist config' is the same as 'opsassist config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configShowCmd.Flags().BoolVar(&configYAML, "yaml", false, "Print effective values as YAML")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is rendered by 'config init' from the effective values.
const configTemplate = `# opsassist configuration
# Effective values and their sources: opsassist config show
# Every key can also be set as OPSASSIST_<KEY>, e.g. OPSASSIST_SSH_HOST.

# State directory for the database and server record (default: ~/.config/opsassist)
# state_dir: {{ .StateDir }}

# SQLite history database
# db_path: {{ .DBPath }}

# HTTP API port for 'opsassist serve'
port: {{ .Port }}

# node_exporter style metrics endpoint
prometheus:
  url: "{{ .PrometheusURL }}"

# Managed host. Fix plans run here, one SSH session per command.
ssh:
  host: "{{ .SSHHost }}"
  port: {{ .SSHPort }}
  user: "{{ .SSHUser }}"
  # password: ""
  # key_file: ~/.ssh/id_ed25519
  # known_hosts: ~/.ssh/known_hosts

anthropic:
  # Falls back to $ANTHROPIC_API_KEY
  # api_key: ""
  model: "{{ .AnthropicModel }}"

executor:
  poll_interval: {{ .PollInterval }}
  # Upper bound for 'ask --approve' waiting on an execution
  max_wait: {{ .MaxWait }}

# YAML file with extra blacklist patterns and an optional program whitelist
policy:
  file: "{{ .PolicyFile }}"

# Publish workflow events to NATS when set, e.g. nats://localhost:4222
nats:
  url: "{{ .NATSURL }}"

history:
  enabled: {{ .HistoryEnabled }}
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	Port           int
	PrometheusURL  string
	SSHHost        string
	SSHPort        int
	SSHUser        string
	AnthropicModel string
	PollInterval   string
	MaxWait        string
	PolicyFile     string
	NATSURL        string
	HistoryEnabled bool
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		Port:           viper.GetInt("port"),
		PrometheusURL:  viper.GetString("prometheus.url"),
		SSHHost:        viper.GetString("ssh.host"),
		SSHPort:        viper.GetInt("ssh.port"),
		SSHUser:        viper.GetString("ssh.user"),
		AnthropicModel: viper.GetString("anthropic.model"),
		PollInterval:   viper.GetDuration("executor.poll_interval").String(),
		MaxWait:        viper.GetDuration("executor.max_wait").String(),
		PolicyFile:     viper.GetString("policy.file"),
		NATSURL:        viper.GetString("nats.url"),
		HistoryEnabled: viper.GetBool("history.enabled"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "OPSASSIST_STATE_DIR"},
	{Key: "db_path", EnvVar: "OPSASSIST_DB_PATH"},
	{Key: "port", EnvVar: "OPSASSIST_PORT"},
	{Key: "prometheus.url", EnvVar: "OPSASSIST_PROMETHEUS_URL"},
	{Key: "ssh.host", EnvVar: "OPSASSIST_SSH_HOST"},
	{Key: "ssh.port", EnvVar: "OPSASSIST_SSH_PORT"},
	{Key: "ssh.user", EnvVar: "OPSASSIST_SSH_USER"},
	{Key: "ssh.password", EnvVar: "OPSASSIST_SSH_PASSWORD", Secret: true},
	{Key: "ssh.key_file", EnvVar: "OPSASSIST_SSH_KEY_FILE"},
	{Key: "ssh.known_hosts", EnvVar: "OPSASSIST_SSH_KNOWN_HOSTS"},
	{Key: "anthropic.api_key", EnvVar: "OPSASSIST_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "OPSASSIST_ANTHROPIC_MODEL"},
	{Key: "executor.poll_interval", EnvVar: "OPSASSIST_EXECUTOR_POLL_INTERVAL"},
	{Key: "executor.max_wait", EnvVar: "OPSASSIST_EXECUTOR_MAX_WAIT"},
	{Key: "policy.file", EnvVar: "OPSASSIST_POLICY_FILE"},
	{Key: "nats.url", EnvVar: "OPSASSIST_NATS_URL"},
	{Key: "history.enabled", EnvVar: "OPSASSIST_HISTORY_ENABLED"},
}

func configShowRun() error {
	if configYAML {
		return configShowYAML()
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret && viper.GetString(k.Key) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// configShowYAML prints every effective key as one YAML document, secrets
// masked.
func configShowYAML() error {
	settings := viper.AllSettings()
	for _, k := range configKeys {
		if k.Secret && viper.GetString(k.Key) != "" {
			setNested(settings, k.Key, "********")
		}
	}
	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = ui.Out.Write(out)
	return err
}

// setNested sets a dot-notation key in a map produced by viper.AllSettings.
func setNested(m map[string]any, key, val string) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
	m[parts[len(parts)-1]] = val
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; export EDITOR=vim or similar")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'opsassist config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
