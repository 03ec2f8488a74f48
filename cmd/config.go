package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/samsaffron/chatcore/internal/config"
	"github.com/samsaffron/chatcore/internal/llm"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatcore configuration",
	Long: `View or edit your chatcore configuration.

Examples:
  chatcore config                              # show effective config
  chatcore config path                         # print config file path
  chatcore config get agent.mistake_limit
  chatcore config set agent.tool_mode prompt`,
	RunE: configShow, // Default to show
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	RunE:  configPath,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value while preserving comments.

Examples:
  chatcore config set provider openai
  chatcore config set anthropic.model claude-opus-4-5
  chatcore config set agent.max_iterations 30
  chatcore config set tools.confirm_timeout 2m`,
	Args:              cobra.ExactArgs(2),
	RunE:              configSet,
	ValidArgsFunction: configSetCompletion,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long: `Get a configuration value from the config file.

Examples:
  chatcore config get provider
  chatcore config get agent.tool_mode`,
	Args:              cobra.ExactArgs(1),
	RunE:              configGet,
	ValidArgsFunction: configGetCompletion,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
}

// configKeys lists the scalar keys config set and get complete.
var configKeys = []string{
	"provider",
	"anthropic.api_key", "anthropic.model",
	"openai.api_key", "openai.model", "openai.base_url",
	"gemini.api_key", "gemini.model",
	"agent.max_iterations", "agent.mistake_limit", "agent.tool_mode", "agent.system_prompt",
	"tools.call_timeout", "tools.confirm_timeout",
	"stream.throttle",
	"session.enabled", "session.path", "session.max_age_days",
	"mcp.config",
}

func configShow(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		var err error
		if path, err = config.GetConfigPath(); err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		fmt.Fprintf(out, "# No config file (using defaults)\n")
		fmt.Fprintf(out, "# Create one at: %s\n\n", path)
	} else {
		fmt.Fprintf(out, "# %s\n\n", path)
	}

	data, err := yaml.Marshal(effectiveConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// effectiveConfig renders cfg under its config-file keys with credentials
// masked.
func effectiveConfig(cfg *config.Config) map[string]any {
	confirm := make([]map[string]string, 0, len(cfg.Tools.Confirm))
	for _, rule := range cfg.Tools.Confirm {
		entry := map[string]string{"tool": rule.Tool, "risk": rule.Risk}
		if rule.Summary != "" {
			entry["summary"] = rule.Summary
		}
		confirm = append(confirm, entry)
	}
	return map[string]any{
		"provider":  cfg.Provider,
		"anthropic": map[string]string{"api_key": maskSecret(cfg.Anthropic.APIKey), "model": cfg.Anthropic.Model},
		"openai":    map[string]string{"api_key": maskSecret(cfg.OpenAI.APIKey), "model": cfg.OpenAI.Model, "base_url": cfg.OpenAI.BaseURL},
		"gemini":    map[string]string{"api_key": maskSecret(cfg.Gemini.APIKey), "model": cfg.Gemini.Model},
		"agent": map[string]any{
			"max_iterations": cfg.Agent.MaxIterations,
			"mistake_limit":  cfg.Agent.MistakeLimit,
			"tool_mode":      cfg.Agent.ToolMode,
			"system_prompt":  cfg.Agent.SystemPrompt,
		},
		"tools": map[string]any{
			"call_timeout":    cfg.Tools.CallTimeout.String(),
			"confirm_timeout": cfg.Tools.ConfirmTimeout.String(),
			"confirm":         confirm,
		},
		"stream":  map[string]string{"throttle": cfg.Stream.Throttle.String()},
		"session": map[string]any{"enabled": cfg.Session.Enabled, "path": cfg.Session.Path, "max_age_days": cfg.Session.MaxAgeDays},
		"mcp":     map[string]any{"config": cfg.MCP.Config, "servers": cfg.MCP.Servers},
	}
}

// maskSecret keeps the last four characters of a credential.
func maskSecret(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}

func configPath(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func configSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	path, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Read existing file or create empty document
	var root yaml.Node
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		root = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	case err != nil:
		return fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &root); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := setYAMLValue(&root, strings.Split(key, "."), value); err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&root); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	encoder.Close()

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
	return nil
}

// setYAMLValue navigates/creates the path in a yaml.Node tree and sets the value
func setYAMLValue(root *yaml.Node, path []string, value string) error {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("invalid document structure")
	}
	current := root.Content[0]
	if current.Kind != yaml.MappingNode {
		return fmt.Errorf("root is not a mapping")
	}

	for i, part := range path {
		isLast := i == len(path)-1

		found := false
		for j := 0; j < len(current.Content); j += 2 {
			if current.Content[j].Value != part {
				continue
			}
			next := current.Content[j+1]
			if isLast {
				next.Kind = yaml.ScalarNode
				next.Value = value
				next.Tag = ""
				next.Content = nil
			} else if next.Kind != yaml.MappingNode {
				next.Kind = yaml.MappingNode
				next.Content = nil
				next.Value = ""
				next.Tag = ""
			}
			current = next
			found = true
			break
		}
		if found {
			continue
		}

		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: part}
		if isLast {
			current.Content = append(current.Content, keyNode, &yaml.Node{Kind: yaml.ScalarNode, Value: value})
		} else {
			mapping := &yaml.Node{Kind: yaml.MappingNode}
			current.Content = append(current.Content, keyNode, mapping)
			current = mapping
		}
	}
	return nil
}

func configGet(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file does not exist")
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	value, err := getYAMLValue(&root, strings.Split(args[0], "."))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

// getYAMLValue navigates the yaml.Node tree and returns the value at path
func getYAMLValue(root *yaml.Node, path []string) (string, error) {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return "", fmt.Errorf("invalid document structure")
	}

	current := root.Content[0]
	for _, part := range path {
		if current.Kind != yaml.MappingNode {
			return "", fmt.Errorf("path not found: expected mapping")
		}
		found := false
		for j := 0; j < len(current.Content); j += 2 {
			if current.Content[j].Value == part {
				current = current.Content[j+1]
				found = true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("key not found: %s", part)
		}
	}

	if current.Kind == yaml.ScalarNode {
		return current.Value, nil
	}
	return "", fmt.Errorf("value is not a scalar")
}

func configSetCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	switch len(args) {
	case 0:
		return filterPrefix(configKeys, toComplete), cobra.ShellCompDirectiveNoFileComp
	case 1:
		return configValueCompletions(args[0], toComplete), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func configGetCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return filterPrefix(configKeys, toComplete), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func configValueCompletions(key, toComplete string) []string {
	switch key {
	case "provider":
		return filterPrefix(llm.BuiltInProviderNames(), toComplete)
	case "agent.tool_mode":
		return filterPrefix([]string{config.ToolModeFunction, config.ToolModePrompt}, toComplete)
	case "session.enabled":
		return filterPrefix([]string{"true", "false"}, toComplete)
	}
	return nil
}

// filterPrefix filters a slice to items starting with prefix
func filterPrefix(items []string, prefix string) []string {
	var result []string
	for _, item := range items {
		if strings.HasPrefix(item, prefix) {
			result = append(result, item)
		}
	}
	return result
}
