package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change runtime settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current runtime settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one runtime setting",
	Long: `Change one runtime setting and persist it to SETTINGS_PATH.

A running server reads the settings file only at start; change settings of a
live server through PUT /api/v1/settings instead.

Keys:
  enableLiveness     true|false
  challengeMode      true|false
  cooldownSeconds    seconds between two accepted captures per identity and context
  matchThreshold     0..1
  livenessThreshold  0..1
  minDetectionScore  0..1
  mode               verified|open

Examples:
  face-attendance settings set mode open
  face-attendance settings set matchThreshold 0.9`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	settingsShowCmd.Flags().Bool("json", false, "Output as JSON")
}

func openSettingsStore() (*config.SettingsStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return config.OpenSettings(cfg.Settings.Path)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	store, err := openSettingsStore()
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(store.Get())
	}
	out, err := yaml.Marshal(store.Get())
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	store, err := openSettingsStore()
	if err != nil {
		return err
	}

	var applyErr error
	saved, err := store.Update(func(s *config.Settings) {
		applyErr = applySetting(s, args[0], args[1])
	})
	if applyErr != nil {
		return applyErr
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s updated (file: %s)\n", args[0], store.Path())
	out, _ := yaml.Marshal(saved)
	fmt.Print(string(out))
	return nil
}

// applySetting parses value into the field named key. Keys are matched
// case-insensitively against the YAML names.
func applySetting(s *config.Settings, key, value string) error {
	parseFloat := func(dst *float64) error {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", key, value)
		}
		*dst = v
		return nil
	}
	parseBool := func(dst *bool) error {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %q is not true or false", key, value)
		}
		*dst = v
		return nil
	}

	switch strings.ToLower(key) {
	case "enableliveness":
		return parseBool(&s.EnableLiveness)
	case "challengemode":
		return parseBool(&s.ChallengeMode)
	case "cooldownseconds":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", key, value)
		}
		s.CooldownSeconds = v
		return nil
	case "matchthreshold":
		return parseFloat(&s.MatchThreshold)
	case "livenessthreshold":
		return parseFloat(&s.LivenessThreshold)
	case "mindetectionscore":
		return parseFloat(&s.MinDetectionScore)
	case "mode":
		mode, err := config.ParseMode(value)
		if err != nil {
			return err
		}
		s.Mode = mode
		return nil
	}
	return fmt.Errorf("unknown setting %q", key)
}
