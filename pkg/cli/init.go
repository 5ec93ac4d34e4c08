package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
)

var (
	initForce    bool
	initOutput   string
	initFormat   string
	initDefaults bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter simulator configuration file",
	Long: `Create a starter simulator configuration file.

By default an interactive wizard asks for the mode, a deployment, and its
quota. Use --defaults to skip the prompts and write a generate-mode config
with two example deployments.`,
	Example: `  # Interactive wizard (default)
  aoaisim init

  # Generate a starter config without prompts
  aoaisim init --defaults

  # Custom output file
  aoaisim init -o my-simulator.yaml

  # Create a JSON config
  aoaisim init --format json -o simulator.json

  # Overwrite existing config
  aoaisim init --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit()
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "simulator.yaml", "Output filename")
	initCmd.Flags().StringVar(&initFormat, "format", "", "Output format: yaml or json (default: inferred from filename)")
	initCmd.Flags().BoolVar(&initDefaults, "defaults", false, "Generate a starter config without prompts")
	rootCmd.AddCommand(initCmd)
}

// runInit creates the config file from the wizard or the built-in starter.
func runInit() error {
	// Determine output format
	outputFormat := strings.ToLower(initFormat)
	if outputFormat == "" {
		// Infer from filename extension
		ext := strings.ToLower(filepath.Ext(initOutput))
		if ext == ".json" {
			outputFormat = "json"
		} else {
			outputFormat = "yaml"
		}
	}
	if outputFormat != "yaml" && outputFormat != "json" {
		return fmt.Errorf("invalid format: %s (must be yaml or json)", outputFormat)
	}

	// Check if file already exists
	if _, err := os.Stat(initOutput); err == nil {
		if !initForce {
			return fmt.Errorf("file already exists: %s\n\nUse --force to overwrite", initOutput)
		}
	}

	var cfg *config.Config
	if initDefaults {
		cfg = starterConfig()
	} else {
		wizardCfg, err := runInitWizard()
		if err != nil {
			return err
		}
		cfg = wizardCfg
	}

	var data []byte
	var err error
	if outputFormat == "json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to generate JSON: %w", err)
		}
		data = append(data, '\n')
	} else {
		data, err = generateYAMLWithComments(cfg)
		if err != nil {
			return fmt.Errorf("failed to generate YAML: %w", err)
		}
	}

	if err := os.WriteFile(initOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	printInitNextSteps(cfg)
	return nil
}

// starterConfig is the config written by --defaults: generate mode with a
// chat and an embeddings deployment.
func starterConfig() *config.Config {
	return &config.Config{
		Mode: config.ModeGenerate,
		OpenAIDeployments: map[string]*config.Deployment{
			"gpt-35-turbo": {
				Model:           "gpt-3.5-turbo",
				TokensPerMinute: 60000,
				Latency:         &config.Latency{MeanMs: 1000, StdDevMs: 200},
			},
			"text-embedding-ada-002": {
				Model:           "text-embedding-ada-002",
				TokensPerMinute: 120000,
			},
		},
	}
}

// runInitWizard prompts for the essential configuration choices.
func runInitWizard() (*config.Config, error) {
	mode := config.ModeGenerate
	deploymentName := "gpt-35-turbo"
	model := "gpt-3.5-turbo"
	tokensPerMinute := "60000"
	latencyMs := "1000"
	var forwardURL, forwardKey string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which mode should the simulator start in?").
				Options(
					huh.NewOption("generate - synthesize responses locally", config.ModeGenerate),
					huh.NewOption("record - forward to Azure and capture the exchanges", config.ModeRecord),
					huh.NewOption("replay - serve captured exchanges", config.ModeReplay),
				).
				Value(&mode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Deployment name").
				Placeholder("gpt-35-turbo").
				Value(&deploymentName).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("deployment name is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Model reported in responses").
				Value(&model),
			huh.NewInput().
				Title("Tokens-per-minute quota").
				Value(&tokensPerMinute).
				Validate(validateInt),
			huh.NewInput().
				Title("Mean response latency in milliseconds (0 = none)").
				Value(&latencyMs).
				Validate(validateInt),
		).WithHideFunc(func() bool {
			return mode != config.ModeGenerate
		}),
		huh.NewGroup(
			huh.NewInput().
				Title("Upstream Azure OpenAI endpoint").
				Placeholder("https://myresource.openai.azure.com").
				Value(&forwardURL).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("record mode needs an upstream endpoint")
					}
					return nil
				}),
			huh.NewInput().
				Title("Upstream api-key (empty = read AZURE_OPENAI_KEY at startup)").
				EchoMode(huh.EchoModePassword).
				Value(&forwardKey),
		).WithHideFunc(func() bool {
			return mode != config.ModeRecord
		}),
	)

	if err := form.Run(); err != nil {
		return nil, err
	}

	cfg := &config.Config{Mode: mode}

	switch mode {
	case config.ModeGenerate:
		tpm, _ := strconv.Atoi(tokensPerMinute)
		deployment := &config.Deployment{Model: model, TokensPerMinute: tpm}
		if ms, _ := strconv.Atoi(latencyMs); ms > 0 {
			deployment.Latency = &config.Latency{MeanMs: float64(ms)}
		}
		cfg.OpenAIDeployments = map[string]*config.Deployment{deploymentName: deployment}
	case config.ModeRecord:
		cfg.Recording.ForwardURL = forwardURL
		cfg.Recording.ForwardKey = forwardKey
	}

	return cfg, nil
}

// validateInt rejects values strconv cannot parse as a non-negative integer.
func validateInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.New("enter a whole number")
	}
	if n < 0 {
		return errors.New("enter a non-negative number")
	}
	return nil
}

// generateYAMLWithComments generates YAML output with header comments.
func generateYAMLWithComments(cfg *config.Config) ([]byte, error) {
	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	header := `# simulator.yaml
# Generated by: aoaisim init
#
# Start server:  aoaisim serve --config simulator.yaml
# The API key is printed at startup when not configured here.

`
	return append([]byte(header), yamlData...), nil
}

// printInitNextSteps prints the success message with a mode-appropriate hint.
func printInitNextSteps(cfg *config.Config) {
	fmt.Printf("Created %s\n", initOutput)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  aoaisim serve --config %s\n", initOutput)

	port := cfg.Port
	if port == 0 {
		port = config.DefaultPort
	}

	switch cfg.Mode {
	case config.ModeRecord:
		fmt.Println("  # requests to /openai/... are forwarded upstream and captured")
	case config.ModeReplay:
		dir := cfg.Recording.Dir
		if dir == "" {
			dir = config.DefaultRecordingDir
		}
		fmt.Printf("  # responses are served from the recordings in %s\n", dir)
	default:
		deployment := "gpt-35-turbo"
		if len(cfg.OpenAIDeployments) > 0 {
			names := make([]string, 0, len(cfg.OpenAIDeployments))
			for name := range cfg.OpenAIDeployments {
				names = append(names, name)
			}
			sort.Strings(names)
			deployment = names[0]
		}
		fmt.Printf("  curl -H \"api-key: $SIMULATOR_API_KEY\" \"http://localhost:%d/openai/deployments/%s/chat/completions?api-version=2024-02-01\" -d '{\"messages\":[{\"role\":\"user\",\"content\":\"Hello\"}]}'\n", port, deployment)
	}
}
