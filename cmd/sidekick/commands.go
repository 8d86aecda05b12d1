package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kalambet/sidekick/internal/commentary"
	"github.com/kalambet/sidekick/internal/companion"
	"github.com/kalambet/sidekick/internal/config"
	"github.com/kalambet/sidekick/internal/scheduler"
	"github.com/kalambet/sidekick/internal/storage"
)

// viaDaemon runs remote against the daemon when it is up so the change is
// applied live, and local otherwise.
func viaDaemon(ctx context.Context, remote func(*apiClient) error, local func() error) error {
	if c := runningDaemon(ctx); c != nil {
		return remote(c)
	}
	return local()
}

func requireDaemon(ctx context.Context) (*apiClient, error) {
	c := runningDaemon(ctx)
	if c == nil {
		return nil, errors.New("sidekick is not running; start it with `sidekick start`")
	}
	return c, nil
}

func localSettings() *config.Settings {
	return config.NewSettings(config.Backend(), nil)
}

func localCatalog() (*companion.Catalog, error) {
	return companion.Load(filepath.Join(config.ConfigDir(), "companions.yaml"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		err := viaDaemon(cmd.Context(),
			func(c *apiClient) error {
				resp, err := c.put(cmd.Context(), "/v1/settings", map[string]string{"key": key, "value": value})
				if err != nil {
					return err
				}
				return decodeJSON(resp, nil)
			},
			func() error { return config.SetKey(key, value) },
		)
		if err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- key ---

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the LLM API credential",
}

var keySetCmd = &cobra.Command{
	Use:   "set [value]",
	Short: "Store the API credential (reads stdin when no value is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value string
		if len(args) == 1 {
			value = strings.TrimSpace(args[0])
		} else {
			fmt.Fprint(os.Stderr, "API key: ")
			v, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			value = v
		}
		if value == "" {
			return errors.New("credential must not be empty")
		}

		err := viaDaemon(cmd.Context(),
			func(c *apiClient) error {
				resp, err := c.put(cmd.Context(), "/v1/credential", map[string]string{"key": value})
				if err != nil {
					return err
				}
				return decodeJSON(resp, nil)
			},
			func() error { return config.NewSecrets(config.NewKeychain(), nil).Store(value) },
		)
		if err != nil {
			return err
		}

		printSuccess("Credential stored")
		return nil
	},
}

var keyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored API credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := viaDaemon(cmd.Context(),
			func(c *apiClient) error {
				resp, err := c.delete(cmd.Context(), "/v1/credential")
				if err != nil {
					return err
				}
				return decodeJSON(resp, nil)
			},
			func() error { return config.NewSecrets(config.NewKeychain(), nil).Clear() },
		)
		if err != nil {
			return err
		}

		printSuccess("Credential cleared")
		return nil
	},
}

var keyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a credential is configured",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, ok, err := config.NewSecrets(config.NewKeychain(), nil).Get()
		if err != nil {
			return err
		}
		if !ok {
			printWarning("No credential configured; %s", config.MissingCredentialHint())
			return nil
		}
		printSuccess("Credential configured")
		return nil
	},
}

// readSecret reads one line from r. Terminal input is read with echo off.
func readSecret(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading credential: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	keyCmd.AddCommand(keySetCmd)
	keyCmd.AddCommand(keyClearCmd)
	keyCmd.AddCommand(keyStatusCmd)
}

// --- companion ---

var companionCmd = &cobra.Command{
	Use:   "companion",
	Short: "List, select and customize companions",
}

type companionEntry struct {
	companion.Companion
	Selected     bool   `json:"selected"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

var companionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available companions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []companionEntry
		err := viaDaemon(cmd.Context(),
			func(c *apiClient) error {
				resp, err := c.get(cmd.Context(), "/v1/companions")
				if err != nil {
					return err
				}
				return decodeJSON(resp, &entries)
			},
			func() error {
				catalog, err := localCatalog()
				if err != nil {
					return err
				}
				entries = localCompanions(catalog, localSettings())
				return nil
			},
		)
		if err != nil {
			return err
		}

		for _, e := range entries {
			fmt.Println(formatCompanion(e))
		}
		return nil
	},
}

func localCompanions(catalog *companion.Catalog, settings *config.Settings) []companionEntry {
	selected, _ := companion.Resolve(catalog, settings, settings.SelectedCompanion())
	var out []companionEntry
	for _, c := range catalog.List() {
		out = append(out, companionEntry{
			Companion:    c,
			Selected:     c.ID == selected.ID,
			CustomPrompt: settings.CustomPrompt(c.ID),
		})
	}
	return out
}

func formatCompanion(e companionEntry) string {
	marker := " "
	if e.Selected {
		marker = "*"
	}
	line := fmt.Sprintf("%s %s  %s", marker, colorize(colorCyan, e.ID), e.Name)
	if e.CustomPrompt != "" {
		line += "  (custom prompt)"
	}
	return line
}

var companionSelectCmd = &cobra.Command{
	Use:   "select <id>",
	Short: "Select the active companion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		err := viaDaemon(cmd.Context(),
			func(c *apiClient) error {
				resp, err := c.put(cmd.Context(), "/v1/companion", map[string]string{"id": id})
				if err != nil {
					return err
				}
				return decodeJSON(resp, nil)
			},
			func() error {
				catalog, err := localCatalog()
				if err != nil {
					return err
				}
				if _, err := catalog.Get(id); err != nil {
					return err
				}
				return localSettings().SelectCompanion(id)
			},
		)
		if err != nil {
			return err
		}

		printSuccess("Selected %s", id)
		return nil
	},
}

var companionPromptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Override or restore a companion's personality prompt",
}

var companionPromptSetCmd = &cobra.Command{
	Use:   "set <id> <prompt>",
	Short: "Set a custom personality prompt",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, prompt := args[0], strings.Join(args[1:], " ")
		err := viaDaemon(cmd.Context(),
			func(c *apiClient) error {
				resp, err := c.put(cmd.Context(), "/v1/companions/"+url.PathEscape(id)+"/prompt", map[string]string{"prompt": prompt})
				if err != nil {
					return err
				}
				return decodeJSON(resp, nil)
			},
			func() error {
				catalog, err := localCatalog()
				if err != nil {
					return err
				}
				if _, err := catalog.Get(id); err != nil {
					return err
				}
				return localSettings().SetCustomPrompt(id, prompt)
			},
		)
		if err != nil {
			return err
		}

		printSuccess("Custom prompt set for %s", id)
		return nil
	},
}

var companionPromptClearCmd = &cobra.Command{
	Use:   "clear <id>",
	Short: "Restore the predefined personality prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		err := viaDaemon(cmd.Context(),
			func(c *apiClient) error {
				resp, err := c.delete(cmd.Context(), "/v1/companions/"+url.PathEscape(id)+"/prompt")
				if err != nil {
					return err
				}
				return decodeJSON(resp, nil)
			},
			func() error { return localSettings().ClearCustomPrompt(id) },
		)
		if err != nil {
			return err
		}

		printSuccess("Custom prompt cleared for %s", id)
		return nil
	},
}

func init() {
	companionPromptCmd.AddCommand(companionPromptSetCmd)
	companionPromptCmd.AddCommand(companionPromptClearCmd)
	companionCmd.AddCommand(companionListCmd)
	companionCmd.AddCommand(companionSelectCmd)
	companionCmd.AddCommand(companionPromptCmd)
}

// --- comment ---

var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Ask the companion to comment now",
	Long: `Ask the selected companion to comment right away.

With --file the file is sent as the document; without it the daemon uses
the last document it saw from the editor.

Examples:
  sidekick comment
  sidekick comment --file main.go --line 42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		line, _ := cmd.Flags().GetInt("line")
		language, _ := cmd.Flags().GetString("language")

		if file == "" && (line != 0 || language != "") {
			return errors.New("--line and --language require --file")
		}

		var doc *scheduler.Document
		if file != "" {
			d, err := documentFromFile(file, line, language)
			if err != nil {
				return err
			}
			doc = d
		}

		client, err := requireDaemon(cmd.Context())
		if err != nil {
			return err
		}

		reply, err := triggerCommentary(cmd.Context(), client, doc)
		if err != nil {
			return err
		}

		name, err := selectedCompanionName(cmd.Context(), client)
		if err != nil {
			name = "sidekick"
		}
		fmt.Print(renderCommentary(name, reply))
		return nil
	},
}

func init() {
	commentCmd.Flags().String("file", "", "file to comment on")
	commentCmd.Flags().Int("line", 0, "cursor line within the file (1-based)")
	commentCmd.Flags().String("language", "", "language id (default: from the file extension)")
}

func documentFromFile(path string, line int, language string) (*scheduler.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if line <= 0 {
		line = 1
	}
	if language == "" {
		language = languageFromFile(path)
	}
	return &scheduler.Document{
		Text:       string(data),
		FileName:   filepath.Base(path),
		LanguageID: language,
		Line:       line,
	}, nil
}

var extensionLanguages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".rs":   "rust",
	".rb":   "ruby",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".cs":   "csharp",
	".sh":   "shellscript",
	".md":   "markdown",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
}

// languageFromFile maps a file extension to an editor language id.
func languageFromFile(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if id, ok := extensionLanguages[ext]; ok {
		return id
	}
	return "plaintext"
}

func triggerCommentary(ctx context.Context, c *apiClient, doc *scheduler.Document) (commentary.Reply, error) {
	var body any
	if doc != nil {
		body = doc
	}
	resp, err := c.post(ctx, "/v1/commentary/trigger", body)
	if err != nil {
		return commentary.Reply{}, err
	}
	var reply commentary.Reply
	if err := decodeJSON(resp, &reply); err != nil {
		return commentary.Reply{}, err
	}
	return reply, nil
}

func selectedCompanionName(ctx context.Context, c *apiClient) (string, error) {
	resp, err := c.get(ctx, "/v1/companion")
	if err != nil {
		return "", err
	}
	var out struct {
		Companion companion.Companion `json:"companion"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.Companion.Name, nil
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse or purge past commentary",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent commentary",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := requireDaemon(cmd.Context())
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/comments?limit=%d", limit))
		if err != nil {
			return err
		}
		var comments []storage.Comment
		if err := decodeJSON(resp, &comments); err != nil {
			return err
		}

		if len(comments) == 0 {
			fmt.Println("No commentary yet.")
			return nil
		}
		for _, c := range comments {
			fmt.Println(formatComment(c))
		}
		return nil
	},
}

func formatComment(c storage.Comment) string {
	id := c.ID
	if len(id) > 8 {
		id = id[:8]
	}
	where := c.FileName
	if c.Line > 0 {
		where = fmt.Sprintf("%s:%d", c.FileName, c.Line)
	}
	text := c.Commentary
	if len(text) > 80 {
		text = text[:80] + "..."
	}
	return fmt.Sprintf("%s  %s  %-6s %s  %s",
		colorize(colorCyan, id),
		c.CreatedAt.Local().Format("2006-01-02 15:04"),
		c.Companion,
		where,
		text,
	)
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single comment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireDaemon(cmd.Context())
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/comments/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var c storage.Comment
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}
		return printJSON(c)
	},
}

var historyPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all stored commentary",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL stored commentary. Use --confirm to proceed.")
			return nil
		}

		client, err := requireDaemon(cmd.Context())
		if err != nil {
			return err
		}

		printStep("Deleting commentary...")
		n, err := purgeHistory(cmd.Context(), client)
		if err != nil {
			return err
		}
		printSuccess("Deleted %d comments", n)
		return nil
	},
}

func purgeHistory(ctx context.Context, c *apiClient) (int, error) {
	resp, err := c.delete(ctx, "/v1/comments")
	if err != nil {
		return 0, err
	}
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of comments to list")
	historyPurgeCmd.Flags().Bool("confirm", false, "confirm the purge")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPurgeCmd)
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available at the configured endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireDaemon(cmd.Context())
		if err != nil {
			return err
		}

		ids, err := listModels(cmd.Context(), client)
		if err != nil {
			return err
		}
		current := localSettings().LLM().Model
		for _, id := range ids {
			if id == current {
				fmt.Printf("* %s\n", colorize(colorBold, id))
				continue
			}
			fmt.Printf("  %s\n", id)
		}
		return nil
	},
}

func listModels(ctx context.Context, c *apiClient) ([]string, error) {
	resp, err := c.get(ctx, "/v1/models")
	if err != nil {
		return nil, err
	}
	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := decodeJSON(resp, &list); err != nil {
		return nil, err
	}
	ids := make([]string, len(list.Data))
	for i, m := range list.Data {
		ids[i] = m.ID
	}
	return ids, nil
}
