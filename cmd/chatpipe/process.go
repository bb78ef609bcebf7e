package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"chatpipe/internal/domain"
)

func processCmd() *cobra.Command {
	var (
		raw      domain.RawMessage
		msgType  string
		useStdin bool
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one message through the pipeline and send the reply",
		Long: `Builds a raw message from flags, or reads one JSON raw message from stdin
with --stdin, runs it through the pipeline once and prints the result.`,
		Example: `  chatpipe process --from +1234567890 --content hello
  echo '{"id":"m1","from":"+1","type":"image","mediaUrl":"https://example.com/a.jpg"}' | chatpipe process --stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if useStdin {
				data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				raw = domain.RawMessage{}
				if err := json.Unmarshal(data, &raw); err != nil {
					return fmt.Errorf("decode message: %w", err)
				}
			} else {
				raw.Type = domain.MessageType(msgType)
			}
			if raw.From == "" {
				return errors.New("a sender is required (--from or \"from\")")
			}
			if raw.ID == "" {
				raw.ID = "cli_" + uuid.NewString()
			}

			o, err := buildPipeline(cfg, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := o.Connect(ctx); err != nil {
				return err
			}
			defer o.Shutdown(ctx)

			res := o.ProcessMessage(ctx, raw)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&raw.ID, "id", "", "message id (default: generated)")
	cmd.Flags().StringVar(&raw.From, "from", "", "sender address")
	cmd.Flags().StringVar(&msgType, "type", string(domain.TypeText), "message type")
	cmd.Flags().StringVar(&raw.Content, "content", "", "message content")
	cmd.Flags().StringVar(&raw.MediaURL, "media-url", "", "media URL for image and document messages")
	cmd.Flags().BoolVar(&useStdin, "stdin", false, "read a JSON raw message from stdin")
	return cmd
}

func commandCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "command [/name args...]",
		Short: "Run a command through the command registry",
		Example: `  chatpipe command /calc 2+3*4
  chatpipe command /echo hello world`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			o, err := buildPipeline(cfg, nil)
			if err != nil {
				return err
			}
			line := strings.Join(args, " ")
			if !strings.HasPrefix(line, "/") {
				line = "/" + line
			}
			res := o.ExecuteCommand(cmd.Context(), line, from)
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Content)
			if !res.Success {
				return fmt.Errorf("command %s failed", res.Command)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "cli", "sender address for the command")
	cmd.Flags().Bool("json", false, "print the full result as JSON")
	return cmd
}

func statusCmd() *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			o, err := buildPipeline(cfg, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if connect {
				if _, err := o.Connect(ctx); err != nil {
					logger.Warn("connect failed", "err", err)
				} else {
					defer o.Shutdown(ctx)
				}
			}

			out := map[string]any{
				"version": version,
				"config":  resolveConfigPath(),
				"status":  o.Status(),
				"stats":   o.Stats(),
			}
			if err := configErrors(cfg); err != "" {
				out["configErrors"] = err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "connect the connector before reporting")
	return cmd
}

// doctorCmd checks that the configuration and connector are usable.
func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the configuration and connector",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			fmt.Fprintf(w, "chatpipe doctor v%s\n\n", version)

			passed, warned, failed := 0, 0, 0

			if _, err := os.Stat(cfgPath); err != nil {
				printWarn(w, "Config file", "not found, using defaults ("+cfgPath+")")
				warned++
			} else {
				printPass(w, "Config file", cfgPath)
				passed++
			}

			cfg, err := loadConfig()
			if err != nil {
				printFail(w, "Config load", err.Error())
				return errors.New("config could not be loaded")
			}
			if msg := configErrors(cfg); msg != "" {
				printFail(w, "Config validation", msg)
				failed++
			} else {
				printPass(w, "Config validation", "valid")
				passed++
			}

			o, err := buildPipeline(cfg, nil)
			if err != nil {
				printFail(w, "Pipeline", err.Error())
				failed++
			} else {
				st := o.Status()
				printPass(w, "Pipeline", fmt.Sprintf("%d handlers, %d templates, %d commands", st.Handlers, st.Templates, st.Commands))
				passed++

				ctx, cancel := contextWithTimeout(cmd, 15*time.Second)
				defer cancel()
				name := o.Connector().Name()
				if _, err := o.Connect(ctx); err != nil {
					printFail(w, "Connector: "+name, err.Error())
					failed++
				} else {
					printPass(w, "Connector: "+name, "connected")
					passed++
					o.Shutdown(ctx)
				}
			}

			fmt.Fprintf(w, "\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func printPass(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [PASS] %-20s %s\n", check, detail)
}

func printFail(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [WARN] %-20s %s\n", check, detail)
}
