// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/internal/library"
	"github.com/pdiddy/deep-research/internal/report"
	"github.com/pdiddy/deep-research/internal/research"
	"github.com/pdiddy/deep-research/pkg/types"
)

var researchCmd = &cobra.Command{
	Use:   "research [topic]",
	Short: "Run one research session and write a report",
	Long: `Research runs a full session in the terminal: perspectives, the
exploration tree, parallel searches, deduplication, and synthesis. Progress
is logged to stderr. The report (YAML, Markdown, or BibTeX) is written to
stdout or --out.

Modes that ask clarifying questions use --answer values when given, prompt
on stdin with --interactive, and otherwise skip clarification.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	researchCmd.Flags().String("mode", "standard", "quick, standard, deep, exhaustive, or systematic")
	researchCmd.Flags().Int("depth", 0, "tree depth override (1-6)")
	researchCmd.Flags().Int("breadth", 0, "perspective count override (2-8)")
	researchCmd.Flags().StringSlice("sources", nil, "backends to query (pubmed, arxiv, semantic_scholar, crossref, openalex)")
	researchCmd.Flags().String("from", "", "publication date range start (YYYY-MM-DD)")
	researchCmd.Flags().String("to", "", "publication date range end (YYYY-MM-DD)")
	researchCmd.Flags().String("model", "", "language model override")
	researchCmd.Flags().StringArray("answer", nil, "answer to a clarifying question (repeatable)")
	researchCmd.Flags().Bool("interactive", false, "prompt for clarifying answers on stdin")
	researchCmd.Flags().StringP("out", "o", "", "write the report to this file instead of stdout")
	researchCmd.Flags().String("format", "yaml", "report format: yaml, markdown, or bibtex")
	researchCmd.Flags().Bool("save-library", false, "save the sources of a completed run to the library")

	rootCmd.AddCommand(researchCmd)
}

// yamlDoc is the YAML report written by the research command.
type yamlDoc struct {
	Topic          string              `yaml:"topic"`
	Mode           types.Mode          `yaml:"mode"`
	Status         types.Status        `yaml:"status"`
	Error          string              `yaml:"error,omitempty"`
	Answers        []string            `yaml:"answers,omitempty"`
	Perspectives   []types.Perspective `yaml:"perspectives,omitempty"`
	DuplicateCount int                 `yaml:"duplicate_count"`
	Synthesis      string              `yaml:"synthesis,omitempty"`
	Sources        []types.Source      `yaml:"sources,omitempty"`
}

func runResearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	switch format, _ := cmd.Flags().GetString("format"); format {
	case "yaml", report.FormatMarkdown, report.FormatBibTeX:
	default:
		return fmt.Errorf("--format must be yaml, markdown, or bibtex, not %q", format)
	}
	overrides := overridesFromFlags(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Terminal runs keep nothing beyond the report.
	a, err := newApp(ctx, cfg, types.StoreConfig{Backend: types.StoreMemory})
	if err != nil {
		return err
	}
	defer a.Close()

	mode, _ := cmd.Flags().GetString("mode")
	sess, err := a.sessions.CreateSession(ctx, "cli", strings.Join(args, " "), mode, overrides)
	if err != nil {
		return err
	}

	if sess.Status == types.StatusClarifying {
		if err := clarify(cmd, a, sess.ID); err != nil {
			return err
		}
	}

	off := a.sessions.OnSessionEvent(sess.ID, logEvent)
	defer off()

	final, runErr := a.engine.Run(ctx, sess.ID, research.RunOptions{})
	if final == nil {
		return runErr
	}
	if err := writeReport(cmd, final); err != nil {
		return err
	}
	if save, _ := cmd.Flags().GetBool("save-library"); save && runErr == nil {
		lib, err := library.Open(cfg.Library, logger)
		if err != nil {
			return err
		}
		defer lib.Close()
		if _, err := lib.SaveSession(ctx, final); err != nil {
			return err
		}
	}
	return runErr
}

func overridesFromFlags(cmd *cobra.Command) *types.ConfigOverrides {
	o := &types.ConfigOverrides{}
	if cmd.Flags().Changed("depth") {
		d, _ := cmd.Flags().GetInt("depth")
		o.Depth = &d
	}
	if cmd.Flags().Changed("breadth") {
		b, _ := cmd.Flags().GetInt("breadth")
		o.Breadth = &b
	}
	o.Sources, _ = cmd.Flags().GetStringSlice("sources")
	o.DateFrom, _ = cmd.Flags().GetString("from")
	o.DateTo, _ = cmd.Flags().GetString("to")
	o.Model, _ = cmd.Flags().GetString("model")
	return o
}

func clarify(cmd *cobra.Command, a *app, id string) error {
	ctx := cmd.Context()
	answers, _ := cmd.Flags().GetStringArray("answer")
	interactive, _ := cmd.Flags().GetBool("interactive")

	if len(answers) == 0 && interactive {
		qs, err := a.engine.Questions(ctx, id)
		if err != nil {
			return err
		}
		answers, err = prompt(cmd.InOrStdin(), cmd.ErrOrStderr(), qs)
		if err != nil {
			return err
		}
	}
	var err error
	if len(answers) == 0 {
		_, err = a.sessions.SkipClarification(ctx, id)
	} else {
		_, err = a.sessions.AnswerClarification(ctx, id, answers)
	}
	return err
}

// prompt asks each question on out and reads one answer line per
// question from in. Blank answers are dropped.
func prompt(in io.Reader, out io.Writer, qs []types.ClarificationQuestion) ([]string, error) {
	sc := bufio.NewScanner(in)
	var answers []string
	for _, q := range qs {
		fmt.Fprintf(out, "%s\n> ", q.Question)
		if !sc.Scan() {
			break
		}
		if a := strings.TrimSpace(sc.Text()); a != "" {
			answers = append(answers, a)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading answers: %w", err)
	}
	return answers, nil
}

func logEvent(evt types.EngineEvent) {
	switch evt.Type {
	case types.EventStatus:
		var p types.StatusPayload
		if evt.Decode(&p) == nil {
			logger.Info("status", zap.String("status", string(p.Status)), zap.Int("progress", p.Progress))
		}
	case types.EventProgress:
		var p types.ProgressPayload
		if evt.Decode(&p) == nil {
			logger.Info("progress",
				zap.Int("percent", p.Percent),
				zap.Int("nodes_explored", p.NodesExplored),
				zap.Int("total_nodes", p.TotalNodes),
				zap.Int("sources_found", p.SourcesFound))
		}
	case types.EventError:
		var p types.ErrorPayload
		if evt.Decode(&p) == nil {
			logger.Error("research stopped", zap.String("status", string(p.Status)), zap.String("message", p.Message))
		}
	default:
		logger.Debug("event", zap.String("type", string(evt.Type)), zap.Uint64("seq", evt.Seq))
	}
}

func writeReport(cmd *cobra.Command, s *types.ResearchSession) error {
	format, _ := cmd.Flags().GetString("format")
	var buf bytes.Buffer
	if format == "yaml" {
		if err := yamlReport(&buf, s); err != nil {
			return err
		}
	} else if err := report.Write(&buf, s, format); err != nil {
		return err
	}
	data := buf.Bytes()

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	logger.Info("report written", zap.String("path", out), zap.String("format", format))
	return nil
}

func yamlReport(w io.Writer, s *types.ResearchSession) error {
	r := yamlDoc{
		Topic:   s.Topic,
		Mode:    s.Mode,
		Status:  s.Status,
		Error:   s.Error,
		Answers: s.Clarification.Answers,
	}
	if s.Result != nil {
		r.Perspectives = s.Result.Perspectives
		r.DuplicateCount = s.Result.DuplicateCount
		r.Synthesis = s.Result.Synthesis
		r.Sources = report.Rank(s.Result.Sources, 0)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&r); err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return enc.Close()
}
