package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/AnTengye/contractplaybook/backend/analysis"
	"github.com/AnTengye/contractplaybook/backend/config"
	"github.com/AnTengye/contractplaybook/backend/extract"
	"github.com/AnTengye/contractplaybook/backend/model"
	"github.com/AnTengye/contractplaybook/backend/pkg/metrics"
	"github.com/AnTengye/contractplaybook/backend/render"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type analyzeFlags struct {
	file          string
	out           string
	agreementType string
	userRole      string
	riskTolerance string
}

func newAnalyzeCmd(load func() (*config.Config, error)) *cobra.Command {
	var f analyzeFlags

	cmd := &cobra.Command{
		Use:     "analyze",
		Short:   "Build a playbook for one agreement without starting the server",
		Example: "  playbook analyze --file contract.pdf --out playbook.xlsx --role Provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cfg.LLMConfigured() {
				return fmt.Errorf("llm provider %s is not configured", cfg.LLM.Provider)
			}
			return analyzeFile(cmd.Context(), cfg, f, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&f.file, "file", "", "agreement to analyse (pdf, docx or xlsx)")
	cmd.Flags().StringVar(&f.out, "out", "", "output workbook (default Playbook_<name>.xlsx)")
	cmd.Flags().StringVar(&f.agreementType, "type", model.DefaultAgreementType, "agreement type")
	cmd.Flags().StringVar(&f.userRole, "role", model.DefaultUserRole, "which side of the agreement you are on")
	cmd.Flags().StringVar(&f.riskTolerance, "risk", model.DefaultRiskTolerance, "risk tolerance")
	cmd.MarkFlagRequired("file")
	return cmd
}

func analyzeFile(ctx context.Context, cfg *config.Config, f analyzeFlags, stdout, stderr io.Writer) error {
	data, err := os.ReadFile(f.file)
	if err != nil {
		return err
	}
	name := filepath.Base(f.file)
	format := extract.FormatOf(name)
	if !cfg.AllowsExtension(format) {
		return fmt.Errorf("%w: %s", extract.ErrUnsupportedFormat, name)
	}

	fmt.Fprintf(stderr, "Parsing %s (%s)...\n", name, humanize.IBytes(uint64(len(data))))
	text, err := extract.NewLocalExtractor().Extract(ctx, extract.Document{
		Name:   name,
		Format: format,
		Data:   data,
	})
	if err != nil {
		return err
	}

	orchestrator, err := newAnalyzer(cfg, metrics.New())
	if err != nil {
		return err
	}
	result, err := orchestrator.Analyze(ctx, analysis.Request{
		Text:          text,
		AgreementType: f.agreementType,
		UserRole:      f.userRole,
		RiskTolerance: f.riskTolerance,
	}, func(progress int, message string) {
		fmt.Fprintf(stderr, "[%3d%%] %s\n", progress, message)
	})
	if err != nil {
		return err
	}

	out := f.out
	if out == "" {
		out = "Playbook_" + strings.TrimSuffix(name, filepath.Ext(name)) + ".xlsx"
	}
	if err := render.NewExcelRenderer().RenderFile(result, out); err != nil {
		return err
	}

	size := "unknown size"
	if st, err := os.Stat(out); err == nil {
		size = humanize.IBytes(uint64(st.Size()))
	}
	fmt.Fprintf(stdout, "Wrote %s (%s): %d clauses, %d red, %d yellow\n",
		out, size, len(result.Clauses), result.CountRisk(model.RiskRed), result.CountRisk(model.RiskYellow))
	return nil
}
