package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"candle-quiz/internal/agents"
	"candle-quiz/internal/analysis/patterns"
	qerrors "candle-quiz/internal/errors"
	"candle-quiz/internal/models"
	"candle-quiz/internal/validate"
)

func newGenerateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a single quiz item outside any session",
		Long: `Generate one quiz item.

By default a random pattern is drawn from the difficulty pool. Use
--pattern and --variant to reproduce a specific deterministic item, or
--external to ask the configured model (falling back to the local
generator when enabled).`,
		Example: `  quiz generate
  quiz generate --pattern "Morning Star" --variant 2 --candles 4
  quiz generate --external --difficulty Hard`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			ctrl, err := app.controller(ctx)
			if err != nil {
				return err
			}
			settings := settingsFromFlags(cmd, app.Config.Settings())

			var item models.Item
			pattern, _ := cmd.Flags().GetString("pattern")
			external, _ := cmd.Flags().GetBool("external")

			switch {
			case external:
				item, err = ctrl.FetchSingle(ctx, settings)
				if err != nil {
					return err
				}
			case pattern != "":
				def, ok := lookupPattern(pattern)
				if !ok {
					return fmt.Errorf("%w: %q", qerrors.ErrUnknownPattern, pattern)
				}
				variant, _ := cmd.Flags().GetInt("variant")
				raw, err := app.Generator.ForVariant(settings.Candles, settings.Horizon, settings.Difficulty, def.Name, variant)
				if err != nil {
					return err
				}
				item = checkLocal(app.Validator, raw, settings)
			default:
				raw := app.Generator.Random(settings.Candles, settings.Horizon, settings.Difficulty)
				item = checkLocal(app.Validator, raw, settings)
			}

			if output.IsJSON() {
				return output.JSON(item)
			}
			output.Item(item)
			return nil
		},
	}
	addSettingsFlags(cmd)
	cmd.Flags().StringP("pattern", "p", "", "pattern name (case-insensitive)")
	cmd.Flags().Int("variant", 0, "variant index for --pattern")
	cmd.Flags().Bool("external", false, "request the item from the external generator")
	return cmd
}

func newValidateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file|-]",
		Short: "Validate a quiz item read from a file or stdin",
		Long: `Validate a candidate item.

The input may be raw JSON or model output containing JSON, with or
without code fences. The first JSON value found is coerced, checked and
repaired exactly as external items are.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			settings := settingsFromFlags(cmd, app.Config.Settings())

			raw, err := readCandidate(cmd, args)
			if err != nil {
				return err
			}

			item, report, err := validate.New(app.Logger).ValidateWithReport(raw, settings)
			if err != nil {
				if output.IsJSON() {
					output.JSON(map[string]any{"valid": false, "code": errorCode(err), "error": err.Error()})
				} else {
					output.Error("✗ Rejected [%s]: %v", errorCode(err), err)
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]any{"valid": true, "item": item, "report": report})
			}
			output.Success("✓ Accepted")
			output.Println()
			output.Item(item)
			output.Println()
			printReport(output, report)
			return nil
		},
	}
	addSettingsFlags(cmd)
	return cmd
}

func newDetectCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect [file|-]",
		Short: "Run the pattern detector over an item's candles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			settings := settingsFromFlags(cmd, app.Config.Settings())

			raw, err := readCandidate(cmd, args)
			if err != nil {
				return err
			}
			item, err := validate.New(app.Logger).Validate(raw, settings)
			if err != nil {
				return err
			}

			found := patterns.Detect(item.Candles, item.Context)
			direction := patterns.DirectionOf(found)

			if output.IsJSON() {
				return output.JSON(map[string]any{
					"patterns":  found,
					"direction": direction,
					"label":     item.Label,
					"agrees":    !item.Label.Directional() || direction == item.Label,
				})
			}
			if len(found) == 0 {
				output.Dim("No patterns detected")
			}
			for _, name := range found {
				output.Printf("  %-20s %s\n", name, output.LabelText(patterns.PolarityOf(name)))
			}
			output.Printf("Direction: %s  (label %s)\n", output.LabelText(direction), output.LabelText(item.Label))
			return nil
		},
	}
	addSettingsFlags(cmd)
	return cmd
}

func newPatternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "patterns",
		Short:             "List the pattern library",
		PersistentPreRunE: skipConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			defs := patterns.All()
			if output.IsJSON() {
				return output.JSON(defs)
			}
			table := NewTable(output, "Pattern", "Tier", "Polarity", "Bars")
			for _, d := range defs {
				table.AddRow(d.Name, string(d.Tier), string(d.Polarity), fmt.Sprintf("%d", d.Bars))
			}
			table.Render()
			return nil
		},
	}
}

// checkLocal runs a locally built item through the validator. A locally
// built item that fails is served as built.
func checkLocal(v *validate.Validator, it models.Item, settings models.Settings) models.Item {
	out, err := v.Validate(models.CandidateFromItem(it), settings)
	if err != nil {
		out = it
	}
	out.Source = models.SourceLocal
	return out
}

func lookupPattern(name string) (patterns.Definition, bool) {
	if def, ok := patterns.Lookup(name); ok {
		return def, true
	}
	for _, def := range patterns.All() {
		if strings.EqualFold(def.Name, strings.TrimSpace(name)) {
			return def, true
		}
	}
	return patterns.Definition{}, false
}

func readCandidate(cmd *cobra.Command, args []string) (models.RawCandidate, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return models.RawCandidate{}, fmt.Errorf("reading input: %w", err)
	}

	payload, err := agents.ExtractJSON(string(data))
	if err != nil {
		return models.RawCandidate{}, err
	}
	raw, ok := agents.CoerceSingle(payload)
	if !ok {
		return models.RawCandidate{}, qerrors.Wrap(qerrors.ErrInvalidJSON, "expected an object")
	}
	return raw, nil
}

func errorCode(err error) string {
	var schemaErr *qerrors.SchemaError
	if qerrors.As(err, &schemaErr) {
		return schemaErr.Code
	}
	var geomErr *qerrors.GeometryError
	if qerrors.As(err, &geomErr) {
		return geomErr.Code
	}
	return "INVALID"
}

func printReport(output *Output, r validate.Report) {
	output.Bold("Report")
	output.Printf("  Renormalized:    %v\n", r.Renormalized)
	if r.Ambiguous {
		output.Warning("  Ambiguous:       %s", r.AmbiguityReason)
	}
	if len(r.DroppedFields) > 0 {
		output.Printf("  Dropped fields:  %s\n", strings.Join(r.DroppedFields, ", "))
	}
	if len(r.Detected) > 0 {
		output.Printf("  Detected:        %s (%s)\n", strings.Join(r.Detected, ", "), r.DetectedLabel)
	}
}
