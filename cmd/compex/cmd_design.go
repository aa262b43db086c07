package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/driftline/compex/internal/config"
	"github.com/driftline/compex/internal/dataset"
	"github.com/driftline/compex/internal/design"
	"github.com/driftline/compex/internal/report"
)

func designCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "design",
		Short: "Estimate return-period design events",
		Long: "Builds the composite return-level isoline for each requested return period\n" +
			"and selects the most-likely and full-dependence design events along it.",
		RunE: runDesign,
	}
	addRunFlags(cmd.Flags(), "out/design")
	cmd.Flags().Float64Slice("rp", nil, "Return periods in years (overrides config)")
	cmd.Flags().String("x", "", "Variable on the x axis (default: first configured)")
	cmd.Flags().String("y", "", "Variable on the y axis (default: second configured)")
	cmd.Flags().String("xlsx", "", "Also write a workbook report to this path")
	cmd.Flags().Bool("save-pool", false, "Write the pooled conditional sample per return period")
	cmd.Flags().Int("parallel", 0, "Concurrent estimations (default: number of CPUs)")
	return cmd
}

// designArtifact is the per-return-period JSON written to the output
// directory. It mirrors the wire shape of the HTTP design endpoint so
// downstream plotting scripts can consume either.
type designArtifact struct {
	ReturnPeriod   float64         `json:"return_period"`
	MostLikely     design.Event    `json:"most_likely_event"`
	FullDependence design.Event    `json:"full_dependence_event"`
	Ensemble       []design.Event  `json:"ensemble_events"`
	Isoline        []artifactPoint `json:"isoline"`
	Seed           uint64          `json:"seed"`
}

type artifactPoint struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Source  string  `json:"source"`
	Density float64 `json:"density"`
}

func newDesignArtifact(rp float64, seed uint64, res *design.Result) designArtifact {
	iso := make([]artifactPoint, res.Isoline.Len())
	for i := range iso {
		iso[i] = artifactPoint{
			X:       res.Isoline.X[i],
			Y:       res.Isoline.Y[i],
			Source:  res.Isoline.Source[i].String(),
			Density: res.Densities[i],
		}
	}
	return designArtifact{
		ReturnPeriod:   rp,
		MostLikely:     res.MostLikely,
		FullDependence: res.FullDependence,
		Ensemble:       res.Ensemble,
		Isoline:        iso,
		Seed:           seed,
	}
}

func runDesign(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	outDir, _ := cmd.Flags().GetString("out")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	rps, _ := cmd.Flags().GetFloat64Slice("rp")
	if len(rps) == 0 {
		rps = cfg.Design.ReturnPeriods
	}
	if len(rps) == 0 {
		return fmt.Errorf("no return periods: set design.return_periods in %s or pass --rp", cfgPath)
	}

	xName, _ := cmd.Flags().GetString("x")
	yName, _ := cmd.Flags().GetString("y")
	if xName == "" || yName == "" {
		if len(cfg.Variables) < 2 {
			return fmt.Errorf("design needs two configured variables, got %d", len(cfg.Variables))
		}
		if xName == "" {
			xName = cfg.Variables[0].Name
		}
		if yName == "" {
			yName = cfg.Variables[1].Name
		}
	}

	base, err := designParams(cfg, filepath.Dir(cfgPath), xName, yName)
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("parallel")
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	log.Info().
		Floats64("return_periods", rps).
		Str("x", xName).
		Str("y", yName).
		Int("parallel", limit).
		Msg("Estimating design events")

	results := make([]*design.Result, len(rps))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, rp := range rps {
		g.Go(func() error {
			p := base
			p.ReturnPeriod = rp
			res, err := design.Estimate(p)
			if err != nil {
				return fmt.Errorf("return period %g: %w", rp, err)
			}
			results[i] = res
			log.Info().
				Float64("rp", rp).
				Float64("x", res.MostLikely.X).
				Float64("y", res.MostLikely.Y).
				Float64("density", res.MostLikely.Density).
				Msg("Design event selected")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	savePool, _ := cmd.Flags().GetBool("save-pool")
	for i, rp := range rps {
		label := strconv.FormatFloat(rp, 'g', -1, 64)
		art := newDesignArtifact(rp, base.Seed, results[i])
		if err := writeJSONFile(filepath.Join(outDir, "design_T"+label+".json"), art); err != nil {
			return err
		}
		if savePool {
			if err := results[i].Pool.SaveCSV(filepath.Join(outDir, "pool_T"+label+".csv")); err != nil {
				return err
			}
		}
	}

	if xlsxPath, _ := cmd.Flags().GetString("xlsx"); xlsxPath != "" {
		runs := make([]report.Run, len(rps))
		for i, rp := range rps {
			runs[i] = report.Run{XName: xName, YName: yName, ReturnPeriod: rp, Result: *results[i]}
		}
		if err := report.WriteXLSX(xlsxPath, runs); err != nil {
			return err
		}
		fmt.Printf("✅ Workbook report saved to %s\n", xlsxPath)
	}

	fmt.Printf("✅ Estimated %d design events, artifacts in %s\n", len(rps), outDir)
	return nil
}

// designParams assembles the estimator inputs shared by every requested
// return period.
func designParams(cfg *config.Config, baseDir, xName, yName string) (design.Params, error) {
	vx, err := cfg.Variable(xName)
	if err != nil {
		return design.Params{}, err
	}
	vy, err := cfg.Variable(yName)
	if err != nil {
		return design.Params{}, err
	}

	x, condX, err := designVariable(vx, baseDir)
	if err != nil {
		return design.Params{}, err
	}
	y, condY, err := designVariable(vy, baseDir)
	if err != nil {
		return design.Params{}, err
	}

	if cfg.Design.YearsOfRecord <= 0 {
		return design.Params{}, fmt.Errorf("design.years_of_record must be positive in the analysis config")
	}
	return design.Params{
		X:            x,
		Y:            y,
		CondX:        condX,
		CondY:        condY,
		Years:        cfg.Design.YearsOfRecord,
		GridStep:     cfg.Design.GridStep,
		MergeStep:    cfg.Design.MergeStep,
		PoolSize:     cfg.Design.PoolSize,
		EnsembleSize: cfg.Design.EnsembleSize,
		Seed:         cfg.Design.Seed,
	}, nil
}

// designVariable loads one variable's models plus its conditioning regime.
func designVariable(v config.VariableConfig, baseDir string) (design.Variable, design.Regime, error) {
	bulk, err := v.Bulk.BuildMarginal()
	if err != nil {
		return design.Variable{}, design.Regime{}, fmt.Errorf("variable %s: %w", v.Name, err)
	}
	if v.Conditional.File == "" {
		return design.Variable{}, design.Regime{}, fmt.Errorf("variable %s has no conditional sample file", v.Name)
	}
	sample, err := dataset.Load(resolvePath(baseDir, v.Conditional.File))
	if err != nil {
		return design.Variable{}, design.Regime{}, fmt.Errorf("variable %s conditional sample: %w", v.Name, err)
	}
	if v.Conditional.Copula.Family == "" {
		return design.Variable{}, design.Regime{}, fmt.Errorf("variable %s has no conditional copula", v.Name)
	}
	cop, err := v.Conditional.Copula.BuildCopula(2)
	if err != nil {
		return design.Variable{}, design.Regime{}, fmt.Errorf("variable %s conditional copula: %w", v.Name, err)
	}

	dv := design.Variable{Name: v.Name, Tail: v.Tail.GPDTail(), Bulk: bulk}
	return dv, design.Regime{Sample: sample, Copula: cop}, nil
}
