package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"spectralpca/pkg/config"
	"spectralpca/pkg/logging"
	"spectralpca/pkg/pipeline"
	"spectralpca/pkg/report"
	"spectralpca/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Raster image to analyse (.tif/.tiff preferred)")
	configPath := flag.String("config", "spectralpca.yaml", "YAML configuration file")
	figurePath := flag.String("figure", "", "Write the preview/PC1 figure to this PNG file")
	components := flag.Int("components", 0, "Maximum number of principal components (overrides config)")
	writeConfig := flag.String("write-config", "", "Write the default configuration to this path and exit")
	quiet := flag.Bool("quiet", false, "Only log warnings and errors")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *writeConfig)
		return
	}

	if *inputPath == "" && flag.NArg() > 0 {
		*inputPath = flag.Arg(0)
	}
	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *components > 0 {
		cfg.PCA.MaxComponents = *components
	}
	if *figurePath != "" {
		cfg.Output.Figure = *figurePath
	}
	if *quiet {
		cfg.Logging.Verbose = false
	}

	if err := logging.Setup(cfg.Logging.File, cfg.Logging.Verbose); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logging.Close()

	session, err := pipeline.NewSession(pipeline.ParamsFromConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}

	fmt.Printf("Loaded file: %s | Processing...\n", filepath.Base(*inputPath))
	result, err := session.Load(*inputPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, pipeline.Message(err))
		logging.Close()
		if pipeline.Classify(err) == pipeline.KindConsistency {
			os.Exit(2)
		}
		os.Exit(1)
	}

	if result.Warning != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", result.Warning)
	}

	fmt.Printf("Image shape %v decoded by the %s decoder\n", result.Image.Shape(), result.Image.Decoder)

	if cfg.Output.PrintTable {
		fmt.Println("\nPCA Statistics")
		fmt.Println("==============")
		if err := result.Table.Format(os.Stdout); err != nil {
			log.Printf("Warning: Failed to print table: %v", err)
		}
		printCumulative(result.Table)
	}

	if cfg.Output.Figure != "" {
		viewer := visualization.NewViewer(result.Image, result.Component, cfg.Output.PanelSize)
		if err := viewer.SaveFigure(cfg.Output.Figure); err != nil {
			log.Printf("Warning: Failed to save figure: %v", err)
		} else {
			fmt.Printf("Figure saved to: %s\n", cfg.Output.Figure)
		}
	}

	fmt.Printf("PCA analysis completed in %.2f seconds.\n", result.Elapsed.Seconds())
}

func printCumulative(table report.Table) {
	cum := table.CumulativeRatio()
	if len(cum) == 0 {
		return
	}
	fmt.Printf("\n%s..%s explain %.2f%% of the total variance\n", table[0].Label, table[len(table)-1].Label, cum[len(cum)-1])
}
