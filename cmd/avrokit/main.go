// Command avrokit is a thin front-end over the avrokit tools. All logic
// lives in the internal packages; this file only parses flags and
// dispatches.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/GeoffMall/avrokit/internal/avroio"
	"github.com/GeoffMall/avrokit/internal/config"
	"github.com/GeoffMall/avrokit/internal/schema"
	"github.com/GeoffMall/avrokit/internal/tool"
	"github.com/GeoffMall/avrokit/internal/url"
	"github.com/GeoffMall/avrokit/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	// Optional .env for S3/GCS credentials and endpoints.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("Error loading config: %v\n", err)
	}
	url.Configure(config.FromEnv(cfg))

	log, err := newLogger(*verbose)
	if err != nil {
		fatalf("Error creating logger: %v\n", err)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	if err := dispatch(ctx, log, cfg, args[0], args[1:]); err != nil {
		fatalf("Error: %v\n", err)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if !verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return zcfg.Build()
}

//nolint:cyclop // one case per subcommand
func dispatch(ctx context.Context, log *zap.Logger, cfg config.Config, command string, args []string) error {
	switch command {
	case "cat":
		return runCat(ctx, args)
	case "compact":
		return runCompact(ctx, log, args)
	case "concat":
		return runConcat(ctx, log, args)
	case "count":
		return runCount(ctx, log, args)
	case "getmeta":
		return runGetMeta(ctx, args)
	case "getschema":
		return runGetSchema(ctx, args)
	case "partition":
		return runPartition(ctx, log, args)
	case "repair":
		return runRepair(ctx, log, args)
	case "sort":
		return runSort(ctx, log, cfg, args)
	case "stats":
		return runStats(ctx, log, args)
	case "validate":
		return runValidate(ctx, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func parseURLs(raw []string, mode url.Mode) ([]url.URL, error) {
	acc := make([]url.URL, 0, len(raw))
	for _, r := range raw {
		u, err := url.Parse(r, mode)
		if err != nil {
			return nil, err
		}
		acc = append(acc, u)
	}
	return acc, nil
}

func runCat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cat", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	urls, err := parseURLs(fs.Args(), url.ModeRead)
	if err != nil {
		return err
	}
	reader, err := avroio.NewPartitionedReader(ctx, urls...)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close(ctx) }()

	enc := json.NewEncoder(os.Stdout)
	return reader.ForEach(ctx, func(record map[string]any) error {
		return enc.Encode(record)
	})
}

func runCompact(ctx context.Context, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	codec := fs.String("codec", "null", "Codec for the output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: compact <input...> <output>")
	}
	inputs, err := parseURLs(fs.Args()[:fs.NArg()-1], url.ModeRead)
	if err != nil {
		return err
	}
	output, err := url.Parse(fs.Arg(fs.NArg()-1), url.ModeWrite)
	if err != nil {
		return err
	}
	return avroio.Compact(ctx, log, inputs, output, avroio.WithCodec(*codec))
}

func runConcat(ctx context.Context, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("concat", flag.ExitOnError)
	record := fs.Bool("record", false, "Concatenate by records (default is by blocks when schemas and codecs match)")
	codec := fs.String("codec", "null", "Codec to use for compression: null | deflate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: concat [-record] [-codec c] <input...> <output>")
	}
	inputs, err := parseURLs(fs.Args()[:fs.NArg()-1], url.ModeRead)
	if err != nil {
		return err
	}
	output, err := url.Parse(fs.Arg(fs.NArg()-1), url.ModeWrite)
	if err != nil {
		return err
	}
	return tool.NewConcat(log).Run(ctx, inputs, output, *codec, *record)
}

func runCount(ctx context.Context, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("count", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	urls, err := parseURLs(fs.Args(), url.ModeRead)
	if err != nil {
		return err
	}
	total, err := tool.NewCount(log).Run(ctx, urls)
	if err != nil {
		return err
	}
	fmt.Println(total)
	return nil
}

func runGetMeta(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("getmeta", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	u, err := url.Parse(fs.Arg(0), url.ModeRead)
	if err != nil {
		return err
	}
	meta, err := tool.GetMeta(ctx, u)
	if err != nil {
		return err
	}
	for key, value := range meta {
		fmt.Printf("%s\t%s\n", key, value)
	}
	return nil
}

func runGetSchema(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("getschema", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	u, err := url.Parse(fs.Arg(0), url.ModeRead)
	if err != nil {
		return err
	}
	s, err := tool.GetSchema(ctx, u)
	if err != nil {
		return err
	}
	fmt.Println(s.String())
	return nil
}

func runPartition(ctx context.Context, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("partition", flag.ExitOnError)
	count := fs.Int("c", 0, "Number of partitions")
	force := fs.Bool("f", false, "Force overwrite of existing output files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: partition -c N [-f] <input> <output>")
	}
	input, err := url.Parse(fs.Arg(0), url.ModeRead)
	if err != nil {
		return err
	}
	output, err := url.Parse(fs.Arg(1), url.ModeWrite)
	if err != nil {
		return err
	}
	return tool.NewPartitioner(log).Run(ctx, input, output, *count, *force)
}

func runRepair(ctx context.Context, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("repair", flag.ExitOnError)
	dryRun := fs.Bool("dry_run", false, "Only scan the file without writing the output")
	format := fs.String("report_format", "text", "Format of the report: text | json | json_pretty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: repair [-dry_run] <input> <output>")
	}
	input, err := url.Parse(fs.Arg(0), url.ModeRead)
	if err != nil {
		return err
	}
	output, err := url.Parse(fs.Arg(1), url.ModeWrite)
	if err != nil {
		return err
	}
	reports, err := tool.NewRepair(log).Run(ctx, input, output, *dryRun)
	if err != nil {
		return err
	}
	for _, report := range reports {
		if err := printRepairReport(report, *format); err != nil {
			return err
		}
	}
	return nil
}

func printRepairReport(report tool.RepairReport, format string) error {
	switch format {
	case "json":
		raw, err := json.Marshal(report)
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
	case "json_pretty":
		raw, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
	default:
		fmt.Printf("%s -> %s\n\tBlocks: %d\n\tCorrupt blocks: %d\n",
			report.InputURL, report.OutputURL, report.Blocks, report.CorruptBlocks)
	}
	return nil
}

func runSort(ctx context.Context, log *zap.Logger, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("sort", flag.ExitOnError)
	var fields multiStringFlag
	fs.Var(&fields, "k", "Field to sort by (can be used multiple times)")
	reverse := fs.Bool("r", false, "Sort in descending order")
	batchSize := fs.Int("b", cfg.SortBatchSize, "Number of records to sort in memory at a time")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: sort -k field [-r] [-b N] <input> <output>")
	}
	input, err := url.Parse(fs.Arg(0), url.ModeRead)
	if err != nil {
		return err
	}
	output, err := url.Parse(fs.Arg(1), url.ModeWrite)
	if err != nil {
		return err
	}
	return tool.NewSorter(log).Run(ctx, input, output, fields, *reverse, *batchSize)
}

func runStats(ctx context.Context, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	urls, err := parseURLs(fs.Args(), url.ModeRead)
	if err != nil {
		return err
	}
	report, err := tool.NewStats(log).Run(ctx, urls)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func runValidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: validate <old-url> <new-url>")
	}
	oldURL, err := url.Parse(fs.Arg(0), url.ModeRead)
	if err != nil {
		return err
	}
	newURL, err := url.Parse(fs.Arg(1), url.ModeRead)
	if err != nil {
		return err
	}
	oldSchema, err := schema.Read(ctx, oldURL)
	if err != nil {
		return err
	}
	newSchema, err := schema.Read(ctx, newURL)
	if err != nil {
		return err
	}
	if err := schema.ValidateEvolution(oldSchema, newSchema); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	return strings.Join(*m, ", ")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)

	return nil
}

func usage() {
	printLinef("Usage: avrokit [flags] <command> [command flags] <args>\n\n")
	printLinef("Commands:\n")
	printLinef("  cat         Print records as JSON lines\n")
	printLinef("  compact     Merge many files into one, re-encoding records\n")
	printLinef("  concat      Concatenate files, copying raw blocks when possible\n")
	printLinef("  count       Count records without decoding them\n")
	printLinef("  getmeta     Print header metadata\n")
	printLinef("  getschema   Print the writer schema\n")
	printLinef("  partition   Split a file into N size-balanced partitions\n")
	printLinef("  repair      Recover intact blocks from a corrupted file\n")
	printLinef("  sort        Sort a file on one or more fields\n")
	printLinef("  stats       Compute record/null/byte statistics\n")
	printLinef("  validate    Check forward compatibility of two file schemas\n")
	printLinef("\nFlags:\n")
	flag.PrintDefaults()
}

func printLinef(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format, a...)
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format, a...)
	os.Exit(1)
}
