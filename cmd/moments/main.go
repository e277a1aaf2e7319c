package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"runtime/pprof"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-moments/internal/client"
	"github.com/23skdu/longbow-moments/internal/config"
	"github.com/23skdu/longbow-moments/internal/covariance"
	"github.com/23skdu/longbow-moments/internal/device"
	"github.com/23skdu/longbow-moments/internal/stats"
	"github.com/23skdu/longbow-moments/internal/store"
	"github.com/23skdu/longbow-moments/internal/table"
)

var (
	configPath    = flag.String("config", "", "Path to YAML config file")
	inputPath     = flag.String("input", "", "Arrow IPC stream to reduce (default: random matrix)")
	weightsColumn = flag.String("weights", "", "Column used as row weights")
	numRows       = flag.Int("rows", 10000, "Rows of the random matrix")
	numCols       = flag.Int("cols", 8, "Columns of the random matrix")
	seed          = flag.Uint64("seed", 1, "Seed of the random matrix")
	withCov       = flag.Bool("covariance", false, "Also compute covariance and correlation")
	textOutput    = flag.Bool("text", false, "Print a table instead of an Arrow IPC stream")
	datasetName   = flag.String("dataset", "moments_dataset", "Dataset name on the Flight server")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")

	// Overrides of config file values.
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	serverAddr    = flag.String("server", "", "Remote moments Flight server to compute on")
	maxConcurrent = flag.Int("max-concurrent", 0, "Maximum number of concurrent computes")
	workers       = flag.Int("workers", 0, "Kernel worker goroutines (default GOMAXPROCS)")
	maxWorkGroup  = flag.Int("max-work-group", 0, "Maximum work-group size")
	options       = flag.String("options", "", "Statistics to compute, comma separated")
	rowBlocks     = flag.Int64("row-blocks", 0, "Force the number of row blocks")
	ranks         = flag.Int("ranks", 0, "Simulated ranks for the distributed protocol")
	logLevel      = flag.String("log-level", "", "Log level")
)

// applyFlags copies explicitly set flags over cfg.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listenAddr
		case "flight":
			cfg.Flight = *flightAddr
		case "server":
			cfg.Server = *serverAddr
		case "max-concurrent":
			cfg.MaxConcurrent = *maxConcurrent
		case "workers":
			cfg.Workers = *workers
		case "max-work-group":
			cfg.MaxWorkGroupSize = *maxWorkGroup
		case "options":
			cfg.Options = *options
		case "row-blocks":
			cfg.RowBlocks = *rowBlocks
		case "ranks":
			cfg.Ranks = *ranks
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
}

// loadConfig layers the config file and explicit flags over the defaults and
// validates the result.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg)
	return cfg, cfg.Validate()
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	level, _ := cfg.Level()
	zerolog.SetGlobalLevel(level)

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	backend := device.NewCPUBackend(
		device.WithWorkers(cfg.Workers),
		device.WithMaxWorkGroupSize(cfg.MaxWorkGroupSize),
	)
	computer := newRankComputer(backend, cfg.Ranks)
	defaultOptions, _ := stats.ParseOptions(cfg.Options)
	log.Info().
		Str("backend", backend.Name()).
		Int("workers", backend.Workers()).
		Int("max_work_group", backend.MaxWorkGroupSize()).
		Int("sub_group", backend.SubGroupSize()).
		Int("ranks", cfg.Ranks).
		Msg("Device ready")

	// Server Mode
	if cfg.Listen != "" || cfg.Flight != "" {
		if cfg.Listen != "" {
			go startServer(cfg.Listen, NewServer(computer, cfg.MaxConcurrent, defaultOptions))
		}
		if cfg.Flight != "" {
			StartFlightServer(cfg.Flight, NewMomentsFlightServer(store.NewMapStore(), computer))
			return
		}
		select {}
	}

	pool := memory.NewGoAllocator()
	builder := client.NewRecordBatchBuilder(pool)
	rec, err := loadInput(pool, builder)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load input")
	}
	defer rec.Release()

	ctx := context.Background()
	if cfg.Server != "" {
		if err := computeRemote(ctx, cfg, rec); err != nil {
			log.Fatal().Err(err).Msg("Remote compute failed")
		}
		return
	}

	ds, err := table.FromRecord(rec, *weightsColumn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to convert input")
	}
	rows, cols := ds.Matrix.Dims()

	start := time.Now()
	res, err := computer.Compute(ctx, stats.Descriptor{Options: defaultOptions, RowBlockCount: cfg.RowBlocks}, ds)
	if err != nil {
		log.Fatal().Err(err).Msg("Compute failed")
	}
	elapsed := time.Since(start)

	p := message.NewPrinter(language.English)
	log.Info().
		Str("rows", p.Sprintf("%d", rows)).
		Int("cols", cols).
		Dur("elapsed", elapsed).
		Str("rows_per_sec", p.Sprintf("%.0f", float64(rows)/elapsed.Seconds())).
		Msg("Computed statistics")

	if *withCov {
		cov, err := computer.Covariance(ctx, covariance.Descriptor{
			Options:       covariance.AllOptions,
			RowBlockCount: cfg.RowBlocks,
		}, ds)
		if err != nil {
			log.Fatal().Err(err).Msg("Covariance failed")
		}
		printCovariance(p, ds.Columns, cov)
	}

	if *textOutput {
		values := make(map[string][]float64)
		for _, opt := range res.Options().List() {
			values[opt.Name()] = res.Vector(opt)
		}
		printStatistics(p, ds.Columns, res.Options(), values)
		return
	}

	out := builder.BuildResultRecord(res, ds.Columns)
	defer out.Release()
	if err := writeArrowStream(os.Stdout, out); err != nil {
		log.Warn().Err(err).Msg("Failed to write arrow stream")
	}
}

// loadInput reads the first record of -input, or generates a random matrix.
func loadInput(pool memory.Allocator, builder *client.RecordBatchBuilder) (arrow.RecordBatch, error) {
	if *inputPath == "" {
		if *numRows < 1 || *numCols < 1 {
			return nil, fmt.Errorf("random matrix needs positive -rows and -cols, got %dx%d", *numRows, *numCols)
		}
		names, columns := randomColumns(*numRows, *numCols, *seed)
		return builder.BuildDatasetRecord(names, columns)
	}

	f, err := os.Open(*inputPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := ipc.NewReader(f, ipc.WithAllocator(pool))
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	var recs []arrow.RecordBatch
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: no record batches", *inputPath)
	}
	return concatRecords(pool, builder, recs)
}

// concatRecords folds a multi-batch stream into one record so the CLI can
// upload or convert it as a unit.
func concatRecords(pool memory.Allocator, builder *client.RecordBatchBuilder, recs []arrow.RecordBatch) (arrow.RecordBatch, error) {
	if len(recs) == 1 {
		return recs[0], nil
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	ds, err := table.FromRecords(recs, "")
	if err != nil {
		return nil, err
	}
	_, cols := ds.Matrix.Dims()
	columns := make([][]float64, cols)
	for j := range columns {
		columns[j] = ds.Matrix.Col(j)
	}
	return builder.BuildDatasetRecord(ds.Columns, columns)
}

func randomColumns(rows, cols int, seed uint64) ([]string, [][]float64) {
	rng := rand.New(rand.NewPCG(seed, seed))
	names := make([]string, cols)
	columns := make([][]float64, cols)
	for j := range columns {
		names[j] = fmt.Sprintf("c%d", j)
		columns[j] = make([]float64, rows)
		scale := float64(j + 1)
		for i := range columns[j] {
			columns[j][i] = scale * (10 + rng.NormFloat64())
		}
	}
	return names, columns
}

func computeRemote(ctx context.Context, cfg config.Config, rec arrow.RecordBatch) error {
	fc, err := client.NewFlightClient(cfg.Server)
	if err != nil {
		return err
	}
	defer func() {
		if err := fc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close flight client")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	log.Info().Int64("rows", rec.NumRows()).Str("server", cfg.Server).Str("dataset", *datasetName).Msg("Uploading dataset")
	if err := fc.DoPut(ctx, *datasetName, rec); err != nil {
		return err
	}
	got, err := fc.Compute(ctx, client.Ticket{
		Dataset:   *datasetName,
		Options:   cfg.Options,
		Weights:   *weightsColumn,
		RowBlocks: cfg.RowBlocks,
	})
	if err != nil {
		return err
	}
	opts, _ := stats.ParseOptions(cfg.Options)
	printStatistics(message.NewPrinter(language.English), got.Columns, opts, got.Values)
	return nil
}

func printStatistics(p *message.Printer, columns []string, opts stats.ResultOption, values map[string][]float64) {
	p.Printf("%-26s", "statistic")
	for _, c := range columns {
		p.Printf(" %16s", c)
	}
	p.Println()
	for _, opt := range opts.List() {
		p.Printf("%-26s", opt.Name())
		for _, v := range values[opt.Name()] {
			p.Printf(" %16.6f", v)
		}
		p.Println()
	}
}

func printCovariance(p *message.Printer, columns []string, res *covariance.Result) {
	p.Fprintln(os.Stderr, "covariance:")
	for i := range columns {
		p.Fprintf(os.Stderr, "%-12s", columns[i])
		for j := range columns {
			p.Fprintf(os.Stderr, " %14.6f", res.Covariance.At(i, j))
		}
		p.Fprintln(os.Stderr)
	}
	p.Fprintln(os.Stderr, "correlation:")
	for i := range columns {
		p.Fprintf(os.Stderr, "%-12s", columns[i])
		for j := range columns {
			p.Fprintf(os.Stderr, " %8.4f", res.Correlation.At(i, j))
		}
		p.Fprintln(os.Stderr)
	}
}

func writeArrowStream(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("moments"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
