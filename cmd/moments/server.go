package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-moments/internal/client"
	"github.com/23skdu/longbow-moments/internal/stats"
	"github.com/23skdu/longbow-moments/internal/table"
)

var (
	rowsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moments_server_rows_total",
		Help: "The total number of rows reduced for server requests",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moments_request_duration_seconds",
		Help:    "Time spent processing compute requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})
)

// ComputeRequest is the CBOR body of /compute. Data holds one slice per
// column, all of the same length.
type ComputeRequest struct {
	Columns   []string    `cbor:"columns"`
	Data      [][]float64 `cbor:"data"`
	Weights   []float64   `cbor:"weights,omitempty"`
	Options   string      `cbor:"options,omitempty"`
	RowBlocks int64       `cbor:"row_blocks,omitempty"`
}

// ComputeResponse is the CBOR body returned by /compute.
type ComputeResponse struct {
	Columns    []string             `cbor:"columns"`
	Statistics map[string][]float64 `cbor:"statistics"`
}

type Server struct {
	computer       Computer
	alloc          memory.Allocator
	builder        *client.RecordBatchBuilder
	sem            *semaphore.Weighted
	defaultOptions stats.ResultOption
}

func NewServer(computer Computer, maxConcurrent int, defaultOptions stats.ResultOption) *Server {
	alloc := memory.NewGoAllocator()
	return &Server{
		computer:       computer,
		alloc:          alloc,
		builder:        client.NewRecordBatchBuilder(alloc),
		sem:            semaphore.NewWeighted(int64(maxConcurrent)),
		defaultOptions: defaultOptions,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/compute", s.handleCompute)
	mux.HandleFunc("/compute/arrow", s.handleComputeArrow)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, srv *Server) {
	log.Info().Str("addr", addr).Msg("Starting moments HTTP server")
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("moments-server")

func (s *Server) options(names string) (stats.ResultOption, error) {
	if names == "" {
		return s.defaultOptions, nil
	}
	return stats.ParseOptions(names)
}

// statusOf maps compute errors caused by the request to 400.
func statusOf(err error) int {
	switch {
	case errors.Is(err, stats.ErrEmptyMatrix),
		errors.Is(err, stats.ErrWeightsLength),
		errors.Is(err, stats.ErrNoOptions),
		errors.Is(err, stats.ErrUnknownOption),
		errors.Is(err, table.ErrBadShape),
		errors.Is(err, table.ErrShortBuffer),
		errors.Is(err, table.ErrNoColumn),
		errors.Is(err, table.ErrUnsupportedType),
		errors.Is(err, table.ErrNullValue),
		errors.Is(err, table.ErrSchemaMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// run admits one compute and executes it.
func (s *Server) run(ctx context.Context, desc stats.Descriptor, ds *table.Dataset) (*stats.Result, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	res, err := s.computer.Compute(ctx, desc, ds)
	if err != nil {
		return nil, err
	}
	rows, _ := ds.Matrix.Dims()
	rowsServed.Add(float64(rows))
	return res, nil
}

func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleCompute", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("compute").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ComputeRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	opts, err := s.options(req.Options)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ds, err := datasetFromColumns(req.Columns, req.Data, req.Weights)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, cols := ds.Matrix.Dims()
	span.SetAttributes(
		attribute.Int("rows", rows),
		attribute.Int("cols", cols),
		attribute.String("options", opts.String()),
	)

	res, err := s.run(ctx, stats.Descriptor{Options: opts, RowBlockCount: req.RowBlocks}, ds)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("Compute failed")
		http.Error(w, err.Error(), statusOf(err))
		return
	}

	resp := ComputeResponse{Columns: ds.Columns, Statistics: make(map[string][]float64)}
	for _, opt := range res.Options().List() {
		resp.Statistics[opt.Name()] = res.Vector(opt)
	}
	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(resp); err != nil {
		log.Warn().Err(err).Msg("Failed to write compute response")
	}
}

// datasetFromColumns packs column slices into a column-major dataset.
func datasetFromColumns(names []string, columns [][]float64, weights []float64) (*table.Dataset, error) {
	if len(columns) == 0 {
		return nil, stats.ErrEmptyMatrix
	}
	if names == nil {
		names = make([]string, len(columns))
		for j := range names {
			names[j] = "c" + strconv.Itoa(j)
		}
	}
	if len(names) != len(columns) {
		return nil, fmt.Errorf("%d column names for %d columns", len(names), len(columns))
	}

	rows := len(columns[0])
	data := make([]float64, 0, rows*len(columns))
	for j, c := range columns {
		if len(c) != rows {
			return nil, fmt.Errorf("%w: column %q has %d rows, want %d", table.ErrBadShape, names[j], len(c), rows)
		}
		data = append(data, c...)
	}
	m, err := table.NewMatrix(data, rows, len(columns), 0, table.ColumnMajor)
	if err != nil {
		return nil, err
	}
	return &table.Dataset{Matrix: m, Weights: weights, Columns: names}, nil
}

// handleComputeArrow reads an Arrow IPC stream and answers with the result
// record as an Arrow IPC stream. Query parameters: options, weights (column
// name) and row_blocks.
func (s *Server) handleComputeArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleComputeArrow", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("compute_arrow").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	opts, err := s.options(q.Get("options"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var rowBlocks int64
	if v := q.Get("row_blocks"); v != "" {
		if rowBlocks, err = strconv.ParseInt(v, 10, 64); err != nil || rowBlocks < 0 {
			http.Error(w, fmt.Sprintf("invalid row_blocks %q", v), http.StatusBadRequest)
			return
		}
	}

	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
	}
	defer reader.Release()

	var recs []arrow.RecordBatch
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := reader.Err(); err != nil {
		log.Error().Err(err).Msg("Error reading Arrow stream")
		http.Error(w, "Stream error", http.StatusBadRequest)
		return
	}

	ds, err := table.FromRecords(recs, q.Get("weights"))
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}

	res, err := s.run(ctx, stats.Descriptor{Options: opts, RowBlockCount: rowBlocks}, ds)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("Compute failed")
		http.Error(w, err.Error(), statusOf(err))
		return
	}

	out := s.builder.BuildResultRecord(res, ds.Columns)
	defer out.Release()
	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	if err := writeArrowStream(w, out); err != nil {
		log.Warn().Err(err).Msg("Failed to write arrow stream")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
