package main

import (
	"fmt"
	"net/http"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-moments/internal/client"
	"github.com/23skdu/longbow-moments/internal/stats"
	"github.com/23skdu/longbow-moments/internal/store"
	"github.com/23skdu/longbow-moments/internal/table"
)

// MomentsFlightServer stores datasets uploaded with DoPut and streams their
// statistics back from DoGet.
type MomentsFlightServer struct {
	flight.BaseFlightServer
	store    store.DatasetStore
	computer Computer
	alloc    memory.Allocator
	builder  *client.RecordBatchBuilder
}

func NewMomentsFlightServer(st store.DatasetStore, computer Computer) *MomentsFlightServer {
	alloc := memory.NewGoAllocator()
	return &MomentsFlightServer{
		store:    st,
		computer: computer,
		alloc:    alloc,
		builder:  client.NewRecordBatchBuilder(alloc),
	}
}

func (s *MomentsFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	return fmt.Errorf("DoExchange not implemented")
}

func (s *MomentsFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	desc := reader.LatestFlightDescriptor()
	if desc == nil || len(desc.GetPath()) == 0 {
		return status.Error(codes.InvalidArgument, "DoPut requires a path descriptor naming the dataset")
	}
	name := desc.GetPath()[0]

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
		return err
	}

	ds, err := table.FromRecords(recs, "")
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	s.store.Put(name, ds)
	rows, cols := ds.Matrix.Dims()
	log.Info().Str("dataset", name).Int("rows", rows).Int("cols", cols).Msg("DoPut stored dataset")
	return nil
}

func (s *MomentsFlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	t, err := client.DecodeTicket(tkt.GetTicket())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	ds, ok := s.store.Get(t.Dataset)
	if !ok {
		return status.Errorf(codes.NotFound, "dataset %q not found", t.Dataset)
	}
	if t.Weights != "" {
		if ds, err = ds.WithWeights(t.Weights); err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
	}
	opts, err := stats.ParseOptions(t.Options)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, span := tracer.Start(stream.Context(), "DoGet", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(attribute.String("dataset", t.Dataset), attribute.String("options", opts.String()))

	res, err := s.computer.Compute(ctx, stats.Descriptor{Options: opts, RowBlockCount: t.RowBlocks}, ds)
	if err != nil {
		span.RecordError(err)
		code := codes.Internal
		if statusOf(err) == http.StatusBadRequest {
			code = codes.InvalidArgument
		}
		return status.Error(code, err.Error())
	}

	rec := s.builder.BuildResultRecord(res, ds.Columns)
	defer rec.Release()
	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	defer writer.Close()
	return writer.Write(rec)
}

func StartFlightServer(addr string, srv *MomentsFlightServer) {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(srv)

	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting moments Flight server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
