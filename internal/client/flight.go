package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Ticket is the CBOR payload of a DoGet compute request.
type Ticket struct {
	Dataset string `cbor:"dataset"`
	Options string `cbor:"options"`
	// Weights names the dataset column used as row weights, if any.
	Weights   string `cbor:"weights,omitempty"`
	RowBlocks int64  `cbor:"row_blocks,omitempty"`
}

// EncodeTicket serializes t for a Flight ticket.
func EncodeTicket(t Ticket) ([]byte, error) {
	return cbor.Marshal(t)
}

// DecodeTicket parses a Flight ticket built by EncodeTicket.
func DecodeTicket(b []byte) (Ticket, error) {
	var t Ticket
	if err := cbor.Unmarshal(b, &t); err != nil {
		return t, fmt.Errorf("client: decode ticket: %w", err)
	}
	if t.Dataset == "" {
		return t, errors.New("client: ticket names no dataset")
	}
	return t, nil
}

// FlightClient uploads datasets to a moments Flight server and requests
// statistics over them.
type FlightClient struct {
	client  flight.Client
	conn    *grpc.ClientConn
	breaker *CircuitBreaker
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	client := flight.NewClientFromConn(conn, nil)
	return &FlightClient{
		client:  client,
		conn:    conn,
		breaker: NewCircuitBreaker(5, 10*time.Second),
	}, nil
}

// DoPut uploads record as the dataset named datasetName.
func (c *FlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	return c.breaker.Do(func() error {
		stream, err := c.client.DoPut(ctx)
		if err != nil {
			return err
		}

		writer := flight.NewRecordWriter(stream)
		// The descriptor travels with the first message.
		writer.SetFlightDescriptor(&flight.FlightDescriptor{
			Type: flight.DescriptorPATH,
			Path: []string{datasetName},
		})
		if err := writer.Write(record); err != nil {
			return err
		}
		if err := writer.Close(); err != nil {
			return err
		}
		if err := stream.CloseSend(); err != nil {
			return err
		}
		// Drain acknowledgements until the server ends the stream.
		for {
			if _, err := stream.Recv(); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		}
	})
}

// Compute asks the server for the statistics described by t.
func (c *FlightClient) Compute(ctx context.Context, t Ticket) (*Statistics, error) {
	payload, err := EncodeTicket(t)
	if err != nil {
		return nil, err
	}

	var out *Statistics
	err = c.breaker.Do(func() error {
		stream, err := c.client.DoGet(ctx, &flight.Ticket{Ticket: payload})
		if err != nil {
			return err
		}
		reader, err := flight.NewRecordReader(stream)
		if err != nil {
			return err
		}
		defer reader.Release()

		for reader.Next() {
			out, err = ParseResultRecord(reader.Record())
			if err != nil {
				return err
			}
		}
		if err := reader.Err(); err != nil {
			return err
		}
		if out == nil {
			return fmt.Errorf("%w: empty stream", ErrBadResultRecord)
		}
		return nil
	})
	return out, err
}

// Breaker exposes the circuit breaker guarding this client.
func (c *FlightClient) Breaker() *CircuitBreaker { return c.breaker }

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
