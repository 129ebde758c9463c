package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/grpcwire/internal/client"
	"github.com/hanpama/grpcwire/internal/codec"
	"github.com/hanpama/grpcwire/internal/descset"
	"github.com/hanpama/grpcwire/internal/eventbus"
	"github.com/hanpama/grpcwire/internal/frame"
	"github.com/hanpama/grpcwire/internal/h2c"
	"github.com/hanpama/grpcwire/internal/otel"
	"github.com/hanpama/grpcwire/internal/parser"
)

const rootUsage = `grpcwire: gRPC over HTTP/2 wire tools

USAGE:
  grpcwire <command> [flags]

COMMANDS:
  call       Invoke a unary gRPC method and print the reply
  pack       Wrap stdin in a gRPC frame
  unpack     Strip the gRPC frame header from stdin
  inspect    List the frames contained in stdin
  describe   Print the .proto file that defines a method
  help       Show help for any command
`

const callUsage = `call FLAGS:
  -method </pkg.Svc/Method>           Method to invoke (required)
  -descriptors <file>                 Binary FileDescriptorSet. Without it -data is
                                      sent as raw bytes and the reply printed as hex
  -data <json|raw>                    Request body (default: {} with descriptors)
  -H <key=value>                      Request metadata. Repeatable
  -strict                             Reject reply frames with a bad length field
  -transport.backend <Svc=host:port>  Map gRPC service to endpoint. Repeatable; at least
                                      one mapping required. Use wildcard to set default:
                                        -transport.backend *=host:port
  -transport.rpc-timeout <duration>   RPC timeout, e.g. 3s (default: 3s)
  -transport.max-response-bytes N     Reply size limit (default: 4194304)
  -transport.tls                      Use TLS instead of cleartext HTTP/2
  -transport.insecure-skip-verify     Skip TLS certificate verification
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: grpcwire)
`

const packUsage = `pack: reads a payload from stdin and writes it framed to stdout
`

const unpackUsage = `unpack FLAGS:
  -strict   Fail when the length field does not match the payload
`

const inspectUsage = `inspect: reads a byte stream from stdin and lists its frames
`

const describeUsage = `describe FLAGS:
  -descriptors <file>         Binary FileDescriptorSet (required)
  -method </pkg.Svc/Method>   Method whose file to print (required)
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := args[0]
	cmdArgs := args[1:]
	switch cmd {
	case "call":
		return cmdCall(cmdArgs, stdout)
	case "pack":
		return cmdPack(stdin, stdout)
	case "unpack":
		return cmdUnpack(cmdArgs, stdin, stdout)
	case "inspect":
		return cmdInspect(stdin, stdout)
	case "describe":
		return cmdDescribe(cmdArgs, stdout)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "call":
		fmt.Fprint(stdout, callUsage)
	case "pack":
		fmt.Fprint(stdout, packUsage)
	case "unpack":
		fmt.Fprint(stdout, unpackUsage)
	case "inspect":
		fmt.Fprint(stdout, inspectUsage)
	case "describe":
		fmt.Fprint(stdout, describeUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func cmdCall(args []string, stdout io.Writer) error {
	method := ""
	descriptors := ""
	data := ""
	strict := false
	rpcTimeout := 3 * time.Second
	maxResponse := int64(4 << 20)
	useTLS := false
	skipVerify := false
	otelEndpoint := ""
	otelService := "grpcwire"
	var headers stringListFlag
	var backends stringListFlag

	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&method, "method", method, "Method to invoke")
	fs.StringVar(&descriptors, "descriptors", descriptors, "Binary FileDescriptorSet")
	fs.StringVar(&data, "data", data, "Request body")
	fs.Var(&headers, "H", "Request metadata")
	fs.BoolVar(&strict, "strict", strict, "Strict frame length checks")
	fs.Var(&backends, "transport.backend", "Map gRPC service to endpoint")
	fs.DurationVar(&rpcTimeout, "transport.rpc-timeout", rpcTimeout, "RPC timeout")
	fs.Int64Var(&maxResponse, "transport.max-response-bytes", maxResponse, "Reply size limit")
	fs.BoolVar(&useTLS, "transport.tls", useTLS, "Use TLS")
	fs.BoolVar(&skipVerify, "transport.insecure-skip-verify", skipVerify, "Skip TLS verification")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, callUsage)
		return err
	}
	if method == "" {
		fmt.Fprint(os.Stderr, callUsage)
		return fmt.Errorf("-method is required")
	}
	if len(backends) == 0 {
		fmt.Fprint(os.Stderr, callUsage)
		return fmt.Errorf("no backend mappings provided")
	}
	provider, err := h2c.ParseBackends(backends...)
	if err != nil {
		return err
	}

	req, strategy, render, err := buildCall(descriptors, method, data)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	trOpts := []h2c.Option{
		h2c.WithProvider(provider),
		h2c.WithMaxResponseBytes(maxResponse),
	}
	if rpcTimeout > 0 {
		trOpts = append(trOpts, h2c.WithRPCTimeout(rpcTimeout))
	}
	if useTLS {
		trOpts = append(trOpts, h2c.WithTLS(&tls.Config{InsecureSkipVerify: skipVerify}))
	}
	transport := h2c.New(trOpts...)
	defer transport.Close()

	var popts []parser.Option
	if strict {
		popts = append(popts, parser.WithStrictFrames())
	}
	c := client.New(transport, client.WithParser(parser.New(popts...)))

	ctx := context.Background()
	if len(headers) > 0 {
		kv := make([]string, 0, 2*len(headers))
		for _, h := range headers {
			k, v, ok := strings.Cut(h, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return fmt.Errorf("invalid header %q", h)
			}
			kv = append(kv, strings.ToLower(strings.TrimSpace(k)), v)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, kv...)
	}

	out, err := c.Invoke(ctx, method, req, strategy)
	if err != nil {
		return err
	}
	if !out.OK() || out.Kind() != parser.KindNone {
		return fmt.Errorf("%s failed: code %d (%s): %s", method, out.Code, out.Kind(), out.Message())
	}
	if out.Result == nil {
		log.Printf("%s: empty reply", method)
		return nil
	}
	s, err := render(out.Result)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, s)
	return nil
}

// buildCall prepares the request, the reply strategy and the reply printer.
// With a descriptor set the request is JSON and the reply a dynamic message;
// without one both sides are raw bytes.
func buildCall(descriptors, method, data string) (any, codec.Strategy, func(any) (string, error), error) {
	if descriptors == "" {
		raw := codec.Func(func(b []byte) ([]byte, error) { return b, nil })
		render := func(v any) (string, error) { return hex.EncodeToString(v.([]byte)), nil }
		return codec.Raw(data), raw, render, nil
	}

	files, err := descset.Load(descriptors)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load descriptors: %w", err)
	}
	md, err := descset.FindMethod(files, method)
	if err != nil {
		return nil, nil, nil, err
	}
	if data == "" {
		data = "{}"
	}
	req := dynamicpb.NewMessage(md.Input())
	if err := (protojson.UnmarshalOptions{Resolver: dynamicpb.NewTypes(files)}).Unmarshal([]byte(data), req); err != nil {
		return nil, nil, nil, fmt.Errorf("parse -data: %w", err)
	}
	marshal := protojson.MarshalOptions{Multiline: true, Resolver: dynamicpb.NewTypes(files)}
	render := func(v any) (string, error) {
		b, err := marshal.Marshal(v.(proto.Message))
		return string(b), err
	}
	return req, codec.ForDescriptor(md.Output()), render, nil
}

func cmdPack(stdin io.Reader, stdout io.Writer) error {
	payload, err := io.ReadAll(stdin)
	if err != nil {
		return err
	}
	_, err = stdout.Write(frame.Pack(payload))
	return err
}

func cmdUnpack(args []string, stdin io.Reader, stdout io.Writer) error {
	strict := false
	fs := flag.NewFlagSet("unpack", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.BoolVar(&strict, "strict", strict, "Strict frame length checks")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, unpackUsage)
		return err
	}
	buf, err := io.ReadAll(stdin)
	if err != nil {
		return err
	}
	payload, err := frame.Framer{Strict: strict}.Unpack(buf)
	if err != nil {
		return err
	}
	_, err = stdout.Write(payload)
	return err
}

func cmdInspect(stdin io.Reader, stdout io.Writer) error {
	buf, err := io.ReadAll(stdin)
	if err != nil {
		return err
	}
	frames, rest := frame.Split(buf)
	for i, f := range frames {
		h, _ := frame.ParseHeader(f)
		fmt.Fprintf(stdout, "frame %d: compressed=%d length=%d\n", i, h.Compressed, h.Length)
	}
	if len(rest) > 0 {
		fmt.Fprintf(stdout, "trailing: %d bytes\n", len(rest))
	}
	return nil
}

func cmdDescribe(args []string, stdout io.Writer) error {
	descriptors := ""
	method := ""
	fs := flag.NewFlagSet("describe", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&descriptors, "descriptors", descriptors, "Binary FileDescriptorSet")
	fs.StringVar(&method, "method", method, "Method whose file to print")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, describeUsage)
		return err
	}
	if descriptors == "" || method == "" {
		fmt.Fprint(os.Stderr, describeUsage)
		return fmt.Errorf("-descriptors and -method are required")
	}
	files, err := descset.Load(descriptors)
	if err != nil {
		return fmt.Errorf("load descriptors: %w", err)
	}
	md, err := descset.FindMethod(files, method)
	if err != nil {
		return err
	}
	return descset.Render(md.ParentFile(), stdout)
}
