package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-melcloud/internal/rpc"
)

var callData string

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List services exposed through server reflection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, conn, done, err := dial(cmd)
		if err != nil {
			return err
		}
		defer done()

		stream, err := reflectionpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
		if err != nil {
			return fmt.Errorf("reflection: %w", err)
		}
		err = stream.Send(&reflectionpb.ServerReflectionRequest{
			MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{ListServices: "*"},
		})
		if err != nil {
			return fmt.Errorf("reflection: %w", err)
		}
		resp, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("reflection: %w", err)
		}
		_ = stream.CloseSend()
		for _, svc := range resp.GetListServicesResponse().GetService() {
			fmt.Println(svc.GetName())
		}
		return nil
	},
}

var callCmd = &cobra.Command{
	Use:   "call <service/method>",
	Short: "Invoke a method with a JSON request body",
	Long: `Invoke any plugin method. Methods take and return JSON objects, so the body
is given with --data or piped on stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, method, ok := strings.Cut(strings.TrimPrefix(args[0], "/"), "/")
		if !ok || service == "" || method == "" {
			return fmt.Errorf("method must be service/method, got %q", args[0])
		}

		body := []byte(callData)
		if callData == "" && !isStdinTerminal() {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read request: %w", err)
			}
			body = data
		}
		req := &structpb.Struct{}
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := protojson.Unmarshal(body, req); err != nil {
				return fmt.Errorf("parse request: %w", err)
			}
		}

		ctx, conn, done, err := dial(cmd)
		if err != nil {
			return err
		}
		defer done()

		resp, err := rpc.Invoke(ctx, conn, service, method, req)
		if err != nil {
			return fmt.Errorf("invoke: %w", err)
		}
		data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health [service]",
	Short: "Query the standard gRPC health service",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, conn, done, err := dial(cmd)
		if err != nil {
			return err
		}
		defer done()

		var service string
		if len(args) == 1 {
			service = args[0]
		}
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return fmt.Errorf("health: %w", err)
		}
		out := newOutput()
		if out.json {
			return out.printJSON(map[string]string{"service": service, "status": resp.GetStatus().String()})
		}
		fmt.Fprintln(out.w, resp.GetStatus().String())
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("not serving")
		}
		return nil
	},
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func init() {
	callCmd.Flags().StringVar(&callData, "data", "", "JSON request body")
	rootCmd.AddCommand(servicesCmd, callCmd, healthCmd)
}
