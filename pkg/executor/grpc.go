package executor

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCExecutor dials a target and calls the standard gRPC health-checking
// protocol (grpc.health.v1.Health/Check).
type GRPCExecutor struct{}

func (e *GRPCExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	start := time.Now()
	conn, err := grpc.NewClient(job.Target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return CheckResult{}, &ControlError{Reason: "failed to construct grpc client", Err: err}
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	service := configString(job.Config, "service")
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	responseTime := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: responseTime,
			ErrorCode:    "grpc_check_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: responseTime,
			ErrorCode:    "grpc_not_serving",
			ErrorMessage: resp.Status.String(),
			CheckedAt:    time.Now(),
		}, nil
	}
	return CheckResult{Status: StatusUp, ResponseTime: responseTime, CheckedAt: time.Now()}, nil
}
